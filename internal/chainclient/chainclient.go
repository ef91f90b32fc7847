// Copyright 2020 The blocks Authors
// This file is part of the blocks library.
//
// The blocks library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The blocks library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the blocks library. If not, see <http://www.gnu.org/licenses/>.

// Package chainclient is the dispatcher's and workers' view of the chain
// JSON-RPC endpoint. It is intentionally small: the chain
// endpoint is an external collaborator specified only by interface, so
// this package exposes exactly the handful of eth_* calls the block,
// tx-prime and tx-detail workers need and nothing more (no ABI encoding,
// no subscriptions, no signing).
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Block is the subset of a chain block header this system persists.
type Block struct {
	Number       uint64
	Timestamp    uint64
	Difficulty   string
	Hash         string
	Miner        string
	GasUsed      uint64
	GasLimit     uint64
	Nonce        uint64
	Size         uint64
	Transactions []string // transaction hashes
}

// Transaction is the subset of a chain transaction this system persists.
type Transaction struct {
	Hash        string
	BlockNumber uint64
	From        string
	To          string
	Value       string
	GasPrice    string
	Gas         uint64
	Nonce       uint64
	Input       string
}

// Client is what the conductor and workers need from the chain.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
	TransactionByHash(ctx context.Context, hash string) (*Transaction, error)
}

// JSONRPCClient talks to a standard Ethereum-style JSON-RPC endpoint
// (go-ethereum/klaytn compatible: eth_blockNumber, eth_getBlockByNumber,
// eth_getTransactionByHash), in the single-method CallContext style used
// by a JSON-RPC node.
type JSONRPCClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewJSONRPCClient returns a client against the given HTTP(S) JSON-RPC
// endpoint.
func NewJSONRPCClient(endpoint string) *JSONRPCClient {
	return &JSONRPCClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// CallContext performs a single JSON-RPC call and decodes the result
// into out, mirroring ethclient's CallContext(ctx, &result, method, args...).
func (c *JSONRPCClient) CallContext(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return err
	}
	if rr.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rr.Error.Code, rr.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rr.Result, out)
}

func (c *JSONRPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var hexNum string
	if err := c.CallContext(ctx, &hexNum, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return hexToUint64(hexNum)
}

type rawBlock struct {
	Number       string   `json:"number"`
	Timestamp    string   `json:"timestamp"`
	Difficulty   string   `json:"difficulty"`
	Hash         string   `json:"hash"`
	Miner        string   `json:"miner"`
	GasUsed      string   `json:"gasUsed"`
	GasLimit     string   `json:"gasLimit"`
	Nonce        string   `json:"nonce"`
	Size         string   `json:"size"`
	Transactions []string `json:"transactions"`
}

func (c *JSONRPCClient) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var raw rawBlock
	hexNum := fmt.Sprintf("0x%x", number)
	if err := c.CallContext(ctx, &raw, "eth_getBlockByNumber", hexNum, false); err != nil {
		return nil, err
	}

	blk := &Block{
		Number:       number,
		Hash:         raw.Hash,
		Miner:        raw.Miner,
		Difficulty:   raw.Difficulty,
		Transactions: raw.Transactions,
	}
	var err error
	if blk.Timestamp, err = hexToUint64(raw.Timestamp); err != nil {
		return nil, err
	}
	if blk.GasUsed, err = hexToUint64(raw.GasUsed); err != nil {
		return nil, err
	}
	if blk.GasLimit, err = hexToUint64(raw.GasLimit); err != nil {
		return nil, err
	}
	if blk.Nonce, err = hexToUint64(raw.Nonce); err != nil {
		blk.Nonce = 0 // nonce may be absent on PoS chains
	}
	if blk.Size, err = hexToUint64(raw.Size); err != nil {
		return nil, err
	}

	return blk, nil
}

type rawTransaction struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	GasPrice    string `json:"gasPrice"`
	Gas         string `json:"gas"`
	Nonce       string `json:"nonce"`
	Input       string `json:"input"`
}

func (c *JSONRPCClient) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	var raw rawTransaction
	if err := c.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}

	tx := &Transaction{
		Hash:     raw.Hash,
		From:     raw.From,
		To:       raw.To,
		Value:    raw.Value,
		GasPrice: raw.GasPrice,
		Input:    raw.Input,
	}
	var err error
	if tx.BlockNumber, err = hexToUint64(raw.BlockNumber); err != nil {
		return nil, err
	}
	if tx.Gas, err = hexToUint64(raw.Gas); err != nil {
		return nil, err
	}
	if tx.Nonce, err = hexToUint64(raw.Nonce); err != nil {
		return nil, err
	}

	return tx, nil
}

func hexToUint64(hexStr string) (uint64, error) {
	if hexStr == "" {
		return 0, nil
	}
	var v uint64
	_, err := fmt.Sscanf(hexStr, "0x%x", &v)
	return v, err
}
