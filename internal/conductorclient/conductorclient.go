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

// Package conductorclient is the worker-side HTTP client for the
// conductor's JSON API: ping, job-request, job-submit and job-reject.
package conductorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrUnreachable wraps any network-level failure talking to the
// conductor, distinguishing it from a well-formed error response so
// callers can apply the same backoff-and-retry policy uniformly.
type ErrUnreachable struct {
	Err error
}

func (e *ErrUnreachable) Error() string { return fmt.Sprintf("conductor unreachable: %v", e.Err) }
func (e *ErrUnreachable) Unwrap() error { return e.Err }

// envelope mirrors the conductor HTTP surface's response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   bool            `json:"error"`
	Message string          `json:"message"`
}

// Client talks to a single conductor endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client against the given conductor base URL, e.g.
// "http://localhost:3205".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*envelope, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = path

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ErrUnreachable{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("conductor request failed (%d)", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Ping reports worker liveness to the conductor.
func (c *Client) Ping(ctx context.Context, uuid string) error {
	env, err := c.post(ctx, "/ping", map[string]string{"uuid": uuid})
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("ping rejected: %s", env.Message)
	}
	return nil
}

// JobRequest asks for a new (or existing in-flight) job of the given
// worker type. Returns nil, nil if the response carries no job data; a
// conductor with no work for a type usually answers with a job whose unit
// list is empty instead, which is returned like any other job.
func (c *Client) JobRequest(ctx context.Context, uuid, workerType string) (json.RawMessage, error) {
	env, err := c.post(ctx, "/job-request", map[string]string{"uuid": uuid, "type": workerType})
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("job request rejected: %s", env.Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	return env.Data, nil
}

// JobSubmit submits a completed job for verification.
func (c *Client) JobSubmit(ctx context.Context, jobUUID string) (bool, string, error) {
	env, err := c.post(ctx, "/job-submit", map[string]string{"job_uuid": jobUUID})
	if err != nil {
		return false, "", err
	}
	return env.Success, env.Message, nil
}

// JobReject abandons an in-flight job, optionally recording why.
func (c *Client) JobReject(ctx context.Context, jobUUID, reason string) error {
	env, err := c.post(ctx, "/job-reject", map[string]string{"job_uuid": jobUUID, "reason": reason})
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("job reject failed: %s", env.Message)
	}
	return nil
}
