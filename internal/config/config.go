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

// Package config loads blocks' configuration from INI files and the
// environment: /etc/blocks.ini and ~/.config/blocks.ini
// are read in that order (later wins), and environment variables
// override whatever the INI files set.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"
)

const iniName = "blocks.ini"

// Config is the fully resolved runtime configuration for every binary
// in this module.
type Config struct {
	LogLevel string

	PGUser     string
	PGPassword string
	PGHost     string
	PGPort     int
	PGDatabase string

	JSONRPCNode       string
	InfuraAPIKey      string
	ConductorEndpoint string

	ConductorHost      string
	ConductorPort      int
	ConductorBatchSize int
}

// defaults mirror the values a fresh install ships with.
func defaults() *Config {
	return &Config{
		LogLevel:           "WARNING",
		PGHost:             "localhost",
		PGPort:             5432,
		PGDatabase:         "blocks",
		JSONRPCNode:        "http://localhost:8545/",
		ConductorEndpoint:  "http://localhost:3205",
		ConductorHost:      "127.0.0.1",
		ConductorPort:      3205,
		ConductorBatchSize: 500,
	}
}

// Load resolves configuration from the INI files, then the environment.
// It never returns an error for a missing INI file — an INI file is
// optional, and the environment alone is sufficient to run, matching
// operators who configure purely via env (e.g. containers).
func Load() (*Config, error) {
	cfg := defaults()

	if err := mergeINI(cfg, systemConfigPath()); err != nil {
		return nil, err
	}
	if err := mergeINI(cfg, userConfigPath()); err != nil {
		return nil, err
	}

	mergeEnv(cfg)

	return cfg, nil
}

func systemConfigPath() string {
	return filepath.Join("/etc", iniName)
}

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", iniName)
}

func mergeINI(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if sec := file.Section("default"); sec != nil {
		if v := sec.Key("loglevel").String(); v != "" {
			cfg.LogLevel = v
		}
	}

	if sec := file.Section("postgresql"); sec != nil {
		setString(&cfg.PGUser, sec.Key("user").String())
		setString(&cfg.PGPassword, sec.Key("pass").String())
		setString(&cfg.PGHost, sec.Key("host").String())
		setString(&cfg.PGDatabase, sec.Key("name").String())
		if p, err := sec.Key("port").Int(); err == nil && p != 0 {
			cfg.PGPort = p
		}
	}

	if sec := file.Section("ethereum"); sec != nil {
		setString(&cfg.JSONRPCNode, sec.Key("node").String())
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeEnv(cfg *Config) {
	setEnvString(&cfg.LogLevel, "LOG_LEVEL")
	setEnvString(&cfg.JSONRPCNode, "JSONRPC_NODE")
	setEnvString(&cfg.PGUser, "PGUSER")
	setEnvString(&cfg.PGPassword, "PGPASSWORD")
	setEnvString(&cfg.PGHost, "PGHOST")
	setEnvString(&cfg.PGDatabase, "PGDATABASE")
	setEnvString(&cfg.InfuraAPIKey, "WEB3_INFURA_API_KEY")
	setEnvString(&cfg.ConductorEndpoint, "CONDUCTOR_ENDPOINT")
	setEnvString(&cfg.ConductorHost, "CONDUCTOR_HOST")

	if v := os.Getenv("PGPORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.PGPort = p
		}
	}
	if v := os.Getenv("CONDUCTOR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.ConductorPort = p
		}
	}
	if v := os.Getenv("CONDUCTOR_BATCH_SIZE"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.ConductorBatchSize = p
		}
	}
}

func setEnvString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// DSN builds the Postgres connection string gorm's postgres dialect
// expects.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PGHost, c.PGPort, c.PGUser, c.PGPassword, c.PGDatabase,
	)
}

// ChainEndpoint resolves the JSON-RPC endpoint to dial: Infura if an
// API key is configured, else the configured node.
func (c *Config) ChainEndpoint() string {
	if c.InfuraAPIKey != "" {
		return "https://mainnet.infura.io/v3/" + c.InfuraAPIKey
	}
	return c.JSONRPCNode
}
