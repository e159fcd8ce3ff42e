// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/evochora/tickarchive/pkg/log"
	"github.com/google/uuid"
)

// Keys holds the process-wide tick-archive configuration, populated by
// Init from a JSON file on disk and otherwise left at its defaults.
var Keys Config = Config{
	DBDriver:             "sqlite3",
	DB:                   "./var/tickarchive.db",
	ChunkDirectory:       "./var/tickarchive",
	Codec:                "zstd",
	OrganismStrategy:     "row_per_organism",
	MaxFilesPerDirectory: 10000,
	ShutdownGraceTimeout: "5s",
	ShutdownForceTimeout: "1s",
	MetricsWindow:        "5s",
	MetricsAddr:          ":9100",
}

// Config is the top-level process configuration: database connection,
// chunk storage location, and the per-run policy choices that C4/C5/C8/C9
// read at construction time.
type Config struct {
	DBDriver string `json:"dbDriver"`
	DB       string `json:"db"`

	ChunkDirectory       string `json:"chunkDirectory"`
	RunNamespace         string `json:"runNamespace"`
	Codec                string `json:"codec"`
	OrganismStrategy     string `json:"organismStrategy"`
	MaxFilesPerDirectory int64  `json:"maxFilesPerDirectory"`

	ShutdownGraceTimeout string `json:"shutdownGraceTimeout"`
	ShutdownForceTimeout string `json:"shutdownForceTimeout"`
	MetricsWindow        string `json:"metricsWindow"`
	MetricsAddr          string `json:"metricsAddr"`

	Nats *NatsConfig `json:"nats,omitempty"`
}

// NatsConfig carries the message-queue transport settings for the
// ingest producer (§1's explicitly external message-queue collaborator).
type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"credsFilePath"`
	Subject       string `json:"subject"`
	Queue         string `json:"queue"`
}

// ShutdownGrace parses ShutdownGraceTimeout, falling back to 5s on a bad value.
func (c Config) ShutdownGrace() time.Duration {
	return parseDurationOr(c.ShutdownGraceTimeout, 5*time.Second)
}

// ShutdownForce parses ShutdownForceTimeout, falling back to 1s on a bad value.
func (c Config) ShutdownForce() time.Duration {
	return parseDurationOr(c.ShutdownForceTimeout, 1*time.Second)
}

// MetricsWindowDuration parses MetricsWindow, falling back to 5s on a bad value.
func (c Config) MetricsWindowDuration() time.Duration {
	return parseDurationOr(c.MetricsWindow, 5*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Init reads flagConfigFile as JSON into Keys, overriding the defaults
// above field by field. A missing file is not an error — the defaults
// are used as-is, matching how a fresh deployment has no config yet.
func Init(flagConfigFile string) error {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: read %s: %w", flagConfigFile, err)
	}

	if raw != nil {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&Keys); err != nil {
			return fmt.Errorf("config: decode %s: %w", flagConfigFile, err)
		}
	}

	if Keys.OrganismStrategy != "row_per_organism" && Keys.OrganismStrategy != "blob_per_tick" {
		return fmt.Errorf("config: unknown organismStrategy %q", Keys.OrganismStrategy)
	}
	if Keys.RunNamespace == "" {
		Keys.RunNamespace = uuid.NewString()
		log.Infof("config: no runNamespace configured, generated %s", Keys.RunNamespace)
	}
	return nil
}
