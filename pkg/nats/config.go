// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

// NatsConfig holds the connection parameters for one NATS client,
// populated by the caller from its own configuration (internal/config's
// Nats section) and passed to NewClient.
type NatsConfig struct {
	Address       string // NATS server address (e.g., "nats://localhost:4222")
	Username      string // Username for authentication (optional)
	Password      string // Password for authentication (optional)
	CredsFilePath string // Path to credentials file (optional)
}
