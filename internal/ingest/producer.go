// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/evochora/tickarchive/pkg/log"
	"github.com/evochora/tickarchive/pkg/nats"
	"github.com/evochora/tickarchive/pkg/tickmodel"
)

// TickMessage is the payload a producer publishes for one tick: either a
// fully materialized TickData, or pre-serialized chunk bytes when the
// upstream simulator already assembled a wire-format chunk (§6's
// "Process-level inputs").
type TickMessage struct {
	Tick         *tickmodel.TickData `json:"tick,omitempty"`
	RawChunkPath string              `json:"rawChunkPath,omitempty"`
}

// Subscribe wires a NATS subject to writer, decoding each message as a
// TickMessage and staging it as an organism tick write. The caller still
// owns the commit cadence (invoking writer.CommitOrganismWrites and the
// surrounding transaction boundary) — Subscribe only stages writes.
func Subscribe(client *nats.Client, subject, queue string, writer *Writer) error {
	handler := func(_ string, data []byte) {
		var msg TickMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warnf("ingest: discarding malformed tick message: %v", err)
			return
		}
		if msg.Tick == nil {
			log.Warnf("ingest: tick message carried no inline tick data (raw chunk path %q not handled by Subscribe)", msg.RawChunkPath)
			return
		}
		if err := writer.WriteOrganismTick(msg.Tick.TickNumber, msg.Tick.Organisms); err != nil {
			log.Errorf("ingest: fatal failure staging tick %d: %v", msg.Tick.TickNumber, err)
		}
	}

	if queue != "" {
		return client.SubscribeQueue(subject, queue, handler)
	}
	if err := client.Subscribe(subject, handler); err != nil {
		return fmt.Errorf("ingest: subscribe to %q: %w", subject, err)
	}
	return nil
}
