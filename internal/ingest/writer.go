// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest implements the ingest writer wrapper (C9): a thin
// façade over a (connection, strategy) pair that ensures tables exist
// exactly once, classifies failures as transient or fatal, and exposes
// O(1) counters plus sliding-window throughput and latency percentiles.
package ingest

import (
	"sync"
	"time"

	"github.com/evochora/tickarchive/internal/archiveerr"
	"github.com/evochora/tickarchive/internal/envchunk"
	"github.com/evochora/tickarchive/internal/ingestsession"
	"github.com/evochora/tickarchive/internal/organismarchive"
	"github.com/evochora/tickarchive/pkg/log"
	"github.com/evochora/tickarchive/pkg/tickmodel"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMetricsWindow is the default sliding window for throughput and
// latency percentiles when none is configured.
const DefaultMetricsWindow = 5 * time.Second

// Writer is the C9 façade. One Writer owns exactly one Session (and
// therefore one connection); concurrent workers each construct their
// own Writer.
type Writer struct {
	session   *ingestsession.Session
	chunks    *envchunk.Store
	organisms organismarchive.Strategy

	tablesOnce sync.Once
	tablesErr  error

	metrics *metrics
}

// New constructs a Writer over chunks and organisms, reporting metrics
// on a sliding window and optionally self-registering Prometheus
// collectors with registerer (pass nil to skip registration, e.g. in
// tests that construct many Writers against the same default registry).
func New(chunks *envchunk.Store, organisms organismarchive.Strategy, window time.Duration, registerer prometheus.Registerer) *Writer {
	if window <= 0 {
		window = DefaultMetricsWindow
	}
	return &Writer{
		session:   ingestsession.New(chunks, organisms),
		chunks:    chunks,
		organisms: organisms,
		metrics:   newMetrics(window, registerer),
	}
}

// CreateOrganismTables ensures both the chunk and organism schemas exist,
// exactly once per Writer, via a sync.Once double-checked guard (§4.9).
func (w *Writer) CreateOrganismTables() error {
	w.tablesOnce.Do(func() {
		if err := w.chunks.CreateTables(); err != nil {
			w.tablesErr = err
			return
		}
		w.tablesErr = w.organisms.CreateTables()
	})
	return w.tablesErr
}

// WriteEnvironmentChunk stages one environment chunk's file write and
// index row. Transient failures are logged and error-counted without
// being rethrown; fatal failures propagate to the caller, which must
// roll back its transaction and call ResetStreamingState.
func (w *Writer) WriteEnvironmentChunk(firstTick, lastTick, tickCount tickmodel.TickNumber, wireBytes []byte) error {
	err := w.session.AddEnvironmentChunk(firstTick, lastTick, tickCount, wireBytes)
	return w.classify(err)
}

// WriteOrganismTick stages one tick's organism states (write_organism_tick).
func (w *Writer) WriteOrganismTick(tick tickmodel.TickNumber, organisms []tickmodel.OrganismState) error {
	err := w.session.AddOrganismTick(tick, organisms)
	if err == nil {
		w.metrics.recordOrganismsWritten(len(organisms))
	}
	return w.classify(err)
}

// CommitOrganismWrites executes the accumulated relational batches and
// records the commit's latency for the sliding-window percentiles. The
// caller still owns the surrounding transaction's commit/rollback.
func (w *Writer) CommitOrganismWrites() error {
	start := time.Now()
	err := w.session.CommitWrites()
	w.metrics.recordBatchCommitted(time.Since(start))
	return w.classify(err)
}

// ResetStreamingState discards any partial batch after a failed commit.
func (w *Writer) ResetStreamingState() {
	w.session.Reset()
}

// classify logs and error-counts transient failures without rethrowing
// them, while letting fatal failures propagate.
func (w *Writer) classify(err error) error {
	if err == nil {
		return nil
	}
	w.metrics.recordWriteError()
	if archiveerr.Transient(err) {
		log.Warnf("ingest: transient write failure: %v", err)
		return nil
	}
	return err
}

// GetMetrics returns the current counters and sliding-window statistics.
func (w *Writer) GetMetrics() Snapshot {
	return w.metrics.snapshot()
}

// Session exposes the underlying streaming write session so a shutdown
// coordinator can observe its phase and request a cooperative stop.
func (w *Writer) Session() *ingestsession.Session {
	return w.session
}
