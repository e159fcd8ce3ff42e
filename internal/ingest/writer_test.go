// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest_test

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/evochora/tickarchive/internal/envchunk"
	"github.com/evochora/tickarchive/internal/ingest"
	"github.com/evochora/tickarchive/internal/organismarchive"
	"github.com/evochora/tickarchive/internal/tickwire"
	"github.com/evochora/tickarchive/pkg/tickmodel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) *ingest.Writer {
	t.Helper()
	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	chunks := envchunk.NewStore(db, t.TempDir(), "run-ingest", "identity", 10000)
	organisms := organismarchive.NewBlobPerTick(db, "identity")
	return ingest.New(chunks, organisms, 5*time.Second, prometheus.NewRegistry())
}

func sampleOrganisms(tick tickmodel.TickNumber) []tickmodel.OrganismState {
	return []tickmodel.OrganismState{{OrganismID: 1, BirthTick: tick, ProgramID: "p", Energy: 10}}
}

func wireChunk(t *testing.T, first, last tickmodel.TickNumber) []byte {
	t.Helper()
	chunk := tickmodel.TickDataChunk{
		FirstTick: first,
		LastTick:  last,
		TickCount: int64(last-first) + 1,
		Snapshot: tickmodel.TickData{
			TickNumber: first,
			CellGrid:   tickmodel.CellGrid{FlatIndices: []int64{0}, MoleculeData: []uint32{1}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, tickwire.EncodeChunk(&buf, "run-ingest", chunk))
	return buf.Bytes()
}

func TestCreateOrganismTablesIsIdempotent(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.CreateOrganismTables())
	require.NoError(t, w.CreateOrganismTables())
}

func TestWriteAndCommitUpdatesCounters(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.CreateOrganismTables())

	require.NoError(t, w.WriteEnvironmentChunk(0, 9, 10, wireChunk(t, 0, 9)))
	require.NoError(t, w.WriteOrganismTick(0, sampleOrganisms(0)))
	require.NoError(t, w.CommitOrganismWrites())

	snap := w.GetMetrics()
	require.Equal(t, int64(1), snap.OrganismsWritten)
	require.Equal(t, int64(1), snap.BatchesWritten)
	require.Equal(t, int64(0), snap.WriteErrors)
}

func TestResetStreamingStateKeepsCounters(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.CreateOrganismTables())

	require.NoError(t, w.WriteOrganismTick(0, sampleOrganisms(0)))
	w.ResetStreamingState()

	snap := w.GetMetrics()
	require.Equal(t, int64(1), snap.OrganismsWritten, "counters are never rolled back by Reset")
}
