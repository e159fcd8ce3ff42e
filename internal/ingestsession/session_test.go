// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingestsession_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/evochora/tickarchive/internal/envchunk"
	"github.com/evochora/tickarchive/internal/ingestsession"
	"github.com/evochora/tickarchive/internal/organismarchive"
	"github.com/evochora/tickarchive/internal/tickwire"
	"github.com/evochora/tickarchive/pkg/tickmodel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*ingestsession.Session, *envchunk.Store, organismarchive.Strategy) {
	t.Helper()
	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	chunks := envchunk.NewStore(db, t.TempDir(), "run-session", "identity", 10000)
	require.NoError(t, chunks.CreateTables())
	organisms := organismarchive.NewBlobPerTick(db, "identity")
	require.NoError(t, organisms.CreateTables())

	return ingestsession.New(chunks, organisms), chunks, organisms
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
	require.NoError(t, tickwire.EncodeChunk(&buf, "run-session", chunk))
	return buf.Bytes()
}

func TestSessionStartsUninitializedAndOpensOnFirstAdd(t *testing.T) {
	session, _, _ := newTestSession(t)
	require.Equal(t, ingestsession.StateUninitialized, session.State())
	require.Equal(t, ingestsession.PhaseWaiting, session.Phase())

	require.NoError(t, session.AddEnvironmentChunk(0, 9, 10, wireChunk(t, 0, 9)))
	require.Equal(t, ingestsession.StateOpen, session.State())
	require.Equal(t, ingestsession.PhaseProcessing, session.Phase())
}

func TestSessionStaysOpenAcrossCommit(t *testing.T) {
	session, _, _ := newTestSession(t)
	require.NoError(t, session.AddEnvironmentChunk(0, 9, 10, wireChunk(t, 0, 9)))
	require.NoError(t, session.CommitWrites())

	require.Equal(t, ingestsession.StateOpen, session.State())
	require.Equal(t, ingestsession.PhaseWaiting, session.Phase())
}

func TestSessionResetReturnsToUninitialized(t *testing.T) {
	session, _, _ := newTestSession(t)
	require.NoError(t, session.AddEnvironmentChunk(0, 9, 10, wireChunk(t, 0, 9)))
	session.Reset()

	require.Equal(t, ingestsession.StateUninitialized, session.State())
	require.Equal(t, ingestsession.PhaseWaiting, session.Phase())
}

func TestRequestStopDuringProcessingDefersInterrupt(t *testing.T) {
	session, _, _ := newTestSession(t)
	require.NoError(t, session.AddEnvironmentChunk(0, 9, 10, wireChunk(t, 0, 9)))

	canInterruptNow := session.RequestStop()
	require.False(t, canInterruptNow, "a PROCESSING session must defer the interrupt")
	require.True(t, session.StopRequested())
}

func TestRequestStopWhileWaitingIsImmediate(t *testing.T) {
	session, _, _ := newTestSession(t)
	canInterruptNow := session.RequestStop()
	require.True(t, canInterruptNow, "a WAITING session may be interrupted immediately")
}

func TestEnterProcessingClearsStaleStopFlag(t *testing.T) {
	session, _, _ := newTestSession(t)
	require.NoError(t, session.AddEnvironmentChunk(0, 9, 10, wireChunk(t, 0, 9)))
	require.NoError(t, session.CommitWrites())
	require.True(t, session.RequestStop())
	require.True(t, session.StopRequested())

	require.NoError(t, session.AddEnvironmentChunk(10, 19, 10, wireChunk(t, 10, 19)))
	require.False(t, session.StopRequested(), "entering PROCESSING must clear a stale interrupt flag")
}
