// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package envchunk_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/evochora/tickarchive/internal/archiveerr"
	"github.com/evochora/tickarchive/internal/envchunk"
	"github.com/evochora/tickarchive/internal/tickwire"
	"github.com/evochora/tickarchive/pkg/tickmodel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func encodedChunk(t *testing.T, first, last tickmodel.TickNumber) []byte {
	t.Helper()
	chunk := tickmodel.TickDataChunk{
		FirstTick: first,
		LastTick:  last,
		TickCount: int64(last-first) + 1,
		Snapshot: tickmodel.TickData{
			TickNumber: first,
			CellGrid:   tickmodel.CellGrid{FlatIndices: []int64{0, 1}, MoleculeData: []uint32{1, 2}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, tickwire.EncodeChunk(&buf, "run-test", chunk))
	return buf.Bytes()
}

func TestWriteCommitAndReadChunkContaining(t *testing.T) {
	db := openTestDB(t)
	base := t.TempDir()
	store := envchunk.NewStore(db, base, "run-test", "zstd", 10000)
	require.NoError(t, store.CreateTables())

	require.NoError(t, store.WriteRawChunk(0, 49, 50, encodedChunk(t, 0, 49)))
	require.NoError(t, store.CommitRawChunks())

	got, err := store.ReadChunkContaining(27)
	require.NoError(t, err)
	require.Equal(t, tickmodel.TickNumber(0), got.FirstTick)
	require.Equal(t, tickmodel.TickNumber(49), got.LastTick)
	require.Nil(t, got.Snapshot.Organisms)
	require.NotEmpty(t, got.Snapshot.CellGrid.FlatIndices)

	min, max, ok, err := store.GetAvailableTickRange()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tickmodel.TickNumber(0), min)
	require.Equal(t, tickmodel.TickNumber(49), max)
}

func TestReadChunkContainingTickNotFound(t *testing.T) {
	db := openTestDB(t)
	store := envchunk.NewStore(db, t.TempDir(), "run-test", "zstd", 10000)
	require.NoError(t, store.CreateTables())

	_, err := store.ReadChunkContaining(5)
	require.True(t, archiveerr.Is(err, archiveerr.TickNotFound))
}

func TestGetAvailableTickRangeEmpty(t *testing.T) {
	db := openTestDB(t)
	store := envchunk.NewStore(db, t.TempDir(), "run-test", "zstd", 10000)
	require.NoError(t, store.CreateTables())

	_, _, ok, err := store.GetAvailableTickRange()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrphanFileTolerance(t *testing.T) {
	db := openTestDB(t)
	base := t.TempDir()
	store := envchunk.NewStore(db, base, "run-test", "identity", 10000)
	require.NoError(t, store.CreateTables())

	require.NoError(t, store.WriteRawChunk(500, 549, 50, encodedChunk(t, 500, 549)))
	// Simulate a crash before CommitRawChunks: file exists, no index row.
	namespaceDir := filepath.Join(base, "run-test")
	found := false
	_ = filepath.Walk(namespaceDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == ".pb" {
			found = true
		}
		return nil
	})
	require.True(t, found, "orphan chunk file should exist on disk")

	_, err := store.ReadChunkContaining(500)
	require.True(t, archiveerr.Is(err, archiveerr.TickNotFound))

	// Clean retry succeeds and reconciles the index.
	require.NoError(t, store.WriteRawChunk(500, 549, 50, encodedChunk(t, 500, 549)))
	require.NoError(t, store.CommitRawChunks())
	_, err = store.ReadChunkContaining(500)
	require.NoError(t, err)
}
