// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package envchunk implements the environment chunk store (C4) and its
// tick-range index and lookup (C7): chunk bytes live on disk under a
// bucketed run namespace, while a relational table maps tick ranges to
// the file that contains them.
package envchunk

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	"github.com/evochora/tickarchive/internal/archiveerr"
	"github.com/evochora/tickarchive/internal/compression"
	"github.com/evochora/tickarchive/internal/subdirectory"
	"github.com/evochora/tickarchive/internal/tickwire"
	"github.com/evochora/tickarchive/pkg/log"
	"github.com/evochora/tickarchive/pkg/tickmodel"
	"github.com/jmoiron/sqlx"
)

// Store is the per-worker owned environment chunk store: one Store is
// constructed per (connection, run namespace) pair and must not be
// shared across goroutines (§9's "per-worker owned table" design note —
// there is no global connection-keyed map here, the Store instance IS
// that pinning).
type Store struct {
	db           *sqlx.DB
	baseDir      string
	runNamespace string
	codecName    string
	maxFiles     int64

	stmtCache   *sq.StmtCache
	batch       []chunkRow
	tickStepSet bool
	chunkStep   int64
}

type chunkRow struct {
	FirstTick int64
	LastTick  int64
}

// NewStore constructs a chunk store rooted at baseDir/runNamespace, using
// codecName (C1) for chunk bytes and capping files per bucket at
// maxFilesPerDirectory (C8).
func NewStore(db *sqlx.DB, baseDir, runNamespace, codecName string, maxFilesPerDirectory int64) *Store {
	return &Store{
		db:           db,
		baseDir:      baseDir,
		runNamespace: runNamespace,
		codecName:    codecName,
		maxFiles:     maxFilesPerDirectory,
	}
}

func (s *Store) namespaceDir() string {
	return filepath.Join(s.baseDir, s.runNamespace)
}

// CreateTables is idempotent and race-safe: concurrent stores on the same
// database initialize the same schema without corrupting each other. It
// exists for tests and other embedders that open a bare *sqlx.DB directly;
// tickarchived itself requires the schema to already be at supportedVersion
// (repository.checkDBVersion, enforced by repository.Connect) via
// `tickarchived --migrate-db`, so in that path these calls are no-ops
// against tables the migration already created.
func (s *Store) CreateTables() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS environment_chunks (
		first_tick BIGINT PRIMARY KEY,
		last_tick  BIGINT NOT NULL
	)`); err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("create environment_chunks: %w", err))
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_environment_chunks_last_tick ON environment_chunks(last_tick)`); err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("create last_tick index: %w", err))
	}
	return nil
}

func (s *Store) stmts() *sq.StmtCache {
	if s.stmtCache == nil {
		s.stmtCache = sq.NewStmtCache(s.db.DB)
	}
	return s.stmtCache
}

// WriteRawChunk persists one chunk's bytes to disk and stages its index
// row for the next Commit. It never executes the relational write
// itself — file-first, then batch (§4.4 step 7-8).
func (s *Store) WriteRawChunk(firstTick, lastTick, tickCount tickmodel.TickNumber, wireBytes []byte) error {
	if err := os.MkdirAll(s.namespaceDir(), 0o755); err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("mkdir namespace: %w", err))
	}

	if !s.tickStepSet {
		s.chunkStep = int64(lastTick) - int64(firstTick) + 1
		s.tickStepSet = true
	}
	meta, err := subdirectory.EnsureMeta(s.namespaceDir(), s.maxFiles, s.chunkStep)
	if err != nil {
		return err
	}

	codec, err := compression.ByName(s.codecName)
	if err != nil {
		return archiveerr.New(archiveerr.IoError, err)
	}
	compressed, err := compression.CompressBytes(codec.Name(), wireBytes)
	if err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("compress chunk: %w", err))
	}

	bucketDir := filepath.Join(s.namespaceDir(), subdirectory.Bucket(int64(firstTick), meta))
	if err := os.MkdirAll(bucketDir, 0o755); err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("mkdir bucket: %w", err))
	}

	name := fmt.Sprintf("chunk_%d.%s", firstTick, codec.FileExtension())
	target := filepath.Join(bucketDir, name)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("create temp chunk file: %w", err))
	}
	if _, err := f.Write(compressed); err != nil {
		f.Close()
		os.Remove(tmp)
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("write temp chunk file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("close temp chunk file: %w", err))
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("rename temp chunk file: %w", err))
	}

	s.batch = append(s.batch, chunkRow{FirstTick: int64(firstTick), LastTick: int64(lastTick)})
	return nil
}

// CommitRawChunks executes the accumulated index-row batch, leaving the
// prepared statement open for reuse. The outer caller commits the
// surrounding transaction.
func (s *Store) CommitRawChunks() error {
	for _, row := range s.batch {
		_, err := sq.Insert("environment_chunks").
			Columns("first_tick", "last_tick").
			Values(row.FirstTick, row.LastTick).
			Suffix("ON CONFLICT(first_tick) DO UPDATE SET last_tick=excluded.last_tick").
			RunWith(s.stmts()).
			Exec()
		if err != nil {
			return archiveerr.New(archiveerr.WriteError, fmt.Errorf("merge environment_chunks row: %w", err))
		}
	}
	s.batch = s.batch[:0]
	return nil
}

// ResetStreamingState drops the cached statement, best-effort.
func (s *Store) ResetStreamingState() {
	if s.stmtCache != nil {
		if err := s.stmtCache.Clear(); err != nil {
			log.Warnf("envchunk: stmt cache clear: %v", err)
		}
		s.stmtCache = nil
	}
	s.batch = s.batch[:0]
}

// ReadChunkContaining runs the tick-range lookup (C7) and the partial
// decoder (C2) over the chunk covering t, skipping organism lists, RNG
// state, plugin state, and genome hashes at wire level.
func (s *Store) ReadChunkContaining(t tickmodel.TickNumber) (tickmodel.TickDataChunk, error) {
	firstTick, err := s.lookupFirstTick(t)
	if err != nil {
		return tickmodel.TickDataChunk{}, err
	}

	meta, err := subdirectory.Load(s.namespaceDir())
	if err != nil {
		return tickmodel.TickDataChunk{}, err
	}

	bucketDir := filepath.Join(s.namespaceDir(), subdirectory.Bucket(firstTick, meta))
	blob, err := readAnyExtension(bucketDir, firstTick)
	if err != nil {
		return tickmodel.TickDataChunk{}, err
	}

	raw, err := compression.DecompressBytes(blob)
	if err != nil {
		return tickmodel.TickDataChunk{}, archiveerr.New(archiveerr.DecodeError, err)
	}

	chunk, _, err := tickwire.DecodeChunk(raw, tickwire.EnvironmentAcceptSet, tickwire.EnvironmentDeltaAcceptSet)
	if err != nil {
		return tickmodel.TickDataChunk{}, archiveerr.New(archiveerr.DecodeError, err)
	}
	return chunk, nil
}

func (s *Store) lookupFirstTick(t tickmodel.TickNumber) (int64, error) {
	var firstTick int64
	err := sq.Select("first_tick").
		From("environment_chunks").
		Where(sq.And{sq.LtOrEq{"first_tick": int64(t)}, sq.GtOrEq{"last_tick": int64(t)}}).
		RunWith(s.db.DB).
		QueryRow().
		Scan(&firstTick)
	if err != nil {
		return 0, archiveerr.New(archiveerr.TickNotFound, fmt.Errorf("no chunk covers tick %d: %w", t, err))
	}
	return firstTick, nil
}

func readAnyExtension(bucketDir string, firstTick int64) ([]byte, error) {
	for _, ext := range []string{"pb.zst", "pb"} {
		path := filepath.Join(bucketDir, fmt.Sprintf("chunk_%d.%s", firstTick, ext))
		if b, err := os.ReadFile(path); err == nil {
			return b, nil
		} else if !os.IsNotExist(err) {
			return nil, archiveerr.New(archiveerr.IoError, err)
		}
	}
	return nil, archiveerr.Newf(archiveerr.IoError, "no chunk file for first_tick=%d in %s", firstTick, bucketDir)
}

// GetAvailableTickRange returns the overall (min, max) tick covered by
// any persisted chunk, or ok=false if the archive is empty.
func (s *Store) GetAvailableTickRange() (min, max tickmodel.TickNumber, ok bool, err error) {
	var minFirst, maxLast sql.NullInt64
	row := sq.Select("MIN(first_tick)", "MAX(last_tick)").From("environment_chunks").RunWith(s.db.DB).QueryRow()
	if scanErr := row.Scan(&minFirst, &maxLast); scanErr != nil {
		return 0, 0, false, archiveerr.New(archiveerr.IoError, scanErr)
	}
	if !minFirst.Valid || !maxLast.Valid {
		return 0, 0, false, nil
	}
	return tickmodel.TickNumber(minFirst.Int64), tickmodel.TickNumber(maxLast.Int64), true, nil
}
