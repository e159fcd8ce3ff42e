// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package organismarchive implements the organism archive (C5): a
// run-wide immutable metadata table shared by two interchangeable
// per-tick storage strategies (row-per-organism and blob-per-tick),
// both exposed through the Strategy interface.
package organismarchive

import (
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/evochora/tickarchive/internal/archiveerr"
	"github.com/evochora/tickarchive/pkg/log"
	"github.com/evochora/tickarchive/pkg/tickmodel"
	"github.com/jmoiron/sqlx"
)

// Strategy is the common interface both organism-storage layouts
// satisfy (§9: a tagged variant behind an interface, no dynamic
// classloading needed).
type Strategy interface {
	CreateTables() error
	AddOrganismTick(tick tickmodel.TickNumber, organisms []tickmodel.OrganismState) error
	CommitOrganismWrites() error
	ResetStreamingState()
	ReadOrganismsAtTick(t tickmodel.TickNumber) ([]tickmodel.OrganismTickSummary, error)
	ReadSingleOrganismState(t tickmodel.TickNumber, id int32) (*tickmodel.OrganismState, error)
	GetAvailableTickRange() (min, max tickmodel.TickNumber, ok bool, err error)
	ReadTotalOrganismsCreated(t tickmodel.TickNumber) (int64, error)
}

// metaRow is one run-wide organism-metadata record: immutable once
// written (an organism's parent, birth tick, program, genome never change).
type metaRow struct {
	OrganismID      int32
	ParentID        *int32
	BirthTick       int64
	ProgramID       string
	InitialPosition []int32
	GenomeHash      uint64
}

// base is embedded by both strategies: it owns the shared `organisms`
// metadata table, its prepared-statement cache, and the per-commit
// dedup set that ensures each organism_id is MERGEd at most once per
// commit window even if it appears in every tick of the batch.
type base struct {
	db        *sqlx.DB
	stmtCache *sq.StmtCache
	seen      map[int32]bool
	metaBatch []metaRow
}

func newBase(db *sqlx.DB) base {
	return base{db: db, seen: map[int32]bool{}}
}

func (b *base) stmts() *sq.StmtCache {
	if b.stmtCache == nil {
		b.stmtCache = sq.NewStmtCache(b.db.DB)
	}
	return b.stmtCache
}

// createMetaTable is a defensive CREATE IF NOT EXISTS, not the primary
// schema story: tickarchived's production path always runs the
// repository migrations first (repository.Connect's checkDBVersion
// refuses to start against a schema older than supportedVersion), so
// this only matters for tests and embedders that skip --migrate-db.
func (b *base) createMetaTable() error {
	if _, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS organisms (
		organism_id      INTEGER PRIMARY KEY,
		parent_id        INTEGER,
		birth_tick       BIGINT NOT NULL,
		program_id       TEXT NOT NULL,
		initial_position TEXT,
		genome_hash      BIGINT NOT NULL DEFAULT 0
	)`); err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("create organisms: %w", err))
	}
	if _, err := b.db.Exec(`CREATE INDEX IF NOT EXISTS idx_organisms_birth_tick ON organisms(birth_tick)`); err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("create birth_tick index: %w", err))
	}
	return nil
}

// stageMeta dedups o against this commit window's seen set and, if new,
// appends its metadata row to the batch. Safe to call once per organism
// per tick processed; across commit windows the MERGE below is itself
// idempotent on organism_id.
func (b *base) stageMeta(o tickmodel.OrganismState) error {
	if b.seen[o.OrganismID] {
		return nil
	}
	b.seen[o.OrganismID] = true

	b.metaBatch = append(b.metaBatch, metaRow{
		OrganismID:      o.OrganismID,
		ParentID:        o.ParentID,
		BirthTick:       int64(o.BirthTick),
		ProgramID:       o.ProgramID,
		InitialPosition: o.InitialPosition,
		GenomeHash:      o.GenomeHash,
	})
	return nil
}

func (b *base) commitMeta() error {
	for _, row := range b.metaBatch {
		pos, err := json.Marshal(row.InitialPosition)
		if err != nil {
			return fmt.Errorf("marshal initial_position: %w", err)
		}
		_, err = sq.Insert("organisms").
			Columns("organism_id", "parent_id", "birth_tick", "program_id", "initial_position", "genome_hash").
			Values(row.OrganismID, row.ParentID, row.BirthTick, row.ProgramID, string(pos), row.GenomeHash).
			Suffix("ON CONFLICT(organism_id) DO NOTHING").
			RunWith(b.stmts()).
			Exec()
		if err != nil {
			return archiveerr.New(archiveerr.WriteError, fmt.Errorf("merge organisms row: %w", err))
		}
	}
	b.metaBatch = b.metaBatch[:0]
	b.seen = map[int32]bool{}
	return nil
}

func (b *base) reset() {
	if b.stmtCache != nil {
		if err := b.stmtCache.Clear(); err != nil {
			log.Warnf("organismarchive: stmt cache clear: %v", err)
		}
		b.stmtCache = nil
	}
	b.metaBatch = b.metaBatch[:0]
	b.seen = map[int32]bool{}
}

func (b *base) readTotalOrganismsCreated(t tickmodel.TickNumber) (int64, error) {
	var max sql.NullInt64
	row := sq.Select("MAX(organism_id)").From("organisms").Where(sq.LtOrEq{"birth_tick": int64(t)}).RunWith(b.db.DB).QueryRow()
	if err := row.Scan(&max); err != nil {
		return 0, archiveerr.New(archiveerr.IoError, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

func unmarshalPosition(raw sql.NullString) []int32 {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var pos []int32
	if err := json.Unmarshal([]byte(raw.String), &pos); err != nil {
		return nil
	}
	return pos
}

func metaByID(db *sqlx.DB, id int32) (parentID *int32, birthTick int64, programID string, initialPosition []int32, genomeHash uint64, err error) {
	var parent sql.NullInt64
	var pos sql.NullString
	row := sq.Select("parent_id", "birth_tick", "program_id", "initial_position", "genome_hash").From("organisms").
		Where(sq.Eq{"organism_id": id}).RunWith(db.DB).QueryRow()
	if scanErr := row.Scan(&parent, &birthTick, &programID, &pos, &genomeHash); scanErr != nil {
		return nil, 0, "", nil, 0, archiveerr.New(archiveerr.TickNotFound, scanErr)
	}
	if parent.Valid {
		p := int32(parent.Int64)
		parentID = &p
	}
	return parentID, birthTick, programID, unmarshalPosition(pos), genomeHash, nil
}
