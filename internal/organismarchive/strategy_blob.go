// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package organismarchive

import (
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/evochora/tickarchive/internal/archiveerr"
	"github.com/evochora/tickarchive/internal/compression"
	"github.com/evochora/tickarchive/pkg/tickmodel"
	"github.com/jmoiron/sqlx"
)

// BlobPerTick is strategy B (§4.5): every organism alive at a tick is
// serialized into a single compressed blob keyed by tick_number. Reads
// of one organism decompress the whole tick's blob and filter in memory.
type BlobPerTick struct {
	base
	codecName string
	pending   map[int64][]tickmodel.OrganismState
	order     []int64
}

// NewBlobPerTick constructs strategy B against db, compressing each
// tick's organism blob with codecName (C1).
func NewBlobPerTick(db *sqlx.DB, codecName string) *BlobPerTick {
	return &BlobPerTick{
		base:      newBase(db),
		codecName: codecName,
		pending:   map[int64][]tickmodel.OrganismState{},
	}
}

func (s *BlobPerTick) CreateTables() error {
	if err := s.createMetaTable(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS organism_ticks (
		tick_number    BIGINT PRIMARY KEY,
		organisms_blob BLOB NOT NULL
	)`); err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("create organism_ticks: %w", err))
	}
	return nil
}

func (s *BlobPerTick) AddOrganismTick(tick tickmodel.TickNumber, organisms []tickmodel.OrganismState) error {
	for _, o := range organisms {
		if err := s.stageMeta(o); err != nil {
			return err
		}
	}
	key := int64(tick)
	if _, ok := s.pending[key]; !ok {
		s.order = append(s.order, key)
	}
	s.pending[key] = append(s.pending[key], organisms...)
	return nil
}

func (s *BlobPerTick) CommitOrganismWrites() error {
	for _, tick := range s.order {
		organisms := s.pending[tick]
		blobJSON, err := json.Marshal(organisms)
		if err != nil {
			return fmt.Errorf("marshal organism_ticks blob: %w", err)
		}
		compressed, err := compression.CompressBytes(s.codecName, blobJSON)
		if err != nil {
			return archiveerr.New(archiveerr.IoError, fmt.Errorf("compress organism_ticks blob: %w", err))
		}
		_, err = sq.Insert("organism_ticks").
			Columns("tick_number", "organisms_blob").
			Values(tick, compressed).
			Suffix("ON CONFLICT(tick_number) DO UPDATE SET organisms_blob=excluded.organisms_blob").
			RunWith(s.stmts()).
			Exec()
		if err != nil {
			return archiveerr.New(archiveerr.WriteError, fmt.Errorf("merge organism_ticks row: %w", err))
		}
	}
	s.pending = map[int64][]tickmodel.OrganismState{}
	s.order = s.order[:0]
	return s.commitMeta()
}

func (s *BlobPerTick) ResetStreamingState() {
	s.pending = map[int64][]tickmodel.OrganismState{}
	s.order = s.order[:0]
	s.reset()
}

func (s *BlobPerTick) readTickBlob(t tickmodel.TickNumber) ([]tickmodel.OrganismState, error) {
	var blob []byte
	row := sq.Select("organisms_blob").From("organism_ticks").Where(sq.Eq{"tick_number": int64(t)}).RunWith(s.db.DB).QueryRow()
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, archiveerr.New(archiveerr.TickNotFound, err)
		}
		return nil, archiveerr.New(archiveerr.IoError, err)
	}
	raw, err := compression.DecompressBytes(blob)
	if err != nil {
		return nil, archiveerr.New(archiveerr.DecodeError, err)
	}
	var organisms []tickmodel.OrganismState
	if err := json.Unmarshal(raw, &organisms); err != nil {
		return nil, archiveerr.New(archiveerr.DecodeError, err)
	}
	return organisms, nil
}

func (s *BlobPerTick) ReadOrganismsAtTick(t tickmodel.TickNumber) ([]tickmodel.OrganismTickSummary, error) {
	organisms, err := s.readTickBlob(t)
	if err != nil {
		return nil, err
	}
	out := make([]tickmodel.OrganismTickSummary, 0, len(organisms))
	for _, o := range organisms {
		out = append(out, tickmodel.OrganismTickSummary{
			OrganismID:    o.OrganismID,
			Energy:        o.Energy,
			IP:            o.IP,
			DV:            o.DV,
			DataPointers:  o.DataPointers,
			ActiveDPIndex: o.ActiveDPIndex,
			ParentID:      o.ParentID,
			BirthTick:     o.BirthTick,
			EntropyReg:    o.EntropyRegister,
			GenomeHash:    o.GenomeHash,
			IsDead:        o.Runtime.IsDead,
			DeathTick:     o.Runtime.DeathTick,
		})
	}
	return out, nil
}

func (s *BlobPerTick) ReadSingleOrganismState(t tickmodel.TickNumber, id int32) (*tickmodel.OrganismState, error) {
	organisms, err := s.readTickBlob(t)
	if err != nil {
		return nil, err
	}
	for i := range organisms {
		if organisms[i].OrganismID == id {
			return &organisms[i], nil
		}
	}
	return nil, archiveerr.Newf(archiveerr.TickNotFound, "organism %d not present at tick %d", id, t)
}

func (s *BlobPerTick) GetAvailableTickRange() (tickmodel.TickNumber, tickmodel.TickNumber, bool, error) {
	var min, max sql.NullInt64
	row := sq.Select("MIN(tick_number)", "MAX(tick_number)").From("organism_ticks").RunWith(s.db.DB).QueryRow()
	if err := row.Scan(&min, &max); err != nil {
		return 0, 0, false, archiveerr.New(archiveerr.IoError, err)
	}
	if !min.Valid || !max.Valid {
		return 0, 0, false, nil
	}
	return tickmodel.TickNumber(min.Int64), tickmodel.TickNumber(max.Int64), true, nil
}

func (s *BlobPerTick) ReadTotalOrganismsCreated(t tickmodel.TickNumber) (int64, error) {
	return s.readTotalOrganismsCreated(t)
}
