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

// RowPerOrganism is strategy A (§4.5): one row per (tick, organism),
// with the hot columns extracted for fast single-organism lookups and
// the cold runtime state compressed into a blob column.
type RowPerOrganism struct {
	base
	codecName string
	tickBatch []rowBatchEntry
}

type rowBatchEntry struct {
	TickNumber    int64
	OrganismID    int32
	Energy        int64
	IP            string
	DV            string
	DataPointers  string
	ActiveDPIndex int32
	RuntimeBlob   []byte
	Entropy       int64
	MoleculeMarker uint32
}

// NewRowPerOrganism constructs strategy A against db, compressing
// runtime blobs with codecName (C1).
func NewRowPerOrganism(db *sqlx.DB, codecName string) *RowPerOrganism {
	return &RowPerOrganism{base: newBase(db), codecName: codecName}
}

func (s *RowPerOrganism) CreateTables() error {
	if err := s.createMetaTable(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS organism_states (
		tick_number        BIGINT NOT NULL,
		organism_id        INTEGER NOT NULL,
		energy             BIGINT NOT NULL,
		ip                 TEXT,
		dv                 TEXT,
		data_pointers      TEXT,
		active_dp_index    INTEGER,
		runtime_state_blob BLOB,
		entropy            BIGINT,
		molecule_marker    INTEGER,
		PRIMARY KEY (tick_number, organism_id)
	)`); err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("create organism_states: %w", err))
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_organism_states_organism_id ON organism_states(organism_id)`); err != nil {
		return archiveerr.New(archiveerr.IoError, fmt.Errorf("create organism_id index: %w", err))
	}
	return nil
}

func (s *RowPerOrganism) AddOrganismTick(tick tickmodel.TickNumber, organisms []tickmodel.OrganismState) error {
	for _, o := range organisms {
		if err := s.stageMeta(o); err != nil {
			return err
		}

		runtimeJSON, err := json.Marshal(o.Runtime)
		if err != nil {
			return fmt.Errorf("marshal runtime blob: %w", err)
		}
		compressed, err := compression.CompressBytes(s.codecName, runtimeJSON)
		if err != nil {
			return archiveerr.New(archiveerr.IoError, fmt.Errorf("compress runtime blob: %w", err))
		}
		ip, _ := json.Marshal(o.IP)
		dv, _ := json.Marshal(o.DV)
		dps, _ := json.Marshal(o.DataPointers)

		s.tickBatch = append(s.tickBatch, rowBatchEntry{
			TickNumber:     int64(tick),
			OrganismID:     o.OrganismID,
			Energy:         o.Energy,
			IP:             string(ip),
			DV:             string(dv),
			DataPointers:   string(dps),
			ActiveDPIndex:  o.ActiveDPIndex,
			RuntimeBlob:    compressed,
			Entropy:        o.EntropyRegister,
			MoleculeMarker: o.MoleculeMarker,
		})
	}
	return nil
}

func (s *RowPerOrganism) CommitOrganismWrites() error {
	for _, row := range s.tickBatch {
		_, err := sq.Insert("organism_states").
			Columns("tick_number", "organism_id", "energy", "ip", "dv", "data_pointers",
				"active_dp_index", "runtime_state_blob", "entropy", "molecule_marker").
			Values(row.TickNumber, row.OrganismID, row.Energy, row.IP, row.DV, row.DataPointers,
				row.ActiveDPIndex, row.RuntimeBlob, row.Entropy, row.MoleculeMarker).
			Suffix("ON CONFLICT(tick_number, organism_id) DO UPDATE SET energy=excluded.energy").
			RunWith(s.stmts()).
			Exec()
		if err != nil {
			return archiveerr.New(archiveerr.WriteError, fmt.Errorf("merge organism_states row: %w", err))
		}
	}
	s.tickBatch = s.tickBatch[:0]
	return s.commitMeta()
}

func (s *RowPerOrganism) ResetStreamingState() {
	s.tickBatch = s.tickBatch[:0]
	s.reset()
}

func (s *RowPerOrganism) ReadOrganismsAtTick(t tickmodel.TickNumber) ([]tickmodel.OrganismTickSummary, error) {
	rows, err := sq.Select("os.organism_id", "os.energy", "os.ip", "os.dv", "os.data_pointers",
		"os.active_dp_index", "os.entropy", "os.runtime_state_blob", "o.parent_id", "o.birth_tick", "o.genome_hash").
		From("organism_states os").
		Join("organisms o ON o.organism_id = os.organism_id").
		Where(sq.Eq{"os.tick_number": int64(t)}).
		RunWith(s.db.DB).Query()
	if err != nil {
		return nil, archiveerr.New(archiveerr.IoError, err)
	}
	defer rows.Close()

	var out []tickmodel.OrganismTickSummary
	for rows.Next() {
		var (
			sum           tickmodel.OrganismTickSummary
			ip, dv, dps   sql.NullString
			runtimeBlob   []byte
			parent        sql.NullInt64
		)
		if err := rows.Scan(&sum.OrganismID, &sum.Energy, &ip, &dv, &dps,
			&sum.ActiveDPIndex, &sum.EntropyReg, &runtimeBlob, &parent, &sum.BirthTick, &sum.GenomeHash); err != nil {
			return nil, archiveerr.New(archiveerr.IoError, err)
		}
		sum.IP = unmarshalPosition(ip)
		sum.DV = unmarshalPosition(dv)
		if dps.Valid {
			_ = json.Unmarshal([]byte(dps.String), &sum.DataPointers)
		}
		if parent.Valid {
			p := int32(parent.Int64)
			sum.ParentID = &p
		}
		if raw, err := compression.DecompressBytes(runtimeBlob); err == nil {
			var rt tickmodel.RuntimeBlob
			if json.Unmarshal(raw, &rt) == nil {
				sum.IsDead = rt.IsDead
				sum.DeathTick = rt.DeathTick
			}
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *RowPerOrganism) ReadSingleOrganismState(t tickmodel.TickNumber, id int32) (*tickmodel.OrganismState, error) {
	var (
		energy         int64
		ip, dv, dps    sql.NullString
		activeDP       int32
		runtimeBlob    []byte
		entropy        int64
		moleculeMarker uint32
	)
	row := sq.Select("energy", "ip", "dv", "data_pointers", "active_dp_index", "runtime_state_blob",
		"entropy", "molecule_marker").
		From("organism_states").
		Where(sq.Eq{"tick_number": int64(t), "organism_id": id}).
		RunWith(s.db.DB).QueryRow()
	if err := row.Scan(&energy, &ip, &dv, &dps, &activeDP, &runtimeBlob, &entropy, &moleculeMarker); err != nil {
		if err == sql.ErrNoRows {
			return nil, archiveerr.New(archiveerr.TickNotFound, err)
		}
		return nil, archiveerr.New(archiveerr.IoError, err)
	}

	parentID, birthTick, programID, initialPosition, genomeHash, err := metaByID(s.db, id)
	if err != nil {
		return nil, err
	}

	raw, err := compression.DecompressBytes(runtimeBlob)
	if err != nil {
		return nil, archiveerr.New(archiveerr.DecodeError, err)
	}
	var runtime tickmodel.RuntimeBlob
	if err := json.Unmarshal(raw, &runtime); err != nil {
		return nil, archiveerr.New(archiveerr.DecodeError, err)
	}

	var dataPointers []tickmodel.DataPointer
	if dps.Valid {
		_ = json.Unmarshal([]byte(dps.String), &dataPointers)
	}

	return &tickmodel.OrganismState{
		OrganismID:      id,
		ParentID:        parentID,
		BirthTick:       tickmodel.TickNumber(birthTick),
		ProgramID:       programID,
		InitialPosition: initialPosition,
		GenomeHash:      genomeHash,
		Energy:          energy,
		IP:              unmarshalPosition(ip),
		DV:              unmarshalPosition(dv),
		DataPointers:    dataPointers,
		ActiveDPIndex:   activeDP,
		EntropyRegister: entropy,
		MoleculeMarker:  moleculeMarker,
		Runtime:         runtime,
	}, nil
}

func (s *RowPerOrganism) GetAvailableTickRange() (tickmodel.TickNumber, tickmodel.TickNumber, bool, error) {
	var min, max sql.NullInt64
	row := sq.Select("MIN(tick_number)", "MAX(tick_number)").From("organism_states").RunWith(s.db.DB).QueryRow()
	if err := row.Scan(&min, &max); err != nil {
		return 0, 0, false, archiveerr.New(archiveerr.IoError, err)
	}
	if !min.Valid || !max.Valid {
		return 0, 0, false, nil
	}
	return tickmodel.TickNumber(min.Int64), tickmodel.TickNumber(max.Int64), true, nil
}

func (s *RowPerOrganism) ReadTotalOrganismsCreated(t tickmodel.TickNumber) (int64, error) {
	return s.readTotalOrganismsCreated(t)
}
