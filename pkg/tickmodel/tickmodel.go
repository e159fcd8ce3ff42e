// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tickmodel holds the data model shared by every tick-archive
// component: environment chunks, organism states, and the sparse deltas
// that reconstruct them.
package tickmodel

// TickNumber is the monotonically increasing, non-negative primary key
// across every archive in this module.
type TickNumber uint64

// MoleculeType is the high-bits type tag packed into a cell's molecule word.
type MoleculeType uint8

const (
	MoleculeCode MoleculeType = iota
	MoleculeData
	MoleculeEnergy
	MoleculeStructure
	MoleculeLabel
	MoleculeLabelRef
)

// moleculeTypeBits is the number of high bits reserved for MoleculeType;
// the remaining low bits hold the signed payload value.
const moleculeTypeBits = 4

// PackMolecule combines a type tag and a signed value into one wire word.
func PackMolecule(t MoleculeType, value int32) uint32 {
	return uint32(t)<<(32-moleculeTypeBits) | (uint32(value) & (1<<(32-moleculeTypeBits) - 1))
}

// UnpackMolecule splits a wire word back into its type tag and signed value.
func UnpackMolecule(word uint32) (MoleculeType, int32) {
	t := MoleculeType(word >> (32 - moleculeTypeBits))
	raw := word & (1<<(32-moleculeTypeBits) - 1)
	signBit := uint32(1) << (32 - moleculeTypeBits - 1)
	value := int32(raw)
	if raw&signBit != 0 {
		value = int32(raw | ^uint32(1<<(32-moleculeTypeBits)-1))
	}
	return t, value
}

// CellGrid is the dense columnar snapshot of the environment at one tick.
// FlatIndices and MoleculeData must have identical length, and FlatIndices
// must be strictly ascending (the row-major linearization of the grid).
type CellGrid struct {
	FlatIndices  []int64  `json:"flatIndices"`
	MoleculeData []uint32 `json:"moleculeData"`
}

// Len returns the number of populated cells.
func (g CellGrid) Len() int { return len(g.FlatIndices) }

// DataPointer is one vector in an organism's data-pointer list.
type DataPointer struct {
	Vector []int32 `json:"vector"`
}

// InstructionTrace records the last instruction an organism executed,
// kept inside the cold runtime blob.
type InstructionTrace struct {
	OpcodeID       int32   `json:"opcodeId"`
	RawArgs        []int32 `json:"rawArgs"`
	EnergyCost     int64   `json:"energyCost"`
	EntropyDelta   int64   `json:"entropyDelta"`
	IPBeforeFetch  []int32 `json:"ipBeforeFetch"`
	DVBeforeFetch  []int32 `json:"dvBeforeFetch"`
	RegsBeforeExec []int64 `json:"regsBeforeExec"`
}

// RuntimeBlob is the cold, compressed portion of an organism's state:
// registers, stacks, and the last-instruction trace. It is always
// decoded as a unit and merged with the hot row columns.
type RuntimeBlob struct {
	IsDead               bool              `json:"isDead"`
	DeathTick            *TickNumber       `json:"deathTick,omitempty"`
	EntropyRegister      int64             `json:"entropyRegister"`
	MoleculeMarkerReg    uint32            `json:"moleculeMarkerRegister"`
	RegisterBanks        [][]int64         `json:"registerBanks"`
	Stacks               [][]int64         `json:"stacks"`
	LastInstructionTrace *InstructionTrace `json:"lastInstructionTrace,omitempty"`
}

// OrganismState is one simulated agent's full state at a tick.
type OrganismState struct {
	OrganismID       int32         `json:"organismId" db:"organism_id"`
	ParentID         *int32        `json:"parentId,omitempty" db:"parent_id"`
	BirthTick        TickNumber    `json:"birthTick" db:"birth_tick"`
	ProgramID        string        `json:"programId" db:"program_id"`
	InitialPosition  []int32       `json:"initialPosition"`
	GenomeHash        uint64       `json:"genomeHash" db:"genome_hash"`
	Energy           int64         `json:"energy" db:"energy"`
	IP               []int32       `json:"ip" db:"ip"`
	DV               []int32       `json:"dv" db:"dv"`
	DataPointers     []DataPointer `json:"dataPointers" db:"data_pointers"`
	ActiveDPIndex    int32         `json:"activeDpIndex" db:"active_dp_index"`
	EntropyRegister  int64         `json:"entropyRegister" db:"entropy"`
	MoleculeMarker   uint32        `json:"moleculeMarkerRegister" db:"molecule_marker"`
	Runtime          RuntimeBlob   `json:"runtime"`
}

// OrganismTickSummary is the lighter-weight projection returned by
// read_organisms_at_tick — enough for the visualizer to render a tick
// without paying for the full runtime blob of every organism.
type OrganismTickSummary struct {
	OrganismID     int32       `json:"organismId" db:"organism_id"`
	Energy         int64       `json:"energy" db:"energy"`
	IP             []int32     `json:"ip"`
	DV             []int32     `json:"dv"`
	DataPointers   []DataPointer `json:"dataPointers"`
	ActiveDPIndex  int32       `json:"activeDpIndex" db:"active_dp_index"`
	ParentID       *int32      `json:"parentId,omitempty" db:"parent_id"`
	BirthTick      TickNumber  `json:"birthTick" db:"birth_tick"`
	EntropyReg     int64       `json:"entropyRegister" db:"entropy"`
	GenomeHash     uint64      `json:"genomeHash" db:"genome_hash"`
	IsDead         bool        `json:"isDead"`
	DeathTick      *TickNumber `json:"deathTick,omitempty"`
}

// TickData is one sampled, fully materialized tick.
type TickData struct {
	TickNumber            TickNumber      `json:"tickNumber"`
	CaptureTimeMs         int64           `json:"captureTimeMs"`
	CellGrid              CellGrid        `json:"cellGrid"`
	Organisms             []OrganismState `json:"organisms"`
	TotalOrganismsCreated int64           `json:"totalOrganismsCreated"`
	TotalUniqueGenomes    int64           `json:"totalUniqueGenomes"`
}

// DeltaType distinguishes a self-sufficient snapshot from a sparse diff.
type DeltaType uint8

const (
	DeltaFull DeltaType = iota
	DeltaSparse
)

// TickDelta is a tick reconstructed against the chunk's anchor snapshot.
type TickDelta struct {
	TickNumber            TickNumber      `json:"tickNumber"`
	CaptureTimeMs         int64           `json:"captureTimeMs"`
	DeltaType             DeltaType       `json:"deltaType"`
	ChangedCells          CellGrid        `json:"changedCells"`
	Organisms             []OrganismState `json:"organisms"`
	TotalOrganismsCreated int64           `json:"totalOrganismsCreated"`
	TotalUniqueGenomes    int64           `json:"totalUniqueGenomes"`
}

// TickDataChunk is one archive unit: a snapshot plus the deltas that
// extend it to LastTick. Invariant: FirstTick <= every delta's
// TickNumber <= LastTick, with no gaps at the sampling grid.
type TickDataChunk struct {
	FirstTick TickNumber  `json:"firstTick" db:"first_tick"`
	LastTick  TickNumber  `json:"lastTick" db:"last_tick"`
	TickCount int64       `json:"tickCount"`
	Snapshot  TickData    `json:"snapshot"`
	Deltas    []TickDelta `json:"deltas"`
}

// ChunkMetaRecord is the per-run subdirectory-partitioning parameter,
// computed once on first write and immutable thereafter.
type ChunkMetaRecord struct {
	TicksPerSubdirectory int64 `json:"ticksPerSubdirectory"`
}
