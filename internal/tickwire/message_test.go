// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tickwire_test

import (
	"bytes"
	"testing"

	"github.com/evochora/tickarchive/internal/tickwire"
	"github.com/evochora/tickarchive/pkg/tickmodel"
	"github.com/stretchr/testify/require"
)

func sampleTick() tickmodel.TickData {
	parent := int32(7)
	return tickmodel.TickData{
		TickNumber:    42,
		CaptureTimeMs: 123456,
		Organisms: []tickmodel.OrganismState{
			{
				OrganismID:      9,
				ParentID:        &parent,
				BirthTick:       10,
				ProgramID:       "prog-a",
				GenomeHash:      0xdeadbeef,
				Energy:          500,
				ActiveDPIndex:   2,
				EntropyRegister: 3,
				MoleculeMarker:  0x11223344,
			},
		},
		CellGrid: tickmodel.CellGrid{
			FlatIndices:  []int64{0, 5, 9},
			MoleculeData: []uint32{1, 2, 3},
		},
		TotalOrganismsCreated: 3,
		TotalUniqueGenomes:    2,
	}
}

func TestEncodeDecodeTickDataRoundTrip(t *testing.T) {
	tick := sampleTick()
	var buf bytes.Buffer
	require.NoError(t, tickwire.EncodeTickData(&buf, "run-x", tick))

	got, runID, err := tickwire.DecodeTickData(buf.Bytes(), tickwire.FullTickAcceptSet)
	require.NoError(t, err)
	require.Equal(t, "run-x", runID)
	require.Equal(t, tick.TickNumber, got.TickNumber)
	require.Equal(t, tick.CaptureTimeMs, got.CaptureTimeMs)
	require.Equal(t, tick.TotalOrganismsCreated, got.TotalOrganismsCreated)
	require.Equal(t, tick.TotalUniqueGenomes, got.TotalUniqueGenomes)
	require.Equal(t, tick.CellGrid, got.CellGrid)
	require.Len(t, got.Organisms, 1)
	require.Equal(t, tick.Organisms[0].OrganismID, got.Organisms[0].OrganismID)
	require.Equal(t, *tick.Organisms[0].ParentID, *got.Organisms[0].ParentID)
	require.Equal(t, tick.Organisms[0].ProgramID, got.Organisms[0].ProgramID)
	require.Equal(t, tick.Organisms[0].GenomeHash, got.Organisms[0].GenomeHash)
}

func TestDecodeTickDataPartialAcceptSetSkipsFields(t *testing.T) {
	tick := sampleTick()
	var buf bytes.Buffer
	require.NoError(t, tickwire.EncodeTickData(&buf, "run-x", tick))

	got, runID, err := tickwire.DecodeTickData(buf.Bytes(), tickwire.EnvironmentAcceptSet)
	require.NoError(t, err)
	require.Equal(t, "run-x", runID)
	require.Equal(t, tick.TickNumber, got.TickNumber)
	require.Equal(t, tick.CellGrid, got.CellGrid)
	require.Equal(t, tick.TotalOrganismsCreated, got.TotalOrganismsCreated)
	// organisms are outside the environment accept set: never materialized.
	require.Nil(t, got.Organisms)
}

func TestEncodeDecodeChunkRoundTrip(t *testing.T) {
	snapshot := sampleTick()
	delta := tickmodel.TickDelta{
		TickNumber:    43,
		CaptureTimeMs: 123556,
		DeltaType:     tickmodel.DeltaSparse,
		ChangedCells: tickmodel.CellGrid{
			FlatIndices:  []int64{5},
			MoleculeData: []uint32{99},
		},
		TotalOrganismsCreated: 3,
		TotalUniqueGenomes:    2,
	}
	chunk := tickmodel.TickDataChunk{
		FirstTick: 42,
		LastTick:  43,
		TickCount: 2,
		Snapshot:  snapshot,
		Deltas:    []tickmodel.TickDelta{delta},
	}

	var buf bytes.Buffer
	require.NoError(t, tickwire.EncodeChunk(&buf, "run-x", chunk))

	got, runID, err := tickwire.DecodeChunk(buf.Bytes(), tickwire.FullTickAcceptSet, tickwire.FullDeltaAcceptSet)
	require.NoError(t, err)
	require.Equal(t, "run-x", runID)
	require.Equal(t, chunk.FirstTick, got.FirstTick)
	require.Equal(t, chunk.LastTick, got.LastTick)
	require.Equal(t, chunk.TickCount, got.TickCount)
	require.Equal(t, chunk.Snapshot.TickNumber, got.Snapshot.TickNumber)
	require.Len(t, got.Deltas, 1)
	require.Equal(t, delta.TickNumber, got.Deltas[0].TickNumber)
	require.Equal(t, delta.ChangedCells, got.Deltas[0].ChangedCells)
}

func TestSkipUnknownFieldsWithoutAllocating(t *testing.T) {
	tick := sampleTick()
	var buf bytes.Buffer
	require.NoError(t, tickwire.EncodeTickData(&buf, "run-x", tick))

	empty := tickwire.NewFieldSet()
	got, runID, err := tickwire.DecodeTickData(buf.Bytes(), empty)
	require.NoError(t, err)
	require.Empty(t, runID)
	require.Zero(t, got.TickNumber)
	require.Nil(t, got.Organisms)
	require.Nil(t, got.CellGrid.FlatIndices)
}
