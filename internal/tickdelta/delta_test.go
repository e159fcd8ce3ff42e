// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tickdelta_test

import (
	"testing"

	"github.com/evochora/tickarchive/internal/tickdelta"
	"github.com/evochora/tickarchive/pkg/tickmodel"
	"github.com/stretchr/testify/require"
)

func grid(indices []int64, data []uint32) tickmodel.CellGrid {
	return tickmodel.CellGrid{FlatIndices: indices, MoleculeData: data}
}

func TestEncodeChunkRoundTrip(t *testing.T) {
	ticks := []tickmodel.TickData{
		{TickNumber: 100, CaptureTimeMs: 1000, CellGrid: grid([]int64{0, 1, 2}, []uint32{1, 2, 3}), TotalOrganismsCreated: 1},
		{TickNumber: 101, CaptureTimeMs: 1010, CellGrid: grid([]int64{0, 1, 2}, []uint32{1, 9, 3}), TotalOrganismsCreated: 1},
		// Cell 0 reverts to baseline word 0 (not simply absent) — the grid
		// shape never shrinks, so a reverted cell must round-trip as an
		// explicit zero, not vanish from the reconstructed grid.
		{TickNumber: 102, CaptureTimeMs: 1020, CellGrid: grid([]int64{0, 1, 2, 5}, []uint32{0, 9, 3, 7}), TotalOrganismsCreated: 2},
	}

	chunk, err := tickdelta.EncodeChunk("run-1", ticks)
	require.NoError(t, err)
	require.Equal(t, tickmodel.TickNumber(100), chunk.FirstTick)
	require.Equal(t, tickmodel.TickNumber(102), chunk.LastTick)
	require.Equal(t, int64(3), chunk.TickCount)
	require.Len(t, chunk.Deltas, 2)

	for _, tick := range ticks {
		got, err := tickdelta.DecompressTick(chunk, tick.TickNumber)
		require.NoError(t, err)
		require.Equal(t, tick.TickNumber, got.TickNumber)
		require.ElementsMatch(t, tick.CellGrid.FlatIndices, got.CellGrid.FlatIndices)

		byIdx := make(map[int64]uint32)
		for i, idx := range got.CellGrid.FlatIndices {
			byIdx[idx] = got.CellGrid.MoleculeData[i]
		}
		for i, idx := range tick.CellGrid.FlatIndices {
			require.Equal(t, tick.CellGrid.MoleculeData[i], byIdx[idx])
		}
	}
}

func TestDecompressTickOutOfRange(t *testing.T) {
	ticks := []tickmodel.TickData{
		{TickNumber: 10, CellGrid: grid([]int64{0}, []uint32{1})},
		{TickNumber: 11, CellGrid: grid([]int64{0}, []uint32{2})},
	}
	chunk, err := tickdelta.EncodeChunk("run-1", ticks)
	require.NoError(t, err)

	_, err = tickdelta.DecompressTick(chunk, 9)
	require.Error(t, err)
	_, err = tickdelta.DecompressTick(chunk, 12)
	require.Error(t, err)
}

// TestZeroValuedCellSurvivesReplay guards against treating molecule word
// 0 as a deletion sentinel: a cell that changes to 0 mid-chunk, or drops
// out of a later tick's grid entirely, must still be present at word 0
// on replay rather than missing from the reconstructed CellGrid.
func TestZeroValuedCellSurvivesReplay(t *testing.T) {
	ticks := []tickmodel.TickData{
		{TickNumber: 0, CellGrid: grid([]int64{0, 1}, []uint32{5, 9})},
		{TickNumber: 1, CellGrid: grid([]int64{0, 1}, []uint32{0, 9})},
		{TickNumber: 2, CellGrid: grid([]int64{1}, []uint32{9})},
	}
	chunk, err := tickdelta.EncodeChunk("run-1", ticks)
	require.NoError(t, err)

	for _, tickNumber := range []tickmodel.TickNumber{1, 2} {
		got, err := tickdelta.DecompressTick(chunk, tickNumber)
		require.NoError(t, err)
		byIdx := make(map[int64]uint32)
		for i, idx := range got.CellGrid.FlatIndices {
			byIdx[idx] = got.CellGrid.MoleculeData[i]
		}
		word, ok := byIdx[0]
		require.True(t, ok, "tick %d: cell 0 must still be tracked, not deleted", tickNumber)
		require.Equal(t, uint32(0), word)
	}
}

func TestEmitsFullWhenDiffApproachesSnapshotSize(t *testing.T) {
	ticks := []tickmodel.TickData{
		{TickNumber: 0, CellGrid: grid([]int64{0, 1}, []uint32{1, 1})},
		{TickNumber: 1, CellGrid: grid([]int64{10, 11}, []uint32{5, 6})},
	}
	chunk, err := tickdelta.EncodeChunk("run-1", ticks)
	require.NoError(t, err)
	require.Equal(t, tickmodel.DeltaFull, chunk.Deltas[0].DeltaType)
}
