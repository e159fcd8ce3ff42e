// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tickdelta implements the delta codec (C3): encoding a run of
// sampled ticks as one anchor snapshot plus sparse cell-diffs, and
// replaying any tick in that chunk back out.
package tickdelta

import (
	"fmt"

	"github.com/evochora/tickarchive/pkg/tickmodel"
)

// sparseThreshold bounds how large a delta's changed-cell set may grow
// relative to the snapshot before it is no longer worth encoding as
// sparse. §4.3: "If the delta size approaches the snapshot size, emit
// FULL instead."
const sparseThreshold = 0.85

// EncodeChunk builds a TickDataChunk from consecutive sampled ticks. The
// first tick becomes the anchor snapshot; every following tick is diffed
// against the cell state reconstructed so far within this chunk.
func EncodeChunk(runID string, ticks []tickmodel.TickData) (tickmodel.TickDataChunk, error) {
	if len(ticks) == 0 {
		return tickmodel.TickDataChunk{}, fmt.Errorf("tickdelta: EncodeChunk called with no ticks")
	}

	chunk := tickmodel.TickDataChunk{
		FirstTick: ticks[0].TickNumber,
		LastTick:  ticks[len(ticks)-1].TickNumber,
		TickCount: int64(len(ticks)),
		Snapshot:  ticks[0],
	}

	state := cellState(ticks[0].CellGrid)
	for i := 1; i < len(ticks); i++ {
		tick := ticks[i]
		changed := diff(state, tick.CellGrid)
		delta := tickmodel.TickDelta{
			TickNumber:            tick.TickNumber,
			CaptureTimeMs:         tick.CaptureTimeMs,
			Organisms:             tick.Organisms,
			TotalOrganismsCreated: tick.TotalOrganismsCreated,
			TotalUniqueGenomes:    tick.TotalUniqueGenomes,
		}
		if shouldEmitFull(changed, state) {
			delta.DeltaType = tickmodel.DeltaFull
			delta.ChangedCells = tick.CellGrid
		} else {
			delta.DeltaType = tickmodel.DeltaSparse
			delta.ChangedCells = toCellGrid(changed)
		}
		chunk.Deltas = append(chunk.Deltas, delta)
		applyChanges(state, changed)
	}

	return chunk, nil
}

// shouldEmitFull reports whether the sparse diff is large enough,
// relative to the current cell count, that a full snapshot would be
// cheaper to store and decode.
func shouldEmitFull(changed map[int64]uint32, state map[int64]uint32) bool {
	if len(state) == 0 {
		return len(changed) > 0
	}
	return float64(len(changed))/float64(len(state)) >= sparseThreshold
}

// cellState materializes a CellGrid into an index->molecule map for
// cheap point lookups and diffing.
func cellState(g tickmodel.CellGrid) map[int64]uint32 {
	m := make(map[int64]uint32, len(g.FlatIndices))
	for i, idx := range g.FlatIndices {
		m[idx] = g.MoleculeData[i]
	}
	return m
}

// diff computes the set-difference between the current reconstructed
// state and the target grid: cells that are new, changed, or (absent
// from target but present in state) reverted to their baseline molecule
// word 0. Word 0 here is a real, storable cell value, not a deletion
// marker — the grid shape never shrinks, only cell contents change
// (§4.3) — so a reverted cell stays tracked in state at word 0 rather
// than being dropped from it.
func diff(state map[int64]uint32, target tickmodel.CellGrid) map[int64]uint32 {
	changed := make(map[int64]uint32)
	seen := make(map[int64]bool, len(target.FlatIndices))
	for i, idx := range target.FlatIndices {
		seen[idx] = true
		word := target.MoleculeData[i]
		if old, ok := state[idx]; !ok || old != word {
			changed[idx] = word
		}
	}
	for idx := range state {
		if !seen[idx] {
			changed[idx] = 0
		}
	}
	return changed
}

func toCellGrid(changed map[int64]uint32) tickmodel.CellGrid {
	g := tickmodel.CellGrid{
		FlatIndices:  make([]int64, 0, len(changed)),
		MoleculeData: make([]uint32, 0, len(changed)),
	}
	for idx := range changed {
		g.FlatIndices = append(g.FlatIndices, idx)
	}
	sortInt64s(g.FlatIndices)
	for _, idx := range g.FlatIndices {
		g.MoleculeData = append(g.MoleculeData, changed[idx])
	}
	return g
}

func sortInt64s(s []int64) {
	// Insertion sort is fine here: changed-cell sets per tick are small
	// relative to the grid, and this keeps FlatIndices strictly
	// ascending as required by the CellGrid invariant (§3).
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// applyChanges folds changed into state. A molecule word of 0 is a
// legitimate cell value (type tag CODE with data 0), not an "absence"
// sentinel, so a changed entry is always stored, never used to delete
// the index from state — doing so would drop that cell from every
// later tick's reconstructed CellGrid even though the target tick still
// carried it explicitly at word 0.
func applyChanges(state map[int64]uint32, changed map[int64]uint32) {
	for idx, word := range changed {
		state[idx] = word
	}
}

// DecompressTick locates the delta (or snapshot) for tick t within chunk
// and replays snapshot ⊕ delta₁ ⊕ … ⊕ delta_t into a reconstructed
// TickData. When a cell appears in multiple deltas up to t, the latest
// application wins (monotonic application, §4.3).
func DecompressTick(chunk tickmodel.TickDataChunk, t tickmodel.TickNumber) (tickmodel.TickData, error) {
	if t < chunk.FirstTick || t > chunk.LastTick {
		return tickmodel.TickData{}, fmt.Errorf("tickdelta: tick %d outside chunk range [%d,%d]", t, chunk.FirstTick, chunk.LastTick)
	}
	if t == chunk.FirstTick {
		return chunk.Snapshot, nil
	}

	state := cellState(chunk.Snapshot.CellGrid)
	result := chunk.Snapshot
	found := false
	for _, delta := range chunk.Deltas {
		switch delta.DeltaType {
		case tickmodel.DeltaFull:
			state = cellState(delta.ChangedCells)
		case tickmodel.DeltaSparse:
			applySparse(state, delta.ChangedCells)
		}
		result = tickmodel.TickData{
			TickNumber:            delta.TickNumber,
			CaptureTimeMs:         delta.CaptureTimeMs,
			CellGrid:              toCellGrid(state),
			Organisms:             delta.Organisms,
			TotalOrganismsCreated: delta.TotalOrganismsCreated,
			TotalUniqueGenomes:    delta.TotalUniqueGenomes,
		}
		if delta.TickNumber == t {
			found = true
			break
		}
	}
	if !found {
		return tickmodel.TickData{}, fmt.Errorf("tickdelta: tick %d not found among chunk's deltas", t)
	}
	return result, nil
}

func applySparse(state map[int64]uint32, changes tickmodel.CellGrid) {
	for i, idx := range changes.FlatIndices {
		state[idx] = changes.MoleculeData[i]
	}
}
