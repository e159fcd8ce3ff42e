// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickwire

import (
	"bytes"
	"io"

	"github.com/evochora/tickarchive/pkg/tickmodel"
)

// EnvironmentAcceptSet is the field set the partial decoder uses when
// producing environment-rendering output (§4.4). organisms, rng_state,
// plugin_states and genome_hashes are never in this set — they are
// skipped at wire level so no organism or auxiliary object is ever
// allocated on that path.
var EnvironmentAcceptSet = NewFieldSet(
	FieldTickSimRunID, FieldTickNumber, FieldTickCaptureTime,
	FieldTickCellColumns, FieldTickTotalOrgs, FieldTickUniqueGenom,
)

// EnvironmentDeltaAcceptSet mirrors EnvironmentAcceptSet for delta
// messages, where the cell column field is named changed_cells.
var EnvironmentDeltaAcceptSet = NewFieldSet(
	FieldDeltaTickNumber, FieldDeltaCaptureTime, FieldDeltaType,
	FieldDeltaChangedCells, FieldDeltaTotalOrgs, FieldDeltaUniqueGenom,
)

// FullTickAcceptSet accepts every field of a tick message;
// FullDeltaAcceptSet does the same for delta messages.
var FullTickAcceptSet = NewFieldSet(
	FieldTickSimRunID, FieldTickNumber, FieldTickCaptureTime, FieldTickOrganisms,
	FieldTickCellColumns, FieldTickRNGState, FieldTickPluginState,
	FieldTickTotalOrgs, FieldTickUniqueGenom, FieldTickGenomeHash,
)

var FullDeltaAcceptSet = NewFieldSet(
	FieldDeltaTickNumber, FieldDeltaCaptureTime, FieldDeltaType,
	FieldDeltaChangedCells, FieldDeltaOrganisms, FieldDeltaTotalOrgs,
	FieldDeltaRNGState, FieldDeltaPluginState, FieldDeltaUniqueGenom,
)

func writeCellGrid(w *Writer, fieldNumber int, g tickmodel.CellGrid) error {
	return w.WriteMessage(fieldNumber, func(nw *Writer) error {
		for i, idx := range g.FlatIndices {
			if err := nw.WriteVarint(1, uint64(idx)); err != nil {
				return err
			}
			if err := nw.WriteFixed32(2, g.MoleculeData[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeCellGrid(buf []byte) (tickmodel.CellGrid, error) {
	r := NewReader(bytes.NewReader(buf))
	var g tickmodel.CellGrid
	for {
		fn, wt, err := r.ReadTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return g, err
		}
		switch fn {
		case 1:
			v, err := r.ReadVarint()
			if err != nil {
				return g, err
			}
			g.FlatIndices = append(g.FlatIndices, int64(v))
		case 2:
			v, err := r.ReadFixed32()
			if err != nil {
				return g, err
			}
			g.MoleculeData = append(g.MoleculeData, v)
		default:
			if err := r.Skip(wt); err != nil {
				return g, err
			}
		}
	}
	return g, nil
}

func writeOrganism(w *Writer, fieldNumber int, o tickmodel.OrganismState) error {
	return w.WriteMessage(fieldNumber, func(nw *Writer) error {
		if err := nw.WriteVarint(1, uint64(uint32(o.OrganismID))); err != nil {
			return err
		}
		if o.ParentID != nil {
			if err := nw.WriteVarint(2, uint64(uint32(*o.ParentID))); err != nil {
				return err
			}
		}
		if err := nw.WriteVarint(3, uint64(o.BirthTick)); err != nil {
			return err
		}
		if err := nw.WriteBytes(4, []byte(o.ProgramID)); err != nil {
			return err
		}
		if err := nw.WriteFixed64(5, o.GenomeHash); err != nil {
			return err
		}
		if err := nw.WriteVarint(6, uint64(o.Energy)); err != nil {
			return err
		}
		if err := nw.WriteVarint(7, uint64(o.ActiveDPIndex)); err != nil {
			return err
		}
		if err := nw.WriteVarint(8, uint64(o.EntropyRegister)); err != nil {
			return err
		}
		if err := nw.WriteFixed32(9, o.MoleculeMarker); err != nil {
			return err
		}
		return nil
	})
}

func decodeOrganism(buf []byte) (tickmodel.OrganismState, error) {
	r := NewReader(bytes.NewReader(buf))
	var o tickmodel.OrganismState
	for {
		fn, wt, err := r.ReadTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return o, err
		}
		switch fn {
		case 1:
			v, err := r.ReadVarint()
			if err != nil {
				return o, err
			}
			o.OrganismID = int32(uint32(v))
		case 2:
			v, err := r.ReadVarint()
			if err != nil {
				return o, err
			}
			pid := int32(uint32(v))
			o.ParentID = &pid
		case 3:
			v, err := r.ReadVarint()
			if err != nil {
				return o, err
			}
			o.BirthTick = tickmodel.TickNumber(v)
		case 4:
			b, err := r.ReadBytes()
			if err != nil {
				return o, err
			}
			o.ProgramID = string(b)
		case 5:
			v, err := r.ReadFixed64()
			if err != nil {
				return o, err
			}
			o.GenomeHash = v
		case 6:
			v, err := r.ReadVarint()
			if err != nil {
				return o, err
			}
			o.Energy = int64(v)
		case 7:
			v, err := r.ReadVarint()
			if err != nil {
				return o, err
			}
			o.ActiveDPIndex = int32(v)
		case 8:
			v, err := r.ReadVarint()
			if err != nil {
				return o, err
			}
			o.EntropyRegister = int64(v)
		case 9:
			v, err := r.ReadFixed32()
			if err != nil {
				return o, err
			}
			o.MoleculeMarker = v
		default:
			if err := r.Skip(wt); err != nil {
				return o, err
			}
		}
	}
	return o, nil
}

// EncodeTickData writes a full TickData message.
func EncodeTickData(w io.Writer, runID string, t tickmodel.TickData) error {
	ww := NewWriter(w)
	if err := ww.WriteBytes(FieldTickSimRunID, []byte(runID)); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldTickNumber, uint64(t.TickNumber)); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldTickCaptureTime, uint64(t.CaptureTimeMs)); err != nil {
		return err
	}
	for _, o := range t.Organisms {
		if err := writeOrganism(ww, FieldTickOrganisms, o); err != nil {
			return err
		}
	}
	if err := writeCellGrid(ww, FieldTickCellColumns, t.CellGrid); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldTickTotalOrgs, uint64(t.TotalOrganismsCreated)); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldTickUniqueGenom, uint64(t.TotalUniqueGenomes)); err != nil {
		return err
	}
	return nil
}

// DecodeTickData runs the partial decoder over a TickData message with
// the given accept set; fields not in the set are skipped at wire level
// and never materialized.
func DecodeTickData(buf []byte, accept FieldSet) (tickmodel.TickData, string, error) {
	r := NewReader(bytes.NewReader(buf))
	var t tickmodel.TickData
	var runID string
	for {
		fn, wt, err := r.ReadTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return t, runID, err
		}
		if !accept.Accepts(fn) {
			if err := r.Skip(wt); err != nil {
				return t, runID, err
			}
			continue
		}
		switch fn {
		case FieldTickSimRunID:
			b, err := r.ReadBytes()
			if err != nil {
				return t, runID, err
			}
			runID = string(b)
		case FieldTickNumber:
			v, err := r.ReadVarint()
			if err != nil {
				return t, runID, err
			}
			t.TickNumber = tickmodel.TickNumber(v)
		case FieldTickCaptureTime:
			v, err := r.ReadVarint()
			if err != nil {
				return t, runID, err
			}
			t.CaptureTimeMs = int64(v)
		case FieldTickOrganisms:
			b, err := r.ReadBytes()
			if err != nil {
				return t, runID, err
			}
			o, err := decodeOrganism(b)
			if err != nil {
				return t, runID, err
			}
			t.Organisms = append(t.Organisms, o)
		case FieldTickCellColumns:
			b, err := r.ReadBytes()
			if err != nil {
				return t, runID, err
			}
			g, err := decodeCellGrid(b)
			if err != nil {
				return t, runID, err
			}
			t.CellGrid = g
		case FieldTickTotalOrgs:
			v, err := r.ReadVarint()
			if err != nil {
				return t, runID, err
			}
			t.TotalOrganismsCreated = int64(v)
		case FieldTickUniqueGenom:
			v, err := r.ReadVarint()
			if err != nil {
				return t, runID, err
			}
			t.TotalUniqueGenomes = int64(v)
		default:
			if err := r.Skip(wt); err != nil {
				return t, runID, err
			}
		}
	}
	return t, runID, nil
}

// EncodeTickDelta writes a full TickDelta message.
func EncodeTickDelta(w io.Writer, d tickmodel.TickDelta) error {
	ww := NewWriter(w)
	if err := ww.WriteVarint(FieldDeltaTickNumber, uint64(d.TickNumber)); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldDeltaCaptureTime, uint64(d.CaptureTimeMs)); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldDeltaType, uint64(d.DeltaType)); err != nil {
		return err
	}
	if err := writeCellGrid(ww, FieldDeltaChangedCells, d.ChangedCells); err != nil {
		return err
	}
	for _, o := range d.Organisms {
		if err := writeOrganism(ww, FieldDeltaOrganisms, o); err != nil {
			return err
		}
	}
	if err := ww.WriteVarint(FieldDeltaTotalOrgs, uint64(d.TotalOrganismsCreated)); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldDeltaUniqueGenom, uint64(d.TotalUniqueGenomes)); err != nil {
		return err
	}
	return nil
}

// DecodeTickDelta runs the partial decoder over a TickDelta message.
func DecodeTickDelta(buf []byte, accept FieldSet) (tickmodel.TickDelta, error) {
	r := NewReader(bytes.NewReader(buf))
	var d tickmodel.TickDelta
	for {
		fn, wt, err := r.ReadTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return d, err
		}
		if !accept.Accepts(fn) {
			if err := r.Skip(wt); err != nil {
				return d, err
			}
			continue
		}
		switch fn {
		case FieldDeltaTickNumber:
			v, err := r.ReadVarint()
			if err != nil {
				return d, err
			}
			d.TickNumber = tickmodel.TickNumber(v)
		case FieldDeltaCaptureTime:
			v, err := r.ReadVarint()
			if err != nil {
				return d, err
			}
			d.CaptureTimeMs = int64(v)
		case FieldDeltaType:
			v, err := r.ReadVarint()
			if err != nil {
				return d, err
			}
			d.DeltaType = tickmodel.DeltaType(v)
		case FieldDeltaChangedCells:
			b, err := r.ReadBytes()
			if err != nil {
				return d, err
			}
			g, err := decodeCellGrid(b)
			if err != nil {
				return d, err
			}
			d.ChangedCells = g
		case FieldDeltaOrganisms:
			b, err := r.ReadBytes()
			if err != nil {
				return d, err
			}
			o, err := decodeOrganism(b)
			if err != nil {
				return d, err
			}
			d.Organisms = append(d.Organisms, o)
		case FieldDeltaTotalOrgs:
			v, err := r.ReadVarint()
			if err != nil {
				return d, err
			}
			d.TotalOrganismsCreated = int64(v)
		case FieldDeltaUniqueGenom:
			v, err := r.ReadVarint()
			if err != nil {
				return d, err
			}
			d.TotalUniqueGenomes = int64(v)
		default:
			if err := r.Skip(wt); err != nil {
				return d, err
			}
		}
	}
	return d, nil
}

// EncodeChunk writes a full TickDataChunk message: field order matches
// the frozen chunk field numbers in the GLOSSARY.
func EncodeChunk(w io.Writer, runID string, c tickmodel.TickDataChunk) error {
	ww := NewWriter(w)
	if err := ww.WriteBytes(FieldChunkSimRunID, []byte(runID)); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldChunkFirstTick, uint64(c.FirstTick)); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldChunkLastTick, uint64(c.LastTick)); err != nil {
		return err
	}
	if err := ww.WriteVarint(FieldChunkTickCount, uint64(c.TickCount)); err != nil {
		return err
	}
	if err := ww.WriteMessage(FieldChunkSnapshot, func(nw *Writer) error {
		var buf bytes.Buffer
		if err := EncodeTickData(&buf, runID, c.Snapshot); err != nil {
			return err
		}
		_, err := nw.w.Write(buf.Bytes())
		return err
	}); err != nil {
		return err
	}
	for _, d := range c.Deltas {
		if err := ww.WriteMessage(FieldChunkDeltas, func(nw *Writer) error {
			var buf bytes.Buffer
			if err := EncodeTickDelta(&buf, d); err != nil {
				return err
			}
			_, err := nw.w.Write(buf.Bytes())
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// DecodeChunk runs the full or partial decoder over a chunk message,
// selecting tick/delta accept sets via tickAccept/deltaAccept.
func DecodeChunk(buf []byte, tickAccept, deltaAccept FieldSet) (tickmodel.TickDataChunk, string, error) {
	r := NewReader(bytes.NewReader(buf))
	var c tickmodel.TickDataChunk
	var runID string
	for {
		fn, wt, err := r.ReadTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return c, runID, err
		}
		switch fn {
		case FieldChunkSimRunID:
			b, err := r.ReadBytes()
			if err != nil {
				return c, runID, err
			}
			runID = string(b)
		case FieldChunkFirstTick:
			v, err := r.ReadVarint()
			if err != nil {
				return c, runID, err
			}
			c.FirstTick = tickmodel.TickNumber(v)
		case FieldChunkLastTick:
			v, err := r.ReadVarint()
			if err != nil {
				return c, runID, err
			}
			c.LastTick = tickmodel.TickNumber(v)
		case FieldChunkTickCount:
			v, err := r.ReadVarint()
			if err != nil {
				return c, runID, err
			}
			c.TickCount = int64(v)
		case FieldChunkSnapshot:
			b, err := r.ReadBytes()
			if err != nil {
				return c, runID, err
			}
			snap, _, err := DecodeTickData(b, tickAccept)
			if err != nil {
				return c, runID, err
			}
			c.Snapshot = snap
		case FieldChunkDeltas:
			b, err := r.ReadBytes()
			if err != nil {
				return c, runID, err
			}
			delta, err := DecodeTickDelta(b, deltaAccept)
			if err != nil {
				return c, runID, err
			}
			c.Deltas = append(c.Deltas, delta)
		default:
			if err := r.Skip(wt); err != nil {
				return c, runID, err
			}
		}
	}
	return c, runID, nil
}
