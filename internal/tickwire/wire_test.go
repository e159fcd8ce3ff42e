// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tickwire_test

import (
	"bytes"
	"testing"

	"github.com/evochora/tickarchive/internal/tickwire"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderVarintRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := tickwire.NewWriter(&buf)
	require.NoError(t, w.WriteVarint(3, 987654321))

	r := tickwire.NewReader(&buf)
	fn, wt, err := r.ReadTag()
	require.NoError(t, err)
	require.Equal(t, 3, fn)
	require.Equal(t, tickwire.WireVarint, wt)

	v, err := r.ReadVarint()
	require.NoError(t, err)
	require.Equal(t, uint64(987654321), v)
}

func TestPushLimitRejectsNestedLengthExceedingEnclosing(t *testing.T) {
	r := tickwire.NewReader(bytes.NewReader(nil))
	require.NoError(t, r.PushLimit(10))
	err := r.PushLimit(20)
	require.Error(t, err)
	var decErr *tickwire.DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, tickwire.Truncated, decErr.Kind)
}

func TestPushLimitEnforcesMaxNesting(t *testing.T) {
	r := tickwire.NewReader(bytes.NewReader(nil))
	for i := 0; i < tickwire.DefaultMaxNesting; i++ {
		require.NoError(t, r.PushLimit(1<<30))
	}
	err := r.PushLimit(1)
	require.Error(t, err)
	var decErr *tickwire.DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, tickwire.NestedOverflow, decErr.Kind)
}

func TestSkipBytesDoesNotMaterializeContent(t *testing.T) {
	var buf bytes.Buffer
	w := tickwire.NewWriter(&buf)
	require.NoError(t, w.WriteBytes(5, bytes.Repeat([]byte{0xAB}, 4096)))
	require.NoError(t, w.WriteVarint(6, 7))

	r := tickwire.NewReader(&buf)
	fn, wt, err := r.ReadTag()
	require.NoError(t, err)
	require.Equal(t, 5, fn)
	require.NoError(t, r.Skip(wt))

	fn, wt, err = r.ReadTag()
	require.NoError(t, err)
	require.Equal(t, 6, fn)
	v, err := r.ReadVarint()
	require.NoError(t, err)
	require.Equal(t, uint64(7), v)
	_ = wt
}
