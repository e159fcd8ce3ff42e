// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package compression_test

import (
	"bytes"
	"testing"

	"github.com/evochora/tickarchive/internal/compression"
	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	payload := []byte("tick archive payload")
	out, err := compression.CompressBytes("identity", payload)
	require.NoError(t, err)
	require.Equal(t, payload, out)

	back, err := compression.DecompressBytes(out)
	require.NoError(t, err)
	require.Equal(t, payload, back)
}

func TestZstdRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("evochora-tick-"), 256)
	out, err := compression.CompressBytes("zstd", payload)
	require.NoError(t, err)
	require.NotEqual(t, payload, out)

	codec, err := compression.ByName("zstd")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, codec.MagicBytesPrefix()))

	back, err := compression.DecompressBytes(out)
	require.NoError(t, err)
	require.Equal(t, payload, back)
}

func TestDetectFallsBackToIdentity(t *testing.T) {
	codec := compression.Detect([]byte("not a zstd frame"))
	require.Equal(t, "identity", codec.Name())
}

func TestByNameUnknownCodec(t *testing.T) {
	_, err := compression.ByName("lz4")
	require.Error(t, err)
}
