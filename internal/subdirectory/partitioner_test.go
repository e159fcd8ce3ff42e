// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package subdirectory_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/dchest/siphash"
	"github.com/evochora/tickarchive/internal/subdirectory"
	"github.com/stretchr/testify/require"
)

// siphash spot-checks that Bucket is a pure function of (firstTick, m):
// hashing the bucket name alongside its inputs must reproduce the same
// digest on every call, across any number of ticks landing in the same
// bucket. Not load-bearing for the partitioner itself — this only guards
// against a future refactor accidentally making Bucket stateful.
func bucketDigest(firstTick int64, m subdirectory.Meta) uint64 {
	name := subdirectory.Bucket(firstTick, m)
	return siphash.Hash(0, 0, []byte(name))
}

func TestBucketIsPureOfTickWithinSameWindow(t *testing.T) {
	m := subdirectory.Meta{TicksPerSubdirectory: 50}

	want := bucketDigest(0, m)
	for _, tick := range []int64{0, 1, 25, 49} {
		require.Equal(t, want, bucketDigest(tick, m), "tick %d should bucket identically to tick 0", tick)
	}

	require.NotEqual(t, want, bucketDigest(50, m), "tick 50 must fall into the next bucket")
}

func TestEnsureMetaComputesOnceAndPersists(t *testing.T) {
	dir := t.TempDir()
	ns := filepath.Join(dir, "run-a")

	m, err := subdirectory.EnsureMeta(ns, 2, 50)
	require.NoError(t, err)
	require.Equal(t, int64(100), m.TicksPerSubdirectory)

	loaded, err := subdirectory.Load(ns)
	require.NoError(t, err)
	require.Equal(t, m.TicksPerSubdirectory, loaded.TicksPerSubdirectory)
}

func TestEnsureMetaImmutableAcrossRepeatedCalls(t *testing.T) {
	dir := t.TempDir()
	ns := filepath.Join(dir, "run-b")

	first, err := subdirectory.EnsureMeta(ns, 10, 50)
	require.NoError(t, err)

	// A later call with different parameters must still yield the
	// already-persisted value: ticksPerSubdirectory is immutable once written.
	second, err := subdirectory.EnsureMeta(ns, 999, 999)
	require.NoError(t, err)
	require.Equal(t, first.TicksPerSubdirectory, second.TicksPerSubdirectory)
}

func TestLoadMissingReturnsMetadataMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := subdirectory.Load(filepath.Join(dir, "never-written"))
	require.ErrorIs(t, err, subdirectory.ErrMetadataMissing)
}

func TestBucketZeroPadded(t *testing.T) {
	m := subdirectory.Meta{TicksPerSubdirectory: 100}
	require.Equal(t, "0000", subdirectory.Bucket(0, m))
	require.Equal(t, "0001", subdirectory.Bucket(150, m))
	require.Equal(t, "0002", subdirectory.Bucket(299, m))
}

func TestEnsureMetaConcurrentCallersAgree(t *testing.T) {
	dir := t.TempDir()
	ns := filepath.Join(dir, "run-c")

	var wg sync.WaitGroup
	results := make([]subdirectory.Meta, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := subdirectory.EnsureMeta(ns, 5, 20)
			require.NoError(t, err)
			results[i] = m
		}(i)
	}
	wg.Wait()

	for _, m := range results {
		require.Equal(t, int64(100), m.TicksPerSubdirectory)
	}
}
