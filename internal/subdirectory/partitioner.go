// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package subdirectory implements the subdirectory partitioner (C8):
// it caps the number of chunk files per directory by bucketing chunks
// under <run_namespace>/<bucket:04d>/, where the bucket width is derived
// once per run namespace and persisted alongside the run's data.
package subdirectory

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/evochora/tickarchive/internal/archiveerr"
	"github.com/evochora/tickarchive/pkg/log"
	"golang.org/x/sync/singleflight"
)

// MetaFileName is the key=value record persisted once per run namespace.
const MetaFileName = ".chunk_meta"

// ErrMetadataMissing is returned when .chunk_meta does not exist for a
// run namespace that is expected to already have one (legacy runs). It
// is an archiveerr.MetadataMissing error — check with errors.Is against
// this value, or with archiveerr.Is(err, archiveerr.MetadataMissing).
var ErrMetadataMissing = archiveerr.New(archiveerr.MetadataMissing, errors.New("chunk metadata missing"))

// Meta is the immutable per-run partitioning parameter.
type Meta struct {
	TicksPerSubdirectory int64
}

// cache is the process-wide, compute-once table of run-namespace path to
// its resolved Meta. Entries are never invalidated: once a namespace's
// bucket width is known, it cannot legitimately change underneath us.
var (
	cacheMu sync.RWMutex
	cache   = map[string]Meta{}
	group   singleflight.Group
)

func cached(namespaceDir string) (Meta, bool) {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	m, ok := cache[namespaceDir]
	return m, ok
}

func store(namespaceDir string, m Meta) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache[namespaceDir] = m
}

// EnsureMeta returns the Meta for namespaceDir, computing and persisting
// it on first use from maxFilesPerDirectory and chunkTickStep, or loading
// the existing .chunk_meta if one was already written (by this process or
// a prior one). Concurrent callers for the same namespace collapse onto a
// single computation via singleflight.
func EnsureMeta(namespaceDir string, maxFilesPerDirectory, chunkTickStep int64) (Meta, error) {
	if m, ok := cached(namespaceDir); ok {
		return m, nil
	}

	v, err, _ := group.Do(namespaceDir, func() (interface{}, error) {
		if m, ok := cached(namespaceDir); ok {
			return m, nil
		}
		if m, err := Load(namespaceDir); err == nil {
			store(namespaceDir, m)
			return m, nil
		} else if !errors.Is(err, ErrMetadataMissing) {
			return Meta{}, err
		}

		m := Meta{TicksPerSubdirectory: maxFilesPerDirectory * chunkTickStep}
		if err := persist(namespaceDir, m); err != nil {
			return Meta{}, err
		}
		store(namespaceDir, m)
		return m, nil
	})
	if err != nil {
		return Meta{}, err
	}
	return v.(Meta), nil
}

// Load reads an existing .chunk_meta from namespaceDir without creating
// one. Returns ErrMetadataMissing if the file does not exist.
func Load(namespaceDir string) (Meta, error) {
	f, err := os.Open(filepath.Join(namespaceDir, MetaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, ErrMetadataMissing
		}
		return Meta{}, fmt.Errorf("subdirectory: open %s: %w", MetaFileName, err)
	}
	defer f.Close()

	var m Meta
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == "ticksPerSubdirectory" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return Meta{}, fmt.Errorf("subdirectory: parse ticksPerSubdirectory: %w", err)
			}
			m.TicksPerSubdirectory = n
		}
	}
	if err := sc.Err(); err != nil {
		return Meta{}, fmt.Errorf("subdirectory: scan %s: %w", MetaFileName, err)
	}
	if m.TicksPerSubdirectory == 0 {
		return Meta{}, fmt.Errorf("subdirectory: %s missing ticksPerSubdirectory", MetaFileName)
	}
	return m, nil
}

// persist writes m to namespaceDir/.chunk_meta via temp-file-then-rename.
// If a concurrent writer wins the race, os.Rename still succeeds on POSIX
// (rename replaces the target atomically) — the loser's own value is
// discarded by the caller re-reading via Load on its next EnsureMeta call
// for a fresh process, or simply overwritten here since both writers
// compute the same value from the same first-chunk metadata.
func persist(namespaceDir string, m Meta) error {
	if err := os.MkdirAll(namespaceDir, 0o755); err != nil {
		return fmt.Errorf("subdirectory: mkdir %s: %w", namespaceDir, err)
	}

	target := filepath.Join(namespaceDir, MetaFileName)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("subdirectory: create temp meta: %w", err)
	}
	if _, err := fmt.Fprintf(f, "ticksPerSubdirectory=%d\n", m.TicksPerSubdirectory); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("subdirectory: write temp meta: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("subdirectory: close temp meta: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("subdirectory: rename temp meta: %w", err)
	}
	log.Debugf("subdirectory: wrote %s ticksPerSubdirectory=%d", target, m.TicksPerSubdirectory)
	return nil
}

// Bucket returns the zero-padded bucket directory name for firstTick
// under a namespace whose Meta is m.
func Bucket(firstTick int64, m Meta) string {
	return fmt.Sprintf("%04d", firstTick/m.TicksPerSubdirectory)
}
