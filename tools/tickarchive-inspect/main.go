// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command tickarchive-inspect is a read-only diagnostic for a single run
// namespace: it prints the available tick range, the number of chunk
// files on disk, the bucket width chosen by the subdirectory partitioner,
// and the total organism count, without taking any write locks.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evochora/tickarchive/internal/config"
	"github.com/evochora/tickarchive/internal/envchunk"
	"github.com/evochora/tickarchive/internal/organismarchive"
	"github.com/evochora/tickarchive/internal/repository"
	"github.com/evochora/tickarchive/internal/subdirectory"
	"github.com/evochora/tickarchive/pkg/log"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	flagConfigFile := flag.String("config", "./config.json", "Specify alternative path to `config.json`")
	flagRunNamespace := flag.String("run", "", "Run namespace to inspect (defaults to the configured runNamespace)")
	flag.Parse()

	if err := config.Init(*flagConfigFile); err != nil {
		log.Fatalf("config: %v", err)
	}

	runNamespace := *flagRunNamespace
	if runNamespace == "" {
		runNamespace = config.Keys.RunNamespace
	}

	repository.Connect(config.Keys.DBDriver, config.Keys.DB)
	db := repository.GetConnection().DB

	chunks := envchunk.NewStore(db, config.Keys.ChunkDirectory, runNamespace, config.Keys.Codec, config.Keys.MaxFilesPerDirectory)

	var organisms organismarchive.Strategy
	if config.Keys.OrganismStrategy == "blob_per_tick" {
		organisms = organismarchive.NewBlobPerTick(db, config.Keys.Codec)
	} else {
		organisms = organismarchive.NewRowPerOrganism(db, config.Keys.Codec)
	}

	fmt.Printf("run namespace:      %s\n", runNamespace)

	if first, last, ok, err := chunks.GetAvailableTickRange(); err != nil {
		fmt.Printf("chunk tick range:    error: %v\n", err)
	} else if !ok {
		fmt.Printf("chunk tick range:    (empty)\n")
	} else {
		fmt.Printf("chunk tick range:    [%d, %d]\n", first, last)
	}

	namespaceDir := filepath.Join(config.Keys.ChunkDirectory, runNamespace)
	fileCount, bucketCount := countBuckets(namespaceDir)
	fmt.Printf("chunk files on disk: %d across %d bucket(s)\n", fileCount, bucketCount)

	if meta, err := subdirectory.Load(namespaceDir); err == nil {
		fmt.Printf("ticks per bucket:    %d\n", meta.TicksPerSubdirectory)
	}

	if orgFirst, orgLast, ok, err := organisms.GetAvailableTickRange(); err != nil {
		fmt.Printf("organism tick range: error: %v\n", err)
	} else if !ok {
		fmt.Printf("organism tick range: (empty)\n")
	} else {
		fmt.Printf("organism tick range: [%d, %d]\n", orgFirst, orgLast)
		if total, err := organisms.ReadTotalOrganismsCreated(orgLast); err == nil {
			fmt.Printf("organisms created:   %d\n", total)
		}
	}
}

// countBuckets walks namespaceDir and counts regular chunk files and the
// immediate subdirectories ("buckets") that contain them.
func countBuckets(namespaceDir string) (files, buckets int) {
	entries, err := os.ReadDir(namespaceDir)
	if err != nil {
		return 0, 0
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		buckets++
		bucketEntries, err := os.ReadDir(filepath.Join(namespaceDir, e.Name()))
		if err != nil {
			continue
		}
		for _, be := range bucketEntries {
			if !be.IsDir() {
				files++
			}
		}
	}
	return files, buckets
}
