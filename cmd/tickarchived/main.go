// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/evochora/tickarchive/internal/config"
	"github.com/evochora/tickarchive/internal/envchunk"
	"github.com/evochora/tickarchive/internal/ingest"
	"github.com/evochora/tickarchive/internal/ingestsession"
	"github.com/evochora/tickarchive/internal/organismarchive"
	"github.com/evochora/tickarchive/internal/repository"
	"github.com/evochora/tickarchive/pkg/log"
	"github.com/evochora/tickarchive/pkg/nats"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

var version = "development"

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("tickarchived %s\n", version)
		return
	}

	log.SetLogLevel(flagLogLevel)
	log.SetLogDateTime(flagLogDateTime)

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatalf("config: %v", err)
	}

	if flagMigrateDB || flagRevertDB || flagForceDB {
		repository.MigrateDB(config.Keys.DBDriver, config.Keys.DB)
		return
	}

	repository.Connect(config.Keys.DBDriver, config.Keys.DB)
	db := repository.GetConnection().DB

	chunks := envchunk.NewStore(db, config.Keys.ChunkDirectory, config.Keys.RunNamespace, config.Keys.Codec, config.Keys.MaxFilesPerDirectory)
	if err := chunks.CreateTables(); err != nil {
		log.Fatalf("envchunk: %v", err)
	}

	organisms := newOrganismStrategy(db)

	registerer := prometheus.DefaultRegisterer
	writer := ingest.New(chunks, organisms, config.Keys.MetricsWindowDuration(), registerer)
	if err := writer.CreateOrganismTables(); err != nil {
		log.Fatalf("organismarchive: %v", err)
	}

	var wg sync.WaitGroup
	var metricsServer *http.Server

	if config.Keys.MetricsAddr != "" {
		metricsServer = &http.Server{Addr: config.Keys.MetricsAddr, Handler: promhttp.Handler()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	var natsClient *nats.Client
	if nc := config.Keys.Nats; nc != nil && nc.Address != "" {
		client, err := nats.NewClient(&nats.NatsConfig{
			Address:       nc.Address,
			Username:      nc.Username,
			Password:      nc.Password,
			CredsFilePath: nc.CredsFilePath,
		})
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		natsClient = client
		if err := ingest.Subscribe(natsClient, nc.Subject, nc.Queue, writer); err != nil {
			log.Fatalf("ingest: %v", err)
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Print("shutting down...")

	shutdownSession(writer.Session(), config.Keys.ShutdownGrace(), config.Keys.ShutdownForce())

	if natsClient != nil {
		natsClient.Close()
	}
	if metricsServer != nil {
		metricsServer.Close()
	}
	wg.Wait()
	log.Print("graceful shutdown completed")
}

func newOrganismStrategy(db *sqlx.DB) organismarchive.Strategy {
	switch config.Keys.OrganismStrategy {
	case "blob_per_tick":
		return organismarchive.NewBlobPerTick(db, config.Keys.Codec)
	default:
		return organismarchive.NewRowPerOrganism(db, config.Keys.Codec)
	}
}

// shutdownSession asks the active session to stop and waits up to grace for
// it to leave the PROCESSING phase on its own. A session already WAITING is
// interrupted immediately. If grace elapses while still PROCESSING, the
// coordinator waits one further force window before giving up and logging a
// forced shutdown — it never kills the process mid-commit.
func shutdownSession(session *ingestsession.Session, grace, force time.Duration) {
	if session.RequestStop() {
		return
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if session.Phase() == ingestsession.PhaseWaiting {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	forceDeadline := time.Now().Add(force)
	for time.Now().Before(forceDeadline) {
		if session.Phase() == ingestsession.PhaseWaiting {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	log.Warnf("shutdown: forced past grace+force window (%s+%s) while still processing", grace, force)
}
