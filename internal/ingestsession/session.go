// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingestsession implements the streaming write session (C6): a
// per-(connection, strategy) state machine that batches ticks under a
// single outer transaction, coordinates the chunk store and the organism
// archive strategy, and exposes the shutdown-phase contract so an
// external coordinator never interrupts a session mid-file-write.
package ingestsession

import (
	"sync"

	"github.com/evochora/tickarchive/internal/envchunk"
	"github.com/evochora/tickarchive/internal/organismarchive"
	"github.com/evochora/tickarchive/pkg/log"
	"github.com/evochora/tickarchive/pkg/tickmodel"
)

// State is the session's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "OPEN"
	}
	return "UNINITIALIZED"
}

// Phase is the shutdown-cooperation phase a session advertises.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseProcessing
)

func (p Phase) String() string {
	if p == PhaseProcessing {
		return "PROCESSING"
	}
	return "WAITING"
}

// Session is strictly thread-affine within a commit window (§5): only
// the owning worker goroutine may call its add_*/commit_* methods. The
// mutex here guards phase/stop-flag reads from an external shutdown
// coordinator goroutine, not concurrent batch mutation.
type Session struct {
	chunks    *envchunk.Store
	organisms organismarchive.Strategy

	mu            sync.Mutex
	state         State
	phase         Phase
	stopRequested bool
}

// New constructs a session over chunks and organisms. Both must already
// have had CreateTables called (C9 owns that double-checked guard).
func New(chunks *envchunk.Store, organisms organismarchive.Strategy) *Session {
	return &Session{chunks: chunks, organisms: organisms, phase: PhaseWaiting}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RequestStop signals intent to stop. It returns true if the session was
// WAITING at the time of the call (safe to interrupt immediately), or
// false if it was PROCESSING (the caller must wait for a WAITING
// transition, or force past the grace timeout per §5).
func (s *Session) RequestStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = true
	return s.phase == PhaseWaiting
}

func (s *Session) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// enterProcessing transitions WAITING->PROCESSING before the first file
// write of a commit window, clearing any pending interrupt flag to close
// the race described in §4.6. A no-op if already PROCESSING.
func (s *Session) enterProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseWaiting {
		s.phase = PhaseProcessing
		s.stopRequested = false
	}
}

func (s *Session) leaveProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseWaiting
}

func (s *Session) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateOpen
}

// AddEnvironmentChunk stages one environment chunk's file write and
// index row (UNINITIALIZED->OPEN on first call).
func (s *Session) AddEnvironmentChunk(firstTick, lastTick, tickCount tickmodel.TickNumber, wireBytes []byte) error {
	s.enterProcessing()
	s.open()
	return s.chunks.WriteRawChunk(firstTick, lastTick, tickCount, wireBytes)
}

// AddOrganismTick stages one tick's organism states for the next commit
// (UNINITIALIZED->OPEN on first call).
func (s *Session) AddOrganismTick(tick tickmodel.TickNumber, organisms []tickmodel.OrganismState) error {
	s.enterProcessing()
	s.open()
	return s.organisms.AddOrganismTick(tick, organisms)
}

// CommitWrites executes the accumulated relational batches for both the
// chunk store and the organism strategy. It never commits the outer
// transaction — that remains the caller's duty (§4.6, §5). On success
// the session stays OPEN with its statements retained; on error the
// caller MUST roll back and call Reset.
func (s *Session) CommitWrites() error {
	if err := s.chunks.CommitRawChunks(); err != nil {
		return err
	}
	if err := s.organisms.CommitOrganismWrites(); err != nil {
		return err
	}
	s.leaveProcessing()
	return nil
}

// Reset discards any statements or dedup sets that may have seen a
// partial batch and returns the session to UNINITIALIZED. The outer
// caller invokes this after rolling back a failed commit.
func (s *Session) Reset() {
	s.chunks.ResetStreamingState()
	s.organisms.ResetStreamingState()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateUninitialized
	s.phase = PhaseWaiting
	log.Debugf("ingestsession: reset to UNINITIALIZED")
}
