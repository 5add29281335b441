// Copyright 2026 The virtsync Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package feedback implements the feedback slot pool.
//
// A feedback slot is a fixed-size cell in a shared memory file. A command
// injected into the owning queue family's command stream stores a status word
// into the cell inline with real GPU work on the renderer side; the client
// polls the cell to learn completion without a transport round trip.
//
// The pool exclusively owns the slot memory. A Slot held by a sync primitive
// is a non-owning reference valid until freed back to the pool.
package feedback

import (
	"fmt"
	"sync"
	"sync/atomic"

	"virtsync.dev/virtsync/pkg/memutil"
	"virtsync.dev/virtsync/pkg/syncerr"
)

// Kind tags what a slot reports on.
type Kind uint8

const (
	// KindFence slots report queue submission completion.
	KindFence Kind = iota
	// KindEvent slots report event state.
	KindEvent
)

// Status is the word stored in a slot cell.
type Status uint32

const (
	// StatusPending is the zero state of fresh slot memory: the reported
	// transition has not happened yet.
	StatusPending Status = iota
	// StatusSignaled is written exactly once per logical signal
	// transition.
	StatusSignaled
)

// slotSize is one cache line, keeping renderer writes to neighboring slots
// independent.
const slotSize = 64

// DefaultBufferSize is the size of each shared memory buffer the pool grows
// by.
const DefaultBufferSize = 4096

// Slot is one feedback cell.
//
// SetStatus and Status are single aligned atomic accesses requiring no lock:
// each transition has a single writer (the renderer-side command) and the
// client only reads.
type Slot struct {
	kind Kind
	cell *atomic.Uint32
}

// Kind returns the slot's kind tag.
func (s *Slot) Kind() Kind {
	return s.kind
}

// SetStatus stores status into the slot cell.
func (s *Slot) SetStatus(status Status) {
	s.cell.Store(uint32(status))
}

// Status returns the word last stored into the slot cell.
func (s *Slot) Status() Status {
	return Status(s.cell.Load())
}

// Reset returns the slot to StatusPending.
func (s *Slot) Reset() {
	s.cell.Store(uint32(StatusPending))
}

// buffer is one memfd-backed mapping the pool carves slots from.
type buffer struct {
	fd      int
	mapping []byte
	used    int
}

// Pool allocates feedback slots from shared memory buffers.
//
// Alloc and Free are guarded by a single mutex; slot status accesses are
// lock-free (see Slot).
type Pool struct {
	bufferSize int

	mu      sync.Mutex
	buffers []*buffer
	free    []*Slot
}

// NewPool returns a Pool that grows by shared memory buffers of the given
// size. The first buffer is created eagerly so that a working setup fails at
// device creation rather than at first primitive creation. bufferSize <= 0
// selects DefaultBufferSize.
func NewPool(bufferSize int) (*Pool, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	p := &Pool{bufferSize: bufferSize}
	if err := p.grow(); err != nil {
		return nil, err
	}
	return p, nil
}

// grow appends one buffer. Caller must hold p.mu (or own p exclusively).
func (p *Pool) grow() error {
	fd, err := memutil.CreateMemFD("feedback-slots", p.bufferSize)
	if err != nil {
		return fmt.Errorf("%w: feedback buffer: %v", syncerr.ErrOutOfMemory, err)
	}
	m, err := memutil.MapSlice(fd, 0, p.bufferSize)
	if err != nil {
		unixClose(fd)
		return fmt.Errorf("%w: feedback buffer map: %v", syncerr.ErrOutOfMemory, err)
	}
	p.buffers = append(p.buffers, &buffer{fd: fd, mapping: m})
	return nil
}

// Alloc returns a slot of the given kind in the StatusPending state, reusing
// a freed slot when one is available. Allocation failure is surfaced as
// syncerr.ErrOutOfMemory; callers degrade to the round-trip status path
// rather than failing primitive creation.
func (p *Pool) Alloc(kind Kind) (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		s.kind = kind
		s.Reset()
		return s, nil
	}

	b := p.buffers[len(p.buffers)-1]
	if b.used+slotSize > len(b.mapping) {
		if err := p.grow(); err != nil {
			return nil, err
		}
		b = p.buffers[len(p.buffers)-1]
	}
	s := &Slot{kind: kind, cell: slotCell(b.mapping, b.used)}
	b.used += slotSize
	return s, nil
}

// Free returns a slot to the pool. The caller must not use the slot
// afterwards.
func (p *Pool) Free(s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, s)
}

// Destroy releases all buffers. Outstanding slots become invalid.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buffers {
		memutil.UnmapSlice(b.mapping)
		unixClose(b.fd)
	}
	p.buffers = nil
	p.free = nil
}
