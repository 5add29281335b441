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

package virtsync

import "virtsync.dev/virtsync/pkg/renderer"

// SubmitBatch describes one application submission batch: primitives to wait
// on, an opaque command payload, and primitives to signal. Batches are
// immutable inputs; the filter below forwards a shallow copy with a reduced
// wait set when needed and never mutates the original.
type SubmitBatch struct {
	WaitSemaphores []*Semaphore
	// WaitValues parallels WaitSemaphores for timeline waits; nil for
	// purely binary batches.
	WaitValues []uint64

	Commands []renderer.CommandBuffer

	SignalSemaphores []*Semaphore
	// SignalValues parallels SignalSemaphores; nil for binary batches.
	SignalValues []uint64

	// PresentMemory, when nonzero, pairs the submission with a memory
	// handoff that a consuming window-system call will immediately depend
	// on.
	PresentMemory renderer.ObjectID
}

// submission carries one Submit call through counting, filtering and
// dispatch.
type submission struct {
	queue   *Queue
	batches []SubmitBatch
	fence   *Fence

	waitCount  int
	localCount int
}

// countWaits counts the wait semaphores across all batches and how many of
// them are locally signaled.
func (s *submission) countWaits() {
	s.waitCount = 0
	s.localCount = 0
	for i := range s.batches {
		for _, sem := range s.batches[i].WaitSemaphores {
			s.waitCount++
			if sem.localSignaled() {
				s.localCount++
			}
		}
	}
}

// filter drops locally-signaled wait semaphores from the forwarded batches,
// consuming each local signal exactly once. With nothing to drop the
// original batches are forwarded unchanged and nothing is allocated.
func (s *submission) filter() {
	if s.localCount == 0 {
		return
	}

	// One scratch copy of the batch array plus one shared array for the
	// surviving wait semaphores; each filtered batch keeps a capped
	// subslice of it.
	batches := append([]SubmitBatch(nil), s.batches...)
	sems := make([]*Semaphore, 0, s.waitCount-s.localCount)
	vals := make([]uint64, 0, s.waitCount-s.localCount)

	for bi := range batches {
		b := &batches[bi]
		semBase, valBase := len(sems), len(vals)
		for i, sem := range b.WaitSemaphores {
			if sem.localSignaled() {
				// Consume the local signal; it must not be
				// relied on twice.
				sem.revertToPermanent()
				continue
			}
			sems = append(sems, sem)
			if b.WaitValues != nil {
				vals = append(vals, b.WaitValues[i])
			}
		}
		b.WaitSemaphores = sems[semBase:len(sems):len(sems)]
		if b.WaitValues != nil {
			b.WaitValues = vals[valBase:len(vals):len(vals)]
		}
	}

	s.batches = batches
}

// encode lowers the filtered batches to their wire form.
func (s *submission) encode() []renderer.SubmitBatch {
	if len(s.batches) == 0 {
		return nil
	}
	out := make([]renderer.SubmitBatch, len(s.batches))
	for i := range s.batches {
		b := &s.batches[i]
		w := renderer.SubmitBatch{
			WaitValues:   b.WaitValues,
			Commands:     b.Commands,
			SignalValues: b.SignalValues,
		}
		if n := len(b.WaitSemaphores); n > 0 {
			w.WaitSemaphores = make([]renderer.ObjectID, n)
			for j, sem := range b.WaitSemaphores {
				w.WaitSemaphores[j] = sem.id
			}
		}
		if n := len(b.SignalSemaphores); n > 0 {
			w.SignalSemaphores = make([]renderer.ObjectID, n)
			for j, sem := range b.SignalSemaphores {
				w.SignalSemaphores[j] = sem.id
			}
		}
		out[i] = w
	}
	return out
}

// presentMemory returns the handoff memory of a single-batch submission, or
// NoObject.
func (s *submission) presentMemory() renderer.ObjectID {
	if len(s.batches) == 1 {
		return s.batches[0].PresentMemory
	}
	return renderer.NoObject
}
