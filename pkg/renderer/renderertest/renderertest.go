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

// Package renderertest provides an in-process fake renderer for tests.
//
// Each queue runs a FIFO worker goroutine, preserving the per-queue ordering
// guarantee of the real renderer timeline. Execution can be held behind a
// gate or delayed by a latency so tests can observe the window between
// submission and completion.
package renderertest

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"virtsync.dev/virtsync/pkg/feedback"
	"virtsync.dev/virtsync/pkg/renderer"
)

// SubmitRecord is one forwarded queue submission, captured at enqueue time.
type SubmitRecord struct {
	Queue   renderer.ObjectID
	Batches []renderer.SubmitBatch
	Fence   renderer.ObjectID
	// Sync is true when the submission came through the blocking Submit
	// path rather than AsyncSubmit.
	Sync bool
}

type fakeFence struct {
	signaled bool
}

type fakeSemaphore struct {
	timeline bool
	value    uint64
}

type fakeEvent struct {
	set bool
}

type fakeSync struct {
	signaled   bool
	pendingFDs []int
}

type job struct {
	batches []renderer.SubmitBatch
	fence   renderer.ObjectID
	done    chan struct{}
}

// Renderer is a fake implementation of renderer.Renderer.
type Renderer struct {
	mu      sync.Mutex
	eg      errgroup.Group
	fences  map[renderer.ObjectID]*fakeFence
	sems    map[renderer.ObjectID]*fakeSemaphore
	events  map[renderer.ObjectID]*fakeEvent
	queues  map[renderer.ObjectID]chan *job
	gate    chan struct{}
	latency time.Duration
	err     error

	log              []SubmitRecord
	confirmWaits     map[renderer.ObjectID]int
	fenceStatusCalls map[renderer.ObjectID]int
	memorySignals    []renderer.ObjectID
}

// New returns an empty fake renderer.
func New() *Renderer {
	return &Renderer{
		fences:           make(map[renderer.ObjectID]*fakeFence),
		sems:             make(map[renderer.ObjectID]*fakeSemaphore),
		events:           make(map[renderer.ObjectID]*fakeEvent),
		queues:           make(map[renderer.ObjectID]chan *job),
		confirmWaits:     make(map[renderer.ObjectID]int),
		fenceStatusCalls: make(map[renderer.ObjectID]int),
	}
}

// Close shuts down the queue workers. Pending jobs finish first; do not
// submit after Close.
func (r *Renderer) Close() {
	r.mu.Lock()
	for _, ch := range r.queues {
		close(ch)
	}
	r.queues = make(map[renderer.ObjectID]chan *job)
	r.mu.Unlock()
	r.eg.Wait()
}

// SetGate holds queue execution behind gate until it is closed. A nil gate
// lets execution run freely. The gate is sampled per job, so it applies to
// jobs already enqueued.
func (r *Renderer) SetGate(gate chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = gate
}

// SetLatency delays each job's execution by d.
func (r *Renderer) SetLatency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = d
}

// FailWith makes every subsequent call return err, emulating a lost device.
func (r *Renderer) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// SubmitLog returns a copy of all forwarded submissions in order.
func (r *Renderer) SubmitLog() []SubmitRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SubmitRecord(nil), r.log...)
}

// SyncSubmits counts submissions that went through the blocking path.
func (r *Renderer) SyncSubmits() int {
	n := 0
	for _, rec := range r.SubmitLog() {
		if rec.Sync {
			n++
		}
	}
	return n
}

// AsyncSubmits counts submissions that went through the fire-and-forget path.
func (r *Renderer) AsyncSubmits() int {
	return len(r.SubmitLog()) - r.SyncSubmits()
}

// ConfirmWaits returns how many renderer-side waits were issued for a fence.
func (r *Renderer) ConfirmWaits(id renderer.ObjectID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confirmWaits[id]
}

// FenceStatusCalls returns how many round-trip status queries a fence saw.
func (r *Renderer) FenceStatusCalls(id renderer.ObjectID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fenceStatusCalls[id]
}

// MemorySignals returns the memory objects passed to AsyncSignalMemory.
func (r *Renderer) MemorySignals() []renderer.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]renderer.ObjectID(nil), r.memorySignals...)
}

// FenceSignaled reports the renderer-side state of a fence.
func (r *Renderer) FenceSignaled(id renderer.ObjectID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fences[id]
	return ok && f.signaled
}

func (r *Renderer) queue(id renderer.ObjectID) chan *job {
	ch, ok := r.queues[id]
	if !ok {
		ch = make(chan *job, 64)
		r.queues[id] = ch
		r.eg.Go(func() error {
			return r.run(ch)
		})
	}
	return ch
}

func (r *Renderer) run(ch chan *job) error {
	for j := range ch {
		r.mu.Lock()
		gate, latency := r.gate, r.latency
		r.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if latency > 0 {
			time.Sleep(latency)
		}
		r.execute(j)
		close(j.done)
	}
	return nil
}

func (r *Renderer) execute(j *job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range j.batches {
		// Feedback-write and other commands run inline, after the
		// batch's predecessors on this queue.
		for _, cb := range b.Commands {
			if fn, ok := cb.(func()); ok {
				fn()
			}
		}
		for i, id := range b.SignalSemaphores {
			s, ok := r.sems[id]
			if !ok {
				continue
			}
			v := uint64(1)
			if b.SignalValues != nil {
				v = b.SignalValues[i]
			}
			if v > s.value {
				s.value = v
			}
		}
	}
	if j.fence != renderer.NoObject {
		if f, ok := r.fences[j.fence]; ok {
			f.signaled = true
		}
	}
}

func (r *Renderer) submit(queue renderer.ObjectID, batches []renderer.SubmitBatch, fence renderer.ObjectID, sync bool) error {
	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return r.err
	}
	r.log = append(r.log, SubmitRecord{Queue: queue, Batches: batches, Fence: fence, Sync: sync})
	ch := r.queue(queue)
	r.mu.Unlock()

	j := &job{batches: batches, fence: fence, done: make(chan struct{})}
	ch <- j
	if sync {
		<-j.done
	}
	return nil
}

// Submit implements renderer.Renderer.
func (r *Renderer) Submit(queue renderer.ObjectID, batches []renderer.SubmitBatch, fence renderer.ObjectID) error {
	return r.submit(queue, batches, fence, true)
}

// AsyncSubmit implements renderer.Renderer.
func (r *Renderer) AsyncSubmit(queue renderer.ObjectID, batches []renderer.SubmitBatch, fence renderer.ObjectID) error {
	return r.submit(queue, batches, fence, false)
}

// AsyncCreateFence implements renderer.Renderer.
func (r *Renderer) AsyncCreateFence(id renderer.ObjectID, signaled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.fences[id] = &fakeFence{signaled: signaled}
	return nil
}

// AsyncDestroyFence implements renderer.Renderer.
func (r *Renderer) AsyncDestroyFence(id renderer.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fences, id)
	return nil
}

// AsyncCreateSemaphore implements renderer.Renderer.
func (r *Renderer) AsyncCreateSemaphore(id renderer.ObjectID, timeline bool, initialValue uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sems[id] = &fakeSemaphore{timeline: timeline, value: initialValue}
	return nil
}

// AsyncDestroySemaphore implements renderer.Renderer.
func (r *Renderer) AsyncDestroySemaphore(id renderer.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sems, id)
	return nil
}

// AsyncCreateEvent implements renderer.Renderer.
func (r *Renderer) AsyncCreateEvent(id renderer.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events[id] = &fakeEvent{}
	return nil
}

// AsyncDestroyEvent implements renderer.Renderer.
func (r *Renderer) AsyncDestroyEvent(id renderer.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, id)
	return nil
}

// FenceStatus implements renderer.Renderer.
func (r *Renderer) FenceStatus(id renderer.ObjectID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.fenceStatusCalls[id]++
	f, ok := r.fences[id]
	if !ok {
		return false, fmt.Errorf("unknown fence %d", id)
	}
	return f.signaled, nil
}

// EventStatus implements renderer.Renderer.
func (r *Renderer) EventStatus(id renderer.ObjectID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	ev, ok := r.events[id]
	if !ok {
		return false, fmt.Errorf("unknown event %d", id)
	}
	return ev.set, nil
}

// SemaphoreValue implements renderer.Renderer.
func (r *Renderer) SemaphoreValue(id renderer.ObjectID) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	s, ok := r.sems[id]
	if !ok {
		return 0, fmt.Errorf("unknown semaphore %d", id)
	}
	return s.value, nil
}

// AsyncResetFences implements renderer.Renderer.
func (r *Renderer) AsyncResetFences(ids []renderer.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if f, ok := r.fences[id]; ok {
			f.signaled = false
		}
	}
	return nil
}

// AsyncWaitFences implements renderer.Renderer.
func (r *Renderer) AsyncWaitFences(ids []renderer.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, id := range ids {
		r.confirmWaits[id]++
	}
	return nil
}

// AsyncSignalSemaphore implements renderer.Renderer.
func (r *Renderer) AsyncSignalSemaphore(id renderer.ObjectID, value uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sems[id]; ok && value > s.value {
		s.value = value
	}
	return nil
}

func (r *Renderer) setEvent(id renderer.ObjectID, set bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	ev, ok := r.events[id]
	if !ok {
		return fmt.Errorf("unknown event %d", id)
	}
	ev.set = set
	return nil
}

// SetEvent implements renderer.Renderer.
func (r *Renderer) SetEvent(id renderer.ObjectID) error { return r.setEvent(id, true) }

// AsyncSetEvent implements renderer.Renderer.
func (r *Renderer) AsyncSetEvent(id renderer.ObjectID) error { return r.setEvent(id, true) }

// ResetEvent implements renderer.Renderer.
func (r *Renderer) ResetEvent(id renderer.ObjectID) error { return r.setEvent(id, false) }

// AsyncResetEvent implements renderer.Renderer.
func (r *Renderer) AsyncResetEvent(id renderer.ObjectID) error { return r.setEvent(id, false) }

// CreateSyncObject implements renderer.Renderer.
func (r *Renderer) CreateSyncObject() (renderer.SyncObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &fakeSync{}, nil
}

// SubmitSyncObjects implements renderer.Renderer.
func (r *Renderer) SubmitSyncObjects(syncs []renderer.SyncObject, values []uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, obj := range syncs {
		s := obj.(*fakeSync)
		s.signaled = true
		for _, wfd := range s.pendingFDs {
			signalPipe(wfd)
		}
		s.pendingFDs = nil
	}
	return nil
}

// WaitSyncObjects implements renderer.Renderer.
func (r *Renderer) WaitSyncObjects(syncs []renderer.SyncObject, timeoutNs uint64) error {
	deadline := time.Now().Add(time.Duration(timeoutNs))
	for {
		r.mu.Lock()
		done := true
		for _, obj := range syncs {
			if !obj.(*fakeSync).signaled {
				done = false
				break
			}
		}
		r.mu.Unlock()
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sync object wait timed out")
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// ExportSyncFD implements renderer.Renderer. The returned fd is the read end
// of a pipe that becomes readable when the sync object signals, matching
// sync file poll semantics.
func (r *Renderer) ExportSyncFD(sync renderer.SyncObject) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return -1, r.err
	}
	s := sync.(*fakeSync)
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, err
	}
	if s.signaled {
		signalPipe(p[1])
	} else {
		s.pendingFDs = append(s.pendingFDs, p[1])
	}
	return p[0], nil
}

// DestroySyncObject implements renderer.Renderer.
func (r *Renderer) DestroySyncObject(sync renderer.SyncObject) {}

// AsyncSignalMemory implements renderer.Renderer.
func (r *Renderer) AsyncSignalMemory(mem renderer.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.memorySignals = append(r.memorySignals, mem)
	return nil
}

func signalPipe(wfd int) {
	unix.Write(wfd, []byte{1})
	unix.Close(wfd)
}

// Encoder is a fake implementation of renderer.Encoder. The command buffers
// it returns are closures the fake Renderer executes.
type Encoder struct {
	mu      sync.Mutex
	appends int
	frees   int
}

// NewEncoder returns an empty fake encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// AppendFeedbackWrite implements renderer.Encoder.
func (e *Encoder) AppendFeedbackWrite(slot *feedback.Slot, family uint32) (renderer.CommandBuffer, error) {
	e.mu.Lock()
	e.appends++
	e.mu.Unlock()
	return func() {
		slot.SetStatus(feedback.StatusSignaled)
	}, nil
}

// FreeCommandBuffer implements renderer.Encoder.
func (e *Encoder) FreeCommandBuffer(cb renderer.CommandBuffer) {
	e.mu.Lock()
	e.frees++
	e.mu.Unlock()
}

// Outstanding returns how many appended command buffers have not been freed.
func (e *Encoder) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appends - e.frees
}
