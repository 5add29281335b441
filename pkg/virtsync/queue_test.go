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

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"virtsync.dev/virtsync/pkg/renderer"
	"virtsync.dev/virtsync/pkg/syncerr"
)

func TestSubmitFiltersLocalSignaledWaits(t *testing.T) {
	e := newTestEnv(t, Config{})
	q := e.queue(t, 0)

	ready, err := e.d.CreateSemaphore(SemaphoreOpts{})
	if err != nil {
		t.Fatalf("CreateSemaphore() failed: %v", err)
	}
	defer e.d.DestroySemaphore(ready)
	pending, err := e.d.CreateSemaphore(SemaphoreOpts{})
	if err != nil {
		t.Fatalf("CreateSemaphore() failed: %v", err)
	}
	defer e.d.DestroySemaphore(pending)

	e.d.SignalSemaphoreWSI(ready)

	batches := []SubmitBatch{{WaitSemaphores: []*Semaphore{ready, pending}}}
	if err := q.Submit(batches, nil); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	log := e.r.SubmitLog()
	if len(log) != 1 {
		t.Fatalf("submissions forwarded: got %d, want 1", len(log))
	}
	want := []renderer.ObjectID{pending.id}
	if diff := cmp.Diff(want, log[0].Batches[0].WaitSemaphores); diff != "" {
		t.Errorf("forwarded wait set mismatch (-want +got):\n%s", diff)
	}

	// The local signal is consumed exactly once.
	if ready.temporary.typ != payloadInvalid {
		t.Errorf("filtered semaphore's temporary payload: got %v, want invalid", ready.temporary.typ)
	}
	if ready.active != &ready.permanent {
		t.Errorf("filtered semaphore's active payload does not point at permanent")
	}

	// The caller's batch is never mutated.
	if len(batches[0].WaitSemaphores) != 2 {
		t.Errorf("original batch wait set mutated: %d entries", len(batches[0].WaitSemaphores))
	}

	// A second submission waits on the now device-only semaphore.
	if err := q.Submit([]SubmitBatch{{WaitSemaphores: []*Semaphore{ready}}}, nil); err != nil {
		t.Fatalf("second Submit() failed: %v", err)
	}
	log = e.r.SubmitLog()
	got := log[1].Batches[0].WaitSemaphores
	if diff := cmp.Diff([]renderer.ObjectID{ready.id}, got); diff != "" {
		t.Errorf("second forwarded wait set mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitFastPathForwardsOriginals(t *testing.T) {
	e := newTestEnv(t, Config{})
	q := e.queue(t, 0)

	sem, err := e.d.CreateSemaphore(SemaphoreOpts{})
	if err != nil {
		t.Fatalf("CreateSemaphore() failed: %v", err)
	}
	defer e.d.DestroySemaphore(sem)

	sub := submission{batches: []SubmitBatch{{WaitSemaphores: []*Semaphore{sem}}}}
	sub.countWaits()
	if sub.waitCount != 1 || sub.localCount != 0 {
		t.Fatalf("countWaits() = (%d, %d), want (1, 0)", sub.waitCount, sub.localCount)
	}
	before := &sub.batches[0]
	sub.filter()
	if &sub.batches[0] != before {
		t.Errorf("filter() copied batches with no locally-signaled waits")
	}
	_ = q
}

func TestExternalFenceForcesSyncSubmit(t *testing.T) {
	e := newTestEnv(t, Config{})
	q := e.queue(t, 0)

	f, err := e.d.CreateFence(FenceOpts{External: true})
	if err != nil {
		t.Fatalf("CreateFence() failed: %v", err)
	}
	defer e.d.DestroyFence(f)

	if err := q.Submit([]SubmitBatch{{}}, f); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	log := e.r.SubmitLog()
	if len(log) != 1 {
		t.Fatalf("submissions forwarded: got %d, want 1 (external fences split nothing)", len(log))
	}
	if !log[0].Sync {
		t.Errorf("submission signaling an external fence used the async path")
	}
	if log[0].Fence != f.id {
		t.Errorf("forwarded fence: got %d, want %d", log[0].Fence, f.id)
	}
}

func TestFeedbackFenceSplit(t *testing.T) {
	e := newTestEnv(t, Config{})
	q := e.queue(t, 0)

	f, err := e.d.CreateFence(FenceOpts{})
	if err != nil {
		t.Fatalf("CreateFence() failed: %v", err)
	}
	defer e.d.DestroyFence(f)

	if err := q.Submit([]SubmitBatch{{}}, f); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	log := e.r.SubmitLog()
	if len(log) != 2 {
		t.Fatalf("submissions forwarded: got %d, want 2 (original + feedback)", len(log))
	}
	if log[0].Fence != renderer.NoObject {
		t.Errorf("original submission carried the fence")
	}
	if log[1].Fence != f.id {
		t.Errorf("feedback submission fence: got %d, want %d", log[1].Fence, f.id)
	}
	if n := len(log[1].Batches); n != 1 || len(log[1].Batches[0].Commands) != 1 {
		t.Errorf("feedback submission is not minimal: %d batches", n)
	}
	if log[0].Sync || log[1].Sync {
		t.Errorf("plain feedback split used the sync path: %v, %v", log[0].Sync, log[1].Sync)
	}
}

func TestFeedbackFenceSplitInheritsSyncDecision(t *testing.T) {
	e := newTestEnv(t, Config{NoAsyncSubmit: true})
	q := e.queue(t, 0)

	f, err := e.d.CreateFence(FenceOpts{})
	if err != nil {
		t.Fatalf("CreateFence() failed: %v", err)
	}
	defer e.d.DestroyFence(f)

	if err := q.Submit([]SubmitBatch{{}}, f); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	log := e.r.SubmitLog()
	if len(log) != 2 {
		t.Fatalf("submissions forwarded: got %d, want 2", len(log))
	}
	// The sync decision defers to the feedback submission.
	if log[0].Sync {
		t.Errorf("original submission of a feedback split went synchronously")
	}
	if !log[1].Sync {
		t.Errorf("feedback submission did not inherit the synchronous decision")
	}
}

func TestNoOpSubmit(t *testing.T) {
	e := newTestEnv(t, Config{})
	q := e.queue(t, 0)

	if err := q.Submit(nil, nil); err != nil {
		t.Fatalf("no-op Submit() failed: %v", err)
	}
	if n := len(e.r.SubmitLog()); n != 0 {
		t.Errorf("no-op submit forwarded %d submissions", n)
	}
}

func TestPresentHandoffImplicitFencing(t *testing.T) {
	e := newTestEnv(t, Config{ImplicitFencing: true})
	q := e.queue(t, 0)

	const mem = renderer.ObjectID(7001)
	if err := q.Submit([]SubmitBatch{{PresentMemory: mem}}, nil); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	log := e.r.SubmitLog()
	if len(log) != 1 || !log[0].Sync {
		t.Fatalf("present handoff submission: got %d records, sync=%v; want 1 sync record", len(log), log[0].Sync)
	}
	if diff := cmp.Diff([]renderer.ObjectID{mem}, e.r.MemorySignals()); diff != "" {
		t.Errorf("memory signals mismatch (-want +got):\n%s", diff)
	}
}

func TestPresentHandoffDrainFallback(t *testing.T) {
	e := newTestEnv(t, Config{})
	q := e.queue(t, 0)

	const mem = renderer.ObjectID(7002)
	if err := q.Submit([]SubmitBatch{{PresentMemory: mem}}, nil); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if n := len(e.r.MemorySignals()); n != 0 {
		t.Errorf("drain fallback signaled memory %d times", n)
	}
	// The drain submits and waits the queue's wait fence.
	log := e.r.SubmitLog()
	if len(log) < 2 {
		t.Fatalf("drain fallback forwarded %d submissions, want at least 2", len(log))
	}
	if got := log[len(log)-1].Fence; got != q.waitFence.id {
		t.Errorf("last drain submission fence: got %d, want wait fence %d", got, q.waitFence.id)
	}
}

func TestSubmitTransportErrorPropagates(t *testing.T) {
	e := newTestEnv(t, Config{})
	q := e.queue(t, 0)

	e.r.FailWith(syncerr.ErrDeviceLost)
	err := q.Submit([]SubmitBatch{{}}, nil)
	if !errors.Is(err, syncerr.ErrDeviceLost) {
		t.Errorf("Submit() after device loss: got %v, want ErrDeviceLost", err)
	}
}

func TestQueueWaitIdle(t *testing.T) {
	e := newTestEnv(t, Config{})
	q := e.queue(t, 0)

	if err := q.Submit([]SubmitBatch{{}}, nil); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if err := q.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() failed: %v", err)
	}
	// The wait fence is reset and reusable afterwards.
	if ok, err := e.d.FenceStatus(q.waitFence); err != nil || ok {
		t.Errorf("wait fence after WaitIdle: got %v, %v, want not ready", ok, err)
	}
	if err := q.WaitIdle(); err != nil {
		t.Fatalf("second WaitIdle() failed: %v", err)
	}
}
