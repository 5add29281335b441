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

// shouldSynchronize decides synchronous vs asynchronous forwarding of a
// submission. A synchronous round trip serializes the client behind renderer
// latency, so it is reserved for correctness-critical cross-boundary
// handoffs: a present handoff the window system will immediately consume, an
// external fence another process will wait on, or the global override.
func (d *Device) shouldSynchronize(presentMem renderer.ObjectID, fence *Fence) bool {
	if presentMem != renderer.NoObject {
		return true
	}
	if fence != nil && fence.external {
		return true
	}
	return d.cfg.NoAsyncSubmit
}

// Submit forwards batches to the queue, signaling fence (which may be nil)
// when they complete. The call never partially forwards: any error unwinds
// before, or verbatim from, the transport.
func (q *Queue) Submit(batches []SubmitBatch, fence *Fence) error {
	d := q.d

	// Skip no-op submits.
	if len(batches) == 0 && fence == nil {
		return nil
	}

	sub := submission{queue: q, batches: batches, fence: fence}
	sub.countWaits()
	sub.filter()

	presentMem := sub.presentMemory()
	feedbackFence := fence != nil && fence.slot != nil
	syncSubmit := d.shouldSynchronize(presentMem, fence)

	// A feedback fence is deferred to a second, minimal submission so the
	// original batches need no deep copy to carry the feedback-write
	// command; the synchronization decision defers with it. Per-queue
	// FIFO ordering on the renderer timeline guarantees the feedback
	// write executes only after the original batches complete.
	var origFence renderer.ObjectID
	if fence != nil && !feedbackFence {
		origFence = fence.id
	}
	if err := q.forward(sub.encode(), origFence, !feedbackFence && syncSubmit); err != nil {
		return err
	}
	if feedbackFence {
		fb := []renderer.SubmitBatch{{
			Commands: []renderer.CommandBuffer{fence.cmds[q.familyIdx]},
		}}
		if err := q.forward(fb, fence.id, syncSubmit); err != nil {
			return err
		}
	}

	if presentMem != renderer.NoObject {
		if err := q.signalPresent(presentMem); err != nil {
			return err
		}
	}
	return nil
}

// forward hands one submission to the transport. Empty submissions with no
// fence carry no information and are dropped.
func (q *Queue) forward(batches []renderer.SubmitBatch, fence renderer.ObjectID, sync bool) error {
	if len(batches) == 0 && fence == renderer.NoObject {
		return nil
	}
	if sync {
		return q.d.r.Submit(q.id, batches, fence)
	}
	return q.d.r.AsyncSubmit(q.id, batches, fence)
}

// signalPresent makes the just-submitted work visible to the window system
// consuming mem: through an implicit fence when the renderer supports one,
// otherwise by draining the queue before returning.
func (q *Queue) signalPresent(mem renderer.ObjectID) error {
	d := q.d
	if d.cfg.ImplicitFencing {
		return d.r.AsyncSignalMemory(mem)
	}
	if d.drainWarn.Allow() {
		d.log.Warn("no implicit fencing, draining queue before present")
	}
	return q.WaitIdle()
}

// WaitIdle blocks until everything previously submitted to the queue has
// completed on the renderer.
func (q *Queue) WaitIdle() error {
	d := q.d
	if err := q.Submit(nil, q.waitFence); err != nil {
		return err
	}
	if err := d.WaitForFences([]*Fence{q.waitFence}, true, NoTimeout); err != nil {
		return err
	}
	return d.ResetFences([]*Fence{q.waitFence})
}
