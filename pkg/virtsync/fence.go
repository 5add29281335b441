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
	"virtsync.dev/virtsync/pkg/feedback"
	"virtsync.dev/virtsync/pkg/renderer"
)

// FenceOpts configures fence creation.
type FenceOpts struct {
	// Signaled creates the fence in the signaled state.
	Signaled bool

	// External marks the fence as created for OS-level export. External
	// fences skip feedback (another process observes the real fence, not
	// our slot) and force synchronous dispatch of submissions that signal
	// them.
	External bool
}

// Fence is a sync primitive signaled by queue submission completion.
type Fence struct {
	syncState
	id       renderer.ObjectID
	external bool

	// slot, when present, lets status queries skip the transport round
	// trip. cmds caches one feedback-write command buffer per queue
	// family, appended to the signaling submission.
	slot *feedback.Slot
	cmds []renderer.CommandBuffer
}

// CreateFence creates a fence.
func (d *Device) CreateFence(opts FenceOpts) (*Fence, error) {
	f := &Fence{
		id:       d.allocID(),
		external: opts.External,
	}
	f.syncState.init()

	d.fenceFeedbackInit(f, opts.Signaled)

	if err := d.r.AsyncCreateFence(f.id, opts.Signaled); err != nil {
		d.fenceFeedbackFini(f)
		return nil, err
	}
	return f, nil
}

// fenceFeedbackInit attaches a feedback slot and per-family feedback-write
// commands to f. Failure degrades f to the round-trip status path; it never
// fails fence creation.
func (d *Device) fenceFeedbackInit(f *Fence, signaled bool) {
	if f.external || d.cfg.NoFenceFeedback {
		return
	}

	slot, err := d.pool.Alloc(feedback.KindFence)
	if err != nil {
		d.log.Warnf("fence feedback slot unavailable, using round-trip status: %v", err)
		return
	}
	if signaled {
		slot.SetStatus(feedback.StatusSignaled)
	}

	cmds := make([]renderer.CommandBuffer, len(d.families))
	for i, family := range d.families {
		cmd, err := d.enc.AppendFeedbackWrite(slot, family)
		if err != nil {
			for j := 0; j < i; j++ {
				d.enc.FreeCommandBuffer(cmds[j])
			}
			d.pool.Free(slot)
			d.log.Warnf("fence feedback command unavailable, using round-trip status: %v", err)
			return
		}
		cmds[i] = cmd
	}

	f.slot = slot
	f.cmds = cmds
}

func (d *Device) fenceFeedbackFini(f *Fence) {
	if f.slot == nil {
		return
	}
	for _, cmd := range f.cmds {
		d.enc.FreeCommandBuffer(cmd)
	}
	d.pool.Free(f.slot)
	f.slot = nil
	f.cmds = nil
}

// DestroyFence destroys f. The caller guarantees no submission still
// references it.
func (d *Device) DestroyFence(f *Fence) {
	if f == nil {
		return
	}
	d.r.AsyncDestroyFence(f.id)
	d.fenceFeedbackFini(f)
	f.release(&f.permanent)
	f.release(&f.temporary)
}

// ResetFences reverts each fence to its unsignaled permanent payload.
func (d *Device) ResetFences(fences []*Fence) error {
	ids := make([]renderer.ObjectID, len(fences))
	for i, f := range fences {
		ids[i] = f.id
	}
	if err := d.r.AsyncResetFences(ids); err != nil {
		return err
	}
	for _, f := range fences {
		f.revertToPermanent()
		if f.slot != nil {
			f.slot.Reset()
		}
	}
	return nil
}

// FenceStatus reports whether f is signaled. The query never blocks: it
// reads the local payload or feedback slot when possible and falls back to
// one transport round trip.
func (d *Device) FenceStatus(f *Fence) (bool, error) {
	switch f.active.typ {
	case payloadDeviceOnly:
		if f.slot == nil {
			return d.r.FenceStatus(f.id)
		}
		if f.slot.Status() != feedback.StatusSignaled {
			return false, nil
		}
		// The slot write can land before the renderer's own completion
		// bookkeeping. Queue a renderer-side wait so that bookkeeping
		// is guaranteed to have happened before the caller depends on
		// the signal elsewhere.
		if err := d.r.AsyncWaitFences([]renderer.ObjectID{f.id}); err != nil {
			return false, err
		}
		return true, nil
	case payloadLocalSignaled:
		return true, nil
	default:
		panic("virtsync: fence has no active payload")
	}
}

// SignalFenceWSI installs a locally-signaled temporary payload, the
// window-system "this image is already ready" fast path. A reset or import
// clears it.
func (d *Device) SignalFenceWSI(f *Fence) {
	f.installTemporary(payloadLocalSignaled)
}

// WaitForFences blocks until all (waitAll) or any one (otherwise) of the
// fences is signaled, or timeoutNs elapses. NoTimeout waits forever.
func (d *Device) WaitForFences(fences []*Fence, waitAll bool, timeoutNs uint64) error {
	return d.waitMany(len(fences), func(i int) (bool, error) {
		return d.FenceStatus(fences[i])
	}, waitAll, timeoutNs)
}
