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

// EventOpts configures event creation.
type EventOpts struct {
	// DeviceOnly marks an event never queried from the host; such events
	// skip the feedback slot, which only exists to speed host queries.
	DeviceOnly bool
}

// Event is a lightweight CPU/GPU-settable flag, coarser-grained than a fence
// or semaphore.
type Event struct {
	syncState
	id   renderer.ObjectID
	slot *feedback.Slot
}

// CreateEvent creates an event in the reset state.
func (d *Device) CreateEvent(opts EventOpts) (*Event, error) {
	ev := &Event{id: d.allocID()}
	ev.syncState.init()

	if !opts.DeviceOnly && !d.cfg.NoEventFeedback {
		slot, err := d.pool.Alloc(feedback.KindEvent)
		if err != nil {
			d.log.Warnf("event feedback slot unavailable, using round-trip status: %v", err)
		} else {
			ev.slot = slot
		}
	}

	if err := d.r.AsyncCreateEvent(ev.id); err != nil {
		if ev.slot != nil {
			d.pool.Free(ev.slot)
		}
		return nil, err
	}
	return ev, nil
}

// DestroyEvent destroys ev.
func (d *Device) DestroyEvent(ev *Event) {
	if ev == nil {
		return
	}
	d.r.AsyncDestroyEvent(ev.id)
	if ev.slot != nil {
		d.pool.Free(ev.slot)
		ev.slot = nil
	}
	ev.release(&ev.permanent)
	ev.release(&ev.temporary)
}

// EventStatus reports whether ev is set, without blocking.
func (d *Device) EventStatus(ev *Event) (bool, error) {
	if ev.localSignaled() {
		return true, nil
	}
	if ev.slot != nil {
		return ev.slot.Status() == feedback.StatusSignaled, nil
	}
	return d.r.EventStatus(ev.id)
}

// SetEvent sets ev from the host. With a feedback slot the local write makes
// the new state immediately visible and the renderer is told asynchronously;
// without one the update is a round trip.
func (d *Device) SetEvent(ev *Event) error {
	if ev.slot != nil {
		ev.slot.SetStatus(feedback.StatusSignaled)
		return d.r.AsyncSetEvent(ev.id)
	}
	return d.r.SetEvent(ev.id)
}

// ResetEvent resets ev from the host.
func (d *Device) ResetEvent(ev *Event) error {
	if ev.slot != nil {
		ev.slot.Reset()
		return d.r.AsyncResetEvent(ev.id)
	}
	return d.r.ResetEvent(ev.id)
}
