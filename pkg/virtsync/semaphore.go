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
	"virtsync.dev/virtsync/pkg/renderer"
)

// SemaphoreOpts configures semaphore creation.
type SemaphoreOpts struct {
	// Timeline selects a monotonically-increasing timeline semaphore
	// instead of a binary one.
	Timeline bool

	// InitialValue is the starting timeline value. Ignored for binary
	// semaphores.
	InitialValue uint64
}

// Semaphore is a sync primitive ordering GPU work against other GPU work.
type Semaphore struct {
	syncState
	id       renderer.ObjectID
	timeline bool
}

// CreateSemaphore creates a semaphore.
func (d *Device) CreateSemaphore(opts SemaphoreOpts) (*Semaphore, error) {
	s := &Semaphore{
		id:       d.allocID(),
		timeline: opts.Timeline,
	}
	s.syncState.init()
	if err := d.r.AsyncCreateSemaphore(s.id, opts.Timeline, opts.InitialValue); err != nil {
		return nil, err
	}
	return s, nil
}

// DestroySemaphore destroys s. The caller guarantees no submission still
// references it.
func (d *Device) DestroySemaphore(s *Semaphore) {
	if s == nil {
		return
	}
	d.r.AsyncDestroySemaphore(s.id)
	s.release(&s.permanent)
	s.release(&s.temporary)
}

// SemaphoreValue returns the current counter of a timeline semaphore. A
// locally-signaled payload never reaches here: only the window-system paths
// install one, and those apply to binary semaphores.
func (d *Device) SemaphoreValue(s *Semaphore) (uint64, error) {
	return d.r.SemaphoreValue(s.id)
}

// SignalSemaphore sets a timeline semaphore's counter from the host.
func (d *Device) SignalSemaphore(s *Semaphore, value uint64) error {
	return d.r.AsyncSignalSemaphore(s.id, value)
}

// SignalSemaphoreWSI installs a locally-signaled temporary payload, the
// window-system acquire fast path. The next submission waiting on s consumes
// it without asking the renderer.
func (d *Device) SignalSemaphoreWSI(s *Semaphore) {
	s.installTemporary(payloadLocalSignaled)
}

// WaitSemaphores blocks until the semaphores reach the given timeline
// values: all of them (default) or any one (waitAny), or timeoutNs elapses.
func (d *Device) WaitSemaphores(sems []*Semaphore, values []uint64, waitAny bool, timeoutNs uint64) error {
	return d.waitMany(len(sems), func(i int) (bool, error) {
		v, err := d.SemaphoreValue(sems[i])
		if err != nil {
			return false, err
		}
		return v >= values[i], nil
	}, !waitAny, timeoutNs)
}
