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
	"fmt"

	"virtsync.dev/virtsync/pkg/renderer"
	"virtsync.dev/virtsync/pkg/syncfd"
)

// Primitive is a sync primitive that supports host sync file interop.
// *Fence and *Semaphore implement it.
type Primitive interface {
	state() *syncState
}

// ImportSyncFD imports a host sync file into p. It blocks the calling
// goroutine until fd indicates completion (a real kernel wait, not a poll
// loop), then installs a locally-signaled temporary payload; a later reset
// reverts p to its permanent payload. On success the import consumes fd.
// A malformed or unusable fd is reported as ErrInvalidExternalHandle.
func (d *Device) ImportSyncFD(p Primitive, fd int) error {
	if fd != syncfd.SignaledFD {
		if err := syncfd.Wait(fd, syncfd.InfiniteTimeout); err != nil {
			return err
		}
		syncfd.Close(fd)
	}
	p.state().installTemporary(payloadLocalSignaled)
	return nil
}

// ExportSyncFD exports p's current payload as a host sync file descriptor.
//
// A device-only payload is first materialized as a renderer sync object by a
// trivial submission that only signals it; a locally-signaled payload needs
// no renderer work and exports as syncfd.SignaledFD. Either way the export
// consumes any temporary payload, reverting p to its permanent one.
func (d *Device) ExportSyncFD(p Primitive) (int, error) {
	st := p.state()
	fd := syncfd.SignaledFD
	if st.active.typ == payloadDeviceOnly {
		var err error
		if fd, err = d.createSyncFile(); err != nil {
			return -1, err
		}
	}
	st.revertToPermanent()
	return fd, nil
}

// createSyncFile synthesizes a host-visible sync file: create a renderer
// sync object, signal it with a minimal renderer-level submission, export
// it, and destroy the object (the exported file keeps its own reference).
func (d *Device) createSyncFile() (int, error) {
	sync, err := d.r.CreateSyncObject()
	if err != nil {
		return -1, err
	}
	defer d.r.DestroySyncObject(sync)

	if err := d.r.SubmitSyncObjects([]renderer.SyncObject{sync}, []uint64{1}); err != nil {
		return -1, err
	}
	fd, err := d.r.ExportSyncFD(sync)
	if err != nil {
		return -1, fmt.Errorf("sync file export: %w", err)
	}
	return fd, nil
}
