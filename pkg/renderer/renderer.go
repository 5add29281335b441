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

// Package renderer defines the interfaces through which the synchronization
// layer reaches the remote renderer.
//
// The renderer executes GPU work in a separate process, reached only over an
// asynchronous command channel owned by the embedder. This package specifies
// the narrow surface the sync layer consumes; it deliberately contains no
// implementation. Command-stream contents other than feedback writes are
// opaque here.
package renderer

// ObjectID names an object in the renderer's address space. IDs are
// allocated by the client and communicated to the renderer through the
// creation commands below.
type ObjectID uint64

// NoObject is the zero ObjectID. Submitting with fence == NoObject attaches
// no fence.
const NoObject ObjectID = 0

// CommandBuffer is an opaque handle to an encoded command buffer. The sync
// layer never inspects one; it only forwards them.
type CommandBuffer any

// SyncObject is an opaque handle to a renderer-level sync object, the bridge
// between renderer fences and host sync files.
type SyncObject any

// SubmitBatch is one queue submission batch as forwarded on the wire.
//
// WaitValues and SignalValues parallel the semaphore slices and are nil for
// purely binary batches.
type SubmitBatch struct {
	WaitSemaphores   []ObjectID
	WaitValues       []uint64
	Commands         []CommandBuffer
	SignalSemaphores []ObjectID
	SignalValues     []uint64
}

// Renderer is the transport to the remote renderer.
//
// Methods prefixed Async return once the command bytes are queued on the
// channel, without waiting for renderer-side completion; their error reports
// transport failure only. The remaining methods are synchronous round trips.
// Commands issued against one queue execute in issue order on the renderer
// timeline.
//
// There is no way to abort an in-flight asynchronous command.
type Renderer interface {
	// Submit forwards batches to a queue and blocks until the renderer
	// acknowledges the submission. fence, if not NoObject, is signaled
	// when the batches complete.
	Submit(queue ObjectID, batches []SubmitBatch, fence ObjectID) error

	// AsyncSubmit is Submit without the acknowledgement round trip.
	AsyncSubmit(queue ObjectID, batches []SubmitBatch, fence ObjectID) error

	// Object lifecycle. Creation and destruction are fire-and-forget.
	AsyncCreateFence(id ObjectID, signaled bool) error
	AsyncDestroyFence(id ObjectID) error
	AsyncCreateSemaphore(id ObjectID, timeline bool, initialValue uint64) error
	AsyncDestroySemaphore(id ObjectID) error
	AsyncCreateEvent(id ObjectID) error
	AsyncDestroyEvent(id ObjectID) error

	// Status queries.
	FenceStatus(id ObjectID) (signaled bool, err error)
	EventStatus(id ObjectID) (set bool, err error)
	SemaphoreValue(id ObjectID) (uint64, error)

	// State updates.
	AsyncResetFences(ids []ObjectID) error
	// AsyncWaitFences asks the renderer to retire its own completion
	// bookkeeping for the given fences. No reply is expected.
	AsyncWaitFences(ids []ObjectID) error
	AsyncSignalSemaphore(id ObjectID, value uint64) error
	SetEvent(id ObjectID) error
	AsyncSetEvent(id ObjectID) error
	ResetEvent(id ObjectID) error
	AsyncResetEvent(id ObjectID) error

	// Sync objects.
	CreateSyncObject() (SyncObject, error)
	// SubmitSyncObjects forwards a renderer-level submission whose only
	// effect is signaling the given sync objects to the given values.
	SubmitSyncObjects(syncs []SyncObject, values []uint64) error
	// WaitSyncObjects blocks until all sync objects are signaled or
	// timeoutNs elapses.
	WaitSyncObjects(syncs []SyncObject, timeoutNs uint64) error
	// ExportSyncFD exports a sync object as a host sync file descriptor.
	ExportSyncFD(sync SyncObject) (int, error)
	DestroySyncObject(sync SyncObject)

	// AsyncSignalMemory attaches an implicit fence to presentable memory
	// so a consuming window-system call can depend on the preceding
	// submission without a client-side drain.
	AsyncSignalMemory(mem ObjectID) error
}
