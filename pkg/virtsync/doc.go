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

// Package virtsync emulates fences, semaphores, and events for an
// application whose GPU work executes in a remote renderer process reached
// only through an asynchronous command channel.
//
// The layer gives callers synchronous-looking semantics (wait until
// signaled, query status) over a round-trip-costly transport. Status is
// resolved, cheapest first, from a locally-signaled payload, a feedback slot
// the renderer writes inline with real work, or a round-trip query. Blocking
// waits are a cooperative polling loop over those queries; the only kernel
// block is the sync file wait in the external interop path.
//
// Primitives are not safe for concurrent mutation by multiple application
// threads; they follow a single-logical-owner-at-a-time contract. Distinct
// primitives may be used from distinct goroutines freely.
package virtsync
