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

// Package syncerr defines the error taxonomy shared by the synchronization
// virtualization layers.
//
// "Not ready" is a status, not an error: status queries report it through
// their boolean result and reserve the error path for real failures.
package syncerr

import "errors"

var (
	// ErrOutOfMemory indicates a scratch or feedback-pool allocation
	// failure. Feedback slot exhaustion specifically is not fatal to the
	// caller; the affected primitive falls back to round-trip status
	// queries instead.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrTimeout indicates that a wait deadline elapsed before the waited
	// condition was satisfied. It is distinct from failure; the waited
	// primitives are left untouched.
	ErrTimeout = errors.New("wait timed out")

	// ErrInvalidExternalHandle indicates a malformed or already-consumed
	// file descriptor on import, or an export that could not be
	// synthesized.
	ErrInvalidExternalHandle = errors.New("invalid external handle")

	// ErrDeviceLost indicates the renderer session is gone. It is fatal
	// and never retried.
	ErrDeviceLost = errors.New("device lost")
)
