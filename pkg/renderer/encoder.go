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

package renderer

import "virtsync.dev/virtsync/pkg/feedback"

// Encoder is the command-stream encoder collaborator.
type Encoder interface {
	// AppendFeedbackWrite returns a command buffer that, when executed on
	// a queue of the given family, stores StatusSignaled into slot. The
	// write lands inline with real GPU work, after everything previously
	// submitted to that queue.
	AppendFeedbackWrite(slot *feedback.Slot, family uint32) (CommandBuffer, error)

	// FreeCommandBuffer releases a command buffer returned by
	// AppendFeedbackWrite.
	FreeCommandBuffer(cb CommandBuffer)
}
