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

// payloadType tags a sync payload.
type payloadType uint8

const (
	// payloadInvalid is an empty payload slot.
	payloadInvalid payloadType = iota

	// payloadDeviceOnly means the status is only knowable by asking the
	// renderer or reading a feedback slot.
	payloadDeviceOnly

	// payloadLocalSignaled means the state is known true on the client
	// without asking anyone. Installed by the window-system signal and
	// sync fd import paths.
	payloadLocalSignaled
)

// payload is one unit of sync primitive state.
type payload struct {
	typ payloadType
}

// syncState is the permanent/temporary payload pair every sync primitive
// embeds. Outside construction exactly one of the two is invalid, and active
// always points at the valid one: every transition below installs a
// replacement in the same step it invalidates a slot.
type syncState struct {
	permanent payload
	temporary payload
	active    *payload
}

func (s *syncState) init() {
	s.permanent.typ = payloadDeviceOnly
	s.temporary.typ = payloadInvalid
	s.active = &s.permanent
}

// release invalidates a payload slot. Idempotent.
func (s *syncState) release(p *payload) {
	p.typ = payloadInvalid
}

// installTemporary overwrites the temporary payload and makes it active.
func (s *syncState) installTemporary(typ payloadType) {
	s.release(&s.temporary)
	s.temporary.typ = typ
	s.active = &s.temporary
}

// revertToPermanent releases the temporary payload and reverts active to the
// permanent one.
func (s *syncState) revertToPermanent() {
	s.release(&s.temporary)
	s.active = &s.permanent
}

// localSignaled reports whether the active payload is known signaled on the
// client.
func (s *syncState) localSignaled() bool {
	return s.active.typ == payloadLocalSignaled
}

func (s *syncState) state() *syncState {
	return s
}
