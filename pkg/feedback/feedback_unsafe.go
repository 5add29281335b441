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

package feedback

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// slotCell returns the status cell at off in a buffer mapping. Mappings are
// page-aligned and slots are carved at slotSize steps, so the cell is always
// suitably aligned for atomic access.
func slotCell(mapping []byte, off int) *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&mapping[off]))
}

func unixClose(fd int) {
	unix.Close(fd)
}
