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

package syncfd

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"virtsync.dev/virtsync/pkg/syncerr"
)

// pipeFD returns the read end of a pipe as a stand-in sync file, plus a
// signal function that makes it readable.
func pipeFD(t *testing.T) (int, func()) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() { Close(p[0]) })
	return p[0], func() {
		unix.Write(p[1], []byte{1})
		unix.Close(p[1])
	}
}

func TestWaitSignaled(t *testing.T) {
	fd, signal := pipeFD(t)
	signal()
	if err := Wait(fd, InfiniteTimeout); err != nil {
		t.Errorf("Wait() on signaled fd: %v", err)
	}
}

func TestWaitBlocksUntilSignal(t *testing.T) {
	fd, signal := pipeFD(t)
	go func() {
		time.Sleep(10 * time.Millisecond)
		signal()
	}()
	if err := Wait(fd, InfiniteTimeout); err != nil {
		t.Errorf("Wait() after delayed signal: %v", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	fd, signal := pipeFD(t)
	defer signal()
	err := Wait(fd, 10)
	if !errors.Is(err, syncerr.ErrTimeout) {
		t.Errorf("Wait() on unsignaled fd: got %v, want ErrTimeout", err)
	}
}

func TestWaitSignaledPlaceholder(t *testing.T) {
	if err := Wait(SignaledFD, InfiniteTimeout); err != nil {
		t.Errorf("Wait(SignaledFD): %v", err)
	}
}

func TestWaitInvalidFD(t *testing.T) {
	err := Wait(-2, InfiniteTimeout)
	if !errors.Is(err, syncerr.ErrInvalidExternalHandle) {
		t.Errorf("Wait(-2): got %v, want ErrInvalidExternalHandle", err)
	}
	if errors.Is(err, syncerr.ErrTimeout) {
		t.Errorf("Wait(-2) must not be a timeout: %v", err)
	}

	// A closed fd polls as POLLNVAL.
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	unix.Close(p[0])
	unix.Close(p[1])
	if err := Wait(p[0], 10); !errors.Is(err, syncerr.ErrInvalidExternalHandle) {
		t.Errorf("Wait(closed fd): got %v, want ErrInvalidExternalHandle", err)
	}
}
