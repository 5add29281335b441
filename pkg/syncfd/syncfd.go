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

// Package syncfd wraps host sync file descriptors.
//
// A sync file becomes readable when the work it tracks completes. Wait is a
// genuine blocking poll in the kernel, the one place the synchronization
// layer blocks rather than spinning.
package syncfd

import (
	"fmt"

	"golang.org/x/sys/unix"
	"virtsync.dev/virtsync/pkg/syncerr"
)

// SignaledFD is the placeholder descriptor for an already-signaled sync
// file: there is nothing to wait on and nothing to close.
const SignaledFD = -1

// InfiniteTimeout makes Wait block until the fd signals.
const InfiniteTimeout = -1

// Wait blocks until fd becomes readable or timeoutMs elapses. A timeoutMs of
// InfiniteTimeout waits forever. Waiting on SignaledFD succeeds immediately;
// any other negative or unusable descriptor is reported as
// syncerr.ErrInvalidExternalHandle, which is distinct from
// syncerr.ErrTimeout.
func Wait(fd int, timeoutMs int) error {
	if fd < 0 {
		if fd == SignaledFD {
			return nil
		}
		return fmt.Errorf("%w: fd %d", syncerr.ErrInvalidExternalHandle, fd)
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: poll: %v", syncerr.ErrInvalidExternalHandle, err)
		}
		if n == 0 {
			return syncerr.ErrTimeout
		}
		if pfd[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return fmt.Errorf("%w: fd %d: revents %#x", syncerr.ErrInvalidExternalHandle, fd, pfd[0].Revents)
		}
		return nil
	}
}

// Close closes fd. Closing SignaledFD is a no-op.
func Close(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
