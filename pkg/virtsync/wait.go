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
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"virtsync.dev/virtsync/pkg/syncerr"
)

// NoTimeout makes a wait block until satisfied.
const NoTimeout = ^uint64(0)

// noDeadline is the absolute-deadline sentinel for NoTimeout.
const noDeadline = int64(-1)

// relaxBusyIters polling passes yield the scheduler before the relax loop
// starts sleeping, keeping wake latency low under light contention.
const relaxBusyIters = 10

const (
	relaxInitialInterval = 10 * time.Microsecond
	relaxMaxInterval     = time.Millisecond
)

// relaxState drives the cooperative backoff between polling passes.
type relaxState struct {
	d    *Device
	iter uint32
	bo   *backoff.ExponentialBackOff
}

func (d *Device) newRelax() relaxState {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = relaxInitialInterval
	bo.MaxInterval = relaxMaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()
	return relaxState{d: d, bo: bo}
}

// relax is called after a failed polling pass. It returns ErrTimeout once
// the deadline has passed; otherwise it yields or sleeps and lets the caller
// retry.
func (rs *relaxState) relax(deadline int64) error {
	if deadline != noDeadline && rs.d.now() >= deadline {
		return syncerr.ErrTimeout
	}
	rs.iter++
	if rs.iter <= relaxBusyIters {
		rs.d.yield()
		return nil
	}
	next := rs.bo.NextBackOff()
	if next == backoff.Stop || next > relaxMaxInterval {
		next = relaxMaxInterval
	}
	rs.d.sleep(next)
	return nil
}

// absDeadline converts a relative timeout to an absolute deadline, computed
// once up front.
func (d *Device) absDeadline(timeoutNs uint64) int64 {
	if timeoutNs == NoTimeout {
		return noDeadline
	}
	now := d.now()
	if timeoutNs > uint64(math.MaxInt64-now) {
		return math.MaxInt64
	}
	return now + int64(timeoutNs)
}

// waitMany implements blocking multi-object wait over non-blocking status
// queries. status(i) must not block; the polling loop is the only blocking
// mechanism, so the deadline bounds the whole wait directly.
//
// wait-all keeps a shrinking working set, dropping objects as they satisfy;
// wait-any rescans for the first satisfied object. In both modes a failed
// status query aborts the wait with that error.
func (d *Device) waitMany(n int, status func(i int) (bool, error), waitAll bool, timeoutNs uint64) error {
	if n == 0 {
		return nil
	}
	deadline := d.absDeadline(timeoutNs)
	rs := d.newRelax()

	if waitAll && n > 1 {
		// The working set is allocated once up front; small waits use
		// a stack buffer.
		var stack [8]int
		working := stack[:0]
		if n > len(stack) {
			working = make([]int, 0, n)
		}
		for i := 0; i < n; i++ {
			working = append(working, i)
		}
		for {
			remaining := working[:0]
			for _, i := range working {
				ok, err := status(i)
				if err != nil {
					return err
				}
				if !ok {
					remaining = append(remaining, i)
				}
			}
			working = remaining
			if len(working) == 0 {
				return nil
			}
			if err := rs.relax(deadline); err != nil {
				return err
			}
		}
	}

	for {
		for i := 0; i < n; i++ {
			ok, err := status(i)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		if err := rs.relax(deadline); err != nil {
			return err
		}
	}
}
