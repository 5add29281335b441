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
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"virtsync.dev/virtsync/pkg/renderer/renderertest"
)

var testFamilies = []uint32{0, 1}

type testEnv struct {
	d   *Device
	r   *renderertest.Renderer
	enc *renderertest.Encoder
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.ErrorLevel)
		cfg.Logger = l
	}
	r := renderertest.New()
	enc := renderertest.NewEncoder()
	d, err := NewDevice(r, enc, testFamilies, cfg)
	if err != nil {
		t.Fatalf("NewDevice() failed: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		d.Destroy()
	})
	return &testEnv{d: d, r: r, enc: enc}
}

func (e *testEnv) queue(t *testing.T, family uint32) *Queue {
	t.Helper()
	q, err := e.d.NewQueue(family)
	if err != nil {
		t.Fatalf("NewQueue(%d) failed: %v", family, err)
	}
	return q
}

// fakeClock replaces the device's clock, sleep and yield so wait-engine
// tests run on virtual time.
type fakeClock struct {
	mu sync.Mutex
	ns int64
}

func installFakeClock(d *Device) *fakeClock {
	c := &fakeClock{}
	d.now = c.now
	d.sleep = c.sleep
	d.yield = func() { c.sleep(time.Microsecond) }
	return c
}

func (c *fakeClock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ns
}

func (c *fakeClock) sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ns += int64(d)
}

// waitSignaled polls a status function on real time until it reports true or
// the deadline expires, for tests that gate renderer execution.
func waitSignaled(t *testing.T, status func() (bool, error)) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		ok, err := status()
		if err != nil {
			t.Fatalf("status query failed: %v", err)
		}
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never became signaled")
		}
		time.Sleep(100 * time.Microsecond)
	}
}
