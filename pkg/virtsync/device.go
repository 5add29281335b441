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
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"virtsync.dev/virtsync/pkg/feedback"
	"virtsync.dev/virtsync/pkg/renderer"
)

// Config carries the device-wide policy switches. The zero value is the
// default configuration.
type Config struct {
	// NoAsyncSubmit forces every queue submission through the synchronous
	// transport path. Debug/perf override only; asynchronous dispatch is
	// the default because a synchronous round trip serializes the client
	// behind renderer latency.
	NoAsyncSubmit bool

	// NoFenceFeedback and NoEventFeedback disable feedback slots for the
	// respective primitives, leaving only round-trip status queries.
	NoFenceFeedback bool
	NoEventFeedback bool

	// ImplicitFencing selects how a present handoff is made visible to
	// the consuming window system: when true, the renderer attaches an
	// implicit fence to the presentable memory; when false, the queue is
	// drained before the submit call returns. The drain is correct but
	// expensive, so it logs a rate-limited warning.
	ImplicitFencing bool

	// FeedbackBufferSize overrides the feedback pool's buffer size in
	// bytes. Zero selects the default.
	FeedbackBufferSize int

	// Logger receives the layer's diagnostics. Nil selects the logrus
	// standard logger.
	Logger logrus.FieldLogger
}

// Device is the explicitly constructed context every operation goes through;
// there is no package-level state. A Device owns the feedback slot pool, the
// remote ID space, and the queues created from it. Teardown is tied to the
// owning device's lifetime via Destroy.
type Device struct {
	r      renderer.Renderer
	enc    renderer.Encoder
	cfg    Config
	log    logrus.FieldLogger
	pool   *feedback.Pool
	nextID atomic.Uint64

	// families are the queue families the device was created with; a
	// fence caches one feedback-write command buffer per entry.
	families []uint32
	queues   []*Queue

	// drainWarn rate-limits the present-handoff drain warning.
	drainWarn *rate.Limiter

	// now, sleep and yield drive the wait engine and are replaced in
	// tests by a fake clock.
	now   func() int64
	sleep func(time.Duration)
	yield func()
}

// NewDevice creates a Device over the given renderer transport and command
// encoder. families lists the queue families queues will be created for.
func NewDevice(r renderer.Renderer, enc renderer.Encoder, families []uint32, cfg Config) (*Device, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	pool, err := feedback.NewPool(cfg.FeedbackBufferSize)
	if err != nil {
		return nil, fmt.Errorf("feedback pool: %w", err)
	}
	d := &Device{
		r:         r,
		enc:       enc,
		cfg:       cfg,
		log:       log,
		pool:      pool,
		families:  append([]uint32(nil), families...),
		drainWarn: rate.NewLimiter(rate.Every(5*time.Second), 1),
		now:       func() int64 { return time.Now().UnixNano() },
		sleep:     time.Sleep,
		yield:     runtime.Gosched,
	}
	return d, nil
}

// Destroy tears the device down. All primitives and queues created from it
// must already be destroyed or abandoned.
func (d *Device) Destroy() {
	for _, q := range d.queues {
		if q.waitFence != nil {
			d.DestroyFence(q.waitFence)
			q.waitFence = nil
		}
	}
	d.queues = nil
	d.pool.Destroy()
}

// allocID returns a fresh remote object ID. IDs are never reused.
func (d *Device) allocID() renderer.ObjectID {
	return renderer.ObjectID(d.nextID.Add(1))
}

// familyIndex returns the index of family in the device's family array.
func (d *Device) familyIndex(family uint32) int {
	for i, f := range d.families {
		if f == family {
			return i
		}
	}
	panic(fmt.Sprintf("virtsync: queue family %d not registered with device", family))
}

// Queue is one submission queue. Submissions issued against one Queue by one
// goroutine preserve program order on the renderer timeline.
type Queue struct {
	d         *Device
	id        renderer.ObjectID
	family    uint32
	familyIdx int

	// waitFence backs WaitIdle: an empty submission signaling it drains
	// everything previously submitted to this queue.
	waitFence *Fence
}

// NewQueue creates a queue on the given family, which must be one of the
// families the device was created with.
func (d *Device) NewQueue(family uint32) (*Queue, error) {
	q := &Queue{
		d:         d,
		id:        d.allocID(),
		family:    family,
		familyIdx: d.familyIndex(family),
	}
	f, err := d.CreateFence(FenceOpts{})
	if err != nil {
		return nil, fmt.Errorf("queue wait fence: %w", err)
	}
	q.waitFence = f
	d.queues = append(d.queues, q)
	return q, nil
}

// ID returns the queue's remote object ID.
func (q *Queue) ID() renderer.ObjectID {
	return q.id
}

// Family returns the queue's family.
func (q *Queue) Family() uint32 {
	return q.family
}
