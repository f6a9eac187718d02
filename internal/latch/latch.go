// Copyright 2025 UMH Systems GmbH
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

// Package latch provides an observable counter that callers can block on until
// it reaches a threshold, the counting equivalent of a countdown latch.
package latch

import (
	"sync"
	"time"
)

// Counter is safe for concurrent use. The zero value is ready to use.
type Counter struct {
	mu      sync.Mutex
	value   int
	changed chan struct{}
}

// Add increments the counter by delta and wakes all waiters.
func (c *Counter) Add(delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value += delta
	if c.changed != nil {
		close(c.changed)
		c.changed = nil
	}

	return c.value
}

// Inc increments the counter by one.
func (c *Counter) Inc() int {
	return c.Add(1)
}

// Value returns the current count.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.value
}

// Reset sets the counter back to zero.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = 0
}

// WaitFor blocks until the counter is at least n or the timeout elapses.
// It reports whether the threshold was reached.
func (c *Counter) WaitFor(n int, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if c.value >= n {
			c.mu.Unlock()

			return true
		}

		if c.changed == nil {
			c.changed = make(chan struct{})
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return c.Value() >= n
		}
	}
}
