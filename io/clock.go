// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package io

import (
	"fmt"
	"sync"
	"time"

	"github.com/aamcrae/hexdrive/axis"
)

// TickerClock is a step clock driven by a goroutine and a time.Ticker.
type TickerClock struct {
	maxFreq int
	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

// NewTickerClock creates a step clock that accepts frequencies up to maxFreq.
func NewTickerClock(maxFreq int) *TickerClock {
	c := new(TickerClock)
	c.maxFreq = maxFreq
	return c
}

// Start calls fn(dir) freq times a second until Stop is called.
func (c *TickerClock) Start(freq, dir int, fn axis.StepFunc) error {
	if freq <= 0 || freq > c.maxFreq {
		return fmt.Errorf("step clock: frequency %dHz out of range", freq)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return fmt.Errorf("step clock: busy")
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(time.Second/time.Duration(freq), dir, fn, c.stop, c.done)
	return nil
}

// Stop stops the clock, waiting for any callback in progress.
func (c *TickerClock) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return nil
	}
	close(c.stop)
	<-c.done
	c.stop = nil
	c.done = nil
	return nil
}

// goroutine handler
func (c *TickerClock) run(period time.Duration, dir int, fn axis.StepFunc, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fn(dir)
		}
	}
}
