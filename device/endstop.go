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

// End-stop switch driver.

package device

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/aamcrae/hexdrive/io"
)

// How often the watcher checks whether it has been stopped.
const pollInterval = 100 * time.Millisecond

// Input provides a method to return when an input changes, or
// io.ErrTimeout if it has not changed within the timeout.
type Input interface {
	Poll(timeout time.Duration) (int, error)
}

// Hitter is told when the end-stop is reached.
type Hitter interface {
	OnEndstopHit()
}

// Endstop watches an end-stop switch. The switch normally pulls the
// input to ground when hit; Invert selects an active high switch.
// Edges that do not read as active are counted as false alarms,
// and hits closer together than the debounce period are ignored.
type Endstop struct {
	Name     string
	in       Input
	hitter   Hitter
	invert   bool
	debounce time.Duration
	stop     chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	hits   int
	alarms int
}

// NewEndstop starts a goroutine watching the input.
func NewEndstop(name string, in Input, h Hitter, invert bool, debounce time.Duration) *Endstop {
	e := new(Endstop)
	e.Name = name
	e.in = in
	e.hitter = h
	e.invert = invert
	e.debounce = debounce
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.driver()
	return e
}

// Counts returns the number of accepted hits and false alarms.
func (e *Endstop) Counts() (hits, alarms int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hits, e.alarms
}

// Close stops the watcher.
func (e *Endstop) Close() {
	close(e.stop)
	<-e.done
}

// driver is the goroutine servicing the end-stop input.
func (e *Endstop) driver() {
	defer close(e.done)
	var last time.Time
	for {
		select {
		case <-e.stop:
			return
		default:
		}
		v, err := e.in.Poll(pollInterval)
		if errors.Is(err, io.ErrTimeout) {
			continue
		}
		if err != nil {
			log.Printf("%s: end-stop input: %v", e.Name, err)
			time.Sleep(pollInterval)
			continue
		}
		if e.invert {
			v ^= 1
		}
		// Active low.
		if v != 0 {
			e.mu.Lock()
			e.alarms++
			e.mu.Unlock()
			log.Printf("%s: end-stop false alarm", e.Name)
			continue
		}
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < e.debounce {
			continue
		}
		last = now
		e.mu.Lock()
		e.hits++
		e.mu.Unlock()
		e.hitter.OnEndstopHit()
	}
}
