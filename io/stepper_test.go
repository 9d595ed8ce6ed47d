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
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// pin records the values written to it.
type pin struct {
	mu     sync.Mutex
	value  int
	writes []int
}

func (p *pin) Set(v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = v
	p.writes = append(p.writes, v)
	return nil
}

func (p *pin) Get() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, nil
}

func values(pins ...*pin) []int {
	var v []int
	for _, p := range pins {
		v = append(v, p.value)
	}
	return v
}

func TestPhaseStepper(t *testing.T) {
	Convey("Given a half stepping phase stepper", t, func() {
		a, b, c, d := new(pin), new(pin), new(pin), new(pin)
		s := NewPhaseStepper(1, a, b, c, d)

		Convey("Forward steps walk the half step sequence", func() {
			s.Step(1)
			So(values(a, b, c, d), ShouldResemble, []int{1, 1, 0, 0})
			s.Step(1)
			So(values(a, b, c, d), ShouldResemble, []int{0, 1, 0, 0})
			So(s.Phase(), ShouldEqual, 2)
		})

		Convey("Reverse steps wrap around", func() {
			s.Step(-1)
			So(values(a, b, c, d), ShouldResemble, []int{1, 0, 0, 1})
			So(s.Phase(), ShouldEqual, 7)
		})

		Convey("Energize off clears the coils and keeps the phase", func() {
			s.Step(1)
			So(s.Energize(false), ShouldBeNil)
			So(values(a, b, c, d), ShouldResemble, []int{0, 0, 0, 0})
			So(s.Energize(true), ShouldBeNil)
			So(values(a, b, c, d), ShouldResemble, []int{1, 1, 0, 0})
		})

		Convey("Restore sets the phase", func() {
			s.Restore(13)
			So(s.Phase(), ShouldEqual, 5)
		})
	})

	Convey("Full steps skip alternate entries", t, func() {
		a, b, c, d := new(pin), new(pin), new(pin), new(pin)
		s := NewPhaseStepper(2, a, b, c, d)
		s.Step(1)
		So(values(a, b, c, d), ShouldResemble, []int{0, 1, 0, 0})
		s.Step(1)
		So(values(a, b, c, d), ShouldResemble, []int{0, 0, 1, 0})
	})
}

func TestStepDir(t *testing.T) {
	Convey("Given a step/direction driver", t, func() {
		step, dir, en := new(pin), new(pin), new(pin)
		s, err := NewStepDir(step, dir, en)
		So(err, ShouldBeNil)

		Convey("It starts disabled", func() {
			So(en.value, ShouldEqual, 1)
			So(s.Energize(true), ShouldBeNil)
			So(en.value, ShouldEqual, 0)
		})

		Convey("Each step is a pulse", func() {
			So(s.Step(1), ShouldBeNil)
			So(step.writes, ShouldResemble, []int{1, 0})
			So(dir.value, ShouldEqual, 1)
		})

		Convey("Direction is only written on a change", func() {
			s.Step(1)
			s.Step(1)
			s.Step(-1)
			So(dir.writes, ShouldResemble, []int{1, 0})
		})
	})

	Convey("Step and direction pins are required", t, func() {
		_, err := NewStepDir(nil, new(pin), nil)
		So(err, ShouldNotBeNil)
	})
}

func TestTickerClock(t *testing.T) {
	Convey("Given a ticker clock", t, func() {
		c := NewTickerClock(2000)
		var mu sync.Mutex
		count := 0
		lastDir := 0
		fn := func(dir int) {
			mu.Lock()
			count++
			lastDir = dir
			mu.Unlock()
		}

		Convey("It calls back until stopped", func() {
			So(c.Start(1000, -1, fn), ShouldBeNil)
			time.Sleep(50 * time.Millisecond)
			So(c.Stop(), ShouldBeNil)
			mu.Lock()
			n := count
			So(n, ShouldBeGreaterThan, 0)
			So(lastDir, ShouldEqual, -1)
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			So(count, ShouldEqual, n)
			mu.Unlock()
		})

		Convey("Out of range frequencies are rejected", func() {
			So(c.Start(0, 1, fn), ShouldNotBeNil)
			So(c.Start(5000, 1, fn), ShouldNotBeNil)
		})

		Convey("A running clock must be stopped before restarting", func() {
			So(c.Start(100, 1, fn), ShouldBeNil)
			So(c.Start(100, 1, fn), ShouldNotBeNil)
			So(c.Stop(), ShouldBeNil)
			So(c.Start(100, 1, fn), ShouldBeNil)
			So(c.Stop(), ShouldBeNil)
		})

		Convey("Stop on an idle clock is harmless", func() {
			So(c.Stop(), ShouldBeNil)
		})
	})
}
