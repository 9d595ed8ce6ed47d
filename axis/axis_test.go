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

package axis

import (
	"errors"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// manualClock is a StepClock fired by the test.
type manualClock struct {
	running bool
	freq    int
	dir     int
	fn      StepFunc
	starts  int
	fail    error
}

func (c *manualClock) Start(freq, dir int, fn StepFunc) error {
	if c.fail != nil {
		return c.fail
	}
	c.running = true
	c.freq = freq
	c.dir = dir
	c.fn = fn
	c.starts++
	return nil
}

func (c *manualClock) Stop() error {
	c.running = false
	return nil
}

// fire makes up to n callbacks while the clock is running.
func (c *manualClock) fire(n int) {
	for i := 0; i < n && c.running; i++ {
		c.fn(c.dir)
	}
}

type countDriver struct {
	mu        sync.Mutex
	steps     int
	energized bool
	fail      error
}

func (d *countDriver) Step(dir int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.steps += dir
	return nil
}

func (d *countDriver) Energize(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.energized = on
	return nil
}

func newTestAxis(cfg Config) (*Axis, *manualClock, *countDriver) {
	c := &manualClock{}
	d := &countDriver{}
	a, err := New(cfg, c, d)
	if err != nil {
		panic(err)
	}
	return a, c, d
}

func TestSpeedLimits(t *testing.T) {
	Convey("Accelerating from rest", t, func() {
		cfg := DefaultConfig("x")
		cfg.MaxSpeed = 3200
		cfg.MaxAccel = 320
		a, clk, _ := newTestAxis(cfg)
		a.Enable(true)
		a.FreeRun(1)

		Convey("speed rises by the acceleration limit per call then holds", func() {
			for i := 1; i <= 10; i++ {
				clamped := a.SetSpeed(3200)
				So(a.Speed(), ShouldEqual, 320*i)
				So(clamped, ShouldEqual, i < 10)
			}
			So(a.SetSpeed(3200), ShouldBeFalse)
			So(a.Speed(), ShouldEqual, 3200)
			So(a.SetSpeed(5000), ShouldBeTrue)
			So(a.Speed(), ShouldEqual, 3200)
			So(clk.running, ShouldBeTrue)
			So(clk.freq, ShouldEqual, 6400)
			So(clk.dir, ShouldEqual, 1)
		})

		Convey("no request changes the speed by more than the limit", func() {
			for _, req := range []int{4000, -4000, 100, -3200, 0, 3200, 17, -1} {
				before := a.Speed()
				a.SetSpeed(req)
				d := a.Speed() - before
				So(d, ShouldBeLessThanOrEqualTo, 320)
				So(d, ShouldBeGreaterThanOrEqualTo, -320)
				So(a.Speed(), ShouldBeBetweenOrEqual, -3200, 3200)
			}
		})
	})

	Convey("A disabled axis does not accept speed", t, func() {
		a, clk, _ := newTestAxis(DefaultConfig("x"))
		So(a.Mode(), ShouldEqual, Disabled)
		So(a.SetSpeed(50), ShouldBeTrue)
		So(a.Speed(), ShouldEqual, 0)
		So(clk.running, ShouldBeFalse)
	})
}

func TestFreeRunning(t *testing.T) {
	Convey("A free-running axis", t, func() {
		a, clk, drv := newTestAxis(DefaultConfig("x"))
		a.Enable(true)
		a.FreeRun(-1)
		a.SetSpeed(-20)
		So(a.Mode(), ShouldEqual, FreeRunning)
		So(clk.running, ShouldBeTrue)
		So(clk.dir, ShouldEqual, -1)
		So(clk.freq, ShouldEqual, 40)

		Convey("steps on every callback", func() {
			clk.fire(10)
			So(a.Position(), ShouldEqual, -5)
			So(drv.steps, ShouldEqual, -10)
			So(drv.energized, ShouldBeTrue)
		})

		Convey("stops and releases the motor when the speed reaches 0", func() {
			a.SetSpeed(0)
			So(clk.running, ShouldBeFalse)
			So(drv.energized, ShouldBeFalse)
			clk.fn(-1)
			So(a.Position(), ShouldEqual, 0)
		})

		Convey("keeps its speed when the direction is reversed", func() {
			a.FreeRun(1)
			So(a.Speed(), ShouldEqual, -20)
			So(clk.running, ShouldBeTrue)
			So(clk.dir, ShouldEqual, -1)
		})

		Convey("restarts the clock when the speed changes", func() {
			a.SetSpeed(-40)
			So(clk.freq, ShouldEqual, 80)
			So(clk.starts, ShouldEqual, 2)
		})

		Convey("full steps move two half steps per callback", func() {
			cfg := DefaultConfig("y")
			cfg.StepSize = 2
			b, bclk, _ := newTestAxis(cfg)
			b.Enable(true)
			b.FreeRun(1)
			b.SetSpeed(20)
			So(bclk.freq, ShouldEqual, 20)
			bclk.fire(7)
			So(b.Position(), ShouldEqual, 7)
		})
	})
}

func TestModeChanges(t *testing.T) {
	Convey("Reversing a fast free-running axis", t, func() {
		cfg := DefaultConfig("x")
		cfg.MaxSpeed = 400
		cfg.MaxAccel = 20
		a, _, _ := newTestAxis(cfg)
		a.Enable(true)
		a.FreeRun(-1)
		for a.Speed() != -200 {
			a.SetSpeed(-200)
		}
		a.FreeRun(1)
		So(a.Speed(), ShouldEqual, -200)

		Convey("ramps through 0 at the acceleration limit", func() {
			last := a.Speed()
			for last != 200 {
				a.SetSpeed(200)
				So(a.Speed()-last, ShouldBeBetweenOrEqual, 0, 20)
				last = a.Speed()
			}
			So(a.Mode(), ShouldEqual, FreeRunning)
		})
	})

	Convey("Returning to tracking from free-running", t, func() {
		cfg := DefaultConfig("x")
		cfg.MaxSpeed = 400
		cfg.MaxAccel = 20
		a, clk, _ := newTestAxis(cfg)
		a.Enable(true)
		a.SetTarget(100)
		a.FreeRun(-1)
		for a.Speed() != -200 {
			a.SetSpeed(-200)
		}

		Convey("away from the target ramps down before switching", func() {
			a.TrackTarget()
			So(a.Speed(), ShouldEqual, -200)
			So(a.Mode(), ShouldEqual, FreeRunning)
			last := a.Speed()
			for a.Mode() == FreeRunning {
				a.Update(cfg.Tick)
				So(a.Speed()-last, ShouldBeBetweenOrEqual, 0, 20)
				last = a.Speed()
			}
			So(a.Speed(), ShouldEqual, 0)
			So(a.Mode(), ShouldEqual, Tracking)
			a.SetSpeed(200)
			So(a.Speed(), ShouldEqual, 20)
			So(clk.dir, ShouldEqual, 0)
		})

		Convey("ignores speed requests until stopped", func() {
			a.TrackTarget()
			So(a.SetSpeed(200), ShouldBeTrue)
			So(a.Speed(), ShouldEqual, -180)
		})

		Convey("towards the target switches at once", func() {
			a.SetTarget(-1000)
			a.TrackTarget()
			So(a.Mode(), ShouldEqual, Tracking)
			So(a.Speed(), ShouldEqual, 200)
		})

		Convey("back to free-running keeps the velocity", func() {
			a.SetTarget(-1000)
			a.TrackTarget()
			a.FreeRun(-1)
			So(a.Mode(), ShouldEqual, FreeRunning)
			So(a.Speed(), ShouldEqual, -200)
		})

		Convey("free-running again cancels the switch", func() {
			a.TrackTarget()
			a.FreeRun(-1)
			a.Update(cfg.Tick)
			So(a.Speed(), ShouldEqual, -200)
			So(a.Mode(), ShouldEqual, FreeRunning)
		})
	})
}

func TestTracking(t *testing.T) {
	Convey("A tracking axis", t, func() {
		a, clk, drv := newTestAxis(DefaultConfig("x"))
		a.Enable(true)
		a.SetTarget(10)
		a.SetSpeed(20)
		So(a.Mode(), ShouldEqual, Tracking)
		So(clk.running, ShouldBeTrue)
		So(clk.dir, ShouldEqual, 0)

		Convey("moves to the target and stops there", func() {
			clk.fire(100)
			So(a.Position(), ShouldEqual, 10)
			So(drv.steps, ShouldEqual, 20)
			a.Update(10)
			So(clk.running, ShouldBeFalse)
			So(drv.energized, ShouldBeFalse)
		})

		Convey("restarts when the target moves", func() {
			clk.fire(100)
			a.Update(10)
			a.SetTarget(5)
			So(clk.running, ShouldBeTrue)
			clk.fire(100)
			So(a.Position(), ShouldEqual, 5)
		})

		Convey("driver failures leave the position unchanged", func() {
			drv.fail = errors.New("busy")
			clk.fire(5)
			So(a.Position(), ShouldEqual, 0)
			drv.fail = nil
			clk.fire(4)
			So(a.Position(), ShouldEqual, 2)
		})
	})
}

func TestCalibration(t *testing.T) {
	Convey("An uncalibrated axis moving towards the end-stop", t, func() {
		a, clk, _ := newTestAxis(DefaultConfig("x"))
		a.Enable(true)
		a.FreeRun(-1)
		for i := 0; i < 5; i++ {
			a.SetSpeed(-100)
		}
		clk.fire(2000)
		So(a.Position(), ShouldEqual, -1000)
		So(a.Calibrated(), ShouldBeFalse)

		a.OnEndstopHit()

		Convey("is calibrated at 0 and stopped in one step", func() {
			s := a.State()
			So(s.Calibrated, ShouldBeTrue)
			So(s.Position, ShouldEqual, 0)
			So(s.Speed, ShouldEqual, 0)
			So(s.Endstops, ShouldEqual, 1)
			a.Update(10)
			So(clk.running, ShouldBeFalse)
		})

		Convey("cannot be driven beyond the end-stop", func() {
			So(a.SetSpeed(-20), ShouldBeTrue)
			So(a.Speed(), ShouldEqual, 0)
		})

		Convey("bounds its target", func() {
			a.SetTarget(-50)
			So(a.Target(), ShouldEqual, 0)
			a.SetTarget(5000)
			So(a.Target(), ShouldEqual, 3100)
		})

		Convey("stays calibrated and stops on later hits when moving towards the end-stop", func() {
			a.FreeRun(1)
			a.SetSpeed(20)
			clk.fire(100)
			So(a.Position(), ShouldEqual, 50)
			a.FreeRun(-1)
			a.SetSpeed(-20)
			So(a.Speed(), ShouldEqual, 0)
			a.SetSpeed(-20)
			clk.fire(10)
			So(a.Position(), ShouldEqual, 45)
			a.OnEndstopHit()
			So(a.Speed(), ShouldEqual, 0)
			So(a.Position(), ShouldEqual, 45)
			So(a.Calibrated(), ShouldBeTrue)
		})

		Convey("ignores hits while moving away", func() {
			a.FreeRun(1)
			a.SetSpeed(20)
			clk.fire(100)
			a.OnEndstopHit()
			So(a.Speed(), ShouldEqual, 20)
			So(a.Position(), ShouldEqual, 50)
		})
	})

	Convey("A calibrated axis stays within its travel", t, func() {
		cfg := DefaultConfig("x")
		cfg.MaxPosition = 30
		a, clk, _ := newTestAxis(cfg)
		a.Enable(true)
		a.OnEndstopHit()
		a.FreeRun(1)
		for i := 0; i < 10; i++ {
			a.SetSpeed(200)
		}
		for i := 0; i < 20; i++ {
			clk.fire(7)
			p := a.Update(10)
			So(p, ShouldBeBetweenOrEqual, 0, 30)
		}
		So(a.Position(), ShouldEqual, 30)
		So(a.Speed(), ShouldEqual, 0)
		So(a.SetSpeed(20), ShouldBeTrue)
		So(a.Speed(), ShouldEqual, 0)
		a.FreeRun(-1)
		So(a.SetSpeed(-20), ShouldBeFalse)
		clk.fire(100)
		So(a.Position(), ShouldEqual, 0)
	})
}

func TestDisable(t *testing.T) {
	Convey("Disabling a moving axis", t, func() {
		a, clk, drv := newTestAxis(DefaultConfig("x"))
		a.Enable(true)
		a.FreeRun(1)
		for i := 0; i < 5; i++ {
			a.SetSpeed(100)
		}
		So(a.Speed(), ShouldEqual, 100)
		a.Enable(false)

		Convey("ramps down through the acceleration limit", func() {
			So(a.Speed(), ShouldEqual, 100)
			So(a.Mode(), ShouldEqual, FreeRunning)
			last := a.Speed()
			for a.Speed() != 0 {
				a.Update(10)
				So(last-a.Speed(), ShouldEqual, 20)
				last = a.Speed()
			}
			So(a.Mode(), ShouldEqual, Disabled)
			So(clk.running, ShouldBeFalse)
			So(drv.energized, ShouldBeFalse)
		})

		Convey("can be stopped immediately", func() {
			a.Stop()
			So(a.Speed(), ShouldEqual, 0)
			So(a.Mode(), ShouldEqual, Disabled)
			So(clk.running, ShouldBeFalse)
		})
	})
}

func TestIntegrated(t *testing.T) {
	Convey("An integrated axis", t, func() {
		cfg := DefaultConfig("x")
		cfg.Model = Integrated
		d := &countDriver{}
		a, err := New(cfg, nil, d)
		So(err, ShouldBeNil)
		a.Enable(true)
		a.FreeRun(1)
		for i := 0; i < 5; i++ {
			a.SetSpeed(100)
		}

		Convey("integrates speed over elapsed time", func() {
			for i := 0; i < 100; i++ {
				a.Update(10)
			}
			So(a.Position(), ShouldEqual, 100)
			So(d.steps, ShouldEqual, 200)
		})

		Convey("carries sub-step time between updates", func() {
			for i := 0; i < 300; i++ {
				a.Update(3)
			}
			// 100 steps per second for 900ms.
			So(a.Position(), ShouldEqual, 90)
		})

		Convey("clamps large deltas to one tick", func() {
			a.Update(1000)
			So(a.Position(), ShouldEqual, 1)
		})
	})
}

func TestNew(t *testing.T) {
	Convey("Construction fails without resources", t, func() {
		_, err := New(DefaultConfig("x"), nil, &countDriver{})
		So(errors.Is(err, ErrNoClock), ShouldBeTrue)
		_, err = New(DefaultConfig("x"), &manualClock{}, nil)
		So(errors.Is(err, ErrConfig), ShouldBeTrue)
		cfg := DefaultConfig("x")
		cfg.StepSize = 3
		_, err = New(cfg, &manualClock{}, &countDriver{})
		So(errors.Is(err, ErrConfig), ShouldBeTrue)
	})

	Convey("Clock failures are retried on update", t, func() {
		a, clk, _ := newTestAxis(DefaultConfig("x"))
		clk.fail = errors.New("no timer")
		a.Enable(true)
		a.FreeRun(1)
		a.SetSpeed(20)
		So(clk.running, ShouldBeFalse)
		clk.fail = nil
		a.Update(10)
		So(clk.running, ShouldBeTrue)
	})
}
