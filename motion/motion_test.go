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

package motion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aamcrae/hexdrive/axis"
	"github.com/aamcrae/hexdrive/plan"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDrive struct {
	outputs    []plan.OutputVector
	power      bool
	rejects    int // Number of SetOutput calls to reject
	background int
}

func (d *mockDrive) SetOutput(v plan.OutputVector) error {
	if d.rejects > 0 {
		d.rejects--
		return errors.New("busy")
	}
	d.outputs = append(d.outputs, v)
	return nil
}

func (d *mockDrive) SetPower(on bool) error {
	d.power = on
	return nil
}

func (d *mockDrive) Background(delta int) {
	d.background += delta
}

func (d *mockDrive) last() plan.OutputVector {
	if len(d.outputs) == 0 {
		return plan.OutputVector{}
	}
	return d.outputs[len(d.outputs)-1]
}

type nullDriver struct{}

func (nullDriver) Step(int) error      { return nil }
func (nullDriver) Energize(bool) error { return nil }

func newAxis(name string) *axis.Axis {
	cfg := axis.DefaultConfig(name)
	cfg.Model = axis.Integrated
	a, err := axis.New(cfg, nil, nullDriver{})
	if err != nil {
		panic(err)
	}
	return a
}

func TestDriveRun(t *testing.T) {
	Convey("Running recorded commands", t, func() {
		d := &mockDrive{}
		o, err := New(plan.DefaultSettings(), d)
		So(err, ShouldBeNil)
		So(o.Press(plan.Up), ShouldBeNil)
		So(o.Press(plan.Left), ShouldBeNil)
		So(o.State(), ShouldEqual, Recording)
		So(o.Telemetry().Commands, ShouldResemble, []string{"up x 1", "left x 1"})
		So(o.Start(), ShouldBeNil)
		So(o.State(), ShouldEqual, Running)
		So(d.power, ShouldBeTrue)

		Convey("plays the plans and completes", func() {
			up, _ := plan.Build(plan.Up, 1, plan.DefaultSettings())
			o.Tick(10)
			So(d.last(), ShouldResemble, up[0].Output)
			So(o.Press(plan.Down), ShouldEqual, ErrBusy)
			for i := 0; i < 20 && o.State() == Running; i++ {
				o.Tick(10)
			}
			So(o.State(), ShouldEqual, Complete)
			So(d.last().Zero(), ShouldBeTrue)
			So(d.power, ShouldBeFalse)
			So(d.background, ShouldEqual, 160)
			So(o.Press(plan.Down), ShouldBeNil)
		})

		Convey("rejected outputs are retried without stopping the run", func() {
			d.rejects = 3
			o.Tick(10)
			o.Tick(10)
			o.Tick(10)
			So(len(d.outputs), ShouldEqual, 0)
			So(o.State(), ShouldEqual, Running)
			o.Tick(10)
			So(len(d.outputs), ShouldEqual, 1)
			So(o.Telemetry().Faults, ShouldEqual, 3)
		})

		Convey("a rejected final output is retried after completion", func() {
			for i := 0; i < 15; i++ {
				o.Tick(10)
			}
			d.rejects = 1
			o.Tick(10)
			So(o.State(), ShouldEqual, Complete)
			So(d.last().Zero(), ShouldBeFalse)
			o.Tick(10)
			So(d.last().Zero(), ShouldBeTrue)
		})

		Convey("aborting drains to zero", func() {
			for i := 0; i < 3; i++ {
				o.Tick(10)
			}
			o.Abort()
			So(o.State(), ShouldEqual, Draining)
			for i := 0; i < 10 && o.State() == Draining; i++ {
				o.Tick(10)
			}
			So(o.State(), ShouldEqual, Complete)
			So(d.last().Zero(), ShouldBeTrue)
		})

		Convey("emergency stop zeroes the output at once", func() {
			o.Tick(10)
			o.Tick(10)
			o.EmergencyStop()
			So(d.last().Zero(), ShouldBeTrue)
			So(d.power, ShouldBeFalse)
			So(o.State(), ShouldEqual, Idle)
		})
	})

	Convey("Starting with nothing recorded fails", t, func() {
		o, _ := New(plan.DefaultSettings(), &mockDrive{})
		So(o.Start(), ShouldEqual, ErrNoCommands)
	})

	Convey("Invalid settings are rejected", t, func() {
		s := plan.DefaultSettings()
		s.Acceleration = 0
		_, err := New(s, &mockDrive{})
		So(errors.Is(err, plan.ErrSettings), ShouldBeTrue)
		o, _ := New(plan.DefaultSettings(), &mockDrive{})
		So(errors.Is(o.SetSettings(s), plan.ErrSettings), ShouldBeTrue)
	})

	Convey("A stage without a drive rejects drive commands", t, func() {
		o, _ := New(plan.DefaultSettings(), nil)
		So(o.Press(plan.Up), ShouldEqual, ErrNoDrive)
		o.Tick(10)
	})
}

func TestSteppers(t *testing.T) {
	Convey("Stepper commands", t, func() {
		x := newAxis("x")
		y := newAxis("y")
		o, err := New(plan.DefaultSettings(), nil, WithAxis(x), WithAxis(y), WithIdleTimeout(time.Second))
		So(err, ShouldBeNil)
		So(o.Enable("x", true), ShouldBeNil)
		So(o.FreeRun("x", 1), ShouldBeNil)
		for i := 0; i < 5; i++ {
			_, err := o.SetSpeed("x", 100)
			So(err, ShouldBeNil)
		}

		Convey("are forwarded and updated each tick", func() {
			for i := 0; i < 50; i++ {
				o.Tick(10)
			}
			So(x.Position(), ShouldEqual, 50)
			tm := o.Telemetry()
			So(len(tm.Axes), ShouldEqual, 2)
			So(tm.Axes[0].Position, ShouldEqual, 50)
			So(tm.Axes[0].Mode, ShouldEqual, "free-running")
			So(tm.Axes[1].Mode, ShouldEqual, "disabled")
		})

		Convey("stop after the idle timeout", func() {
			for i := 0; i < 99; i++ {
				o.Tick(10)
			}
			So(x.Mode(), ShouldEqual, axis.FreeRunning)
			o.Tick(10)
			So(x.Mode(), ShouldEqual, axis.Disabled)
			So(x.Speed(), ShouldEqual, 0)
		})

		Convey("reset the idle timer", func() {
			for i := 0; i < 90; i++ {
				o.Tick(10)
			}
			So(o.SetTarget("x", 10), ShouldBeNil)
			for i := 0; i < 90; i++ {
				o.Tick(10)
			}
			So(x.Mode(), ShouldNotEqual, axis.Disabled)
		})

		Convey("to an unknown axis fail", func() {
			So(errors.Is(o.SetTarget("z", 1), ErrUnknownAxis), ShouldBeTrue)
		})

		Convey("emergency stop halts every axis", func() {
			o.EmergencyStop()
			So(x.Speed(), ShouldEqual, 0)
			So(x.Enabled(), ShouldBeFalse)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("The control loop ticks until cancelled", t, func() {
		d := &mockDrive{}
		o, _ := New(plan.DefaultSettings(), d)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		o.Run(ctx, 5*time.Millisecond)
		So(d.background, ShouldBeGreaterThan, 50)
	})
}
