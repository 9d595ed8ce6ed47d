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

package device

import (
	"fmt"

	"github.com/aamcrae/hexdrive/axis"
	"github.com/aamcrae/hexdrive/io"
	"github.com/aamcrae/hexdrive/motion"
	"github.com/aamcrae/hexdrive/plan"
)

// StageAxis combines the I/O for one axis of the XY stage.
// Each stage axis consists of an Axis which tracks the position
// and speed, a step clock and stepper driver moving the motor, and
// an Endstop which calibrates the axis when the switch is hit.
type StageAxis struct {
	Axis    *axis.Axis
	Endstop *Endstop
	Config  *AxisConfig
	clock   *io.TickerClock
	driver  axis.Driver
	pins    []*io.Gpio
	input   *io.Gpio
}

// NewStageAxis initialises the I/O, Axis, and Endstop from the
// axis configuration.
func NewStageAxis(ac *AxisConfig) (*StageAxis, error) {
	s := new(StageAxis)
	s.Config = ac
	out := func(gpio int) (*io.Gpio, error) {
		p, err := io.OutputPin(gpio)
		if err != nil {
			return nil, fmt.Errorf("%s: pin %d: %v", ac.Name, gpio, err)
		}
		s.pins = append(s.pins, p)
		return p, nil
	}
	var err error
	if ac.Phase != nil {
		var p [4]*io.Gpio
		for i, g := range ac.Phase {
			if p[i], err = out(g); err != nil {
				s.Close()
				return nil, err
			}
		}
		s.driver = io.NewPhaseStepper(ac.Axis.StepSize, p[0], p[1], p[2], p[3])
	} else {
		step, err := out(ac.StepDir[0])
		if err != nil {
			s.Close()
			return nil, err
		}
		dir, err := out(ac.StepDir[1])
		if err != nil {
			s.Close()
			return nil, err
		}
		var enable io.Setter
		if ac.StepDir[2] >= 0 {
			en, err := out(ac.StepDir[2])
			if err != nil {
				s.Close()
				return nil, err
			}
			enable = en
		}
		sd, err := io.NewStepDir(step, dir, enable)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: %v", ac.Name, err)
		}
		s.driver = sd
	}
	s.clock = io.NewTickerClock(ac.Axis.MaxSpeed * 2 / ac.Axis.StepSize)
	s.Axis, err = axis.New(ac.Axis, s.clock, s.driver)
	if err != nil {
		s.Close()
		return nil, err
	}
	if ac.Endstop >= 0 {
		edge := io.FALLING
		if ac.Invert {
			edge = io.RISING
		}
		s.input, err = io.InputPin(ac.Endstop, edge)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: end-stop %d: %v", ac.Name, ac.Endstop, err)
		}
		s.Endstop = NewEndstop(ac.Name, s.input, s.Axis, ac.Invert, ac.Debounce)
	}
	return s, nil
}

// Close stops the axis and releases the resources.
func (s *StageAxis) Close() {
	if s.Axis != nil {
		s.Axis.Enable(false)
		s.Axis.Stop()
	}
	if s.clock != nil {
		s.clock.Stop()
	}
	if s.driver != nil {
		s.driver.Energize(false)
	}
	if s.Endstop != nil {
		s.Endstop.Close()
	}
	if s.input != nil {
		s.input.Close()
	}
	for _, p := range s.pins {
		p.Close()
	}
}

// Drive is a motor drive that can be released.
type Drive interface {
	motion.Drive
	Close()
}

// NewDrive opens the drive described by the configuration, either
// a serial link to a drive controller or local PWM outputs.
func NewDrive(dc *DriveConfig) (Drive, error) {
	if dc.Serial != "" {
		d, err := io.OpenSerialDrive(dc.Name, dc.Serial, dc.Baud)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	var legs [plan.Channels]io.PWM
	var enable, detect *io.Gpio
	release := func() {
		for _, l := range legs {
			if l != nil {
				l.Close()
			}
		}
		if enable != nil {
			enable.Close()
		}
		if detect != nil {
			detect.Close()
		}
	}
	for i, u := range dc.PWM {
		p, err := io.NewHwPWM(u)
		if err != nil {
			release()
			return nil, fmt.Errorf("%s: PWM unit %d: %v", dc.Name, u, err)
		}
		legs[i] = p
	}
	var err error
	if dc.Enable >= 0 {
		if enable, err = io.OutputPin(dc.Enable); err != nil {
			release()
			return nil, fmt.Errorf("%s: enable %d: %v", dc.Name, dc.Enable, err)
		}
	}
	if dc.Detect >= 0 {
		if detect, err = io.Pin(dc.Detect); err != nil {
			release()
			return nil, fmt.Errorf("%s: detect %d: %v", dc.Name, dc.Detect, err)
		}
	}
	// Nil pointers must not become non-nil interfaces.
	var en io.Setter
	var det io.Getter
	if enable != nil {
		en = enable
	}
	if detect != nil {
		det = detect
	}
	d, err := io.NewDrive(dc.Name, legs, en, det)
	if err != nil {
		release()
		return nil, err
	}
	g := &gpioDrive{Drive: d, enable: enable, detect: detect}
	if err := d.SetFreq(dc.Freq); err != nil {
		g.Close()
		return nil, err
	}
	d.SetKeepAlive(dc.KeepAlive)
	return g, nil
}

// gpioDrive releases the power pins along with the drive.
type gpioDrive struct {
	*io.Drive
	enable, detect *io.Gpio
}

func (g *gpioDrive) Close() {
	g.Drive.Close()
	if g.enable != nil {
		g.enable.Close()
	}
	if g.detect != nil {
		g.detect.Close()
	}
}
