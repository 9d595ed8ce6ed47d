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

// Package device assembles the drive and stage hardware from a
// configuration file.

package device

import (
	"fmt"
	"time"

	"github.com/aamcrae/config"
	"github.com/aamcrae/hexdrive/axis"
	"github.com/aamcrae/hexdrive/plan"
)

// Default end-stop debounce period.
const defaultDebounce = 20 * time.Millisecond

// AxisConfig is the configuration of one stage axis, read from a configuration file.
type AxisConfig struct {
	Name     string
	Phase    []int // GPIOs for a 4 phase stepper
	StepDir  []int // GPIOs for step, direction and enable (-1 for none)
	Endstop  int   // End-stop GPIO, -1 if none
	Invert   bool  // End-stop is active high
	Debounce time.Duration
	Axis     axis.Config
}

// DriveConfig is the configuration of the drive motors.
type DriveConfig struct {
	Name      string
	PWM       []int  // PWM units for the 4 legs
	Enable    int    // Power enable GPIO, -1 if none
	Detect    int    // Power detect GPIO, -1 if none
	Serial    string // Serial device, replaces PWM and GPIOs
	Baud      int
	Freq      int
	KeepAlive time.Duration
	Settings  plan.Settings
}

// Config reads and validates an axis config from a config file section.
// Sample config:
//  [x]                      # name of axis
//  phase=4,17,27,22         # GPIOs for a 4 phase stepper, or
//  stepdir=5,6,13           # GPIOs for step, direction and enable
//  endstop=21               # GPIO for end-stop switch
//  invert=0                 # end-stop active high if 1
//  debounce=20ms            # End-stop debounce period
//  speed=200                # Max speed, full steps per second
//  accel=20                 # Max speed change per command
//  range=3100               # Full steps from end-stop to far limit
//  stepsize=1               # 1 for half steps, 2 for full steps
func Config(conf *config.Config, name string) (*AxisConfig, error) {
	s := conf.GetSection(name)
	if s == nil {
		return nil, fmt.Errorf("no config for %s", name)
	}
	// Optional integer, using def if not present.
	opt := func(key string, def int) (int, error) {
		if !s.Has(key) {
			return def, nil
		}
		var v int
		n, err := s.Parse(key, "%d", &v)
		if err != nil {
			return 0, fmt.Errorf("%s: %s: %v", name, key, err)
		}
		if n != 1 {
			return 0, fmt.Errorf("%s: %s: argument count", name, key)
		}
		return v, nil
	}
	var err error
	c := &AxisConfig{Name: name, Axis: axis.DefaultConfig(name)}
	if s.Has("phase") {
		c.Phase = make([]int, 4)
		n, err := s.Parse("phase", "%d,%d,%d,%d", &c.Phase[0], &c.Phase[1], &c.Phase[2], &c.Phase[3])
		if err != nil {
			return nil, fmt.Errorf("%s: phase: %v", name, err)
		}
		if n != 4 {
			return nil, fmt.Errorf("%s: invalid phase arguments", name)
		}
	}
	if s.Has("stepdir") {
		c.StepDir = make([]int, 3)
		n, err := s.Parse("stepdir", "%d,%d,%d", &c.StepDir[0], &c.StepDir[1], &c.StepDir[2])
		if err != nil {
			return nil, fmt.Errorf("%s: stepdir: %v", name, err)
		}
		if n != 3 {
			return nil, fmt.Errorf("%s: invalid stepdir arguments", name)
		}
	}
	if (c.Phase == nil) == (c.StepDir == nil) {
		return nil, fmt.Errorf("%s: exactly one of phase or stepdir required", name)
	}
	if c.Endstop, err = opt("endstop", -1); err != nil {
		return nil, err
	}
	inv, err := opt("invert", 0)
	if err != nil {
		return nil, err
	}
	c.Invert = inv != 0
	c.Debounce = defaultDebounce
	if s.Has("debounce") {
		d, err := s.GetArg("debounce")
		if err == nil {
			c.Debounce, err = time.ParseDuration(d)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: debounce: %v", name, err)
		}
	}
	a := &c.Axis
	if a.MaxSpeed, err = opt("speed", a.MaxSpeed); err != nil {
		return nil, err
	}
	if a.MaxAccel, err = opt("accel", a.MaxAccel); err != nil {
		return nil, err
	}
	if a.MaxPosition, err = opt("range", a.MaxPosition); err != nil {
		return nil, err
	}
	if a.StepSize, err = opt("stepsize", a.StepSize); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// DriveConfigFrom reads the drive configuration.
// Sample config:
//  [drive]
//  pwm=0,1,2,3              # PWM units for the 4 legs, or
//  serial=/dev/ttyACM0      # Serial link to the drive controller
//  baud=115200
//  enable=12                # GPIO enabling motor power
//  detect=16                # GPIO detecting a power source
//  freq=20000               # PWM frequency
//  keepalive=1s             # Outputs off if not refreshed
//  accel=7500               # Power change per tick
//  max=65535                # Max power
//  drive=50                 # Up/down step duration (ms)
//  turn=50                  # Left/right step duration (ms)
//  tick=10                  # Control tick (ms)
func DriveConfigFrom(conf *config.Config) (*DriveConfig, error) {
	const name = "drive"
	s := conf.GetSection(name)
	if s == nil {
		return nil, fmt.Errorf("no config for %s", name)
	}
	opt := func(key string, def int) (int, error) {
		if !s.Has(key) {
			return def, nil
		}
		var v int
		n, err := s.Parse(key, "%d", &v)
		if err != nil {
			return 0, fmt.Errorf("%s: %s: %v", name, key, err)
		}
		if n != 1 {
			return 0, fmt.Errorf("%s: %s: argument count", name, key)
		}
		return v, nil
	}
	var err error
	c := &DriveConfig{Name: name, Settings: plan.DefaultSettings()}
	if s.Has("serial") {
		if c.Serial, err = s.GetArg("serial"); err != nil {
			return nil, fmt.Errorf("%s: serial: %v", name, err)
		}
	} else {
		c.PWM = make([]int, plan.Channels)
		n, err := s.Parse("pwm", "%d,%d,%d,%d", &c.PWM[0], &c.PWM[1], &c.PWM[2], &c.PWM[3])
		if err != nil {
			return nil, fmt.Errorf("%s: pwm: %v", name, err)
		}
		if n != plan.Channels {
			return nil, fmt.Errorf("%s: invalid pwm arguments", name)
		}
	}
	if c.Baud, err = opt("baud", 115200); err != nil {
		return nil, err
	}
	if c.Enable, err = opt("enable", -1); err != nil {
		return nil, err
	}
	if c.Detect, err = opt("detect", -1); err != nil {
		return nil, err
	}
	if c.Freq, err = opt("freq", 20000); err != nil {
		return nil, err
	}
	c.KeepAlive = time.Second
	if s.Has("keepalive") {
		k, err := s.GetArg("keepalive")
		if err == nil {
			c.KeepAlive, err = time.ParseDuration(k)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: keepalive: %v", name, err)
		}
	}
	st := &c.Settings
	accel, err := opt("accel", int(st.Acceleration))
	if err != nil {
		return nil, err
	}
	max, err := opt("max", int(st.MaxPower))
	if err != nil {
		return nil, err
	}
	if accel < 0 || accel > 65535 || max < 0 || max > 65535 {
		return nil, fmt.Errorf("%s: power out of range", name)
	}
	st.Acceleration, st.MaxPower = uint16(accel), uint16(max)
	if st.DriveStep, err = opt("drive", st.DriveStep); err != nil {
		return nil, err
	}
	if st.TurnStep, err = opt("turn", st.TurnStep); err != nil {
		return nil, err
	}
	if st.Tick, err = opt("tick", st.Tick); err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
