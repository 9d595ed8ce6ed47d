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

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/aamcrae/hexdrive/device"
	"github.com/aamcrae/hexdrive/motion"
	"github.com/aamcrae/hexdrive/plan"
	"gopkg.in/yaml.v2"
)

const defaultScript = `
steps:
  - home: x
    speed: 150
  - home: y
    speed: 150
  - axis: x
    target: 300
    speed: 120
  - axis: y
    target: 200
    speed: 120
  - drive: [up, up, left, right, down]
  - wait: 3s
`

// Step is one script command. Exactly one action should be given.
type Step struct {
	Home   string   `yaml:"home"`   // Home the named axis
	Axis   string   `yaml:"axis"`   // Axis for target, speed, free and enable
	Target *int     `yaml:"target"` // Track a position
	Speed  int      `yaml:"speed"`
	Free   *int     `yaml:"free"` // Free-run direction
	Enable *bool    `yaml:"enable"`
	Drive  []string `yaml:"drive"` // Directions to run, waiting for completion
	Abort  bool     `yaml:"abort"`
	Stop   bool     `yaml:"stop"`
	Wait   string   `yaml:"wait"` // Duration to wait
}

// Script is a list of commands with optional drive settings.
type Script struct {
	Acceleration int    `yaml:"acceleration"`
	MaxPower     int    `yaml:"max_power"`
	DriveStep    int    `yaml:"drive_step"`
	TurnStep     int    `yaml:"turn_step"`
	Tick         int    `yaml:"tick"`
	Steps        []Step `yaml:"steps"`

	Settings plan.Settings `yaml:"-"`
}

// ParseScript reads a YAML script, filling in default settings.
func ParseScript(text []byte) (*Script, error) {
	var sc Script
	if err := yaml.UnmarshalStrict(text, &sc); err != nil {
		return nil, err
	}
	s := plan.DefaultSettings()
	if sc.Acceleration != 0 {
		s.Acceleration = uint16(sc.Acceleration)
	}
	if sc.MaxPower != 0 {
		s.MaxPower = uint16(sc.MaxPower)
	}
	if sc.DriveStep != 0 {
		s.DriveStep = sc.DriveStep
	}
	if sc.TurnStep != 0 {
		s.TurnStep = sc.TurnStep
	}
	if sc.Tick != 0 {
		s.Tick = sc.Tick
	}
	if sc.Acceleration < 0 || sc.Acceleration > 65535 || sc.MaxPower < 0 || sc.MaxPower > 65535 {
		return nil, fmt.Errorf("%w: power out of range", plan.ErrSettings)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	for i, st := range sc.Steps {
		if st.Wait != "" {
			if _, err := time.ParseDuration(st.Wait); err != nil {
				return nil, fmt.Errorf("step %d: wait: %v", i+1, err)
			}
		}
		for _, d := range st.Drive {
			if _, err := plan.ParseDirection(d); err != nil {
				return nil, fmt.Errorf("step %d: %v", i+1, err)
			}
		}
	}
	sc.Settings = s
	return &sc, nil
}

// Run executes the script.
func (s *Sim) Run(sc *Script) error {
	for i, st := range sc.Steps {
		if err := s.step(st); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Sim) step(st Step) error {
	switch {
	case st.Home != "":
		a, err := s.O.Axis(st.Home)
		if err != nil {
			return err
		}
		return device.Home(a, st.Speed, time.Minute)
	case st.Axis != "":
		if st.Enable != nil {
			if err := s.O.Enable(st.Axis, *st.Enable); err != nil {
				return err
			}
		}
		if st.Target != nil {
			if err := s.O.Enable(st.Axis, true); err != nil {
				return err
			}
			if err := s.O.SetTarget(st.Axis, *st.Target); err != nil {
				return err
			}
		}
		if st.Free != nil {
			if err := s.O.FreeRun(st.Axis, *st.Free); err != nil {
				return err
			}
		}
		if st.Speed != 0 {
			return s.ramp(st.Axis, st.Speed)
		}
	case len(st.Drive) > 0:
		for _, d := range st.Drive {
			dir, _ := plan.ParseDirection(d)
			if err := s.O.Press(dir); err != nil {
				return err
			}
		}
		if err := s.O.Start(); err != nil {
			return err
		}
		for s.O.State() != motion.Complete {
			time.Sleep(10 * time.Millisecond)
		}
		log.Printf("drive: complete")
	case st.Abort:
		s.O.Abort()
	case st.Stop:
		s.O.EmergencyStop()
	case st.Wait != "":
		d, _ := time.ParseDuration(st.Wait)
		time.Sleep(d)
	}
	return nil
}

// ramp raises the speed of an axis within its acceleration limit.
func (s *Sim) ramp(name string, sps int) error {
	a, err := s.O.Axis(name)
	if err != nil {
		return err
	}
	last := a.Speed()
	for {
		clamped, err := s.O.SetSpeed(name, sps)
		if err != nil {
			return err
		}
		// Done when the speed is reached or can no longer change.
		sp := a.Speed()
		if !clamped || sp == last {
			return nil
		}
		last = sp
		time.Sleep(10 * time.Millisecond)
	}
}
