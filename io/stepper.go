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

// Stepper motor drivers

package io

import (
	"fmt"
)

// Half step sequence of outputs.
var sequence = [][]int{
	{1, 0, 0, 0},
	{1, 1, 0, 0},
	{0, 1, 0, 0},
	{0, 1, 1, 0},
	{0, 0, 1, 0},
	{0, 0, 1, 1},
	{0, 0, 0, 1},
	{1, 0, 0, 1},
}

// PhaseStepper drives the 4 coils of a stepper directly, as the
// HexDrive does when it is configured for a stepper instead of
// two motors.
type PhaseStepper struct {
	pins  [4]Setter
	inc   int  // Sequence entries per step, 1 for half steps, 2 for full steps
	index int  // Index to step sequence
	on    bool // true if motor drivers on
}

// NewPhaseStepper creates a driver using 4 output pins.
// stepSize is 1 for half steps or 2 for full steps.
func NewPhaseStepper(stepSize int, pin1, pin2, pin3, pin4 Setter) *PhaseStepper {
	s := new(PhaseStepper)
	s.pins = [4]Setter{pin1, pin2, pin3, pin4}
	s.inc = stepSize
	return s
}

// Step moves one step in dir.
func (s *PhaseStepper) Step(dir int) error {
	if dir < 0 {
		s.index = (s.index - s.inc) & 7
	} else {
		s.index = (s.index + s.inc) & 7
	}
	s.on = true
	return s.output()
}

// Energize powers the coils at the current phase, or turns them off.
func (s *PhaseStepper) Energize(on bool) error {
	s.on = on
	if !on {
		for _, p := range s.pins {
			if err := p.Set(0); err != nil {
				return err
			}
		}
		return nil
	}
	return s.output()
}

// Phase returns the current sequence index, so that the phase can be
// restored across restarts.
func (s *PhaseStepper) Phase() int {
	return s.index
}

// Restore sets the sequence index.
func (s *PhaseStepper) Restore(i int) {
	s.index = i & 7
}

// Set the GPIO outputs according to the current sequence index.
func (s *PhaseStepper) output() error {
	seq := sequence[s.index]
	for i, p := range s.pins {
		if err := p.Set(seq[i]); err != nil {
			return err
		}
	}
	return nil
}

// StepDir drives a stepper controller with step, direction and
// active low enable inputs.
type StepDir struct {
	step, dir, enable Setter
	lastDir           int
}

// NewStepDir creates a step/direction driver. enable may be nil.
func NewStepDir(step, dir, enable Setter) (*StepDir, error) {
	if step == nil || dir == nil {
		return nil, fmt.Errorf("step and direction pins required")
	}
	s := &StepDir{step: step, dir: dir, enable: enable}
	if err := s.Energize(false); err != nil {
		return nil, err
	}
	return s, nil
}

// Step sets the direction if it has changed and pulses the step pin.
func (s *StepDir) Step(dir int) error {
	if dir != s.lastDir {
		v := 0
		if dir > 0 {
			v = 1
		}
		if err := s.dir.Set(v); err != nil {
			return err
		}
		s.lastDir = dir
	}
	if err := s.step.Set(1); err != nil {
		return err
	}
	return s.step.Set(0)
}

// Energize sets the enable pin.
func (s *StepDir) Energize(on bool) error {
	if s.enable == nil {
		return nil
	}
	if on {
		return s.enable.Set(0)
	}
	return s.enable.Set(1)
}
