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

// Package plan converts drive commands into acceleration limited
// power schedules, and plays those schedules back one tick at a time.

package plan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRepeat is returned when a command has no repeats.
var ErrRepeat = errors.New("repeat count must be at least 1")

// Direction of travel for a drive command.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

var dirNames = []string{"up", "down", "left", "right"}

func (d Direction) String() string {
	if d < Up || d > Right {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return dirNames[d]
}

// ParseDirection converts a name (or its first letter) to a Direction.
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range dirNames {
		if s == n || (len(s) == 1 && s[0] == n[0]) {
			return Direction(i), nil
		}
	}
	return Up, fmt.Errorf("%s: unknown direction", s)
}

// Channels is the number of driver legs.
const Channels = 4

// OutputVector holds the power for each driver leg.
type OutputVector [Channels]uint16

// Zero returns true if all legs are off.
func (v OutputVector) Zero() bool {
	return v == OutputVector{}
}

// Peak returns the largest leg value.
func (v OutputVector) Peak() uint16 {
	var p uint16
	for _, c := range v {
		if c > p {
			p = c
		}
	}
	return p
}

// Vector maps a power magnitude onto the legs used by this direction.
// Legs 0 and 1 drive the right motor forward and back, legs 2 and 3
// the left motor.
func (d Direction) Vector(p uint16) OutputVector {
	switch d {
	case Up:
		return OutputVector{p, 0, p, 0}
	case Down:
		return OutputVector{0, p, 0, p}
	case Left:
		return OutputVector{p, 0, 0, p}
	case Right:
		return OutputVector{0, p, p, 0}
	}
	return OutputVector{}
}

// RampStep is one constant output held for Duration milliseconds.
type RampStep struct {
	Output   OutputVector
	Duration int
}

// Plan is an immutable schedule of ramp steps.
type Plan []RampStep

// Duration returns the total time of the plan in milliseconds.
func (p Plan) Duration() int {
	var t int
	for _, s := range p {
		t += s.Duration
	}
	return t
}

// Build creates the power plan for a direction repeated repeat times.
// The ramp up adds Acceleration every tick for up to repeat+3 ticks,
// stopping early once MaxPower is reached. A plateau pads the plan to
// the commanded duration when there is time left over, and the ramp
// down is the ramp up reversed.
func Build(dir Direction, repeat int, s Settings) (Plan, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if repeat < 1 {
		return nil, fmt.Errorf("%s x %d: %w", dir, repeat, ErrRepeat)
	}
	if dir < Up || dir > Right {
		return nil, fmt.Errorf("%s: unknown direction", dir)
	}
	n := repeat + 3
	var up []RampStep
	power := 0
	for len(up) < n {
		power += int(s.Acceleration)
		if power >= int(s.MaxPower) {
			power = int(s.MaxPower)
			up = append(up, RampStep{dir.Vector(s.MaxPower), s.Tick})
			break
		}
		up = append(up, RampStep{dir.Vector(uint16(power)), s.Tick})
	}
	p := make(Plan, 0, len(up)*2+1)
	p = append(p, up...)
	plateau := s.base(dir)*repeat - 2*(len(up)+1)*s.Tick
	if plateau > 0 {
		p = append(p, RampStep{dir.Vector(uint16(power)), plateau})
	}
	for i := len(up) - 1; i >= 0; i-- {
		p = append(p, up[i])
	}
	return p, nil
}
