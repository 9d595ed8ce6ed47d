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
	"fmt"
)

var (
	ErrConfig  = errors.New("invalid axis config")
	ErrNoClock = errors.New("no step clock available")
)

// Model selects how the position of an axis is advanced.
type Model int

const (
	StepClocked Model = iota // A StepClock calls back once per step
	Integrated               // Update integrates speed over the elapsed time
)

// Config holds the limits of one axis.
// Speeds are in full steps per second, positions in full steps.
type Config struct {
	Name        string
	MaxSpeed    int   // Largest commanded speed
	MaxAccel    int   // Largest change of speed allowed per SetSpeed call
	MaxPosition int   // Upper travel bound once calibrated
	StepSize    int   // Half steps moved per step callback (1 or 2)
	Model       Model // Integration model
	Tick        int   // Largest delta (ms) accepted by Update
}

// DefaultConfig returns the limits used for the XY stage steppers.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxSpeed:    200,
		MaxAccel:    20,
		MaxPosition: 3100,
		StepSize:    1,
		Model:       StepClocked,
		Tick:        10,
	}
}

// Validate checks the limits are usable.
func (c Config) Validate() error {
	switch {
	case c.MaxSpeed <= 0:
		return fmt.Errorf("%s: %w: max speed %d", c.Name, ErrConfig, c.MaxSpeed)
	case c.MaxAccel <= 0:
		return fmt.Errorf("%s: %w: max acceleration %d", c.Name, ErrConfig, c.MaxAccel)
	case c.MaxPosition <= 0:
		return fmt.Errorf("%s: %w: max position %d", c.Name, ErrConfig, c.MaxPosition)
	case c.StepSize != 1 && c.StepSize != 2:
		return fmt.Errorf("%s: %w: step size %d", c.Name, ErrConfig, c.StepSize)
	case c.Tick <= 0:
		return fmt.Errorf("%s: %w: tick %dms", c.Name, ErrConfig, c.Tick)
	case c.Model != StepClocked && c.Model != Integrated:
		return fmt.Errorf("%s: %w: model %d", c.Name, ErrConfig, c.Model)
	}
	return nil
}
