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

package plan

import (
	"errors"
	"fmt"
)

// ErrSettings is wrapped by all settings validation errors.
var ErrSettings = errors.New("invalid drive settings")

// Settings holds the tunables used when a plan is built.
// Durations are in milliseconds, power is in output units (0-65535).
type Settings struct {
	Acceleration uint16 // Power added per control tick
	MaxPower     uint16 // Ceiling for any output leg
	DriveStep    int    // Base duration of one Up/Down repeat
	TurnStep     int    // Base duration of one Left/Right repeat
	Tick         int    // Control tick width
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		Acceleration: 7500,
		MaxPower:     65535,
		DriveStep:    50,
		TurnStep:     50,
		Tick:         10,
	}
}

// Validate checks that the settings can produce a plan.
func (s Settings) Validate() error {
	switch {
	case s.Acceleration == 0:
		return fmt.Errorf("%w: acceleration is zero", ErrSettings)
	case s.MaxPower == 0:
		return fmt.Errorf("%w: max power is zero", ErrSettings)
	case s.Tick <= 0:
		return fmt.Errorf("%w: tick %dms", ErrSettings, s.Tick)
	case s.DriveStep <= 0:
		return fmt.Errorf("%w: drive step %dms", ErrSettings, s.DriveStep)
	case s.TurnStep <= 0:
		return fmt.Errorf("%w: turn step %dms", ErrSettings, s.TurnStep)
	}
	return nil
}

// base returns the per-repeat duration for a direction.
func (s Settings) base(d Direction) int {
	if d == Left || d == Right {
		return s.TurnStep
	}
	return s.DriveStep
}
