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

// Homing of stage axes

package device

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aamcrae/hexdrive/axis"
)

// ErrHomeTimeout is returned when the end-stop is not reached in time.
var ErrHomeTimeout = errors.New("end-stop not reached")

const homePoll = 20 * time.Millisecond

// Home runs the axis towards its end-stop until the switch is hit,
// leaving the axis tracking position 0. The speed is raised towards
// the requested speed within the acceleration limit of the axis.
// A calibrated axis is home once it reaches position 0, where its
// travel limit stops it even if the switch gives no new edge.
func Home(a *axis.Axis, speed int, timeout time.Duration) error {
	if speed <= 0 {
		return fmt.Errorf("%s: home speed %d", a.Name, speed)
	}
	log.Printf("%s: Starting homing", a.Name)
	start := a.State().Endstops
	a.Enable(true)
	a.FreeRun(-1)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st := a.State(); st.Endstops > start || (st.Calibrated && st.Position <= 0) {
			a.Stop()
			a.SetTarget(0)
			a.TrackTarget()
			log.Printf("%s: Homing complete", a.Name)
			return nil
		}
		a.SetSpeed(-speed)
		time.Sleep(homePoll)
	}
	a.Stop()
	a.TrackTarget()
	return fmt.Errorf("%s: %w after %s", a.Name, ErrHomeTimeout, timeout)
}
