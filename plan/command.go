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
	"fmt"
)

// Command is a direction with the number of times it was requested.
type Command struct {
	Direction Direction
	Repeat    int
}

func (c Command) String() string {
	return fmt.Sprintf("%s x %d", c.Direction, c.Repeat)
}

// Recorder accumulates direction presses into commands.
// Repeated presses of the same direction extend the open command;
// a new direction closes it and builds its plan using the settings
// current at that time.
type Recorder struct {
	Settings Settings
	open     *Command
	commands []Command
	plans    []Plan
}

// NewRecorder creates a Recorder using these settings.
func NewRecorder(s Settings) *Recorder {
	r := new(Recorder)
	r.Settings = s
	return r
}

// Press records one direction press.
func (r *Recorder) Press(d Direction) error {
	if d < Up || d > Right {
		return fmt.Errorf("%s: unknown direction", d)
	}
	if r.open != nil && r.open.Direction == d {
		r.open.Repeat++
		return nil
	}
	if err := r.Finalize(); err != nil {
		return err
	}
	r.open = &Command{d, 1}
	return nil
}

// Finalize closes the open command (if any) and builds its plan.
// On error the open command is kept so that the settings can be
// corrected and Finalize retried.
func (r *Recorder) Finalize() error {
	if r.open == nil {
		return nil
	}
	p, err := Build(r.open.Direction, r.open.Repeat, r.Settings)
	if err != nil {
		return err
	}
	r.commands = append(r.commands, *r.open)
	r.plans = append(r.plans, p)
	r.open = nil
	return nil
}

// Open returns the command still accepting presses.
func (r *Recorder) Open() (Command, bool) {
	if r.open == nil {
		return Command{}, false
	}
	return *r.open, true
}

// Commands returns the finalized commands.
func (r *Recorder) Commands() []Command {
	return append([]Command(nil), r.commands...)
}

// Plans returns the plans of the finalized commands.
func (r *Recorder) Plans() []Plan {
	return append([]Plan(nil), r.plans...)
}

// Reset discards all recorded commands.
func (r *Recorder) Reset() {
	r.open = nil
	r.commands = nil
	r.plans = nil
}
