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

// Sequencer replays one or more plans against elapsed time.
// Time not consumed by a finished step is carried into the next
// step, so the schedule does not drift regardless of how the
// elapsed time is chunked.
type Sequencer struct {
	accel     uint16
	tick      int
	steps     []RampStep
	next      int          // Index of the next step to pull
	current   OutputVector // Output of the step in progress
	remaining int          // Time left in the current step, may be <= 0 inside Advance
	done      bool
}

// NewSequencer creates a Sequencer walking the concatenation of the plans.
// The tick width and acceleration are taken from the settings.
func NewSequencer(s Settings, plans ...Plan) *Sequencer {
	q := new(Sequencer)
	q.accel = s.Acceleration
	q.tick = s.Tick
	if q.tick <= 0 {
		q.tick = DefaultSettings().Tick
	}
	if q.accel == 0 {
		q.accel = DefaultSettings().Acceleration
	}
	for _, p := range plans {
		q.steps = append(q.steps, p...)
	}
	return q
}

// Advance moves the schedule on by delta milliseconds and returns the
// output in effect during that time. Delta is clamped to one tick.
// When a step ends exactly at the end of this slice the step is still
// reported, and the next step takes effect from the following call.
// Once the schedule is exhausted, Advance returns false.
func (q *Sequencer) Advance(delta int) (OutputVector, bool) {
	if q.done {
		return OutputVector{}, false
	}
	if delta < 0 {
		delta = 0
	} else if delta > q.tick {
		delta = q.tick
	}
	out := q.current
	q.remaining -= delta
	for q.remaining <= 0 {
		if q.next >= len(q.steps) {
			q.done = true
			q.current = OutputVector{}
			q.remaining = 0
			return OutputVector{}, false
		}
		boundary := q.remaining == 0
		st := q.steps[q.next]
		q.next++
		// Carry the overrun into the new step.
		q.remaining += st.Duration
		q.current = st.Output
		if !boundary {
			out = q.current
		}
	}
	return out, true
}

// Abort replaces the rest of the schedule with a ramp down from the
// current output to zero, reducing each leg by the acceleration once
// per tick. The current output is held for at most one more tick.
func (q *Sequencer) Abort() {
	if q.done {
		return
	}
	var drain []RampStep
	v := q.current
	for {
		for i := range v {
			if v[i] > q.accel {
				v[i] -= q.accel
			} else {
				v[i] = 0
			}
		}
		drain = append(drain, RampStep{v, q.tick})
		if v.Zero() {
			break
		}
	}
	q.steps = drain
	q.next = 0
	if q.remaining > q.tick {
		q.remaining = q.tick
	}
}

// Output returns the output of the step in progress.
func (q *Sequencer) Output() OutputVector {
	return q.current
}

// Remaining returns the milliseconds left in the schedule.
func (q *Sequencer) Remaining() int {
	if q.done {
		return 0
	}
	r := q.remaining
	for _, s := range q.steps[q.next:] {
		r += s.Duration
	}
	return r
}

// Done returns true once the schedule is exhausted.
func (q *Sequencer) Done() bool {
	return q.done
}
