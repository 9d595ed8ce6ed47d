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

// Package axis controls a single stepper driven axis.
//
// An axis has a commanded speed that is limited in magnitude and in
// rate of change, and either free-runs in the direction of that speed
// or tracks a target position. The zero position is found from an
// end-stop switch, after which the position is bounded to the travel
// range of the axis.
//
// Two contexts use an axis. The tick context (the control loop) calls
// SetSpeed, SetTarget, Enable and Update. The step context (the step
// clock callback and the end-stop handler) only moves the position,
// sets the calibration and stops the axis; it never calls the step
// clock, so that a StepClock may wait for its callbacks to finish.

package axis

import (
	"fmt"
	"log"
	"sync"
)

// StepFunc is called by a StepClock once per step period.
// dir is the direction passed to Start, with 0 meaning track the target.
type StepFunc func(dir int)

// StepClock generates step callbacks at a frequency.
// No callbacks may be made after Stop returns.
type StepClock interface {
	Start(freq, dir int, fn StepFunc) error
	Stop() error
}

// Driver moves the motor one step at a time.
type Driver interface {
	Step(dir int) error
	Energize(on bool) error
}

// Mode is the current operating mode of the axis.
type Mode int

const (
	Disabled Mode = iota
	FreeRunning
	Tracking
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case FreeRunning:
		return "free-running"
	case Tracking:
		return "tracking"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// State is a snapshot of an axis for telemetry.
type State struct {
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	Direction   int    `json:"direction"`
	Position    int    `json:"position"`
	Target      int    `json:"target"`
	Speed       int    `json:"speed"`
	MaxPosition int    `json:"max_position"`
	Calibrated  bool   `json:"calibrated"`
	Enabled     bool   `json:"enabled"`
	Endstops    int    `json:"endstops"`
}

// Axis is one stepper axis.
// Positions are held internally as half steps.
type Axis struct {
	Name  string
	cfg   Config
	clock StepClock
	drv   Driver
	max   int // Upper bound in half steps

	mu         sync.Mutex // Guards the fields below
	pos        int
	target     int
	speed      int
	freeRun    bool
	toTrack    bool // Free-running, returning to tracking once stopped
	enabled    bool
	energized  bool
	calibrated bool
	hits       int // End-stop interrupts seen
	limited    bool
	frac       int // Sub-step remainder for the integrated model

	cmu      sync.Mutex // Guards the step clock state
	running  bool
	freq     int
	clockDir int
}

// New creates an axis. A step clock is required unless the axis uses the
// integrated model. The axis starts disabled, uncalibrated, tracking a
// target of 0.
func New(cfg Config, clock StepClock, drv Driver) (*Axis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if drv == nil {
		return nil, fmt.Errorf("%s: %w: no driver", cfg.Name, ErrConfig)
	}
	if cfg.Model == StepClocked && clock == nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrNoClock)
	}
	a := new(Axis)
	a.Name = cfg.Name
	a.cfg = cfg
	a.clock = clock
	a.drv = drv
	a.max = cfg.MaxPosition * 2
	return a, nil
}

// Config returns the limits of the axis.
func (a *Axis) Config() Config {
	return a.cfg
}

// SetSpeed requests a new speed. The speed is limited to the maximum
// speed and may change by at most the maximum acceleration per call.
// A calibrated axis already at the limit in the direction of travel is
// held at 0. A disabled axis only accepts speeds towards 0.
// Returns true if the requested speed was not applied as given.
func (a *Axis) SetSpeed(sps int) bool {
	a.mu.Lock()
	clamped := false
	if (!a.enabled || a.toTrack) && sps != 0 {
		sps = 0
		clamped = true
	}
	if sps > a.cfg.MaxSpeed {
		sps = a.cfg.MaxSpeed
		clamped = true
	} else if sps < -a.cfg.MaxSpeed {
		sps = -a.cfg.MaxSpeed
		clamped = true
	}
	if v := a.limit(sps); v != sps {
		sps = v
		clamped = true
	}
	if sps != 0 && a.atLimit(a.direction(sps)) {
		sps = 0
		clamped = true
	}
	a.speed = sps
	a.settle()
	a.mu.Unlock()
	a.reconcile()
	return clamped
}

// Speed returns the commanded speed.
func (a *Axis) Speed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speed
}

// SetTarget sets the position to track, in full steps.
// Once calibrated, the target is bounded to the travel range.
func (a *Axis) SetTarget(pos int) {
	a.mu.Lock()
	if a.calibrated {
		pos = bound(pos, 0, a.cfg.MaxPosition)
	}
	a.target = pos * 2
	a.mu.Unlock()
	a.reconcile()
}

// Target returns the tracked target in full steps.
func (a *Axis) Target() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return floorDiv(a.effTarget(), 2)
}

// FreeRun runs the axis continuously, with the sign of the commanded
// speed giving the direction of travel. dir (-1 or 1) is the intended
// direction; a speed against it is left to be ramped through 0 by
// SetSpeed. A dir of 0 returns the axis to tracking its target.
// The velocity is never changed by a mode switch: leaving free-running
// against the direction of the target is deferred until the axis has
// ramped down to 0.
func (a *Axis) FreeRun(dir int) {
	a.mu.Lock()
	if sign(dir) == 0 {
		if a.freeRun {
			a.toTrack = true
			a.settle()
		}
	} else {
		if !a.freeRun {
			// Carry the velocity over as a signed speed.
			a.speed = abs(a.speed) * sign(a.toGo())
		}
		a.freeRun = true
		a.toTrack = false
	}
	a.mu.Unlock()
	a.reconcile()
}

// toGo is the distance to the target in half steps, or 0 if the
// target is less than one step away.
func (a *Axis) toGo() int {
	d := a.effTarget() - a.pos
	if d > -a.cfg.StepSize && d < a.cfg.StepSize {
		return 0
	}
	return d
}

// settle completes a pending return to tracking once it can be made
// without a change of velocity. Must be called with mu held.
func (a *Axis) settle() {
	if !a.toTrack {
		return
	}
	if a.speed != 0 && sign(a.speed) != sign(a.toGo()) {
		return
	}
	a.freeRun = false
	a.toTrack = false
	a.speed = abs(a.speed)
}

// TrackTarget returns the axis to tracking its target.
func (a *Axis) TrackTarget() {
	a.FreeRun(0)
}

// Enable energizes the axis. Disabling ramps the speed down at the
// maximum acceleration over subsequent Update calls, after which the
// step clock is stopped and the motor de-energized.
func (a *Axis) Enable(on bool) {
	a.mu.Lock()
	a.enabled = on
	a.mu.Unlock()
	a.reconcile()
}

// Enabled returns true if the axis is enabled.
func (a *Axis) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Stop halts the axis immediately, bypassing the acceleration limit.
func (a *Axis) Stop() {
	a.mu.Lock()
	a.speed = 0
	a.frac = 0
	a.settle()
	a.mu.Unlock()
	a.reconcile()
}

// Update is called once per control tick with the elapsed milliseconds.
// It advances integrated axes, ramps down disabled axes and brings
// the step clock into line with the commanded speed.
// Returns the current position in full steps.
func (a *Axis) Update(delta int) int {
	if delta < 0 {
		delta = 0
	} else if delta > a.cfg.Tick {
		delta = a.cfg.Tick
	}
	a.mu.Lock()
	if (!a.enabled || a.toTrack) && a.speed != 0 {
		a.speed = a.limit(0)
	}
	a.settle()
	if a.cfg.Model == Integrated && a.speed != 0 {
		a.frac += a.frequency() * delta
		n := a.frac / 1000
		a.frac %= 1000
		dir := 0
		if a.freeRun {
			dir = sign(a.speed)
		}
		for i := 0; i < n && a.speed != 0; i++ {
			if !a.move(dir) {
				a.frac = 0
				break
			}
		}
	}
	pos := floorDiv(a.pos, 2)
	a.mu.Unlock()
	a.reconcile()
	return pos
}

// Position returns the current position in full steps.
func (a *Axis) Position() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return floorDiv(a.pos, 2)
}

// Calibrated returns true once the end-stop has been seen.
func (a *Axis) Calibrated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calibrated
}

// Mode returns the operating mode.
func (a *Axis) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode()
}

// State returns a consistent snapshot of the axis.
func (a *Axis) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := State{
		Name:        a.Name,
		Mode:        a.mode().String(),
		Position:    floorDiv(a.pos, 2),
		Target:      floorDiv(a.effTarget(), 2),
		Speed:       a.speed,
		MaxPosition: a.cfg.MaxPosition,
		Calibrated:  a.calibrated,
		Enabled:     a.enabled,
		Endstops:    a.hits,
	}
	if a.freeRun {
		s.Direction = sign(a.speed)
	}
	return s
}

// OnEndstopHit is called from the end-stop interrupt.
// The first hit calibrates the axis: the current position becomes 0
// and the axis is stopped. Later hits stop an axis moving towards the
// end-stop, and are ignored as spurious otherwise.
func (a *Axis) OnEndstopHit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hits++
	if !a.calibrated {
		a.pos = 0
		a.speed = 0
		a.frac = 0
		a.calibrated = true
		log.Printf("%s: calibrated at end-stop", a.Name)
		return
	}
	if a.speed != 0 && a.direction(a.speed) < 0 {
		a.speed = 0
		a.frac = 0
		log.Printf("%s: end-stop reached at %d", a.Name, floorDiv(a.pos, 2))
		return
	}
	log.Printf("%s: spurious end-stop ignored at %d", a.Name, floorDiv(a.pos, 2))
}

// step is the StepFunc given to the step clock.
func (a *Axis) step(dir int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.speed == 0 {
		return
	}
	a.move(dir)
}

// move takes one step in dir, or towards the target if dir is 0.
// Returns false if no step was taken. Must be called with mu held.
func (a *Axis) move(dir int) bool {
	if dir == 0 {
		d := a.effTarget() - a.pos
		if d > -a.cfg.StepSize && d < a.cfg.StepSize {
			return false
		}
		dir = sign(d)
	}
	np := a.pos + dir*a.cfg.StepSize
	if a.calibrated && (np < 0 || np > a.max) {
		a.speed = 0
		if !a.limited {
			log.Printf("%s: travel limit reached at %d", a.Name, floorDiv(a.pos, 2))
			a.limited = true
		}
		return false
	}
	a.limited = false
	if !a.energized {
		if err := a.drv.Energize(true); err != nil {
			log.Printf("%s: energize: %v", a.Name, err)
			return false
		}
		a.energized = true
	}
	if err := a.drv.Step(dir); err != nil {
		log.Printf("%s: step: %v", a.Name, err)
		return false
	}
	a.pos = np
	return true
}

// reconcile starts, restarts or stops the step clock to match the
// commanded speed, and de-energizes the motor when it is idle.
// Called from the tick context only.
func (a *Axis) reconcile() {
	a.cmu.Lock()
	defer a.cmu.Unlock()
	a.mu.Lock()
	freq := a.frequency()
	dir := 0
	if a.freeRun {
		dir = sign(a.speed)
	} else if d := a.effTarget() - a.pos; d > -a.cfg.StepSize && d < a.cfg.StepSize {
		freq = 0
	}
	release := freq == 0 && a.energized
	if release {
		a.energized = false
	}
	a.mu.Unlock()
	if a.cfg.Model == StepClocked {
		if a.running && (freq != a.freq || dir != a.clockDir) {
			if err := a.clock.Stop(); err != nil {
				log.Printf("%s: clock stop: %v", a.Name, err)
			}
			a.running = false
		}
		if freq > 0 && !a.running {
			if err := a.clock.Start(freq, dir, a.step); err != nil {
				// Retried on the next update.
				log.Printf("%s: clock start %dHz: %v", a.Name, freq, err)
			} else {
				a.running = true
				a.freq = freq
				a.clockDir = dir
			}
		}
	}
	if release {
		if err := a.drv.Energize(false); err != nil {
			log.Printf("%s: de-energize: %v", a.Name, err)
		}
	}
}

// frequency returns step callbacks per second for the commanded speed.
func (a *Axis) frequency() int {
	return abs(a.speed) * 2 / a.cfg.StepSize
}

// limit returns the speed closest to v reachable from the current
// speed within the acceleration limit.
func (a *Axis) limit(v int) int {
	return bound(v, a.speed-a.cfg.MaxAccel, a.speed+a.cfg.MaxAccel)
}

// direction returns the direction of travel for a commanded speed.
func (a *Axis) direction(sps int) int {
	if a.freeRun {
		return sign(sps)
	}
	return sign(a.effTarget() - a.pos)
}

// atLimit returns true if a calibrated axis cannot move further in dir.
func (a *Axis) atLimit(dir int) bool {
	if !a.calibrated {
		return false
	}
	return (dir < 0 && a.pos <= 0) || (dir > 0 && a.pos >= a.max)
}

// effTarget is the target in half steps, bounded once calibrated.
func (a *Axis) effTarget() int {
	if a.calibrated {
		return bound(a.target, 0, a.max)
	}
	return a.target
}

func (a *Axis) mode() Mode {
	if !a.enabled && a.speed == 0 {
		return Disabled
	}
	if a.freeRun {
		return FreeRunning
	}
	return Tracking
}

func bound(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
