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

// Package motion ties drive plans and stepper axes to a control loop.

package motion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aamcrae/hexdrive/axis"
	"github.com/aamcrae/hexdrive/plan"
)

var (
	ErrBusy        = errors.New("run in progress")
	ErrNoCommands  = errors.New("no commands recorded")
	ErrNoDrive     = errors.New("no drive attached")
	ErrUnknownAxis = errors.New("unknown axis")
)

// DefaultIdleTimeout is the time without stepper input after which
// the axes are stopped.
const DefaultIdleTimeout = 2 * time.Minute

// Drive is the motor driver for the drive path.
type Drive interface {
	SetOutput(plan.OutputVector) error
	SetPower(on bool) error
}

// A Drive implementing backgrounder is called every tick.
type backgrounder interface {
	Background(delta int)
}

// RunState is the state of the drive path.
type RunState int

const (
	Idle RunState = iota
	Recording
	Running
	Draining
	Complete
)

func (r RunState) String() string {
	switch r {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("state(%d)", int(r))
}

// Telemetry is a snapshot of the orchestrator.
type Telemetry struct {
	State     string            `json:"state"`
	Output    plan.OutputVector `json:"output"`
	Remaining int               `json:"remaining_ms"`
	Commands  []string          `json:"commands"`
	Faults    int               `json:"faults"`
	Axes      []axis.State      `json:"axes"`
}

// Orchestrator feeds plans to a drive and forwards commands to axes,
// advancing both on every control tick.
type Orchestrator struct {
	mu          sync.Mutex
	settings    plan.Settings
	drive       Drive
	axes        []*axis.Axis
	byName      map[string]*axis.Axis
	rec         *plan.Recorder
	seq         *plan.Sequencer
	state       RunState
	output      plan.OutputVector
	pending     bool // Output not yet accepted by the drive
	power       bool // Wanted power state
	powered     bool // Power state accepted by the drive
	faults      int
	idleTimeout int // ms
	idle        int // ms since the last stepper command
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAxis adds a stepper axis.
func WithAxis(a *axis.Axis) Option {
	return func(o *Orchestrator) {
		o.axes = append(o.axes, a)
		o.byName[a.Name] = a
	}
}

// WithIdleTimeout sets the stepper idle timeout. 0 disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.idleTimeout = int(d.Milliseconds())
	}
}

// New creates an Orchestrator. The drive may be nil if only axes are used.
func New(s plan.Settings, drive Drive, opts ...Option) (*Orchestrator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	o := new(Orchestrator)
	o.settings = s
	o.drive = drive
	o.byName = make(map[string]*axis.Axis)
	o.rec = plan.NewRecorder(s)
	o.idleTimeout = int(DefaultIdleTimeout.Milliseconds())
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Settings returns the current drive settings.
func (o *Orchestrator) Settings() plan.Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// SetSettings replaces the drive settings used for new plans.
// Plans already built are not changed.
func (o *Orchestrator) SetSettings(s plan.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settings = s
	o.rec.Settings = s
	return nil
}

// Press records a direction press.
func (o *Orchestrator) Press(d plan.Direction) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.drive == nil {
		return ErrNoDrive
	}
	if o.state == Running || o.state == Draining {
		return ErrBusy
	}
	if err := o.rec.Press(d); err != nil {
		return err
	}
	o.state = Recording
	return nil
}

// Start runs the recorded commands.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.drive == nil {
		return ErrNoDrive
	}
	if o.state == Running || o.state == Draining {
		return ErrBusy
	}
	if err := o.rec.Finalize(); err != nil {
		return err
	}
	plans := o.rec.Plans()
	if len(plans) == 0 {
		return ErrNoCommands
	}
	log.Printf("drive: starting %d commands %v", len(plans), o.rec.Commands())
	o.seq = plan.NewSequencer(o.settings, plans...)
	o.rec.Reset()
	o.state = Running
	o.setPower(true)
	return nil
}

// Abort ramps a running plan down to zero output, or discards
// commands still being recorded.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case Running:
		log.Printf("drive: aborting, %dms remaining", o.seq.Remaining())
		o.seq.Abort()
		o.state = Draining
	case Recording:
		o.rec.Reset()
		o.state = Idle
	}
}

// EmergencyStop zeroes the drive output and stops every axis immediately.
func (o *Orchestrator) EmergencyStop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	log.Printf("emergency stop")
	o.rec.Reset()
	o.seq = nil
	if o.drive != nil {
		o.setOutput(plan.OutputVector{})
		o.setPower(false)
	}
	o.state = Idle
	for _, a := range o.axes {
		a.Stop()
		a.Enable(false)
	}
}

// State returns the drive run state.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Tick advances everything by delta milliseconds.
func (o *Orchestrator) Tick(delta int) {
	if delta < 0 {
		delta = 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.drive != nil {
		o.tickDrive(delta)
	}
	for _, a := range o.axes {
		a.Update(delta)
	}
	o.checkIdle(delta)
}

func (o *Orchestrator) tickDrive(delta int) {
	switch o.state {
	case Running, Draining:
		v, ok := o.seq.Advance(delta)
		if !ok {
			log.Printf("drive: run complete")
			o.seq = nil
			o.state = Complete
			o.setOutput(plan.OutputVector{})
			o.setPower(false)
		} else {
			o.setOutput(v)
		}
	default:
		if o.pending {
			o.apply()
		}
	}
	if o.power != o.powered {
		o.setPower(o.power)
	}
	if b, ok := o.drive.(backgrounder); ok {
		b.Background(delta)
	}
}

// setOutput applies an output, leaving it pending if the drive rejects it.
func (o *Orchestrator) setOutput(v plan.OutputVector) {
	o.output = v
	o.pending = true
	o.apply()
}

func (o *Orchestrator) apply() {
	if err := o.drive.SetOutput(o.output); err != nil {
		o.faults++
		log.Printf("drive: output %v rejected: %v", o.output, err)
		return
	}
	o.pending = false
}

func (o *Orchestrator) setPower(on bool) {
	o.power = on
	if err := o.drive.SetPower(on); err != nil {
		o.faults++
		log.Printf("drive: power %v rejected: %v", on, err)
		return
	}
	o.powered = on
}

// checkIdle stops the axes if no stepper command has arrived within
// the idle timeout.
func (o *Orchestrator) checkIdle(delta int) {
	if o.idleTimeout <= 0 {
		return
	}
	active := false
	for _, a := range o.axes {
		if a.Mode() != axis.Disabled {
			active = true
		}
	}
	if !active {
		o.idle = 0
		return
	}
	o.idle += delta
	if o.idle >= o.idleTimeout {
		log.Printf("steppers: idle for %dms, stopping", o.idle)
		for _, a := range o.axes {
			a.Stop()
			a.Enable(false)
		}
		o.idle = 0
	}
}

// Axes returns the stepper axes.
func (o *Orchestrator) Axes() []*axis.Axis {
	return append([]*axis.Axis(nil), o.axes...)
}

// Axis returns the named axis.
func (o *Orchestrator) Axis(name string) (*axis.Axis, error) {
	a, ok := o.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownAxis)
	}
	return a, nil
}

// stepper looks up an axis for a command and resets the idle timer.
func (o *Orchestrator) stepper(name string) (*axis.Axis, error) {
	a, err := o.Axis(name)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.idle = 0
	o.mu.Unlock()
	return a, nil
}

// SetTarget sets the target position of an axis.
func (o *Orchestrator) SetTarget(name string, pos int) error {
	a, err := o.stepper(name)
	if err != nil {
		return err
	}
	a.SetTarget(pos)
	return nil
}

// SetSpeed sets the speed of an axis, returning true if it was limited.
func (o *Orchestrator) SetSpeed(name string, sps int) (bool, error) {
	a, err := o.stepper(name)
	if err != nil {
		return false, err
	}
	return a.SetSpeed(sps), nil
}

// FreeRun sets an axis free-running in dir, or tracking if dir is 0.
func (o *Orchestrator) FreeRun(name string, dir int) error {
	a, err := o.stepper(name)
	if err != nil {
		return err
	}
	a.FreeRun(dir)
	return nil
}

// Enable enables or disables an axis.
func (o *Orchestrator) Enable(name string, on bool) error {
	a, err := o.stepper(name)
	if err != nil {
		return err
	}
	a.Enable(on)
	return nil
}

// Telemetry returns a snapshot for display.
func (o *Orchestrator) Telemetry() Telemetry {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := Telemetry{
		State:  o.state.String(),
		Output: o.output,
		Faults: o.faults,
	}
	if o.seq != nil {
		t.Remaining = o.seq.Remaining()
	}
	for _, c := range o.rec.Commands() {
		t.Commands = append(t.Commands, c.String())
	}
	if c, ok := o.rec.Open(); ok {
		t.Commands = append(t.Commands, c.String())
	}
	for _, a := range o.axes {
		t.Axes = append(t.Axes, a.State())
	}
	return t
}

// Run calls Tick every period with the measured elapsed time until
// the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// Sub-millisecond time is left in last for the next tick.
			ms := now.Sub(last).Milliseconds()
			last = last.Add(time.Duration(ms) * time.Millisecond)
			o.Tick(int(ms))
		}
	}
}
