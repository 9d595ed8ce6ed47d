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

// Simulator program

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/aamcrae/hexdrive/axis"
	"github.com/aamcrae/hexdrive/device"
	"github.com/aamcrae/hexdrive/io"
	"github.com/aamcrae/hexdrive/motion"
	"github.com/aamcrae/hexdrive/plan"
	"github.com/go-gl/mathgl/mgl64"
)

// Robot geometry.
const (
	wheelBase = 80.0  // mm between the wheels
	topSpeed  = 200.0 // mm/sec at full power
)

// SimDrive is a two wheeled robot driven by the 4 drive legs.
// Legs 0 and 1 drive the right wheel forward and back, and
// legs 2 and 3 the left wheel. The pose is dead-reckoned from
// the outputs on every tick.
type SimDrive struct {
	mu      sync.Mutex
	output  plan.OutputVector
	power   bool
	pos     mgl64.Vec2 // mm
	heading float64    // radians, 0 is along the X axis
	travel  float64    // Total mm travelled by the centre
}

// SetOutput sets the leg duty cycles.
func (d *SimDrive) SetOutput(v plan.OutputVector) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = v
	return nil
}

// SetPower turns the motor power on or off.
func (d *SimDrive) SetPower(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.power = on
	return nil
}

// Background moves the robot for delta milliseconds.
func (d *SimDrive) Background(delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.power {
		return
	}
	dt := float64(delta) / 1000
	right := wheel(d.output[0], d.output[1])
	left := wheel(d.output[2], d.output[3])
	v := (right + left) / 2
	d.heading += (right - left) / wheelBase * dt
	fwd := mgl64.Rotate2D(d.heading).Mul2x1(mgl64.Vec2{1, 0})
	d.pos = d.pos.Add(fwd.Mul(v * dt))
	d.travel += math.Abs(v * dt)
}

// Pose returns the position and heading in degrees.
func (d *SimDrive) Pose() (mgl64.Vec2, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos, mgl64.RadToDeg(d.heading)
}

// wheel returns the wheel speed from the forward and reverse legs.
func wheel(fwd, rev uint16) float64 {
	return (float64(fwd) - float64(rev)) / 65535 * topSpeed
}

// SimStage is a stepper axis on a stage with an end-stop at 0.
// The carriage starts at an unknown position.
type SimStage struct {
	Name    string
	mu      sync.Mutex
	phys    int // Carriage position in half steps
	stepSz  int
	on      bool
	pressed bool
	sw      chan int
	steps   int
}

// NewSimStage creates a stage with the carriage at start full steps.
func NewSimStage(name string, start, stepSize int) *SimStage {
	return &SimStage{Name: name, phys: start * 2, stepSz: stepSize, sw: make(chan int, 10)}
}

// Step moves the carriage, which cannot pass the end-stop.
func (s *SimStage) Step(dir int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.on {
		return fmt.Errorf("%s: not energized", s.Name)
	}
	s.steps++
	s.phys += dir * s.stepSz
	if s.phys < 0 {
		s.phys = 0
	}
	hit := s.phys == 0
	if hit != s.pressed {
		s.pressed = hit
		// The switch pulls the input low when pressed.
		v := 1
		if hit {
			v = 0
		}
		select {
		case s.sw <- v:
		default:
		}
	}
	return nil
}

// Energize powers the motor.
func (s *SimStage) Energize(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = on
	return nil
}

// Poll returns the end-stop input when it changes.
func (s *SimStage) Poll(timeout time.Duration) (int, error) {
	select {
	case v := <-s.sw:
		return v, nil
	case <-time.After(timeout):
		return 0, io.ErrTimeout
	}
}

// Position returns the carriage position in full steps.
func (s *SimStage) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phys / 2
}

var script = flag.String("script", "", "YAML script of commands")
var port = flag.Int("port", 0, "Web server port number")
var xStart = flag.Int("x", 400, "Initial X carriage position")
var yStart = flag.Int("y", 250, "Initial Y carriage position")

func main() {
	flag.Parse()
	text := []byte(defaultScript)
	if *script != "" {
		var err error
		text, err = os.ReadFile(*script)
		if err != nil {
			log.Fatalf("%s: %v", *script, err)
		}
	}
	sc, err := ParseScript(text)
	if err != nil {
		log.Fatalf("script: %v", err)
	}
	sim, err := NewSim(sc.Settings, *xStart, *yStart)
	if err != nil {
		log.Fatalf("simulator: %v", err)
	}
	defer sim.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.O.Run(ctx, time.Duration(sc.Settings.Tick)*time.Millisecond)
	if *port != 0 {
		srv := device.NewServer(sim.O, 100*time.Millisecond)
		go func() {
			log.Fatal(srv.ListenAndServe(fmt.Sprintf(":%d", *port)))
		}()
	}
	if err := sim.Run(sc); err != nil {
		log.Fatalf("script: %v", err)
	}
	pos, hd := sim.Drive.Pose()
	fmt.Printf("Robot at (%.1f, %.1f) heading %.1f degrees\n", pos.X(), pos.Y(), hd)
	for _, st := range sim.Stages {
		a, _ := sim.O.Axis(st.Name)
		fmt.Printf("%s: axis at %d, carriage at %d\n", st.Name, a.Position(), st.Position())
	}
}

// Sim is a simulated robot with an XY stage.
type Sim struct {
	O        *motion.Orchestrator
	Drive    *SimDrive
	Stages   []*SimStage
	clocks   []*io.TickerClock
	endstops []*device.Endstop
}

// NewSim creates the simulated hardware and the orchestrator.
func NewSim(s plan.Settings, x, y int) (*Sim, error) {
	sim := &Sim{Drive: new(SimDrive)}
	opts := []motion.Option{}
	for _, st := range []*SimStage{NewSimStage("x", x, 1), NewSimStage("y", y, 1)} {
		cfg := axis.DefaultConfig(st.Name)
		cfg.Tick = s.Tick
		clk := io.NewTickerClock(cfg.MaxSpeed * 2)
		a, err := axis.New(cfg, clk, st)
		if err != nil {
			sim.Close()
			return nil, err
		}
		sim.Stages = append(sim.Stages, st)
		sim.clocks = append(sim.clocks, clk)
		sim.endstops = append(sim.endstops, device.NewEndstop(st.Name, st, a, false, 0))
		opts = append(opts, motion.WithAxis(a))
	}
	var err error
	sim.O, err = motion.New(s, sim.Drive, opts...)
	if err != nil {
		sim.Close()
		return nil, err
	}
	return sim, nil
}

// Close stops the simulated hardware.
func (s *Sim) Close() {
	for _, c := range s.clocks {
		c.Stop()
	}
	for _, e := range s.endstops {
		e.Close()
	}
}
