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

// Program to demonstrate free-running a stepper axis.

package main

import (
	"flag"
	"log"
	"time"

	"github.com/aamcrae/hexdrive/axis"
	"github.com/aamcrae/hexdrive/io"
)

var gpios = []*int{
	flag.Int("a1", 4, "GPIO pin for motor input 1"),
	flag.Int("a2", 17, "GPIO pin for motor input 2"),
	flag.Int("a3", 27, "GPIO pin for motor input 3"),
	flag.Int("a4", 22, "GPIO pin for motor input 4"),
}
var speed = flag.Int("speed", 100, "Speed in full steps per second")
var runFor = flag.Duration("time", 4*time.Second, "Time to run in each direction")

func main() {
	flag.Parse()
	pins := make([]*io.Gpio, len(gpios))
	for i, gp := range gpios {
		var err error
		pins[i], err = io.OutputPin(*gp)
		if err != nil {
			log.Fatalf("Pin %d: %v", *gp, err)
		}
		defer pins[i].Close()
	}
	stepper := io.NewPhaseStepper(1, pins[0], pins[1], pins[2], pins[3])
	cfg := axis.DefaultConfig("stepper")
	clock := io.NewTickerClock(cfg.MaxSpeed * 2)
	a, err := axis.New(cfg, clock, stepper)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Stop()
	a.Enable(true)
	now := time.Now()
	for _, dir := range []int{1, -1} {
		a.FreeRun(dir)
		end := time.Now().Add(*runFor)
		for time.Now().Before(end) {
			a.SetSpeed(dir * *speed)
			a.Update(cfg.Tick)
			time.Sleep(time.Duration(cfg.Tick) * time.Millisecond)
		}
		// Ramp down.
		for a.Speed() != 0 {
			a.SetSpeed(0)
			a.Update(cfg.Tick)
			time.Sleep(time.Duration(cfg.Tick) * time.Millisecond)
		}
		log.Printf("Position %d, phase %d", a.Position(), stepper.Phase())
	}
	a.Enable(false)
	a.Update(cfg.Tick)
	log.Printf("Elapsed = %s", time.Now().Sub(now))
}
