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

// Four leg PWM motor driver

package io

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aamcrae/hexdrive/plan"
)

// DefaultKeepAlive is how long outputs are held without a new SetOutput.
const DefaultKeepAlive = time.Second

// Drive drives two DC motors through four PWM legs, with an optional
// power supply enable pin and power detect input. If no output is set
// within the keep-alive period the legs are turned off.
type Drive struct {
	Name      string
	legs      [plan.Channels]PWM
	enable    Setter // Power supply enable, may be nil
	detect    Getter // Power source detect, may be nil
	mu        sync.Mutex
	period    time.Duration
	keepAlive int // ms, 0 to disable
	idle      int // ms since the last SetOutput
	output    plan.OutputVector
	energized bool
	power     bool
}

// NewDrive creates a Drive from four PWM legs.
func NewDrive(name string, legs [plan.Channels]PWM, enable Setter, detect Getter) (*Drive, error) {
	d := new(Drive)
	d.Name = name
	d.legs = legs
	d.enable = enable
	d.detect = detect
	d.period = DefaultPeriod
	d.keepAlive = int(DefaultKeepAlive.Milliseconds())
	for i, l := range legs {
		if l == nil {
			return nil, fmt.Errorf("%s: leg %d has no PWM", name, i)
		}
		if err := l.Set(d.period, 0); err != nil {
			return nil, fmt.Errorf("%s: leg %d: %v", name, i, err)
		}
	}
	if enable != nil {
		if err := enable.Set(0); err != nil {
			return nil, fmt.Errorf("%s: power: %v", name, err)
		}
	}
	return d, nil
}

// SetKeepAlive sets the keep-alive period. 0 disables it.
func (d *Drive) SetKeepAlive(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keepAlive = int(t.Milliseconds())
}

// SetFreq sets the PWM frequency of all legs.
func (d *Drive) SetFreq(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("%s: invalid frequency %d", d.Name, hz)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.period = time.Second / time.Duration(hz)
	for i, l := range d.legs {
		if err := l.Set(d.period, d.output[i]); err != nil {
			return fmt.Errorf("%s: leg %d freq %dHz: %v", d.Name, i, hz, err)
		}
	}
	log.Printf("%s: PWM frequency %dHz", d.Name, hz)
	return nil
}

// SetOutput sets the duty cycle of all four legs.
func (d *Drive) SetOutput(v plan.OutputVector) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idle = 0
	d.energized = !v.Zero()
	return d.set(v)
}

func (d *Drive) set(v plan.OutputVector) error {
	for i, l := range d.legs {
		if v[i] == d.output[i] {
			continue
		}
		if err := l.Set(d.period, v[i]); err != nil {
			return fmt.Errorf("%s: leg %d: %v", d.Name, i, err)
		}
		d.output[i] = v[i]
	}
	return nil
}

// SetPower turns the motor power supply on or off. The supply is only
// enabled when a power source is detected, but the request is
// remembered either way since the motors may have external power.
func (d *Drive) SetPower(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on == d.power {
		return nil
	}
	log.Printf("%s: power %v", d.Name, on)
	d.power = on
	if d.enable == nil {
		return nil
	}
	if on && d.detect != nil {
		v, err := d.detect.Get()
		if err != nil {
			return fmt.Errorf("%s: power detect: %v", d.Name, err)
		}
		if v == 0 {
			log.Printf("%s: no power source detected", d.Name)
			return nil
		}
	}
	v := 0
	if on {
		v = 1
	}
	return d.enable.Set(v)
}

// Background is called every control tick with the elapsed time,
// and turns the legs off once the keep-alive period expires.
func (d *Drive) Background(delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keepAlive <= 0 {
		return
	}
	d.idle += delta
	if d.idle <= d.keepAlive {
		return
	}
	d.idle = 0
	if d.energized {
		log.Printf("%s: keep-alive timeout", d.Name)
		d.energized = false
	}
	// Reapplied every period in case the outputs were disturbed.
	if err := d.set(plan.OutputVector{}); err != nil {
		log.Printf("%s: keep-alive: %v", d.Name, err)
	}
}

// Output returns the duty cycles last set.
func (d *Drive) Output() plan.OutputVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.output
}

// Close turns everything off and releases the legs.
func (d *Drive) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set(plan.OutputVector{})
	if d.enable != nil {
		d.enable.Set(0)
	}
	for _, l := range d.legs {
		l.Close()
	}
}
