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

package io

import (
	"fmt"
	"time"
)

// Shortest on or off time the software PWM will attempt.
const minPulse = 50 * time.Microsecond

type pwmMsg struct {
	on, off time.Duration
	stop    chan struct{}
}

// SwPwm is a PWM output generated by toggling a GPIO from a goroutine.
// It is a fallback for drive legs without a hardware PWM unit, and is
// only suitable for low frequencies.
type SwPwm struct {
	pin Setter
	c   chan pwmMsg
}

// NewSwPWM starts a software PWM on pin, initially off.
func NewSwPWM(pin Setter) *SwPwm {
	p := &SwPwm{pin: pin, c: make(chan pwmMsg, 1)}
	go p.run()
	return p
}

// Close stops the PWM and leaves the output off.
func (p *SwPwm) Close() {
	stop := make(chan struct{})
	p.c <- pwmMsg{stop: stop}
	<-stop
}

// Set changes the output from the end of the current cycle. A pulse
// shorter than minPulse is rounded to fully off or fully on.
func (p *SwPwm) Set(period time.Duration, duty uint16) error {
	if period < minPulse {
		return fmt.Errorf("s/w pwm: period %s too short", period)
	}
	on := time.Duration(dutyNanos(period, duty))
	switch {
	case on < minPulse:
		on = 0
	case period-on < minPulse:
		on = period
	}
	// A request not yet picked up is superseded.
	select {
	case <-p.c:
	default:
	}
	p.c <- pwmMsg{on: on, off: period - on}
	return nil
}

func (p *SwPwm) run() {
	m := pwmMsg{off: 5 * time.Millisecond}
	level := -1
	set := func(v int) {
		if v != level {
			p.pin.Set(v)
			level = v
		}
	}
	set(0)
	for {
		if m.on > 0 {
			set(1)
			time.Sleep(m.on)
		}
		if m.off > 0 {
			set(0)
			time.Sleep(m.off)
		}
		select {
		case n := <-p.c:
			if n.stop != nil {
				p.pin.Set(0)
				close(n.stop)
				return
			}
			m = n
		default:
		}
	}
}
