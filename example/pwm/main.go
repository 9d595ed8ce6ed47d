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

// Program to demonstrate a drive ramp on a single PWM output

package main

import (
	"flag"
	"log"
	"time"

	"github.com/aamcrae/hexdrive/io"
	"github.com/aamcrae/hexdrive/plan"
)

var pwmUnit = flag.Int("pwm", 0, "PWM unit for PWM example")
var soft = flag.Int("gpio", -1, "Use a s/w PWM on this GPIO instead")
var dir = flag.String("dir", "up", "Drive direction")
var repeat = flag.Int("repeat", 3, "Repeat count")
var leg = flag.Int("leg", 0, "Drive leg to output")

func main() {
	flag.Parse()
	var pwm io.PWM
	period := io.DefaultPeriod
	if *soft >= 0 {
		pin, err := io.OutputPin(*soft)
		if err != nil {
			log.Fatalf("Pin %d: %v", *soft, err)
		}
		defer pin.Close()
		pwm = io.NewSwPWM(pin)
		period = 10 * time.Millisecond
	} else {
		p, err := io.NewHwPWM(*pwmUnit)
		if err != nil {
			log.Fatalf("PWM unit %d: %v", *pwmUnit, err)
		}
		pwm = p
	}
	defer pwm.Close()
	d, err := plan.ParseDirection(*dir)
	if err != nil {
		log.Fatalf("%v", err)
	}
	s := plan.DefaultSettings()
	p, err := plan.Build(d, *repeat, s)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("%s x %d: %d steps, %dms", d, *repeat, len(p), p.Duration())
	seq := plan.NewSequencer(s, p)
	tick := time.Duration(s.Tick) * time.Millisecond
	for {
		v, ok := seq.Advance(s.Tick)
		if !ok {
			break
		}
		if err := pwm.Set(period, v[*leg]); err != nil {
			log.Fatalf("Set: period %s, duty %d: %v", period, v[*leg], err)
		}
		time.Sleep(tick)
	}
	pwm.Set(period, 0)
}
