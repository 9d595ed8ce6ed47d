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

// Program to demonstrate watching an end-stop switch

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/aamcrae/hexdrive/device"
	"github.com/aamcrae/hexdrive/io"
)

var gpio = flag.Int("gpio", 21, "GPIO pin for end-stop switch")
var invert = flag.Bool("invert", false, "Switch is active high")
var debounce = flag.Duration("debounce", 20*time.Millisecond, "Debounce period")

type logHit struct{}

func (logHit) OnEndstopHit() {
	log.Printf("pin %d: end-stop hit", *gpio)
}

func main() {
	flag.Parse()
	edge := io.FALLING
	if *invert {
		edge = io.RISING
	}
	p, err := io.InputPin(*gpio, edge)
	if err != nil {
		log.Fatalf("Pin %d: %v", *gpio, err)
	}
	defer p.Close()
	e := device.NewEndstop("watch", p, logHit{}, *invert, *debounce)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	e.Close()
	hits, alarms := e.Counts()
	log.Printf("%d hits, %d false alarms", hits, alarms)
}
