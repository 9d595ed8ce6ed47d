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

// Stage axis homing and positioning utility

package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aamcrae/config"
	"github.com/aamcrae/hexdrive/axis"
	"github.com/aamcrae/hexdrive/device"
)

var configFile = flag.String("config", "hexdrive.conf", "Configuration file")
var section = flag.String("axis", "", "Axis to position e.g x, y")
var speed = flag.Int("speed", 100, "Speed in steps per second")
var tick = flag.Duration("tick", 10*time.Millisecond, "Update interval")

func main() {
	flag.Parse()
	conf, err := config.ParseFile(*configFile)
	if err != nil {
		log.Fatalf("%s: %v", *configFile, err)
	}
	ac, err := device.Config(conf, *section)
	if err != nil {
		log.Fatalf("%s: %v", *configFile, err)
	}
	sa, err := device.NewStageAxis(ac)
	if err != nil {
		log.Fatalf("Axis: %s %v", *section, err)
	}
	defer sa.Close()
	a := sa.Axis
	go func() {
		t := time.NewTicker(*tick)
		for range t.C {
			a.Update(int(tick.Milliseconds()))
		}
	}()
	if err := device.Home(a, *speed, time.Minute); err != nil {
		log.Fatalf("%v", err)
	}
	ramp(a, *speed)
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("Position %d (target %d, range %d)\n", a.Position(), a.Target(), ac.Axis.MaxPosition)
		fmt.Print("Enter position or command ('help' for help) ")
		text, _ := reader.ReadString('\n')
		text = strings.TrimSuffix(text, "\n")
		switch text {
		case "help":
			fmt.Println("  help - print help")
			fmt.Println("  NNN move to position")
			fmt.Println("  +NNN/-NNN move relative")
			fmt.Println("  h - home again")
			fmt.Println("  q - quit")
		case "q":
			return
		case "h":
			if err := device.Home(a, *speed, time.Minute); err != nil {
				fmt.Printf("%v\n", err)
			}
			ramp(a, *speed)
		default:
			var pos int
			n, err := fmt.Sscanf(text, "%d", &pos)
			if err != nil || n != 1 {
				fmt.Printf("Unrecognised input\n")
				continue
			}
			if strings.HasPrefix(text, "+") || strings.HasPrefix(text, "-") {
				pos += a.Target()
			}
			fmt.Printf("Moving to %d\n", pos)
			a.SetTarget(pos)
			for a.Position() != a.Target() {
				time.Sleep(*tick)
			}
		}
	}
}

// ramp raises the speed one acceleration step per tick, until the
// speed is reached or stops changing.
func ramp(a *axis.Axis, sps int) {
	last := a.Speed()
	for a.SetSpeed(sps) && a.Speed() != last {
		last = a.Speed()
		time.Sleep(*tick)
	}
}
