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

// Interactive shell commands

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aamcrae/hexdrive/device"
	"github.com/aamcrae/hexdrive/motion"
	"github.com/aamcrae/hexdrive/plan"
	"github.com/aamcrae/hexdrive/settings"
	"github.com/abiosoft/ishell"
	"gopkg.in/yaml.v2"
)

const homeTimeout = time.Minute

// host holds the state the shell commands operate on.
type host struct {
	o     *motion.Orchestrator
	store *settings.Store
	prof  settings.Profile
	def   settings.Profile
	quit  func()
}

// axisArgs parses "<axis> <value>" arguments.
func axisArgs(args []string) (string, int, error) {
	if len(args) != 2 {
		return "", 0, fmt.Errorf("expected <axis> <value>")
	}
	v, err := strconv.Atoi(args[1])
	if err != nil {
		return "", 0, fmt.Errorf("%s: %v", args[1], err)
	}
	return args[0], v, nil
}

func (h *host) axisNames(args []string) []string {
	var n []string
	for _, a := range h.o.Axes() {
		n = append(n, a.Name)
	}
	return n
}

func (h *host) shell() *ishell.Shell {
	shell := ishell.New()
	shell.Println("HexDrive shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name: "drive",
		Help: "drive <up|down|left|right> [count] - record a drive command",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 || len(c.Args) > 2 {
				c.Println("drive <direction> [count]")
				return
			}
			d, err := plan.ParseDirection(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			n := 1
			if len(c.Args) == 2 {
				if n, err = strconv.Atoi(c.Args[1]); err != nil || n < 1 {
					c.Println("count must be a positive number")
					return
				}
			}
			for i := 0; i < n; i++ {
				if err := h.o.Press(d); err != nil {
					c.Err(err)
					return
				}
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "go",
		Help: "go - run the recorded drive commands",
		Func: func(c *ishell.Context) {
			if err := h.o.Start(); err != nil {
				c.Err(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "abort",
		Help: "abort - ramp the drive down, or discard recorded commands",
		Func: func(c *ishell.Context) {
			h.o.Abort()
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "stop",
		Help: "stop - stop everything immediately",
		Func: func(c *ishell.Context) {
			h.o.EmergencyStop()
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name:      "target",
		Completer: h.axisNames,
		Help:      "target <axis> <position> - set the position to track",
		Func: func(c *ishell.Context) {
			name, v, err := axisArgs(c.Args)
			if err == nil {
				err = h.o.SetTarget(name, v)
			}
			if err != nil {
				c.Err(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name:      "speed",
		Completer: h.axisNames,
		Help:      "speed <axis> <steps/sec> - set the speed",
		Func: func(c *ishell.Context) {
			name, v, err := axisArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			clamped, err := h.o.SetSpeed(name, v)
			if err != nil {
				c.Err(err)
				return
			}
			if clamped {
				c.Println("speed limited")
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name:      "free",
		Completer: h.axisNames,
		Help:      "free <axis> <-1|0|1> - free-run in a direction, 0 to track the target",
		Func: func(c *ishell.Context) {
			name, v, err := axisArgs(c.Args)
			if err == nil {
				err = h.o.FreeRun(name, v)
			}
			if err != nil {
				c.Err(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name:      "enable",
		Completer: h.axisNames,
		Help:      "enable <axis> <0|1> - enable or disable an axis",
		Func: func(c *ishell.Context) {
			name, v, err := axisArgs(c.Args)
			if err == nil {
				err = h.o.Enable(name, v != 0)
			}
			if err != nil {
				c.Err(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name:      "home",
		Completer: h.axisNames,
		Help:      "home <axis> <steps/sec> - run the axis to its end-stop",
		Func: func(c *ishell.Context) {
			name, v, err := axisArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			a, err := h.o.Axis(name)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("Homing %s\n", name)
			if err := device.Home(a, v, homeTimeout); err != nil {
				c.Err(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "status - show the drive and axes",
		Func: func(c *ishell.Context) {
			y, err := yaml.Marshal(h.o.Telemetry())
			if err != nil {
				c.Err(err)
				return
			}
			c.Print(string(y))
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "settings",
		Help: "settings - list the settings",
		Func: func(c *ishell.Context) {
			for _, k := range settings.Keys() {
				v, _ := h.prof.Get(k)
				d, _ := h.def.Get(k)
				c.Printf("%-14s %6d (default %d)\n", k, v, d)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name:      "set",
		Completer: func([]string) []string { return settings.Keys() },
		Help:      "set <name> <value> - change a setting",
		Func: func(c *ishell.Context) {
			key, v, err := axisArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			p := h.prof
			if err := p.Set(key, v); err != nil {
				c.Err(err)
				return
			}
			if err := h.o.SetSettings(p.Drive); err != nil {
				c.Err(err)
				return
			}
			h.prof = p
			if key == "x_range" || key == "y_range" {
				c.Println("travel range takes effect on restart")
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "save",
		Help: "save - store the settings that differ from the defaults",
		Func: func(c *ishell.Context) {
			if err := h.store.Save(h.prof, h.def); err != nil {
				c.Err(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "quit",
		Help: "quit - stop and exit",
		Func: func(c *ishell.Context) {
			h.quit()
		},
	})
	return shell
}
