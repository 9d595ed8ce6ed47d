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

// GPIO pins via sysfs

package io

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Pin directions.
const (
	IN = iota
	OUT
)

// Edges that wake Poll on an input pin.
const (
	NONE = iota
	RISING
	FALLING
	BOTH
)

var dirNames = []string{"in", "out"}
var edgeNames = []string{"none", "rising", "falling", "both"}

const gpioDir = "/sys/class/gpio/"

// ErrTimeout is returned by Poll when no edge arrives in time.
var ErrTimeout = errors.New("timeout")

// Gpio is one exported sysfs GPIO line.
type Gpio struct {
	number    int
	value     *os.File
	buf       [1]byte
	direction int
	edge      int
	pollfd    []unix.PollFd
}

// OutputPin opens a GPIO as an output.
func OutputPin(gpio int) (*Gpio, error) {
	return open(gpio, OUT, NONE)
}

// InputPin opens a GPIO as an input that wakes Poll on the given edge.
func InputPin(gpio, edge int) (*Gpio, error) {
	return open(gpio, IN, edge)
}

// Pin opens a GPIO as an input without edge detection.
func Pin(gpio int) (*Gpio, error) {
	return open(gpio, IN, NONE)
}

func open(gpio, dir, edge int) (*Gpio, error) {
	if dir < IN || dir > OUT {
		return nil, fmt.Errorf("gpio%d: unknown direction %d", gpio, dir)
	}
	if edge < NONE || edge > BOTH {
		return nil, fmt.Errorf("gpio%d: unknown edge %d", gpio, edge)
	}
	if dir == OUT && edge != NONE {
		return nil, fmt.Errorf("gpio%d: edge detection on an output", gpio)
	}
	g := &Gpio{number: gpio, direction: dir, edge: edge}
	if err := export(g.attr("value"), gpioDir+"export", gpio); err != nil {
		return nil, err
	}
	err := writeFile(g.attr("direction"), dirNames[dir])
	if err == nil && dir == IN {
		// The kernel only accepts an edge setting on inputs.
		err = writeFile(g.attr("edge"), edgeNames[edge])
	}
	if err == nil {
		g.value, err = os.OpenFile(g.attr("value"), os.O_RDWR, 0600)
	}
	if err != nil {
		unexport(gpioDir+"unexport", gpio)
		return nil, fmt.Errorf("gpio%d: %w", gpio, err)
	}
	g.pollfd = []unix.PollFd{{Fd: int32(g.value.Fd()), Events: unix.POLLPRI | unix.POLLERR}}
	return g, nil
}

func (g *Gpio) attr(name string) string {
	return fmt.Sprintf("%sgpio%d/%s", gpioDir, g.number, name)
}

// Set drives an output pin to 0 or 1.
func (g *Gpio) Set(v int) error {
	if g.direction != OUT {
		return fmt.Errorf("gpio%d: not an output", g.number)
	}
	switch v {
	case 0:
		g.buf[0] = '0'
	case 1:
		g.buf[0] = '1'
	default:
		return fmt.Errorf("gpio%d: illegal value %d", g.number, v)
	}
	_, err := g.value.WriteAt(g.buf[:], 0)
	return err
}

// Get returns the pin level, first waiting for an edge if edge
// detection is enabled.
func (g *Gpio) Get() (int, error) {
	return g.Poll(-1)
}

// Poll is Get with a timeout; a negative timeout waits forever.
func (g *Gpio) Poll(timeout time.Duration) (int, error) {
	if g.edge != NONE {
		ms := -1
		if timeout >= 0 {
			ms = int(timeout.Milliseconds())
		}
		g.pollfd[0].Revents = 0
		n, err := unix.Poll(g.pollfd, ms)
		switch {
		case err == unix.EINTR, err == nil && n == 0:
			return 0, ErrTimeout
		case err != nil:
			return 0, err
		}
	}
	if _, err := g.value.ReadAt(g.buf[:], 0); err != nil {
		return 0, err
	}
	switch g.buf[0] {
	case '0':
		return 0, nil
	case '1':
		return 1, nil
	}
	return 0, fmt.Errorf("gpio%d: unexpected value %q", g.number, g.buf[0])
}

// Close releases and unexports the pin.
func (g *Gpio) Close() {
	g.value.Close()
	unexport(gpioDir+"unexport", g.number)
}
