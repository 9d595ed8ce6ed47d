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

// Drive attached through a serial link to a microcontroller.
//
// Commands are single lines of text, each prefixed by a sequence
// number that the firmware echoes at the start of its reply:
//
//	<n> P a b c d	set the four leg duty cycles
//	<n> E 0|1	motor power off or on
//	<n> V		report the firmware version
//
// A reply of "<n> OK" or "<n> <version>" indicates success, and
// "<n> ERR <message>" indicates the command was rejected. Replies
// with any other sequence number are late answers to commands that
// have already timed out, and are discarded.

package io

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aamcrae/hexdrive/firmware"
	"github.com/aamcrae/hexdrive/plan"
	"github.com/tarm/serial"
)

// ErrRejected is returned when the firmware rejects a command.
var ErrRejected = errors.New("rejected")

// Port is a serial link.
type Port interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

// SerialDrive implements a drive over a serial Port.
// SetOutput and SetPower never wait for the link: the latest
// requests are sent by a goroutine, and a failure is reported by
// the next call and retried on the following Background call.
type SerialDrive struct {
	Name    string
	Version string
	port    Port
	rd      *bufio.Reader
	seq     int

	mu         sync.Mutex
	cond       *sync.Cond
	out        plan.OutputVector
	power      bool
	outDirty   bool
	powerDirty bool
	busy       bool
	err        error
	kick       chan struct{}
	quit       chan struct{}
	done       chan struct{}
}

// OpenSerialDrive opens a serial device and connects a SerialDrive to it.
func OpenSerialDrive(name, dev string, baud int) (*SerialDrive, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        dev,
		Baud:        baud,
		ReadTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: open %s: %w", name, dev, err)
	}
	d, err := NewSerialDrive(name, p)
	if err != nil {
		p.Close()
		return nil, err
	}
	return d, nil
}

// NewSerialDrive queries the firmware version on the port and
// checks that it is compatible.
func NewSerialDrive(name string, p Port) (*SerialDrive, error) {
	d := &SerialDrive{Name: name, port: p, rd: bufio.NewReader(p)}
	v, err := d.command("V")
	if err != nil {
		return nil, err
	}
	if err := firmware.Check(v, firmware.Required); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if up, err := firmware.NeedsUpgrade(v, firmware.Bundled); err == nil && up {
		log.Printf("%s: firmware %s is older than %s", name, v, firmware.Bundled)
	}
	d.Version = v
	d.cond = sync.NewCond(&d.mu)
	d.kick = make(chan struct{}, 1)
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go d.run()
	return d, nil
}

// SetOutput queues the leg duty cycles.
func (d *SerialDrive) SetOutput(v plan.OutputVector) error {
	d.mu.Lock()
	d.out = v
	d.outDirty = true
	err := d.takeErr()
	d.mu.Unlock()
	d.signal()
	return err
}

// SetPower queues turning the motor power on or off.
func (d *SerialDrive) SetPower(on bool) error {
	d.mu.Lock()
	d.power = on
	d.powerDirty = true
	err := d.takeErr()
	d.mu.Unlock()
	d.signal()
	return err
}

// Background resends anything a previous failure left unsent.
func (d *SerialDrive) Background(delta int) {
	d.mu.Lock()
	retry := !d.busy && (d.outDirty || d.powerDirty)
	d.mu.Unlock()
	if retry {
		d.signal()
	}
}

// Sync waits until the queued requests are sent or one fails,
// returning the failure.
func (d *SerialDrive) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.err == nil && (d.busy || d.outDirty || d.powerDirty) {
		d.cond.Wait()
	}
	return d.takeErr()
}

// Close turns the outputs off and closes the port.
func (d *SerialDrive) Close() {
	d.SetPower(false)
	d.SetOutput(plan.OutputVector{})
	if err := d.Sync(); err != nil {
		log.Printf("%s: %v", d.Name, err)
	}
	close(d.quit)
	<-d.done
	if err := d.port.Close(); err != nil {
		log.Printf("%s: close: %v", d.Name, err)
	}
}

func (d *SerialDrive) takeErr() error {
	err := d.err
	d.err = nil
	return err
}

func (d *SerialDrive) signal() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// run sends the queued requests, power first, until none remain.
// After a failure the request stays queued until the next signal.
func (d *SerialDrive) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		case <-d.kick:
		}
		for d.sendNext() {
		}
	}
}

func (d *SerialDrive) sendNext() bool {
	d.mu.Lock()
	var c string
	isPower := d.powerDirty
	switch {
	case isPower:
		c = "E 0"
		if d.power {
			c = "E 1"
		}
		d.powerDirty = false
	case d.outDirty:
		v := d.out
		c = fmt.Sprintf("P %d %d %d %d", v[0], v[1], v[2], v[3])
		d.outDirty = false
	default:
		d.cond.Broadcast()
		d.mu.Unlock()
		return false
	}
	d.busy = true
	d.mu.Unlock()

	_, err := d.command(c)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = false
	if err != nil {
		d.err = err
		if isPower {
			d.powerDirty = true
		} else {
			d.outDirty = true
		}
	}
	d.cond.Broadcast()
	return err == nil
}

// command writes a tagged command line and reads its reply.
// Only one command is outstanding at a time.
func (d *SerialDrive) command(c string) (string, error) {
	d.seq++
	tag := strconv.Itoa(d.seq)
	if _, err := d.port.Write([]byte(tag + " " + c + "\n")); err != nil {
		return "", fmt.Errorf("%s: %q: %w", d.Name, c, err)
	}
	for {
		line, err := d.rd.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("%s: %q: %w", d.Name, c, err)
		}
		id, reply, _ := strings.Cut(strings.TrimSpace(line), " ")
		if id != tag {
			continue
		}
		reply = strings.TrimSpace(reply)
		if strings.HasPrefix(reply, "ERR") {
			return "", fmt.Errorf("%s: %q: %w: %s", d.Name, c, ErrRejected, strings.TrimSpace(strings.TrimPrefix(reply, "ERR")))
		}
		return reply, nil
	}
}
