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

// Package io drives the Linux sysfs GPIO and PWM devices used by the
// stage and drive hardware.

package io

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// Setter is an interface for setting an output value on a GPIO
type Setter interface {
	Set(int) error
}

// Getter returns the value of an input, blocking until it changes
// if edge detection is enabled.
type Getter interface {
	Get() (int, error)
}

// PWM is a pulse width modulated output. duty is the fraction of
// the period the output is on, scaled to 0-65535.
type PWM interface {
	Close()
	Set(period time.Duration, duty uint16) error
}

// dutyNanos scales a 16 bit duty cycle to a part of a period.
func dutyNanos(period time.Duration, duty uint16) int64 {
	return period.Nanoseconds() * int64(duty) / 65535
}

const verifyTimeout = 2 * time.Second

// Verify makes export wait until the exported attributes are writable.
// When not running as root, udev fixes up the group permissions of new
// sysfs files some time after they appear. Enabled by default for
// non-root users.
var Verify = false

func init() {
	if u, err := user.Current(); err == nil && u.Uid != "0" {
		Verify = true
	}
}

// unexport releases a GPIO or PWM unit.
func unexport(f string, g int) error {
	return writeFile(f, strconv.Itoa(g))
}

// export makes the sysfs attribute f available by writing the unit
// number to expfile, unless f is already accessible.
func export(f, expfile string, g int) error {
	if unix.Access(f, unix.W_OK|unix.R_OK) == nil {
		return nil
	}
	if err := writeFile(expfile, strconv.Itoa(g)); err != nil {
		return err
	}
	if Verify {
		return verifyFile(f)
	}
	return nil
}

func writeFile(fname, s string) error {
	f, err := os.OpenFile(fname, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	_, err = f.WriteString(s)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// verifyFile polls until f is writable or verifyTimeout passes.
func verifyFile(f string) error {
	deadline := time.Now().Add(verifyTimeout)
	for unix.Access(f, unix.W_OK) != nil {
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: not writable", f)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
