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
	"os"
	"time"
)

const pwmChip = "/sys/class/pwm/pwmchip0/"

// DefaultPeriod is the PWM period of the drive outputs (20kHz).
const DefaultPeriod = 50 * time.Microsecond

// HwPwm is a hardware PWM unit on pwmchip0.
type HwPwm struct {
	unit   int
	pFile  *os.File
	dFile  *os.File
	period int64
	duty   int64
}

// NewHwPWM exports a PWM unit and enables it with the output off.
func NewHwPWM(unit int) (*HwPwm, error) {
	p := &HwPwm{unit: unit, period: -1, duty: -1}
	if err := export(p.attr("period"), pwmChip+"export", unit); err != nil {
		return nil, err
	}
	err := p.open()
	if err == nil {
		p.Set(DefaultPeriod, 0)
		err = writeFile(p.attr("enable"), "1")
	}
	if err != nil {
		p.release()
		return nil, fmt.Errorf("pwm%d: %w", unit, err)
	}
	return p, nil
}

func (p *HwPwm) attr(name string) string {
	return fmt.Sprintf("%spwm%d/%s", pwmChip, p.unit, name)
}

func (p *HwPwm) open() error {
	var err error
	if p.pFile, err = os.OpenFile(p.attr("period"), os.O_RDWR, 0600); err != nil {
		return err
	}
	// duty_cycle is created after period, and may not yet be writable.
	if err = verifyFile(p.attr("duty_cycle")); err != nil {
		return err
	}
	p.dFile, err = os.OpenFile(p.attr("duty_cycle"), os.O_RDWR, 0600)
	return err
}

func (p *HwPwm) release() {
	if p.pFile != nil {
		p.pFile.Close()
	}
	if p.dFile != nil {
		p.dFile.Close()
	}
	unexport(pwmChip+"unexport", p.unit)
}

// Close disables and unexports the unit.
func (p *HwPwm) Close() {
	writeFile(p.attr("enable"), "0")
	p.release()
}

// Set sets the PWM period and the 16 bit duty cycle.
func (p *HwPwm) Set(period time.Duration, duty uint16) error {
	pNano := period.Nanoseconds()
	if pNano < 15 {
		return fmt.Errorf("pwm%d: invalid period %s", p.unit, period)
	}
	dNano := dutyNanos(period, duty)
	// The duty cycle must never exceed the period, so when the
	// period shrinks the duty cycle is written first.
	if pNano >= p.period {
		if err := p.write(p.pFile, pNano, p.period); err != nil {
			return err
		}
		if err := p.write(p.dFile, dNano, p.duty); err != nil {
			return err
		}
	} else {
		if err := p.write(p.dFile, dNano, p.duty); err != nil {
			return err
		}
		if err := p.write(p.pFile, pNano, p.period); err != nil {
			return err
		}
	}
	p.period = pNano
	p.duty = dNano
	return nil
}

// write updates a sysfs attribute if the value has changed.
func (p *HwPwm) write(f *os.File, v, old int64) error {
	if v == old {
		return nil
	}
	_, err := f.WriteAt([]byte(fmt.Sprintf("%d", v)), 0)
	if err != nil {
		return fmt.Errorf("pwm%d: %v", p.unit, err)
	}
	return nil
}
