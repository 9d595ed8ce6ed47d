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

// Package settings persists user adjustable settings.
// Only values that differ from the defaults are stored, so that
// changes to the defaults take effect for settings never adjusted.

package settings

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/aamcrae/hexdrive/plan"
	"github.com/asdine/storm/v3"
)

const bucket = "settings"

// Profile holds all the adjustable settings.
type Profile struct {
	Drive   plan.Settings
	XRange  int // X axis travel in full steps
	YRange  int // Y axis travel in full steps
	Logging bool
}

// DefaultProfile returns the settings used when nothing is stored.
func DefaultProfile() Profile {
	return Profile{
		Drive:  plan.DefaultSettings(),
		XRange: 1940,
		YRange: 3100,
	}
}

type field struct {
	get func(*Profile) int
	set func(*Profile, int)
}

var fields = map[string]field{
	"acceleration": {
		func(p *Profile) int { return int(p.Drive.Acceleration) },
		func(p *Profile, v int) { p.Drive.Acceleration = uint16(v) },
	},
	"max_power": {
		func(p *Profile) int { return int(p.Drive.MaxPower) },
		func(p *Profile, v int) { p.Drive.MaxPower = uint16(v) },
	},
	"drive_step": {
		func(p *Profile) int { return p.Drive.DriveStep },
		func(p *Profile, v int) { p.Drive.DriveStep = v },
	},
	"turn_step": {
		func(p *Profile) int { return p.Drive.TurnStep },
		func(p *Profile, v int) { p.Drive.TurnStep = v },
	},
	"tick": {
		func(p *Profile) int { return p.Drive.Tick },
		func(p *Profile, v int) { p.Drive.Tick = v },
	},
	"x_range": {
		func(p *Profile) int { return p.XRange },
		func(p *Profile, v int) { p.XRange = v },
	},
	"y_range": {
		func(p *Profile) int { return p.YRange },
		func(p *Profile, v int) { p.YRange = v },
	},
	"logging": {
		func(p *Profile) int {
			if p.Logging {
				return 1
			}
			return 0
		},
		func(p *Profile, v int) { p.Logging = v != 0 },
	},
}

// Settings that may not be zero.
var positive = map[string]bool{
	"tick":    true,
	"x_range": true,
	"y_range": true,
}

// Keys returns the setting names in order.
func Keys() []string {
	var k []string
	for n := range fields {
		k = append(k, n)
	}
	sort.Strings(k)
	return k
}

// Get returns a setting by name.
func (p *Profile) Get(key string) (int, error) {
	f, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("%s: unknown setting", key)
	}
	return f.get(p), nil
}

// Set changes a setting by name.
func (p *Profile) Set(key string, v int) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%s: unknown setting", key)
	}
	if v < 0 || ((key == "acceleration" || key == "max_power") && v > 65535) {
		return fmt.Errorf("%s: %d out of range", key, v)
	}
	if v == 0 && positive[key] {
		return fmt.Errorf("%s: must be positive", key)
	}
	f.set(p, v)
	return nil
}

// Store keeps settings in a storm database.
type Store struct {
	db *storm.DB
}

// Open opens (or creates) the settings database.
func Open(path string) (*Store, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the defaults overridden by any stored values.
// If the stored drive settings or ranges are unusable, their defaults
// are returned along with the error.
func (s *Store) Load(def Profile) (Profile, error) {
	p := def
	for k, f := range fields {
		var v int
		err := s.db.Get(bucket, k, &v)
		if errors.Is(err, storm.ErrNotFound) {
			continue
		}
		if err != nil {
			return def, fmt.Errorf("%s: %v", k, err)
		}
		f.set(&p, v)
	}
	var rerr error
	if p.XRange <= 0 || p.YRange <= 0 {
		rerr = fmt.Errorf("travel range %d x %d out of range", p.XRange, p.YRange)
		log.Printf("settings: stored ranges rejected, using defaults: %v", rerr)
		p.XRange, p.YRange = def.XRange, def.YRange
	}
	if err := p.Drive.Validate(); err != nil {
		log.Printf("settings: stored drive settings rejected, using defaults: %v", err)
		p.Drive = def.Drive
		return p, err
	}
	return p, rerr
}

// Save stores the values of p that differ from def, and removes
// stored values that have returned to their default.
func (s *Store) Save(p, def Profile) error {
	for k, f := range fields {
		v := f.get(&p)
		if v == f.get(&def) {
			err := s.db.Delete(bucket, k)
			if err != nil && !errors.Is(err, storm.ErrNotFound) {
				return fmt.Errorf("%s: %v", k, err)
			}
			continue
		}
		if err := s.db.Set(bucket, k, v); err != nil {
			return fmt.Errorf("%s: %v", k, err)
		}
	}
	return nil
}

// Stored returns the values held in the database.
func (s *Store) Stored() (map[string]int, error) {
	m := make(map[string]int)
	for k := range fields {
		var v int
		err := s.db.Get(bucket, k, &v)
		if errors.Is(err, storm.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
