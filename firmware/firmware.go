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

// Package firmware checks the version reported by drive firmware.

package firmware

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver"
)

const (
	// Required is the range of drive firmware this host can use.
	Required = "~2.1.0"
	// Bundled is the firmware version shipped with this host.
	Bundled = "2.1.3"
	// Dev is reported by firmware built outside a release.
	Dev = "DEV"
)

// Check returns an error if the installed version does not meet the constraint.
// Development firmware is accepted.
func Check(installed, constraint string) error {
	installed = strings.TrimSpace(installed)
	if installed == Dev {
		return nil
	}
	v, err := semver.NewVersion(installed)
	if err != nil {
		return fmt.Errorf("firmware version %q: %v", installed, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("constraint %q: %v", constraint, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("firmware version %s, require %s", installed, constraint)
	}
	return nil
}

// NeedsUpgrade returns true if the installed firmware is older than bundled.
// Unparseable installed versions other than development builds need upgrading.
func NeedsUpgrade(installed, bundled string) (bool, error) {
	b, err := semver.NewVersion(bundled)
	if err != nil {
		return false, fmt.Errorf("bundled version %q: %v", bundled, err)
	}
	installed = strings.TrimSpace(installed)
	if installed == Dev {
		return false, nil
	}
	v, err := semver.NewVersion(installed)
	if err != nil {
		return true, nil
	}
	return v.LessThan(b), nil
}
