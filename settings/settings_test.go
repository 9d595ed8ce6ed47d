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

package settings

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/aamcrae/hexdrive/plan"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStore(t *testing.T) {
	Convey("A settings store", t, func() {
		s, err := Open(filepath.Join(t.TempDir(), "settings.db"))
		So(err, ShouldBeNil)
		defer s.Close()
		def := DefaultProfile()

		Convey("returns the defaults when empty", func() {
			p, err := s.Load(def)
			So(err, ShouldBeNil)
			So(p, ShouldResemble, def)
		})

		Convey("only stores values that differ from the defaults", func() {
			p := def
			So(p.Set("acceleration", 9000), ShouldBeNil)
			So(p.Set("logging", 1), ShouldBeNil)
			So(s.Save(p, def), ShouldBeNil)
			stored, err := s.Stored()
			So(err, ShouldBeNil)
			So(stored, ShouldResemble, map[string]int{"acceleration": 9000, "logging": 1})

			loaded, err := s.Load(def)
			So(err, ShouldBeNil)
			So(loaded.Drive.Acceleration, ShouldEqual, 9000)
			So(loaded.Logging, ShouldBeTrue)
			So(loaded.YRange, ShouldEqual, 3100)

			Convey("and removes values returned to default", func() {
				So(p.Set("acceleration", 7500), ShouldBeNil)
				So(s.Save(p, def), ShouldBeNil)
				stored, err := s.Stored()
				So(err, ShouldBeNil)
				So(stored, ShouldResemble, map[string]int{"logging": 1})
			})

			Convey("and follows changed defaults for values never set", func() {
				def.Drive.Tick = 20
				loaded, err := s.Load(def)
				So(err, ShouldBeNil)
				So(loaded.Drive.Tick, ShouldEqual, 20)
			})
		})

		Convey("rejects unusable drive settings", func() {
			p := def
			So(p.Set("acceleration", 0), ShouldBeNil)
			So(s.Save(p, def), ShouldBeNil)
			loaded, err := s.Load(def)
			So(errors.Is(err, plan.ErrSettings), ShouldBeTrue)
			So(loaded.Drive, ShouldResemble, def.Drive)
		})

		Convey("replaces a stored zero range with the default", func() {
			So(s.db.Set(bucket, "y_range", 0), ShouldBeNil)
			loaded, err := s.Load(def)
			So(err, ShouldNotBeNil)
			So(loaded.YRange, ShouldEqual, def.YRange)
			So(loaded.XRange, ShouldEqual, def.XRange)
		})
	})

	Convey("Settings are named", t, func() {
		p := DefaultProfile()
		v, err := p.Get("x_range")
		So(err, ShouldBeNil)
		So(v, ShouldEqual, 1940)
		So(p.Set("bogus", 1), ShouldNotBeNil)
		So(p.Set("max_power", 70000), ShouldNotBeNil)
		So(p.Set("x_range", 0), ShouldNotBeNil)
		So(p.Set("y_range", 0), ShouldNotBeNil)
		So(p.Set("tick", 0), ShouldNotBeNil)
		So(p.YRange, ShouldEqual, 3100)
		So(p.Set("logging", 0), ShouldBeNil)
		So(len(Keys()), ShouldEqual, 8)
	})
}
