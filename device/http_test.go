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

package device

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aamcrae/hexdrive/axis"
	"github.com/aamcrae/hexdrive/motion"
	"github.com/aamcrae/hexdrive/plan"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

func newOrchestrator() *motion.Orchestrator {
	o, err := motion.New(plan.DefaultSettings(), nil,
		motion.WithAxis(integrated("x")), motion.WithAxis(integrated("y")))
	if err != nil {
		panic(err)
	}
	return o
}

func TestServer(t *testing.T) {
	Convey("Given a telemetry server", t, func() {
		o := newOrchestrator()
		ts := httptest.NewServer(NewServer(o, 10*time.Millisecond).Handler())
		defer ts.Close()

		Convey("Telemetry is served as JSON", func() {
			resp, err := http.Get(ts.URL + "/telemetry")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			var tel motion.Telemetry
			So(json.NewDecoder(resp.Body).Decode(&tel), ShouldBeNil)
			So(tel.State, ShouldEqual, "idle")
			So(len(tel.Axes), ShouldEqual, 2)
		})

		Convey("An axis can be read", func() {
			resp, err := http.Get(ts.URL + "/axes/y")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			var st axis.State
			So(json.NewDecoder(resp.Body).Decode(&st), ShouldBeNil)
			So(st.Name, ShouldEqual, "y")
			So(st.Mode, ShouldEqual, "disabled")
		})

		Convey("Unknown axes are not found", func() {
			resp, err := http.Get(ts.URL + "/axes/q")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			resp, err = http.Post(ts.URL+"/axes/q/target", "application/json", strings.NewReader(`{"value": 5}`))
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("A target can be set", func() {
			resp, err := http.Post(ts.URL+"/axes/x/target", "application/json", strings.NewReader(`{"value": 250}`))
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			var st axis.State
			So(json.NewDecoder(resp.Body).Decode(&st), ShouldBeNil)
			So(st.Target, ShouldEqual, 250)
		})

		Convey("A speed on a disabled axis is clamped", func() {
			resp, err := http.Post(ts.URL+"/axes/x/speed", "application/json", strings.NewReader(`{"value": 50}`))
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			var sp SpeedResponse
			So(json.NewDecoder(resp.Body).Decode(&sp), ShouldBeNil)
			So(sp.Clamped, ShouldBeTrue)
			So(sp.Speed, ShouldEqual, 0)
		})

		Convey("A bad body is rejected", func() {
			resp, err := http.Post(ts.URL+"/axes/x/target", "application/json", strings.NewReader(`{`))
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("The stage image is a PNG", func() {
			resp, err := http.Get(ts.URL + "/stage.png")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.Header.Get("Content-Type"), ShouldEqual, "image/png")
			img, err := png.Decode(resp.Body)
			So(err, ShouldBeNil)
			So(img.Bounds().Dx(), ShouldEqual, imageSize)
		})

		Convey("Telemetry is streamed on the websocket", func() {
			url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			So(err, ShouldBeNil)
			defer conn.Close()
			var tel motion.Telemetry
			So(conn.ReadJSON(&tel), ShouldBeNil)
			o.SetTarget("y", 77)
			// Stream until the change is seen.
			for i := 0; i < 100 && tel.Axes[1].Target != 77; i++ {
				So(conn.ReadJSON(&tel), ShouldBeNil)
			}
			So(tel.Axes[1].Target, ShouldEqual, 77)
		})
	})
}

func TestDraw(t *testing.T) {
	Convey("Drawing handles a stage without axes", t, func() {
		c := Draw(motion.Telemetry{Output: plan.OutputVector{65535, 0, 0, 32768}})
		So(c.Width(), ShouldEqual, imageSize)
		So(c.Height(), ShouldEqual, imageSize+margin+legWidth*plan.Channels)
	})
}
