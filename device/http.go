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

// HTTP server for telemetry and stage images

package device

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/aamcrae/hexdrive/motion"
	"github.com/aamcrae/hexdrive/plan"
	"github.com/fogleman/gg"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
)

// Controller is the part of the orchestrator served over HTTP.
type Controller interface {
	Telemetry() motion.Telemetry
	SetTarget(name string, pos int) error
	SetSpeed(name string, sps int) (bool, error)
	Abort()
	EmergencyStop()
}

// Image size for the stage view.
const (
	imageSize = 400
	margin    = 20
	legWidth  = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves telemetry as JSON, as a websocket stream, and as an image.
type Server struct {
	ctl    Controller
	period time.Duration
	router chi.Router
}

// NewServer creates a server. Websocket clients receive telemetry every period.
func NewServer(ctl Controller, period time.Duration) *Server {
	s := &Server{ctl: ctl, period: period}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/telemetry", s.telemetry)
	r.Get("/stage.png", s.image)
	r.Get("/ws", s.stream)
	r.Get("/axes/{name}", s.axis)
	r.Post("/axes/{name}/target", s.target)
	r.Post("/axes/{name}/speed", s.speed)
	r.Post("/abort", func(w http.ResponseWriter, r *http.Request) {
		s.ctl.Abort()
		render.JSON(w, r, s.ctl.Telemetry())
	})
	r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		s.ctl.EmergencyStop()
		render.JSON(w, r, s.ctl.Telemetry())
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("Starting server on %s", addr)
	server := &http.Server{Addr: addr, Handler: s.router}
	return server.ListenAndServe()
}

// ErrResponse is an error rendered as JSON.
type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

// Render sets the response status.
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errResponse(err error) render.Renderer {
	code := http.StatusBadRequest
	if errors.Is(err, motion.ErrUnknownAxis) {
		code = http.StatusNotFound
	}
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: code,
		StatusText:     http.StatusText(code),
		ErrorText:      err.Error(),
	}
}

// Value is the request body for setting a target or speed.
type Value struct {
	Value int `json:"value"`
}

// SpeedResponse reports whether a speed request was limited.
type SpeedResponse struct {
	Speed   int  `json:"speed"`
	Clamped bool `json:"clamped"`
}

func (s *Server) telemetry(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.ctl.Telemetry())
}

func (s *Server) axis(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, a := range s.ctl.Telemetry().Axes {
		if a.Name == name {
			render.JSON(w, r, a)
			return
		}
	}
	render.Render(w, r, errResponse(motion.ErrUnknownAxis))
}

func (s *Server) target(w http.ResponseWriter, r *http.Request) {
	var v Value
	if err := render.DecodeJSON(r.Body, &v); err != nil {
		render.Render(w, r, errResponse(err))
		return
	}
	if err := s.ctl.SetTarget(chi.URLParam(r, "name"), v.Value); err != nil {
		render.Render(w, r, errResponse(err))
		return
	}
	s.axis(w, r)
}

func (s *Server) speed(w http.ResponseWriter, r *http.Request) {
	var v Value
	if err := render.DecodeJSON(r.Body, &v); err != nil {
		render.Render(w, r, errResponse(err))
		return
	}
	clamped, err := s.ctl.SetSpeed(chi.URLParam(r, "name"), v.Value)
	if err != nil {
		render.Render(w, r, errResponse(err))
		return
	}
	sp := SpeedResponse{Clamped: clamped}
	for _, a := range s.ctl.Telemetry().Axes {
		if a.Name == chi.URLParam(r, "name") {
			sp.Speed = a.Speed
		}
	}
	render.JSON(w, r, sp)
}

// stream sends telemetry to a websocket client until it goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	// Reads are only needed to see the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		if err := conn.WriteJSON(s.ctl.Telemetry()); err != nil {
			log.Printf("ws write: %v", err)
			return
		}
		select {
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) image(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	c := Draw(s.ctl.Telemetry())
	if err := c.EncodePNG(w); err != nil {
		log.Printf("Error writing image: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// Draw renders the stage and drive outputs. The first two axes are
// drawn as X and Y on the stage, and each drive leg as a bar below it.
func Draw(t motion.Telemetry) *gg.Context {
	c := gg.NewContext(imageSize, imageSize+margin+legWidth*plan.Channels)
	c.SetRGB(1, 1, 1)
	c.Clear()
	size := float64(imageSize - 2*margin)
	c.SetRGB(0, 0, 0)
	c.SetLineWidth(2)
	c.DrawRectangle(margin, margin, size, size)
	c.Stroke()
	if len(t.Axes) >= 2 {
		x, y := t.Axes[0], t.Axes[1]
		px := margin + size*float64(x.Position)/float64(x.MaxPosition)
		py := margin + size - size*float64(y.Position)/float64(y.MaxPosition)
		if x.Calibrated && y.Calibrated {
			c.SetRGB(0, 0, 1)
		} else {
			c.SetRGB(1, 0, 1)
		}
		c.DrawCircle(px, py, 6)
		c.Fill()
		tx := margin + size*float64(x.Target)/float64(x.MaxPosition)
		ty := margin + size - size*float64(y.Target)/float64(y.MaxPosition)
		c.SetLineWidth(1)
		c.DrawLine(px, py, tx, ty)
		c.Stroke()
	}
	for i, v := range t.Output {
		top := float64(imageSize + i*legWidth)
		c.SetRGB(0.8, 0.8, 0.8)
		c.DrawRectangle(margin, top, size, legWidth-4)
		c.Fill()
		c.SetRGB(1, 0, 0)
		c.DrawRectangle(margin, top, size*float64(v)/65535, legWidth-4)
		c.Fill()
	}
	return c
}
