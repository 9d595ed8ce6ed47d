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

// HexDrive host program

package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/aamcrae/config"
	"github.com/aamcrae/hexdrive/device"
	"github.com/aamcrae/hexdrive/motion"
	"github.com/aamcrae/hexdrive/settings"
	"github.com/caarlos0/env/v6"
)

// EnvConfig holds defaults taken from the environment.
type EnvConfig struct {
	Config string `env:"HEXDRIVE_CONFIG" envDefault:"hexdrive.conf"`
	DB     string `env:"HEXDRIVE_DB" envDefault:"hexdrive.db"`
	Addr   string `env:"HEXDRIVE_ADDR" envDefault:":8080"`
	Shell  bool   `env:"HEXDRIVE_SHELL" envDefault:"true"`
}

var axisNames = []string{"x", "y"}

func main() {
	var ec EnvConfig
	if err := env.Parse(&ec); err != nil {
		log.Fatalf("environment: %v", err)
	}
	configFile := flag.String("config", ec.Config, "Configuration file")
	dbFile := flag.String("db", ec.DB, "Settings database")
	addr := flag.String("addr", ec.Addr, "Telemetry server address")
	shell := flag.Bool("shell", ec.Shell, "Run the interactive shell")
	idle := flag.Duration("idle", motion.DefaultIdleTimeout, "Stepper idle timeout")
	flag.Parse()

	conf, err := config.ParseFile(*configFile)
	if err != nil {
		log.Fatalf("%s: %v", *configFile, err)
	}
	store, err := settings.Open(*dbFile)
	if err != nil {
		log.Fatalf("%s: %v", *dbFile, err)
	}
	defer store.Close()

	// Defaults come from the config file, overridden by stored settings.
	def := settings.DefaultProfile()
	var dc *device.DriveConfig
	if conf.GetSection("drive") != nil {
		dc, err = device.DriveConfigFrom(conf)
		if err != nil {
			log.Fatalf("%s: %v", *configFile, err)
		}
		def.Drive = dc.Settings
	}
	var acs []*device.AxisConfig
	for _, n := range axisNames {
		if conf.GetSection(n) == nil {
			continue
		}
		ac, err := device.Config(conf, n)
		if err != nil {
			log.Fatalf("%s: %v", *configFile, err)
		}
		acs = append(acs, ac)
	}
	for _, ac := range acs {
		switch ac.Name {
		case "x":
			def.XRange = ac.Axis.MaxPosition
		case "y":
			def.YRange = ac.Axis.MaxPosition
		}
	}
	prof, err := store.Load(def)
	if err != nil {
		log.Printf("settings: %v, using defaults", err)
	}

	var opts []motion.Option
	opts = append(opts, motion.WithIdleTimeout(*idle))
	for _, ac := range acs {
		switch ac.Name {
		case "x":
			ac.Axis.MaxPosition = prof.XRange
		case "y":
			ac.Axis.MaxPosition = prof.YRange
		}
		ac.Axis.Tick = prof.Drive.Tick
		sa, err := device.NewStageAxis(ac)
		if err != nil {
			log.Fatalf("%s: %v", ac.Name, err)
		}
		defer sa.Close()
		opts = append(opts, motion.WithAxis(sa.Axis))
	}
	var drive motion.Drive
	if dc != nil {
		d, err := device.NewDrive(dc)
		if err != nil {
			log.Fatalf("%s: %v", dc.Name, err)
		}
		defer d.Close()
		drive = d
	}
	o, err := motion.New(prof.Drive, drive, opts...)
	if err != nil {
		log.Fatalf("motion: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	period := time.Duration(prof.Drive.Tick) * time.Millisecond
	go o.Run(ctx, period)
	if prof.Logging {
		go logStatus(ctx, o)
	}
	srv := device.NewServer(o, 10*period)
	go func() {
		if err := srv.ListenAndServe(*addr); err != nil {
			log.Printf("server: %v", err)
			cancel()
		}
	}()
	if *shell {
		h := &host{o: o, store: store, prof: prof, def: def, quit: cancel}
		go h.shell().Start()
	}
	<-ctx.Done()
	o.EmergencyStop()
}

// logStatus logs the stage position every second.
func logStatus(ctx context.Context, o *motion.Orchestrator) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		t := o.Telemetry()
		for _, a := range t.Axes {
			log.Printf("%s: %s at %d (target %d, speed %d)", a.Name, a.Mode, a.Position, a.Target, a.Speed)
		}
		if t.State != motion.Idle.String() {
			log.Printf("drive: %s %v", t.State, t.Output)
		}
	}
}
