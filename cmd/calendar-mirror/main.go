// Copyright 2024 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command calendar-mirror runs the calendar-mirror appliance's control
// loop: it authenticates against the remote calendar service, keeps the
// current day's agenda on screen, and reacts to the four physical
// buttons.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kieranjwhite/calendar-mirror-sub000/internal/calendarapi"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/config"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/gpio"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/layout"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/machine"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/render"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/svc"
)

var (
	debugFlag        = flag.Bool("debug", false, "Show debug-level log messages")
	configFileFlag   = flag.String("config", "/etc/calendar-mirror/conf.toml", "Path to the appliance's TOML configuration file")
	serviceCmdFlag   = flag.String("service", "", "Service control action: install, uninstall, start, stop (run in the foreground if empty)")
	clientIDFlag     = flag.String("client_id", "", "OAuth client id (overrides value in config file)")
	clientSecretFlag = flag.String("client_secret", "", "OAuth client secret (overrides value in config file)")
)

func usage() {
	fmt.Fprintf(os.Stderr, "calendar-mirror: drives the calendar-mirror appliance's display and buttons.\n\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	logrus.SetLevel(logrus.InfoLevel)
	if *debugFlag {
		logrus.SetLevel(logrus.DebugLevel)
	}

	prefs, err := config.Load(*configFileFlag)
	if err != nil {
		logrus.WithError(err).Fatal("calendar-mirror: could not load configuration")
	}
	if *clientIDFlag != "" {
		prefs.ClientID = *clientIDFlag
	}
	if *clientSecretFlag != "" {
		prefs.ClientSecret = *clientSecretFlag
	}

	p := svc.NewProgram(func(cancel <-chan struct{}) {
		runAppliance(prefs, cancel)
	})
	if err := p.StartService(*serviceCmdFlag); err != nil {
		logrus.WithError(err).Fatal("calendar-mirror: service run failed")
	}
}

func runAppliance(prefs config.Prefs, cancel <-chan struct{}) {
	gp, err := gpio.New()
	if err != nil {
		logrus.WithError(err).Fatal("calendar-mirror: GPIO initialization failed")
	}
	defer gp.Close()

	pipe, err := render.NewPipeline(prefs.DisplayAddr)
	if err != nil {
		logrus.WithError(err).Fatal("calendar-mirror: could not connect to display daemon")
	}
	defer pipe.Close()

	formatter := layout.New(layout.Dims{Width: prefs.GlyphWidth, Height: prefs.GlyphHeight})
	renderer := render.New(pipe, formatter)

	api := calendarapi.New(calendarapi.Config{
		DeviceCodeURL: prefs.DeviceCodeURL,
		PollURL:       prefs.PollURL,
		ListEventsURL: prefs.ListEventsURL,
		ClientID:      prefs.ClientID,
		ClientSecret:  prefs.ClientSecret,
		Scope:         prefs.Scope,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
	})

	buttons := machine.NewButtons(gp)
	defer buttons.Close()

	engine := machine.NewEngine(api, prefs.RefreshTokenPath, buttons, renderer, prefs.PollInterval)

	go func() {
		<-cancel
		engine.Cancelled.Store(true)
	}()

	terminal := machine.Run(engine, machine.LoadAuth{})
	logrus.WithField("terminal", fmt.Sprintf("%T", terminal.Terminal)).Info("calendar-mirror: stopped")
}
