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

// This file manages reading the appliance's own configuration file. It
// does not touch the refresh-token file; that shape is fixed by the wire
// protocol and lives in internal/tokenstore.

package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config file:
// TOML file with the following structure:
//   glyphWidth = 20
//   glyphHeight = 8
//   pollIntervalMS = 25
//   refreshTokenPath = "/var/lib/calendar-mirror/token.json"
//   clientID = "..."
//   clientSecret = "..."
//   scope = "https://www.googleapis.com/auth/calendar.readonly"
//   deviceCodeURL = "https://accounts.google.com/o/oauth2/device/code"
//   pollURL = "https://oauth2.googleapis.com/token"
//   listEventsURL = "https://www.googleapis.com/calendar/v3/calendars/primary/events"
//   displayAddr = "127.0.0.1:443"
//
// Notes on items:
// GlyphWidth/GlyphHeight size the display's text grid; the formatter and
// renderer both use them.
// PollIntervalMS is the PollEvents/NetworkOutage tick cadence; spec.md §4.1
// calls for ~25ms.
// The three *URL fields let a test double stand in for the remote
// calendar service without touching this file's shape.

// Prefs is the appliance's resolved runtime configuration.
type Prefs struct {
	GlyphWidth       int
	GlyphHeight      int
	PollInterval     time.Duration
	RefreshTokenPath string
	ClientID         string
	ClientSecret     string
	Scope            string
	DeviceCodeURL    string
	PollURL          string
	ListEventsURL    string
	DisplayAddr      string
}

type tomlLayout struct {
	GlyphWidth       int64
	GlyphHeight      int64
	PollIntervalMS   int64
	RefreshTokenPath string
	ClientID         string
	ClientSecret     string
	Scope            string
	DeviceCodeURL    string
	PollURL          string
	ListEventsURL    string
	DisplayAddr      string
}

// Default returns the baseline Prefs, overridden field-by-field by Load.
func Default() Prefs {
	return Prefs{
		GlyphWidth:       20,
		GlyphHeight:      8,
		PollInterval:     25 * time.Millisecond,
		RefreshTokenPath: "/var/lib/calendar-mirror/token.json",
		Scope:            "https://www.googleapis.com/auth/calendar.readonly",
		DeviceCodeURL:    "https://accounts.google.com/o/oauth2/device/code",
		PollURL:          "https://oauth2.googleapis.com/token",
		ListEventsURL:    "https://www.googleapis.com/calendar/v3/calendars/primary/events",
		DisplayAddr:      "127.0.0.1:443",
	}
}

// Load reads path as TOML and overlays it onto Default(), returning the
// merged Prefs. A missing field in the file leaves the default in place.
func Load(path string) (Prefs, error) {
	prefs := Default()

	var layout tomlLayout
	if _, err := toml.DecodeFile(path, &layout); err != nil {
		return Prefs{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if layout.GlyphWidth != 0 {
		prefs.GlyphWidth = int(layout.GlyphWidth)
	}
	if layout.GlyphHeight != 0 {
		prefs.GlyphHeight = int(layout.GlyphHeight)
	}
	if layout.PollIntervalMS != 0 {
		prefs.PollInterval = time.Duration(layout.PollIntervalMS) * time.Millisecond
	}
	if layout.RefreshTokenPath != "" {
		prefs.RefreshTokenPath = layout.RefreshTokenPath
	}
	if layout.ClientID != "" {
		prefs.ClientID = layout.ClientID
	}
	if layout.ClientSecret != "" {
		prefs.ClientSecret = layout.ClientSecret
	}
	if layout.Scope != "" {
		prefs.Scope = layout.Scope
	}
	if layout.DeviceCodeURL != "" {
		prefs.DeviceCodeURL = layout.DeviceCodeURL
	}
	if layout.PollURL != "" {
		prefs.PollURL = layout.PollURL
	}
	if layout.ListEventsURL != "" {
		prefs.ListEventsURL = layout.ListEventsURL
	}
	if layout.DisplayAddr != "" {
		prefs.DisplayAddr = layout.DisplayAddr
	}

	return prefs, nil
}
