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

// Package button debounces raw GPIO samples into short/long/release
// classifications, per spec.md §4.4.
package button

import "time"

// Event is produced at most once per sample.
type Event int

const (
	// Pressed is a short press, reported on the first released sample, before the release has gone quiet.
	Pressed Event = iota
	// LongPress fires immediately once a held press crosses the detectable threshold.
	LongPress
	// Release follows a LongPress or a Pressed once the button has been let go and gone quiet.
	Release
	// PressAndRelease fuses Pressed and Release when both conditions are met on the same sample.
	PressAndRelease
)

// IsShortPress reports whether e is one of {Pressed, PressAndRelease}.
func (e Event) IsShortPress() bool { return e == Pressed || e == PressAndRelease }

// IsLongPress reports whether e is LongPress.
func (e Event) IsLongPress() bool { return e == LongPress }

// IsRelease reports whether e is one of {Release, PressAndRelease}.
func (e Event) IsRelease() bool { return e == Release || e == PressAndRelease }

type state int

const (
	notPressed state = iota
	pressedPending
	longPressed
	releasePending
)

// LongPressButton is the four-state debounce/classify machine of spec.md
// §4.4, one instance per physical button.
type LongPressButton struct {
	pin              int
	state            state
	detectableAfter  time.Duration
	longReleaseAfter time.Duration
}

// New returns a LongPressButton for pin in the NotPressed state.
// detectableAfter is the held-duration threshold at which a press becomes
// long; longReleaseAfter is the quiet time required after release before a
// Release event is emitted.
func New(pin int, detectableAfter, longReleaseAfter time.Duration) *LongPressButton {
	return &LongPressButton{
		pin:              pin,
		state:            notPressed,
		detectableAfter:  detectableAfter,
		longReleaseAfter: longReleaseAfter,
	}
}

// Pin returns the GPIO pin this instance debounces.
func (b *LongPressButton) Pin() int { return b.pin }

// Sample advances the state machine given the current pin level and how
// long it has held that level, per the transition table in spec.md §4.4.
// It returns the single event produced, if any.
func (b *LongPressButton) Sample(pressing bool, duration time.Duration) (Event, bool) {
	var (
		next  state
		event Event
		fired bool
	)

	switch b.state {
	case notPressed:
		switch {
		case !pressing:
			next = notPressed
		case duration < b.detectableAfter:
			next = pressedPending
		default:
			next, event, fired = longPressed, LongPress, true
		}

	case pressedPending:
		switch {
		case !pressing && duration < b.longReleaseAfter:
			next, event, fired = releasePending, Pressed, true
		case !pressing:
			next, event, fired = notPressed, PressAndRelease, true
		case duration < b.detectableAfter:
			next = pressedPending
		default:
			next, event, fired = longPressed, LongPress, true
		}

	case longPressed:
		switch {
		case !pressing && duration < b.longReleaseAfter:
			next = releasePending
		case !pressing:
			next, event, fired = notPressed, Release, true
		case duration < b.detectableAfter:
			next = pressedPending
		default:
			next = longPressed
		}

	case releasePending:
		switch {
		case !pressing && duration < b.longReleaseAfter:
			next = releasePending
		case !pressing:
			next, event, fired = notPressed, Release, true
		case duration < b.detectableAfter:
			next = pressedPending
		default:
			next, event, fired = longPressed, LongPress, true
		}
	}

	b.state = next
	return event, fired
}
