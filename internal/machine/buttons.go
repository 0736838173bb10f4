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

package machine

import (
	"time"

	"github.com/kieranjwhite/calendar-mirror-sub000/internal/button"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/gpio"
)

// Debounce timings shared by all four buttons. spec.md §4.4 leaves the
// exact thresholds to the implementation; these match the original
// appliance's felt-reasonable values for a handheld momentary switch.
const (
	detectableAfter  = 700 * time.Millisecond
	longReleaseAfter = 50 * time.Millisecond
)

// Buttons owns the GPIO sampler and one debounce instance per physical
// button, sampled in the fixed priority order spec.md §5 requires:
// reset, then scroll, then back/next.
type Buttons struct {
	gp     *gpio.GPIO
	Reset  *button.LongPressButton
	Scroll *button.LongPressButton
	Next   *button.LongPressButton
	Back   *button.LongPressButton
}

// NewButtons wires up the four fixed GPIO pins of spec.md §6.
func NewButtons(gp *gpio.GPIO) *Buttons {
	return &Buttons{
		gp:     gp,
		Reset:  button.New(gpio.SW3Reset, detectableAfter, longReleaseAfter),
		Scroll: button.New(gpio.SW2Scroll, detectableAfter, longReleaseAfter),
		Next:   button.New(gpio.SW1Next, detectableAfter, longReleaseAfter),
		Back:   button.New(gpio.SW4Back, detectableAfter, longReleaseAfter),
	}
}

// sample reads b's pin and advances its debounce state.
func (bs *Buttons) sample(b *button.LongPressButton) (button.Event, bool, error) {
	pressing, dur, err := bs.gp.PinIn(b.Pin())
	if err != nil {
		return 0, false, err
	}
	evt, fired := b.Sample(pressing, dur)
	return evt, fired, nil
}

// Close releases the underlying GPIO mapping.
func (bs *Buttons) Close() error { return bs.gp.Close() }
