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

// Package events accumulates paged calendar responses into a chronologically
// ordered appointment list and tracks whether every item shares one creator.
package events

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kieranjwhite/calendar-mirror-sub000/internal/calendarapi"
)

// PeriodMarker identifies which end of an Event a date/date-time pair belongs to.
type PeriodMarker int

const (
	// Start marks the beginning of an event's period.
	Start PeriodMarker = iota
	// End marks the end of an event's period.
	End
)

func (m PeriodMarker) String() string {
	if m == Start {
		return "start"
	}
	return "end"
}

// MissingDateTimeError reports that an item carried neither a date-time nor a date.
type MissingDateTimeError struct {
	Marker PeriodMarker
}

func (e MissingDateTimeError) Error() string {
	return fmt.Sprintf("missing date/dateTime for %s", e.Marker)
}

// Select picks a datetime from a calendar API date-or-datetime pair, per spec.md §4.2:
// prefer dateTime (RFC 3339, keeping its offset); else fall back to date, read as
// midnight UTC of that day for either marker; else fail. fromAPIEvent converts the
// result to local time.
func (m PeriodMarker) Select(dateTime, date *string) (time.Time, error) {
	if dateTime != nil && *dateTime != "" {
		return time.Parse(time.RFC3339, *dateTime)
	}
	if date != nil && *date != "" {
		return time.Parse("2006-01-02", *date)
	}
	return time.Time{}, MissingDateTimeError{Marker: m}
}

// Email is the creator mailbox associated with an event.
type Email string

// Event is a single calendar appointment, normalized to local time.
type Event struct {
	Summary     string
	Description string
	HasDesc     bool
	Start       time.Time
	End         time.Time
}

// Less implements the total lexicographic order of spec.md §3:
// (start, end, summary, description).
func (e Event) Less(other Event) bool {
	if !e.Start.Equal(other.Start) {
		return e.Start.Before(other.Start)
	}
	if !e.End.Equal(other.End) {
		return e.End.Before(other.End)
	}
	if e.Summary != other.Summary {
		return e.Summary < other.Summary
	}
	return e.Description < other.Description
}

func fromAPIEvent(ev calendarapi.Event) (Event, error) {
	start, err := Start.Select(ev.Start.DateTime, ev.Start.Date)
	if err != nil {
		return Event{}, err
	}
	end, err := End.Select(ev.End.DateTime, ev.End.Date)
	if err != nil {
		return Event{}, err
	}
	out := Event{
		Summary: ev.Summary,
		Start:   start.Local(),
		End:     end.Local(),
	}
	if ev.Description != nil {
		out.Description = *ev.Description
		out.HasDesc = true
	}
	return out, nil
}

// CreatorState is the three-state creator tag of spec.md §3.
type CreatorState int

const (
	// Uninitialised means no event has been accumulated yet.
	Uninitialised CreatorState = iota
	// OneCreator means every accumulated event so far shares one creator email.
	OneCreator
	// NotOneCreator is the sticky terminal state once a mismatch is seen.
	NotOneCreator
)

// Appointments accumulates Event values across pages and tracks the creator tri-state.
type Appointments struct {
	events []Event
	state  CreatorState
	email  Email
}

// New returns an empty accumulator in the Uninitialised state.
func New() *Appointments {
	return &Appointments{state: Uninitialised}
}

// Email returns the single shared creator, if the tag is still OneCreator.
func (a *Appointments) Email() (Email, bool) {
	if a.state == OneCreator {
		return a.email, true
	}
	return "", false
}

// Add appends every item of a page response, applying the creator transition
// rule of spec.md §3 and the PeriodMarker normalization of spec.md §4.2.
func (a *Appointments) Add(resp calendarapi.EventsResponse) error {
	for _, item := range resp.Items {
		switch a.state {
		case Uninitialised:
			a.state = OneCreator
			a.email = Email(item.Creator.Email)
		case OneCreator:
			if Email(item.Creator.Email) != a.email {
				a.state = NotOneCreator
			}
		case NotOneCreator:
			// sticky terminal
		}

		ev, err := fromAPIEvent(item)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"summary": ev.Summary,
			"start":   ev.Start,
			"end":     ev.End,
		}).Trace("accumulated event")
		a.events = append(a.events, ev)
	}
	return nil
}

// Finalise returns the accumulated events in the stable total order of spec.md §3.
func (a *Appointments) Finalise() []Event {
	out := make([]Event, len(a.events))
	copy(out, a.events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
