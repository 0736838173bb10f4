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

// Package machine implements the application state machine of spec.md
// §4.1: a tagged union of typed per-state payloads dispatched through a
// Step method, orchestrating authentication, token refresh, event
// paging, display updates, date navigation, scrolling and
// network-outage behavior from a single cooperative loop.
package machine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kieranjwhite/calendar-mirror-sub000/internal/calendarapi"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/events"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/render"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/tokenstore"
)

// RefreshType controls whether the renderer does a full clear-and-redraw
// or repaints content without clearing, per spec.md §3.
type RefreshType int

const (
	// Full clears and redraws everything.
	Full RefreshType = iota
	// Partial repaints content without a full clear.
	Partial
)

// AccessCredentials is the token set issued by a successful poll or refresh.
type AccessCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	TokenType    string
}

// Timestamps, newtype-wrapped by role so transitions can't accidentally
// swap two instants that happen to share a representation (spec.md §9).
type (
	RefreshedAt    time.Time
	DownloadedAt   time.Time
	TimeUpdatedAt  time.Time
	LastNetErrorAt time.Time
)

// scrollStep is the v_pos increment applied on a short scroll-button press.
const scrollStep = 1

// defaultPollTick is the PollEvents/NetworkOutage sample cadence used when
// the configuration doesn't override it (spec.md §4.1: ~25ms).
const defaultPollTick = 25 * time.Millisecond

const (
	preemptiveRefresh = 4 * time.Minute
	idleRefreshAfter  = 5 * time.Minute
	clockRepaintAfter = 1 * time.Minute
	outageRetryAfter  = 8 * time.Second
	errorWaitDuration = 5 * time.Minute
	blinkPeriod       = 2 * time.Second
)

// Engine holds every resource a State.Step needs: the HTTP adapter, token
// file path, button/GPIO sampler, renderer, clock, and the process-wide
// cancellation flag. Exactly one loop owns it; no locking is needed
// (spec.md §5).
type Engine struct {
	API       *calendarapi.Adapter
	TokenPath string
	Buttons   *Buttons
	Renderer  *render.Renderer
	Clock     func() time.Time
	Sleep     func(time.Duration)
	Cancelled *atomic.Bool
	// PollTick is the PollEvents/NetworkOutage/ErrorWait sample cadence,
	// overridable from config.Prefs.PollInterval (SPEC_FULL.md §9). Zero
	// falls back to defaultPollTick.
	PollTick time.Duration
}

func (e *Engine) pollTick() time.Duration {
	if e.PollTick <= 0 {
		return defaultPollTick
	}
	return e.PollTick
}

// NewEngine wires the dependencies above with the real clock/sleep.
func NewEngine(api *calendarapi.Adapter, tokenPath string, buttons *Buttons, renderer *render.Renderer, pollTick time.Duration) *Engine {
	return &Engine{
		API:       api,
		TokenPath: tokenPath,
		Buttons:   buttons,
		Renderer:  renderer,
		Clock:     time.Now,
		Sleep:     time.Sleep,
		Cancelled: &atomic.Bool{},
		PollTick:  pollTick,
	}
}

func (e *Engine) shutdown() error {
	return exec.Command("halt", "--halt", "-ffn").Run()
}

// State is one node of the tagged-union state machine. Each concrete type
// carries only the fields its own Step uses.
type State interface {
	Step(e *Engine) (State, error)
}

// Dropped is emitted explicitly at loop exit, Go's substitute for the
// original's Drop-based terminal reporting (spec.md §9): Go has no
// deterministic destructors, so Run logs it once instead.
type Dropped struct {
	Terminal State
}

func (d Dropped) Step(e *Engine) (State, error) { return d, nil }

// Run drives cur to completion, checking the cancellation flag at the top
// of every iteration, and returns the terminal Dropped event once it does.
func Run(e *Engine, start State) Dropped {
	cur := start
	for !e.Cancelled.Load() {
		next, err := cur.Step(e)
		if err != nil {
			logrus.WithError(err).WithField("state", fmt.Sprintf("%T", cur)).Error("machine: step failed")
			cur = DisplayError{Message: err.Error()}
			continue
		}
		cur = next
	}
	logrus.WithField("terminal", fmt.Sprintf("%T", cur)).Info("machine: loop exiting")
	return Dropped{Terminal: cur}
}

// --- LoadAuth ---------------------------------------------------------

// LoadAuth reads the persisted refresh token at startup.
type LoadAuth struct{}

func (LoadAuth) Step(e *Engine) (State, error) {
	today := startOfDay(e.Clock())
	token, err := tokenstore.Load(e.TokenPath)
	if err != nil {
		if isNotExist(err) {
			return RequestCodes{}, nil
		}
		return DisplayError{Message: "could not read saved credentials"}, nil
	}
	return RefreshAuth{RefreshToken: token, PendingDate: today}, nil
}

// --- RequestCodes ------------------------------------------------------

// RequestCodes begins the device-authorization flow.
type RequestCodes struct{}

func (RequestCodes) Step(e *Engine) (State, error) {
	result, err := e.API.RequestDeviceCode(context.Background())
	if err != nil {
		logrus.WithError(err).Warn("machine: device code request failed")
		return DisplayError{Message: "could not start sign-in"}, nil
	}

	if result.Body != nil {
		body := result.Body
		expiresAt := e.Clock().Add(time.Duration(body.ExpiresIn) * time.Second)
		if err := e.Renderer.DisplayUserCode(body.UserCode, body.VerificationURL, expiresAt); err != nil {
			logrus.WithError(err).Warn("machine: display user code failed")
		}
		return DeviceAuthPoll{
			DeviceCode: body.DeviceCode,
			Interval:   time.Duration(body.Interval) * time.Second,
		}, nil
	}

	if result.ErrBody != nil && result.ErrBody.ErrorCode == "rate_limit_exceeded" {
		return DisplayError{Message: "Quota Exceeded"}, nil
	}
	return DisplayError{Message: "sign-in request rejected"}, nil
}

// --- DeviceAuthPoll ------------------------------------------------------

// DeviceAuthPoll polls the device code until the user approves, or the
// flow is rejected/rate-limited.
type DeviceAuthPoll struct {
	DeviceCode string
	Interval   time.Duration
}

func (s DeviceAuthPoll) Step(e *Engine) (State, error) {
	e.Sleep(s.Interval)

	result, err := e.API.Poll(context.Background(), s.DeviceCode)
	if err != nil {
		logrus.WithError(err).Warn("machine: device poll failed")
		return DisplayError{Message: "could not complete sign-in"}, nil
	}

	if result.Body != nil {
		if result.Body.TokenType != calendarapi.TokenType {
			return DisplayError{Message: "unexpected token type"}, nil
		}
		if err := tokenstore.Save(e.TokenPath, result.Body.RefreshToken); err != nil {
			logrus.WithError(err).Error("machine: saving refresh token failed")
			return DisplayError{Message: "could not save credentials"}, nil
		}
		creds := AccessCredentials{
			AccessToken:  result.Body.AccessToken,
			RefreshToken: result.Body.RefreshToken,
			ExpiresIn:    time.Duration(result.Body.ExpiresIn) * time.Second,
			TokenType:    result.Body.TokenType,
		}
		today := startOfDay(e.Clock())
		return ReadFirstEvents{
			Creds:       creds,
			RefreshedAt: RefreshedAt(e.Clock()),
			RefreshType: Full,
			PendingDate: today,
			Today:       today,
		}, nil
	}

	code := ""
	if result.ErrBody != nil {
		code = result.ErrBody.Error
	}
	switch {
	case result.StatusCode == 403 && code == calendarapi.ErrAccessDenied:
		return DisplayError{Message: "sign-in was denied"}, nil
	case (result.StatusCode == 400 || result.StatusCode == 428) && code == calendarapi.ErrAuthorizationPending:
		return s, nil
	case result.StatusCode == 429 && code == calendarapi.ErrSlowDown:
		return DeviceAuthPoll{DeviceCode: s.DeviceCode, Interval: s.Interval * 2}, nil
	default:
		return DisplayError{Message: "sign-in failed"}, nil
	}
}

// --- RefreshAuth ------------------------------------------------------

// RefreshAuth exchanges a refresh token for a fresh access token.
type RefreshAuth struct {
	RefreshToken string
	PendingDate  time.Time
}

func (s RefreshAuth) Step(e *Engine) (State, error) {
	if err := e.Renderer.DisplayStatus(render.NetworkPending, false); err != nil {
		logrus.WithError(err).Warn("machine: display status failed")
	}

	result, err := e.API.Refresh(context.Background(), s.RefreshToken)
	if err != nil {
		logrus.WithError(err).Warn("machine: refresh transport error, entering outage")
		return CachedDisplay{RefreshToken: s.RefreshToken, NetErrorAt: LastNetErrorAt(e.Clock()), DisplayDate: s.PendingDate}, nil
	}

	if result.Body == nil {
		return DisplayError{Message: "could not refresh credentials"}, nil
	}
	if result.Body.TokenType != calendarapi.TokenType {
		return DisplayError{Message: "unexpected token type"}, nil
	}
	if err := tokenstore.Save(e.TokenPath, result.Body.RefreshToken); err != nil {
		logrus.WithError(err).Error("machine: saving refresh token failed")
		return DisplayError{Message: "could not save credentials"}, nil
	}

	today := startOfDay(e.Clock())
	creds := AccessCredentials{
		AccessToken:  result.Body.AccessToken,
		RefreshToken: result.Body.RefreshToken,
		ExpiresIn:    time.Duration(result.Body.ExpiresIn) * time.Second,
		TokenType:    result.Body.TokenType,
	}
	return ReadFirstEvents{
		Creds:       creds,
		RefreshedAt: RefreshedAt(e.Clock()),
		RefreshType: Full,
		PendingDate: s.PendingDate,
		Today:       today,
	}, nil
}

// --- ReadFirstEvents ------------------------------------------------------

// ReadFirstEvents issues the first page of the event-list query bounded to
// PendingDate.
type ReadFirstEvents struct {
	Creds       AccessCredentials
	RefreshedAt RefreshedAt
	RefreshType RefreshType
	PendingDate time.Time
	Today       time.Time
}

func (s ReadFirstEvents) Step(e *Engine) (State, error) {
	acc := events.New()
	return fetchPage(e, s.Creds, s.RefreshedAt, s.RefreshType, s.PendingDate, s.Today, acc, "")
}

// --- PageEvents ------------------------------------------------------

// PageEvents continues a paged event-list fetch until the last page arrives.
type PageEvents struct {
	Creds       AccessCredentials
	PageToken   string
	Accumulated *events.Appointments
	RefreshedAt RefreshedAt
	RefreshType RefreshType
	PendingDate time.Time
	Today       time.Time
}

func (s PageEvents) Step(e *Engine) (State, error) {
	return fetchPage(e, s.Creds, s.RefreshedAt, s.RefreshType, s.PendingDate, s.Today, s.Accumulated, s.PageToken)
}

func fetchPage(e *Engine, creds AccessCredentials, refreshedAt RefreshedAt, refreshType RefreshType, pendingDate, today time.Time, acc *events.Appointments, pageToken string) (State, error) {
	timeMin := pendingDate
	timeMax := pendingDate.AddDate(0, 0, 1).Add(-time.Second)

	result, err := e.API.ListEvents(context.Background(), creds.AccessToken, timeMin, timeMax, pageToken)
	if err != nil {
		logrus.WithError(err).Warn("machine: list events transport error, entering outage")
		return CachedDisplay{RefreshToken: creds.RefreshToken, NetErrorAt: LastNetErrorAt(e.Clock()), DisplayDate: pendingDate}, nil
	}
	if result.Body == nil {
		return DisplayError{Message: "could not load events"}, nil
	}
	if err := acc.Add(*result.Body); err != nil {
		return DisplayError{Message: err.Error()}, nil
	}

	if result.Body.NextPageToken != nil {
		return PageEvents{
			Creds:       creds,
			PageToken:   *result.Body.NextPageToken,
			Accumulated: acc,
			RefreshedAt: refreshedAt,
			RefreshType: refreshType,
			PendingDate: pendingDate,
			Today:       today,
		}, nil
	}

	nowToday := startOfDay(e.Clock())
	if !nowToday.Equal(today) && pendingDate.Equal(today) {
		return RefreshAuth{RefreshToken: creds.RefreshToken, PendingDate: nowToday}, nil
	}

	finalised := acc.Finalise()
	now := e.Clock()
	if err := e.Renderer.DisplayEvents(now, pendingDate, toRenderEvents(finalised), 0, nil); err != nil {
		logrus.WithError(err).Warn("machine: display events failed")
	}

	return PollEvents{
		Creds:         creds,
		RefreshedAt:   refreshedAt,
		DownloadedAt:  DownloadedAt(now),
		TimeUpdatedAt: TimeUpdatedAt(now),
		StartedWaitAt: now,
		PendingDate:   pendingDate,
		DisplayDate:   pendingDate,
		VPos:          0,
		Events:        finalised,
	}, nil
}

func toRenderEvents(evs []events.Event) []render.Event {
	out := make([]render.Event, len(evs))
	for i, ev := range evs {
		out[i] = render.Event{Summary: ev.Summary, Description: ev.Description, HasDesc: ev.HasDesc, Start: ev.Start, End: ev.End}
	}
	return out
}

// --- PollEvents ------------------------------------------------------

// PollEvents is the idle loop: it watches for token expiry and button input.
type PollEvents struct {
	Creds         AccessCredentials
	RefreshedAt   RefreshedAt
	DownloadedAt  DownloadedAt
	TimeUpdatedAt TimeUpdatedAt
	StartedWaitAt time.Time
	PendingDate   time.Time
	DisplayDate   time.Time
	VPos          int
	Events        []events.Event
}

func (s PollEvents) Step(e *Engine) (State, error) {
	e.Sleep(e.pollTick())
	now := e.Clock()

	if now.Sub(time.Time(s.RefreshedAt))+preemptiveRefresh >= s.Creds.ExpiresIn {
		return RefreshAuth{RefreshToken: s.Creds.RefreshToken, PendingDate: s.DisplayDate}, nil
	}

	resetEvt, resetFired, err := e.Buttons.sample(e.Buttons.Reset)
	if err != nil {
		return DisplayError{Message: err.Error()}, nil
	}
	if resetFired && resetEvt.IsLongPress() {
		return RequestCodes{}, nil
	}
	if resetFired && resetEvt.IsShortPress() {
		if err := e.shutdown(); err != nil {
			logrus.WithError(err).Error("machine: shutdown invocation failed")
		}
		return s, nil
	}

	scrollEvt, scrollFired, err := e.Buttons.sample(e.Buttons.Scroll)
	if err != nil {
		return DisplayError{Message: err.Error()}, nil
	}
	if scrollFired && scrollEvt.IsLongPress() {
		today := startOfDay(now)
		return ReadFirstEvents{Creds: s.Creds, RefreshedAt: s.RefreshedAt, RefreshType: Full, PendingDate: today, Today: today}, nil
	}
	if scrollFired && scrollEvt.IsShortPress() {
		next := s
		next.VPos = clampVPos(s.VPos+scrollStep, len(s.Events))
		if err := e.Renderer.ScrollEvents(now, toRenderEvents(s.Events), next.VPos, nil); err != nil {
			logrus.WithError(err).Warn("machine: scroll repaint failed")
		}
		return next, nil
	}

	if now.Sub(s.StartedWaitAt) >= idleRefreshAfter {
		return ReadFirstEvents{Creds: s.Creds, RefreshedAt: s.RefreshedAt, RefreshType: Full, PendingDate: s.PendingDate, Today: startOfDay(now)}, nil
	}
	if now.Sub(time.Time(s.TimeUpdatedAt)) >= clockRepaintAfter {
		if err := e.Renderer.RefreshDate(s.DisplayDate); err != nil {
			logrus.WithError(err).Warn("machine: clock repaint failed")
		}
		next := s
		next.TimeUpdatedAt = TimeUpdatedAt(now)
		return next, nil
	}

	nextEvt, nextFired, err := e.Buttons.sample(e.Buttons.Next)
	if err != nil {
		return DisplayError{Message: err.Error()}, nil
	}
	backEvt, backFired, err := e.Buttons.sample(e.Buttons.Back)
	if err != nil {
		return DisplayError{Message: err.Error()}, nil
	}

	if (nextFired && nextEvt.IsRelease()) || (backFired && backEvt.IsRelease()) {
		return ReadFirstEvents{Creds: s.Creds, RefreshedAt: s.RefreshedAt, RefreshType: Partial, PendingDate: s.PendingDate, Today: startOfDay(now)}, nil
	}
	if nextFired && nextEvt.IsShortPress() {
		next := s
		next.PendingDate = s.PendingDate.AddDate(0, 0, 1)
		if err := e.Renderer.RefreshDate(next.PendingDate); err != nil {
			logrus.WithError(err).Warn("machine: heading repaint failed")
		}
		return next, nil
	}
	if backFired && backEvt.IsShortPress() {
		next := s
		next.PendingDate = s.PendingDate.AddDate(0, 0, -1)
		if err := e.Renderer.RefreshDate(next.PendingDate); err != nil {
			logrus.WithError(err).Warn("machine: heading repaint failed")
		}
		return next, nil
	}

	return s, nil
}

// clampVPos implements spec.md §3's clamp: [0, max(0, rows-screen)].
// The screen row count is supplied by the renderer via PosCalculator in
// the general case; here, where PollEvents advances v_pos itself between
// repaints, it clamps against the event count as the conservative bound.
func clampVPos(vPos, rows int) int {
	max := rows
	if max < 0 {
		max = 0
	}
	if vPos < 0 {
		return 0
	}
	if vPos > max {
		return max
	}
	return vPos
}

// --- CachedDisplay / NetworkOutage ------------------------------------------------------

// CachedDisplay repaints the existing bitmap with an updated clock before
// handing off to NetworkOutage.
type CachedDisplay struct {
	RefreshToken string
	NetErrorAt   LastNetErrorAt
	DisplayDate  time.Time
}

func (s CachedDisplay) Step(e *Engine) (State, error) {
	now := e.Clock()
	if err := e.Renderer.RefreshDate(s.DisplayDate); err != nil {
		logrus.WithError(err).Warn("machine: cached display repaint failed")
	}
	return NetworkOutage{
		RefreshToken:  s.RefreshToken,
		NetErrorAt:    s.NetErrorAt,
		TimeUpdatedAt: TimeUpdatedAt(now),
		DisplayDate:   s.DisplayDate,
		LastRetryAt:   now,
	}, nil
}

// NetworkOutage blinks a "network down" indicator and periodically retries
// RefreshAuth against the original display_date (not any in-progress
// navigation), per spec.md §4.1.
type NetworkOutage struct {
	RefreshToken  string
	NetErrorAt    LastNetErrorAt
	TimeUpdatedAt TimeUpdatedAt
	DisplayDate   time.Time
	LastRetryAt   time.Time
}

func (s NetworkOutage) Step(e *Engine) (State, error) {
	e.Sleep(e.pollTick())
	now := e.Clock()

	elapsedSinceOutage := now.Sub(time.Time(s.NetErrorAt))
	blinkPhase := (elapsedSinceOutage / blinkPeriod) % 2 == 0
	if err := e.Renderer.DisplayStatus(render.NetworkDown, blinkPhase); err != nil {
		logrus.WithError(err).Warn("machine: outage status display failed")
	}

	resetEvt, resetFired, err := e.Buttons.sample(e.Buttons.Reset)
	if err != nil {
		return DisplayError{Message: err.Error()}, nil
	}
	if resetFired && resetEvt.IsLongPress() {
		return RequestCodes{}, nil
	}
	if resetFired && resetEvt.IsShortPress() {
		if err := e.shutdown(); err != nil {
			logrus.WithError(err).Error("machine: shutdown invocation failed")
		}
		return s, nil
	}

	if now.Sub(s.LastRetryAt) >= outageRetryAfter {
		return RefreshAuth{RefreshToken: s.RefreshToken, PendingDate: s.DisplayDate}, nil
	}

	return s, nil
}

// --- DisplayError / ErrorWait ------------------------------------------------------

// DisplayError surfaces a short human-readable message, then waits.
type DisplayError struct {
	Message string
}

func (s DisplayError) Step(e *Engine) (State, error) {
	logrus.WithField("message", s.Message).Error("machine: displaying error")
	if err := e.Renderer.DisplayMessage(s.Message); err != nil {
		logrus.WithError(err).Warn("machine: could not display error message")
	}
	return ErrorWait{Since: e.Clock()}, nil
}

// ErrorWait waits errorWaitDuration then retries LoadAuth, honoring the
// reset button's short/long-press meanings in the meantime.
type ErrorWait struct {
	Since time.Time
}

func (s ErrorWait) Step(e *Engine) (State, error) {
	e.Sleep(e.pollTick())
	now := e.Clock()

	resetEvt, resetFired, err := e.Buttons.sample(e.Buttons.Reset)
	if err != nil {
		return DisplayError{Message: err.Error()}, nil
	}
	if resetFired && resetEvt.IsLongPress() {
		return RequestCodes{}, nil
	}
	if resetFired && resetEvt.IsShortPress() {
		if err := e.shutdown(); err != nil {
			logrus.WithError(err).Error("machine: shutdown invocation failed")
		}
		return s, nil
	}

	if now.Sub(s.Since) >= errorWaitDuration {
		return LoadAuth{}, nil
	}
	return s, nil
}

func isNotExist(err error) bool { return os.IsNotExist(err) }

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
