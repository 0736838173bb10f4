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

// Package calendarapi is the HTTP adapter of spec.md §4.3: it issues the
// device-authorization, poll/refresh and event-list requests and returns
// typed responses or a transport error. It holds no retry logic — retries
// belong to the state machine in internal/machine.
package calendarapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenType is the only accepted OAuth token_type value (spec.md §3).
const TokenType = "Bearer"

// GrantType is the URL-literal device-flow grant type fixed by spec.md §6.
const GrantType = "http://oauth.net/grant_type/device/1.0"

// Known device-flow error codes (spec.md §4.1).
const (
	ErrRateLimitExceeded     = "rate_limit_exceeded"
	ErrAccessDenied          = "access_denied"
	ErrAuthorizationPending  = "authorization_pending"
	ErrSlowDown              = "slow_down"
)

// Config names the three endpoints and the client identity the adapter talks to.
// Overridable so tests can point it at a local double, per SPEC_FULL.md §4.3.
type Config struct {
	DeviceCodeURL string
	PollURL       string
	ListEventsURL string
	ClientID      string
	ClientSecret  string
	Scope         string
	UserAgent     string
	HTTPClient    *http.Client
}

// Adapter issues the three HTTP operations of spec.md §4.3.
type Adapter struct {
	cfg Config
}

// New builds an Adapter, defaulting the HTTP client if none was supplied.
func New(cfg Config) *Adapter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "calendar-mirror/1.0"
	}
	return &Adapter{cfg: cfg}
}

// TransportError wraps any failure to send or receive an HTTP request —
// the category that routes into CachedDisplay/NetworkOutage (spec.md §7).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("calendarapi: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

func (a *Adapter) post(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	logrus.WithField("url", rawURL).Debug("calendarapi: POST")
	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "POST " + rawURL, Err: err}
	}
	return resp, nil
}

// DeviceCodeResponse is the successful body of RequestDeviceCode.
type DeviceCodeResponse struct {
	DeviceCode       string `json:"device_code"`
	UserCode         string `json:"user_code"`
	ExpiresIn        int64  `json:"expires_in"`
	Interval         int64  `json:"interval"`
	VerificationURL  string `json:"verification_url"`
}

// DeviceCodeErrorResponse is the error body of RequestDeviceCode.
type DeviceCodeErrorResponse struct {
	ErrorCode string `json:"error_code"`
}

// RequestDeviceCodeResult carries the HTTP status alongside one of the two bodies.
type RequestDeviceCodeResult struct {
	StatusCode int
	Body       *DeviceCodeResponse
	ErrBody    *DeviceCodeErrorResponse
}

// RequestDeviceCode issues the device-authorization POST of spec.md §6.
func (a *Adapter) RequestDeviceCode(ctx context.Context) (*RequestDeviceCodeResult, error) {
	form := url.Values{
		"client_id": {a.cfg.ClientID},
		"scope":     {a.cfg.Scope},
	}
	resp, err := a.post(ctx, a.cfg.DeviceCodeURL, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &RequestDeviceCodeResult{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body DeviceCodeResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("calendarapi: decode device code response: %w", err)
		}
		result.Body = &body
		return result, nil
	}
	var errBody DeviceCodeErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		return nil, fmt.Errorf("calendarapi: decode device code error body: %w", err)
	}
	result.ErrBody = &errBody
	return result, nil
}

// PollResponse is the successful body shared by Poll and Refresh.
type PollResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// PollErrorResponse is the error body shared by Poll and Refresh.
type PollErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// PollResult carries the HTTP status alongside one of the two bodies.
type PollResult struct {
	StatusCode int
	Body       *PollResponse
	ErrBody    *PollErrorResponse
}

// Poll issues the device-code poll POST of spec.md §6.
func (a *Adapter) Poll(ctx context.Context, deviceCode string) (*PollResult, error) {
	form := url.Values{
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
		"code":          {deviceCode},
		"grant_type":    {GrantType},
	}
	return a.doPollLike(ctx, a.cfg.PollURL, form)
}

// Refresh issues the refresh-token POST of spec.md §6.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*PollResult, error) {
	form := url.Values{
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	return a.doPollLike(ctx, a.cfg.PollURL, form)
}

func (a *Adapter) doPollLike(ctx context.Context, rawURL string, form url.Values) (*PollResult, error) {
	resp, err := a.post(ctx, rawURL, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &PollResult{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body PollResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("calendarapi: decode poll response: %w", err)
		}
		result.Body = &body
		return result, nil
	}
	var errBody PollErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		return nil, fmt.Errorf("calendarapi: decode poll error body: %w", err)
	}
	result.ErrBody = &errBody
	return result, nil
}

// EventDateTime is the {dateTime?, date?} pair the remote service returns for
// an event's start or end, per spec.md §6.
type EventDateTime struct {
	DateTime *string `json:"dateTime,omitempty"`
	Date     *string `json:"date,omitempty"`
}

// Creator identifies the owning mailbox of an event.
type Creator struct {
	Email string `json:"email"`
}

// Event is one item of an EventsResponse, per spec.md §6.
type Event struct {
	Summary     string         `json:"summary"`
	Description *string        `json:"description,omitempty"`
	Start       EventDateTime  `json:"start"`
	End         EventDateTime  `json:"end"`
	Creator     Creator        `json:"creator"`
}

// EventsResponse is the body of ListEvents.
type EventsResponse struct {
	Items         []Event `json:"items"`
	NextPageToken *string `json:"nextPageToken,omitempty"`
}

// ListEventsResult carries the HTTP status alongside the body (errors have no
// documented shape, so they are surfaced as the raw status only).
type ListEventsResult struct {
	StatusCode int
	Body       *EventsResponse
}

// ListEvents issues the GET of spec.md §6, bounded to [timeMin, timeMax) and
// optionally continuing from pageToken.
func (a *Adapter) ListEvents(ctx context.Context, bearer string, timeMin, timeMax time.Time, pageToken string) (*ListEventsResult, error) {
	u, err := url.Parse(a.cfg.ListEventsURL)
	if err != nil {
		return nil, fmt.Errorf("calendarapi: invalid list events URL: %w", err)
	}
	q := u.Query()
	q.Set("timeMin", timeMin.Format(time.RFC3339))
	q.Set("timeMax", timeMax.Format(time.RFC3339))
	q.Set("maxResults", "250")
	q.Set("singleEvents", "true")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.cfg.UserAgent)

	logrus.WithFields(logrus.Fields{"timeMin": timeMin, "timeMax": timeMax, "pageToken": pageToken}).Debug("calendarapi: list events")
	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "GET " + a.cfg.ListEventsURL, Err: err}
	}
	defer resp.Body.Close()

	result := &ListEventsResult{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body EventsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("calendarapi: decode events response: %w", err)
		}
		result.Body = &body
	}
	return result, nil
}
