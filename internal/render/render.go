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

// Package render is the facade over the local display daemon's TCP
// control channel, per spec.md §4.7. It turns the higher-level verbs the
// state machine calls into batches of drawing operations and streams them
// over a single persistent connection.
package render

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kieranjwhite/calendar-mirror-sub000/internal/layout"
)

// Pos is a glyph-grid coordinate.
type Pos struct {
	X, Y int
}

// OpKind identifies which drawing operation a wire-encoded Operation carries.
type OpKind int

const (
	OpClear OpKind = iota
	OpAddText
	OpUpdateText
	OpRemoveText
	OpWriteAll
)

// Operation is one entry of a drawing-operation batch, per spec.md §4.7.
type Operation struct {
	Kind OpKind  `json:"kind"`
	Text string  `json:"text,omitempty"`
	Pos  Pos     `json:"pos,omitempty"`
	ID   string  `json:"id,omitempty"`
}

// RenderPipeline owns the socket to the local render daemon and streams
// operation batches over it, each length-prefixed so the daemon can frame
// them off the stream.
type RenderPipeline struct {
	conn net.Conn
}

// NewPipelineWithConn wraps an already-established connection, letting
// tests substitute a net.Pipe for the real display daemon socket.
func NewPipelineWithConn(conn net.Conn) *RenderPipeline {
	return &RenderPipeline{conn: conn}
}

// NewPipeline dials the display daemon at addr (config.Prefs.DisplayAddr).
func NewPipeline(addr string) (*RenderPipeline, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("render: connect display daemon: %w", err)
	}
	return &RenderPipeline{conn: conn}, nil
}

// Send streams ops, in order, as length-prefixed JSON frames.
func (p *RenderPipeline) Send(ops []Operation) error {
	for _, op := range ops {
		buf, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("render: encode operation: %w", err)
		}
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
		if _, err := p.conn.Write(lenPrefix[:]); err != nil {
			return fmt.Errorf("render: write frame length: %w", err)
		}
		if _, err := p.conn.Write(buf); err != nil {
			return fmt.Errorf("render: write frame: %w", err)
		}
	}
	return nil
}

// Close releases the socket.
func (p *RenderPipeline) Close() error { return p.conn.Close() }

const (
	headingID = "heading"
	eventsID  = "events"

	noEvents       = "No events"
	startDelimiter = " < "
	summaryDelim   = ". "
	descDelimiter  = " > "

	timeFormat = "15:04"
	dateFormat = "02/01/2006"
)

var headingPos = Pos{X: 10, Y: 0}
var eventsPos = Pos{X: 0, Y: 2}

// Status is the network/auth health indicator shown alongside the clock.
type Status int

const (
	// AllOk is shown when the last refresh/fetch succeeded.
	AllOk Status = iota
	// NetworkPending is shown while a refresh/poll is in flight.
	NetworkPending
	// NetworkDown is shown while NetworkOutage retries in the background.
	NetworkDown
)

func (s Status) String() string {
	switch s {
	case AllOk:
		return "ok"
	case NetworkPending:
		return "pending"
	case NetworkDown:
		return "down"
	default:
		return "unknown"
	}
}

// Event is the minimal shape the renderer needs to draw one appointment row.
type Event struct {
	Summary     string
	Description string
	HasDesc     bool
	Start       time.Time
	End         time.Time
}

// PosCalculator receives the renderer's computed total row count and
// returns the clamped vertical scroll offset to actually draw from — the
// state machine's clamp (spec.md §3) stays the single source of truth even
// though only the renderer knows the screen's row count at draw time.
type PosCalculator func(totalRows int) (vPos int)

// Renderer implements the higher-level verbs spec.md §4.7 names, composing
// Operation batches on top of RenderPipeline.
type Renderer struct {
	pipe      *RenderPipeline
	formatter *layout.LeftFormatter
}

// New wraps pipe with the higher-level drawing verbs, wrapping any
// overlong line through f.
func New(pipe *RenderPipeline, f *layout.LeftFormatter) *Renderer {
	return &Renderer{pipe: pipe, formatter: f}
}

func formatEvent(ev Event) string {
	var b strings.Builder
	b.WriteString(ev.Start.Format(timeFormat))
	b.WriteString(startDelimiter)
	b.WriteString(ev.Summary)
	b.WriteString(summaryDelim)
	if ev.HasDesc {
		b.WriteString(ev.Description)
	}
	b.WriteString(descDelimiter)
	b.WriteString(ev.End.Format(timeFormat))
	b.WriteByte('\n')
	return b.String()
}

// DisplayUserCode shows the device-flow user code, verification URL and
// absolute expiry during RequestCodes/DeviceAuthPoll.
func (r *Renderer) DisplayUserCode(userCode, verificationURL string, expiresAt time.Time) error {
	text := fmt.Sprintf("Go to %s\nEnter code: %s\nExpires %s", verificationURL, userCode, expiresAt.Format(timeFormat))
	return r.pipe.Send([]Operation{
		{Kind: OpClear},
		{Kind: OpAddText, Text: text, Pos: headingPos, ID: headingID},
		{Kind: OpWriteAll},
	})
}

// DisplayMessage shows a short human-readable message in place of the
// heading, used by DisplayError.
func (r *Renderer) DisplayMessage(text string) error {
	return r.pipe.Send([]Operation{
		{Kind: OpClear},
		{Kind: OpAddText, Text: text, Pos: headingPos, ID: headingID},
		{Kind: OpWriteAll},
	})
}

// DisplayEvents performs a full redraw of the heading (date) and the
// event list for now, wrapping any overlong line through the formatter and
// windowing it to the rows visible at vPos.
func (r *Renderer) DisplayEvents(now time.Time, date time.Time, events []Event, vPos int, calc PosCalculator) error {
	ops := make([]Operation, 0, 4)
	ops = append(ops, Operation{Kind: OpClear})
	ops = append(ops, Operation{Kind: OpAddText, Text: date.Format(dateFormat), Pos: headingPos, ID: headingID})

	lines, err := r.eventsLines(events)
	if err != nil {
		return err
	}
	if calc != nil {
		vPos = calc(len(lines))
	}
	body := windowLines(lines, vPos, r.visibleRows())

	ops = append(ops, Operation{Kind: OpAddText, Text: body, Pos: eventsPos, ID: eventsID})
	ops = append(ops, Operation{Kind: OpWriteAll})
	return r.pipe.Send(ops)
}

// ScrollEvents repaints the event list at a new scroll offset without a
// full clear.
func (r *Renderer) ScrollEvents(now time.Time, events []Event, vPos int, calc PosCalculator) error {
	lines, err := r.eventsLines(events)
	if err != nil {
		return err
	}
	if calc != nil {
		vPos = calc(len(lines))
	}
	body := windowLines(lines, vPos, r.visibleRows())
	return r.pipe.Send([]Operation{
		{Kind: OpUpdateText, Text: body, ID: eventsID},
		{Kind: OpWriteAll},
	})
}

// visibleRows is how many event-list rows fit below eventsPos's Y offset.
func (r *Renderer) visibleRows() int {
	rows := r.formatter.Height() - eventsPos.Y
	if rows < 1 {
		return 1
	}
	return rows
}

// eventsLines formats every event and flattens the result to one entry per
// display row, so callers can window it by vPos.
func (r *Renderer) eventsLines(events []Event) ([]string, error) {
	if len(events) == 0 {
		return []string{noEvents}, nil
	}
	var lines []string
	for _, ev := range events {
		line := formatEvent(ev)
		wrapped, err := r.formatter.Just(strings.TrimSuffix(line, "\n"))
		if err != nil {
			return nil, fmt.Errorf("render: format event: %w", err)
		}
		lines = append(lines, strings.Split(wrapped, "\n")...)
	}
	return lines, nil
}

// windowLines returns the rows visible starting at vPos, clamped to lines'
// bounds, joined back into the single string the wire protocol carries.
func windowLines(lines []string, vPos, maxRows int) string {
	if vPos < 0 {
		vPos = 0
	}
	if vPos > len(lines) {
		vPos = len(lines)
	}
	end := vPos + maxRows
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[vPos:end], "\n")
}

// RefreshDate repaints only the heading (date navigation without refetch).
func (r *Renderer) RefreshDate(date time.Time) error {
	return r.pipe.Send([]Operation{
		{Kind: OpUpdateText, Text: date.Format(dateFormat), ID: headingID},
		{Kind: OpWriteAll},
	})
}

// DisplayStatus shows the network/auth status indicator. blinkPhase lets
// the caller alternate a visible marker without the renderer owning a timer.
func (r *Renderer) DisplayStatus(status Status, blinkPhase bool) error {
	marker := " "
	if blinkPhase {
		marker = "*"
	}
	return r.pipe.Send([]Operation{
		{Kind: OpUpdateText, Text: status.String() + marker, ID: "status"},
		{Kind: OpWriteAll},
	})
}
