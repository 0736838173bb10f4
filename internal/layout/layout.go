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

// Package layout wraps a string to a fixed glyph-grid width, grapheme
// cluster aware, per spec.md §4.6. It is a tokenizing state machine
// feeding a line-layout accumulator, reproduced from the one-pass
// algorithm the original formatter used.
package layout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
)

const (
	breakable = "-_"
	spaces    = " \t"
)

// ErrTokenTooLong is returned when a single token cannot fit even on an
// empty line at the configured width.
var ErrTokenTooLong = errors.New("layout: token too long for line width")

// InvalidGraphemeLengthError reports an attempt to add a zero-byte grapheme.
type InvalidGraphemeLengthError struct {
	ByteWidth int
}

func (e *InvalidGraphemeLengthError) Error() string {
	return fmt.Sprintf("layout: invalid grapheme byte width %d", e.ByteWidth)
}

// Dims is the glyph grid size: Width columns by Height rows.
type Dims struct {
	Width  int
	Height int
}

// glyphLayout tracks the running width, in glyphs, of the token currently
// being built, plus a FIFO of completed row byte-widths for tokens that
// span more than one display row.
type glyphLayout struct {
	screenWidths   []int
	lineLength     int
	lastLineOffset int
	lastLineBytes  int
}

func newGlyphLayout(lineLength int) glyphLayout {
	return glyphLayout{lineLength: lineLength}
}

func (g *glyphLayout) partialWidth() int { return g.lastLineOffset }
func (g *glyphLayout) width() int        { return g.lineLength }

func (g *glyphLayout) reset() {
	g.screenWidths = g.screenWidths[:0]
	g.lastLineOffset = 0
	g.lastLineBytes = 0
}

func (g *glyphLayout) add(addedBytes int) error {
	if addedBytes == 0 {
		return &InvalidGraphemeLengthError{ByteWidth: addedBytes}
	}
	newBytes := g.lastLineBytes + addedBytes
	newOffset := g.lastLineOffset + 1
	if newOffset%g.lineLength == 0 {
		g.screenWidths = append(g.screenWidths, newBytes)
		g.lastLineBytes = 0
		g.lastLineOffset = 0
	} else {
		g.lastLineBytes = newBytes
		g.lastLineOffset = newOffset
	}
	return nil
}

func (g *glyphLayout) popScreen() (int, bool) {
	if len(g.screenWidths) == 0 {
		return 0, false
	}
	w := g.screenWidths[0]
	g.screenWidths = g.screenWidths[1:]
	return w, true
}

func (g *glyphLayout) isMultirow() bool { return len(g.screenWidths) > 0 }

func (g *glyphLayout) nextLength() int {
	if g.isMultirow() {
		return g.lineLength
	}
	return g.lastLineOffset
}

func (g *glyphLayout) fits(c int) bool {
	if c == 0 {
		return true
	}
	if g.isMultirow() {
		return false
	}
	return g.lastLineOffset+c <= g.width()
}

type consumptionKind int

const (
	csConsumed consumptionKind = iota
	csEmpty
	csTooLarge
)

type consumptionState struct {
	kind consumptionKind
	val  string
	len  int
}

// pending holds the in-progress token (and any leading spaces, buffered
// separately so a wrapped line never starts with whitespace) plus its
// glyphLayout.
type pending struct {
	value          string
	startingSpaces string
	layout         glyphLayout
}

func newPending(lineLength int) *pending {
	return &pending{layout: newGlyphLayout(lineLength)}
}

func (p *pending) reset() {
	p.value = ""
	p.startingSpaces = ""
	p.layout.reset()
}

func (p *pending) addGlyph(g string) error {
	if strings.Contains(spaces, g) && len(p.value) == 0 {
		p.startingSpaces += " "
		return nil
	}
	p.value += g
	return p.layout.add(len(g))
}

func (p *pending) unshiftToRowStart() consumptionState {
	if w, ok := p.layout.popScreen(); ok {
		screenGlyphs := p.value[:w]
		p.value = p.value[w:]
		p.startingSpaces = ""
		return consumptionState{kind: csConsumed, val: screenGlyphs, len: p.layout.width()}
	}
	result := p.value
	if len(result) == 0 {
		return consumptionState{kind: csEmpty}
	}
	length := p.layout.partialWidth()
	p.reset()
	return consumptionState{kind: csConsumed, val: result, len: length}
}

// consume attempts to place the pending token at column c, returning
// whether it was consumed, is empty, or doesn't fit (TooLarge).
func (p *pending) consume(c int) consumptionState {
	if c == 0 {
		return p.unshiftToRowStart()
	}
	if p.layout.isMultirow() {
		return consumptionState{kind: csTooLarge}
	}
	numSpaces := len(p.startingSpaces)
	totalLen := p.layout.nextLength() + numSpaces
	if totalLen == 0 {
		return consumptionState{kind: csEmpty}
	}
	if p.layout.fits(c + numSpaces) {
		val := p.startingSpaces + p.value
		length := p.layout.partialWidth() + numSpaces
		p.reset()
		return consumptionState{kind: csConsumed, val: val, len: length}
	}
	return consumptionState{kind: csTooLarge}
}

type tokenState int

const (
	stEmpty tokenState = iota
	stBuildingBreakable
	stStartedNonBreakable
	stNotStartedNonBreakable
	stTokenComplete
)

// LeftFormatter line-breaks arbitrary text to a fixed glyph grid width,
// operating on Unicode grapheme clusters rather than bytes.
type LeftFormatter struct {
	size Dims
}

// New returns a LeftFormatter for the given grid size.
func New(size Dims) *LeftFormatter {
	return &LeftFormatter{size: size}
}

// Height returns the configured glyph-grid row count, letting callers that
// window output (e.g. a scrolling display) know how many rows are visible.
func (f *LeftFormatter) Height() int { return f.size.Height }

func isBreakable(g string) bool { return strings.Contains(breakable, g) }
func isSpace(g string) bool     { return strings.Contains(spaces, g) }
func isSplitter(g string) bool  { return isBreakable(g) || isSpace(g) }

// buildOut drains every token pending can place at the current column,
// appending each to output and advancing col, until pending reports Empty
// or a TooLarge token forces a newline-and-retry.
func buildOut(p *pending, output *strings.Builder, col *int) error {
	newCol := *col
	for {
		cs := p.consume(newCol)

		var tok string
		var width, placementCol int

		switch cs.kind {
		case csConsumed:
			tok, width, placementCol = cs.val, cs.len, newCol
		case csTooLarge:
			if newCol == 0 {
				return ErrTokenTooLong
			}
			start := p.consume(0)
			switch start.kind {
			case csConsumed:
				tok = "\n" + start.val
				width = start.len
				placementCol = 0
			case csEmpty:
				*col = newCol
				return nil
			case csTooLarge:
				return ErrTokenTooLong
			}
		case csEmpty:
			*col = newCol
			return nil
		}

		output.WriteString(tok)
		newCol = placementCol + width
	}
}

func graphemesOf(s string) []string {
	out := make([]string, 0, len(s))
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		out = append(out, gr.Str())
	}
	return out
}

// JustLines wraps unformatted line by line (newlines in the input delimit
// independent logical lines) and returns one output string per input line.
func (f *LeftFormatter) JustLines(unformatted string) ([]string, error) {
	lines := strings.Split(unformatted, "\n")
	out := make([]string, len(lines))

	for li, line := range lines {
		st := stEmpty
		col := 0
		var output strings.Builder
		p := newPending(f.size.Width)

		for _, g := range graphemesOf(line) {
			for {
				switch st {
				case stEmpty:
					col = 0
					if isSplitter(g) {
						st = stTokenComplete
					} else {
						if err := p.addGlyph(g); err != nil {
							return nil, err
						}
						st = stStartedNonBreakable
					}
				case stBuildingBreakable:
					st = stTokenComplete
				case stStartedNonBreakable:
					if isSplitter(g) {
						st = stTokenComplete
					} else {
						if err := p.addGlyph(g); err != nil {
							return nil, err
						}
					}
				case stNotStartedNonBreakable:
					if err := p.addGlyph(g); err != nil {
						return nil, err
					}
					if !isSpace(g) {
						st = stStartedNonBreakable
					}
				case stTokenComplete:
					if err := buildOut(p, &output, &col); err != nil {
						return nil, err
					}
					if err := p.addGlyph(g); err != nil {
						return nil, err
					}
					switch {
					case isBreakable(g):
						st = stBuildingBreakable
					case isSpace(g):
						st = stNotStartedNonBreakable
					default:
						st = stStartedNonBreakable
					}
				}
				if st != stTokenComplete {
					break
				}
			}
		}
		if err := buildOut(p, &output, &col); err != nil {
			return nil, err
		}
		out[li] = output.String()
	}
	return out, nil
}

// Just wraps unformatted and rejoins every logical line with a single '\n'.
func (f *LeftFormatter) Just(unformatted string) (string, error) {
	lines, err := f.JustLines(unformatted)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}
