package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newFormatter() *LeftFormatter {
	return New(Dims{Width: 5, Height: 15})
}

func TestJustWrapsOnSpacesAndBreakables(t *testing.T) {
	f := newFormatter()

	cases := map[string]string{
		"foo blah":   "foo\nblah",
		"foo bla-h":  "foo\nbla-h",
		"foo bla h":  "foo\nbla h",
		"foo bl--h":  "foo\nbl--h",
		"foo bl  h":  "foo\nbl  h",
	}
	for in, want := range cases {
		got, err := f.Just(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestJustSplitsOverlongTokensAcrossMultipleRows(t *testing.T) {
	f := newFormatter()

	cases := map[string]string{
		"fo bl123456h":    "fo\nbl123\n456h",
		"fo  bl123456h":   "fo\nbl123\n456h",
		"fo-bl123456h":    "fo-\nbl123\n456h",
		"fo--bl123456h":   "fo--\nbl123\n456h",
		" bl123456h":      "bl123\n456h",
		"fo----bl123456h": "fo---\n-\nbl123\n456h",
		"fo-bl123456hfar": "fo-\nbl123\n456hf\nar",
	}
	for in, want := range cases {
		got, err := f.Just(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestJustDiscardsLeadingWhitespace(t *testing.T) {
	f := newFormatter()

	cases := map[string]string{
		"     bl123456h": "bl123\n456h",
		"     abcdef":    "abcde\nf",
		"      abcdef":   "abcde\nf",
		"ab     a":       "ab\na",
		"ab     abcdef":  "ab\nabcde\nf",
		"abcdef     a":   "abcde\nf\na",
	}
	for in, want := range cases {
		got, err := f.Just(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestJustHandlesAllBreakableRuns(t *testing.T) {
	f := newFormatter()

	cases := map[string]string{
		"-":              "-",
		"--":             "--",
		"-----":          "-----",
		"------":         "-----\n-",
		"-----a":         "-----\na",
		"------a":        "-----\n-a",
		"ab-----a":       "ab---\n--a",
		"ab------a":      "ab---\n---a",
		"-----abcdef":    "-----\nabcde\nf",
		"ab-----abcdef":  "ab---\n--\nabcde\nf",
		"abcdef-----a":   "abcde\nf----\n-a",
	}
	for in, want := range cases {
		got, err := f.Just(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestJustOnEmptyAndWhitespaceOnlyInput(t *testing.T) {
	f := newFormatter()

	for _, in := range []string{"", " ", "  ", "     ", "      "} {
		got, err := f.Just(in)
		assert.NoError(t, err)
		assert.Equal(t, "", got, "input %q", in)
	}
}

func TestJustLinesSplitsOnNewlines(t *testing.T) {
	f := newFormatter()

	got, err := f.Just("foo blah\nfoo bla-h\n\n ")
	assert.NoError(t, err)
	assert.Equal(t, "foo\nblah\nfoo\nbla-h\n\n", got)
}

func TestJustNeverExceedsConfiguredWidth(t *testing.T) {
	f := newFormatter()
	inputs := []string{
		"abc -52 123456",
		" -52456 123456",
		"ab------abcdef",
	}
	for _, in := range inputs {
		got, err := f.Just(in)
		assert.NoError(t, err)
		for _, line := range splitLines(got) {
			assert.LessOrEqual(t, len([]rune(line)), 5, "line %q exceeds width for input %q", line, in)
		}
	}
}

func splitLines(s string) []string {
	var lines []string
	cur := ""
	for _, r := range s {
		if r == '\n' {
			lines = append(lines, cur)
			cur = ""
		} else {
			cur += string(r)
		}
	}
	lines = append(lines, cur)
	return lines
}
