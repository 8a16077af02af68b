package post

import (
	"reflect"
	"regexp"
	"strings"
	"testing"
)

func TestSplitExamples(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		first, rest int
		want        []string
	}{
		{"word boundary on first tier", "a b c", 3, 100, []string{"a b", "c"}},
		{"empty input yields one chunk", "", 10, 10, []string{""}},
		{"fits in one chunk", "hello", 10, 10, []string{"hello"}},
		{"hard cut without whitespace", "abcdef", 3, 3, []string{"abc", "def"}},
		{"two tiers", "aa bb cc dd", 5, 100, []string{"aa bb", "cc dd"}},
		{"exact fit", "abc", 3, 3, []string{"abc"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Split(tc.text, tc.first, tc.rest)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Split(%q, %d, %d) = %q, want %q", tc.text, tc.first, tc.rest, got, tc.want)
			}
		})
	}
}

var wsRun = regexp.MustCompile(`\s+`)

func TestSplitProperties(t *testing.T) {
	texts := []string{
		"",
		"one",
		strings.Repeat("word ", 200),
		strings.Repeat("x", 500),
		"short intro\n\n" + strings.Repeat("sentence with several words in it. ", 40),
	}
	for _, text := range texts {
		for _, limits := range [][2]int{{10, 10}, {25, 100}, {1000, 4000}} {
			first, rest := limits[0], limits[1]
			chunks := Split(text, first, rest)

			if len(chunks) == 0 {
				t.Fatalf("Split returned no chunks for %q", text)
			}
			for i, ch := range chunks {
				limit := rest
				if i == 0 {
					limit = first
				}
				if len(ch) > limit {
					t.Fatalf("chunk %d exceeds limit %d: %d bytes", i, limit, len(ch))
				}
			}

			// Joining with single spaces reconstructs the text modulo the
			// whitespace runs collapsed at cut points.
			got := wsRun.ReplaceAllString(strings.Join(chunks, " "), " ")
			want := wsRun.ReplaceAllString(text, " ")
			if got != want {
				t.Fatalf("lossy split for limits %v:\n got %q\nwant %q", limits, got, want)
			}
		}
	}
}
