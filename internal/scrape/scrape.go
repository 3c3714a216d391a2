// Package scrape extracts usage percentages and credit balances from the
// free-form text printed by interactive assistant CLIs.
package scrape

import (
	"errors"
	"strconv"
	"strings"

	"github.com/denysvitali/codexbar/internal/provider"
)

// ErrParseFailure is wrapped by callers when no number could be extracted
var ErrParseFailure = errors.New("no usage data in output")

// windowLookahead is how many lines after a label are searched for a percentage
const windowLookahead = 8

var usedMarkers = []string{"used", "spent", "consumed"}

// StripANSI removes CSI escape sequences (ESC '[' params final) and lone ESC
// bytes from s.
func StripANSI(s string) string {
	if strings.IndexByte(s, 0x1b) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != 0x1b {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '[' {
			i += 2
			for i < len(s) && (s[i] < 0x40 || s[i] > 0x7e) {
				i++
			}
		}
	}
	return b.String()
}

// FirstLineContaining returns the first line containing label, ignoring case
func FirstLineContaining(text, label string) (string, bool) {
	needle := strings.ToLower(label)
	for _, line := range lines(text) {
		if strings.Contains(strings.ToLower(line), needle) {
			return line, true
		}
	}
	return "", false
}

// PercentLeft reads "N% left" style lines: the number right before the first
// '%'. Lines without "left" are rejected.
func PercentLeft(line string) (float64, bool) {
	if !strings.Contains(strings.ToLower(line), "left") {
		return 0, false
	}
	idx := strings.IndexByte(line, '%')
	if idx < 0 {
		return 0, false
	}
	return LastNumber(line[:idx])
}

// LeftToUsed converts a remaining percentage into a used percentage
func LeftToUsed(left float64) float64 {
	return provider.Clamp(100 - left)
}

// LabeledUsedPercent finds the line carrying label and converts its
// "% left" figure into a used percentage.
func LabeledUsedPercent(text, label string) (float64, bool) {
	line, ok := FirstLineContaining(text, label)
	if !ok {
		return 0, false
	}
	left, ok := PercentLeft(line)
	if !ok {
		return 0, false
	}
	return LeftToUsed(left), true
}

// WindowedUsedPercent anchors on the first line matching any of labels and
// looks at that line and the following lines for a percentage. Figures on
// lines mentioning used, spent or consumed are taken as used; anything else
// is read as remaining and inverted.
func WindowedUsedPercent(text string, labels ...string) (float64, bool) {
	all := lines(text)
	anchor := -1
	for i, line := range all {
		lower := strings.ToLower(line)
		for _, label := range labels {
			if strings.Contains(lower, strings.ToLower(label)) {
				anchor = i
				break
			}
		}
		if anchor >= 0 {
			break
		}
	}
	if anchor < 0 {
		return 0, false
	}

	end := min(anchor+windowLookahead+1, len(all))
	for _, line := range all[anchor:end] {
		idx := strings.IndexByte(line, '%')
		if idx < 0 {
			continue
		}
		value, ok := LastNumber(line[:idx])
		if !ok {
			continue
		}
		if isUsedLine(line) {
			return provider.Clamp(value), true
		}
		return LeftToUsed(value), true
	}
	return 0, false
}

// Credits finds the first line mentioning credits and parses the number
// after its colon, falling back to the first number on the line.
func Credits(text string) (float64, bool) {
	for _, line := range lines(text) {
		if !strings.Contains(strings.ToLower(line), "credits") {
			continue
		}
		if _, tail, ok := strings.Cut(line, ":"); ok {
			if v, ok := FirstNumber(tail); ok {
				return v, true
			}
		}
		if v, ok := FirstNumber(line); ok {
			return v, true
		}
	}
	return 0, false
}

// FirstNumber parses the first run of digits, dots and commas in s.
// Commas are treated as thousands separators.
func FirstNumber(s string) (float64, bool) {
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && (isDigitByte(s[end]) || s[end] == '.' || s[end] == ',') {
		end++
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s[start:end], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// LastNumber parses the rightmost run of digits and dots in s
func LastNumber(s string) (float64, bool) {
	end := len(s)
	for end > 0 && !isDigitByte(s[end-1]) {
		end--
	}
	if end == 0 {
		return 0, false
	}
	start := end
	for start > 0 && (isDigitByte(s[start-1]) || s[start-1] == '.') {
		start--
	}
	v, err := strconv.ParseFloat(s[start:end], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isUsedLine(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range usedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func lines(text string) []string {
	out := strings.Split(text, "\n")
	for i, line := range out {
		out[i] = strings.TrimSuffix(line, "\r")
	}
	return out
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isDigitByte(b byte) bool { return b >= '0' && b <= '9' }
