package models

import (
	"regexp"
	"strconv"
	"strings"
)

var leadingNumber = regexp.MustCompile(`^[-+]?(\d+(\.\d*)?|\.\d+)`)

// StrengthScore is the canonical numeric form of an extracted
// relationship strength: the leading number of the text, or 0 when the
// text does not start with one. "8", "8/10" and "8.0 (high)" all score 8.
func StrengthScore(strength string) float64 {
	m := leadingNumber.FindString(strings.TrimSpace(strength))
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return f
}
