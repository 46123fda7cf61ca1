package router

import (
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/tandem/internal/backend"
)

// Verdict is the outcome of comparing a shadow result against the primary.
type Verdict struct {
	Match       bool `json:"match"`
	LengthDelta int  `json:"length_delta"`
}

// Compare reports whether the texts agree once surrounding whitespace is
// trimmed, and the signed difference in characters (shadow minus primary)
// of the untrimmed texts.
func Compare(primary, shadow *backend.Result) Verdict {
	var p, s string
	if primary != nil {
		p = primary.Text
	}
	if shadow != nil {
		s = shadow.Text
	}
	return Verdict{
		Match:       strings.TrimSpace(p) == strings.TrimSpace(s),
		LengthDelta: utf8.RuneCountInString(s) - utf8.RuneCountInString(p),
	}
}
