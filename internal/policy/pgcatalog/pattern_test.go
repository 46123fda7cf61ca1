package pgcatalog

import (
	"strings"
	"testing"
)

func TestPrefixPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"support", "support%"},
		{"", "%"},
		{"a_b", `a\_b%`},
		{"100%", `100\%%`},
		{`c:\x`, `c:\\x%`},
	}
	for _, tt := range tests {
		if got := prefixPattern(tt.in); got != tt.want {
			t.Errorf("prefixPattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestListQueries_OrderByID(t *testing.T) {
	t.Parallel()

	for name, q := range map[string]string{"tenant": listByTenant, "skill": listBySkill} {
		if !strings.HasSuffix(q, "ORDER BY id") {
			t.Errorf("%s query does not end with ORDER BY id: %s", name, q)
		}
	}
}
