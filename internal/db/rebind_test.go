package db

import (
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestRebind_NumbersEveryUnquotedPlaceholder(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(rapid.SampledFrom([]string{"?", "a", " ", "'x?'", "=", "\"?\""}), 0, 30).Draw(t, "parts")
		query := strings.Join(parts, "")
		want := 0
		for _, p := range parts {
			if p == "?" {
				want++
			}
		}
		out := rebindDollar(query)
		if strings.Count(out, "$") != want {
			t.Fatalf("%q -> %q: expected %d placeholders", query, out, want)
		}
		if want > 0 && !strings.Contains(out, "$"+strconv.Itoa(want)) {
			t.Fatalf("%q -> %q: missing $%d", query, out, want)
		}
	})
}
