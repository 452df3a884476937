package ids

import (
	"sort"
	"testing"
)

func TestNewProducesValidSortableIDs(t *testing.T) {
	got := make([]string, 16)
	seen := make(map[string]bool, len(got))
	for i := range got {
		got[i] = New()
		if !IsValid(got[i]) {
			t.Fatalf("generated id %q does not validate", got[i])
		}
		if seen[got[i]] {
			t.Fatalf("duplicate id %q", got[i])
		}
		seen[got[i]] = true
	}
	if !sort.StringsAreSorted(got) {
		t.Fatalf("ids generated in order must sort in order: %v", got)
	}
}

func TestIsValidRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"short",
		"not-an-identifier-at-all!!",
		"0123456789012345678901234U",  // U is outside the alphabet
		"012345678901234567890123456", // too long
	}
	for _, s := range cases {
		if IsValid(s) {
			t.Errorf("IsValid(%q) = true, want false", s)
		}
	}
}
