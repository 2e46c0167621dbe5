package engine

import "testing"

func TestJoinPreservesOrder(t *testing.T) {
	got := Join([]Segment{{Text: "hello"}, {Text: " "}, {Text: "world"}})
	if got != "hello world" {
		t.Fatalf("unexpected join result %q", got)
	}
	if Join(nil) != "" {
		t.Fatalf("expected empty join for nil segments")
	}
}

func TestSpaceSegments(t *testing.T) {
	segs := spaceSegments([]Segment{
		{Text: "  open "},
		{Text: "[BLANK_AUDIO]"},
		{Text: ""},
		{Text: "the door\n"},
	})
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d (%v)", len(segs), segs)
	}
	if got := Join(segs); got != "open the door" {
		t.Fatalf("unexpected joined text %q", got)
	}
}

func TestNormaliseLanguage(t *testing.T) {
	cases := []struct {
		candidate, fallback, want string
	}{
		{"en", "pl", "en"},
		{" ", "pl", "pl"},
		{"", "", "auto"},
	}
	for _, tc := range cases {
		if got := normaliseLanguage(tc.candidate, tc.fallback); got != tc.want {
			t.Fatalf("normaliseLanguage(%q, %q) = %q, want %q", tc.candidate, tc.fallback, got, tc.want)
		}
	}
}
