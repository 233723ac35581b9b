package cmd

import "testing"

func TestParseID(t *testing.T) {
	if id, err := parseID(" 42 ", "user id"); err != nil || id != 42 {
		t.Fatalf("expected 42, got %d (%v)", id, err)
	}
	for _, raw := range []string{"", "0", "-1", "abc"} {
		if _, err := parseID(raw, "user id"); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
