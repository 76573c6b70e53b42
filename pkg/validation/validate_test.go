package validation

import (
	"strings"
	"testing"

	"feedsync/pkg/models"
)

func TestRequireID(t *testing.T) {
	if err := RequireID("feed", "c1"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	for _, v := range []string{"", "   ", "\t\n"} {
		err := RequireID("feed", v)
		if !models.IsValidation(err) {
			t.Fatalf("value %q should fail validation, got %v", v, err)
		}
	}
}

func TestSanitizeBodyStripsTags(t *testing.T) {
	cases := map[string]string{
		"hello <b>world</b>":            "hello world",
		"<script>alert(1)</script>":     "alert(1)",
		"a < b still fine>":             "a",
		"no markup at all":              "no markup at all",
		"<img src=x onerror=alert(1)/>": "",
	}
	for in, want := range cases {
		if got := SanitizeBody(in, 0); got != want {
			t.Errorf("SanitizeBody(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeBodyControlCharacters(t *testing.T) {
	got := SanitizeBody("line one\nline two\x00\x07\ttab gone", 0)
	if got != "line one\nline twotab gone" {
		t.Fatalf("control handling wrong: %q", got)
	}
	if !strings.Contains(got, "\n") {
		t.Fatal("newline must survive sanitization")
	}
}

func TestSanitizeBodyTrimsAndTruncates(t *testing.T) {
	if got := SanitizeBody("   padded   ", 0); got != "padded" {
		t.Fatalf("whitespace not trimmed: %q", got)
	}
	if got := SanitizeBody(strings.Repeat("a", 50), 10); got != strings.Repeat("a", 10) {
		t.Fatalf("truncation wrong: %q", got)
	}
}

func TestTruncateRuneSafe(t *testing.T) {
	s := "héllo wörld"
	if got := Truncate(s, 5); got != "héllo" {
		t.Fatalf("rune truncation wrong: %q", got)
	}
	if got := Truncate(s, 100); got != s {
		t.Fatalf("short string altered: %q", got)
	}
	if got := Truncate(s, 0); got != s {
		t.Fatalf("zero max must mean no cap: %q", got)
	}
	if got := Truncate(s, -3); got != s {
		t.Fatalf("negative max must mean no cap: %q", got)
	}
}
