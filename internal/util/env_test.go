package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := map[string]bool{
		"true":  true,
		"1":     true,
		"YES":   true,
		"on":    true,
		"false": false,
		"0":     false,
		"no":    false,
		"off":   false,
	}
	for val, want := range cases {
		t.Setenv("TEST_BOOL", val)
		if got := ParseBoolEnv("TEST_BOOL", !want); got != want {
			t.Errorf("ParseBoolEnv(%q) = %t, want %t", val, got, want)
		}
	}

	t.Setenv("TEST_BOOL", "maybe")
	if got := ParseBoolEnv("TEST_BOOL", true); got != true {
		t.Error("expected default for invalid value")
	}
	if got := ParseBoolEnv("TEST_BOOL_UNSET", true); got != true {
		t.Error("expected default for unset variable")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := ParseIntEnv("TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	t.Setenv("TEST_INT", "not a number")
	if got := ParseIntEnv("TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DURATION", "2m30s")
	if got := ParseDurationEnv("TEST_DURATION", time.Second); got != 2*time.Minute+30*time.Second {
		t.Errorf("expected 2m30s, got %v", got)
	}

	t.Setenv("TEST_DURATION", "soon")
	if got := ParseDurationEnv("TEST_DURATION", 5*time.Second); got != 5*time.Second {
		t.Errorf("expected default 5s, got %v", got)
	}
}
