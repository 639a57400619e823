package config

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("PROCTOR_TEST_STRING", "")
	if got := String("PROCTOR_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("String unset: got %q, want fallback", got)
	}

	t.Setenv("PROCTOR_TEST_STRING", "value")
	if got := String("PROCTOR_TEST_STRING", "fallback"); got != "value" {
		t.Errorf("String set: got %q, want value", got)
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 7},
		{"valid", "42", 42},
		{"invalid", "forty", 7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PROCTOR_TEST_INT", tc.value)
			if got := Int("PROCTOR_TEST_INT", 7); got != tc.want {
				t.Errorf("Int: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBoolAndDuration(t *testing.T) {
	t.Setenv("PROCTOR_TEST_BOOL", "true")
	if !Bool("PROCTOR_TEST_BOOL", false) {
		t.Error("Bool: expected true")
	}
	t.Setenv("PROCTOR_TEST_BOOL", "maybe")
	if Bool("PROCTOR_TEST_BOOL", false) {
		t.Error("Bool: invalid value should fall back to false")
	}

	t.Setenv("PROCTOR_TEST_DURATION", "90s")
	if got := Duration("PROCTOR_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("Duration: got %v, want 90s", got)
	}
}

func TestAddrDefault(t *testing.T) {
	t.Setenv("PROCTOR_ADDR", "")
	if got := Addr(); got != DefaultAddr {
		t.Errorf("Addr: got %q, want %q", got, DefaultAddr)
	}
}
