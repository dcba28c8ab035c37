package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"off", true, false},
		{"", true, true},
		{"maybe", false, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("ORDERFLOW_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("ORDERFLOW_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("ORDERFLOW_TEST_INT", "42")
	if got := ParseIntEnv("ORDERFLOW_TEST_INT", 7); got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
	t.Setenv("ORDERFLOW_TEST_INT", "not-a-number")
	if got := ParseIntEnv("ORDERFLOW_TEST_INT", 7); got != 7 {
		t.Errorf("Expected default 7 for invalid value, got %d", got)
	}
	t.Setenv("ORDERFLOW_TEST_INT", "")
	if got := ParseIntEnv("ORDERFLOW_TEST_INT", 7); got != 7 {
		t.Errorf("Expected default 7 for empty value, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("ORDERFLOW_TEST_DUR", "90s")
	if got := ParseDurationEnv("ORDERFLOW_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("Expected 90s, got %v", got)
	}
	t.Setenv("ORDERFLOW_TEST_DUR", "soon")
	if got := ParseDurationEnv("ORDERFLOW_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("Expected default for invalid value, got %v", got)
	}
}
