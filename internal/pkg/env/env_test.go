package env

import (
	"log/slog"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	t.Setenv("MULTICALL_TEST_VALUE", "abc")
	if got := Get("MULTICALL_TEST_VALUE", "x"); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
	if got := Get("MULTICALL_TEST_UNSET", "x"); got != "x" {
		t.Errorf("expected default, got %q", got)
	}
}

func TestGetInt(t *testing.T) {
	t.Setenv("MULTICALL_TEST_INT", "250")
	v, err := GetInt("MULTICALL_TEST_INT", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 250 {
		t.Errorf("expected 250, got %d", v)
	}

	t.Setenv("MULTICALL_TEST_INT", "many")
	if _, err := GetInt("MULTICALL_TEST_INT", 1); err == nil {
		t.Error("expected parse error")
	}
}

func TestGetUint64(t *testing.T) {
	t.Setenv("MULTICALL_TEST_UINT", "55000000")
	v, err := GetUint64("MULTICALL_TEST_UINT", 1)
	if err != nil || v != 55_000_000 {
		t.Errorf("expected 55000000, got %d (%v)", v, err)
	}

	t.Setenv("MULTICALL_TEST_UINT", "-1")
	if _, err := GetUint64("MULTICALL_TEST_UINT", 1); err == nil {
		t.Error("expected parse error for negative value")
	}
}

func TestGetDuration(t *testing.T) {
	v, err := GetDuration("MULTICALL_TEST_UNSET", 3*time.Second)
	if err != nil || v != 3*time.Second {
		t.Errorf("expected default 3s, got %v (%v)", v, err)
	}

	t.Setenv("MULTICALL_TEST_DURATION", "1500ms")
	v, err = GetDuration("MULTICALL_TEST_DURATION", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", v)
	}
}

func TestGetFloatAndBool(t *testing.T) {
	t.Setenv("MULTICALL_TEST_FLOAT", "12.5")
	t.Setenv("MULTICALL_TEST_BOOL", "true")

	f, err := GetFloat("MULTICALL_TEST_FLOAT", 0)
	if err != nil || f != 12.5 {
		t.Errorf("expected 12.5, got %v (%v)", f, err)
	}
	b, err := GetBool("MULTICALL_TEST_BOOL", false)
	if err != nil || !b {
		t.Errorf("expected true, got %v (%v)", b, err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"loud", slog.LevelWarn},
		{"", slog.LevelWarn},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tc.raw)
			if got := ParseLogLevel(slog.LevelWarn); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
