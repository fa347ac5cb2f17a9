package logger

import (
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"Warning", LevelWarning, false},
		{"WARN", LevelWarning, false},
		{"error", LevelError, false},
		{"FATAL", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseLevel(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(LevelError)
	if GetLevel() != LevelError {
		t.Errorf("GetLevel() = %v, want %v", GetLevel(), LevelError)
	}
}

func TestCountersIgnoreSampling(t *testing.T) {
	SetSampleRate(1000)
	defer SetSampleRate(1)

	before := Counters()
	for i := 0; i < 5; i++ {
		Warn("sampled warning")
		Error("sampled error")
	}
	after := Counters()

	if got := after["warnings"] - before["warnings"]; got != 5 {
		t.Errorf("warnings counted = %d, want 5", got)
	}
	if got := after["errors"] - before["errors"]; got != 5 {
		t.Errorf("errors counted = %d, want 5", got)
	}
}
