package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"shouting", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := New("prod", tt.level, "test")
			if l.GetLevel() != tt.want {
				t.Errorf("level = %s, want %s", l.GetLevel(), tt.want)
			}
		})
	}
}
