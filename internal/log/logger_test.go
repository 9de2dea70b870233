package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		level string
		want  zerolog.Level
	}{
		{"dev default", "dev", "", zerolog.DebugLevel},
		{"prod default", "prod", "", zerolog.InfoLevel},
		{"explicit warn", "prod", "warn", zerolog.WarnLevel},
		{"invalid falls back", "dev", "loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseLevel(tt.env, tt.level); got != tt.want {
				t.Errorf("parseLevel(%q, %q) = %v, want %v", tt.env, tt.level, got, tt.want)
			}
		})
	}
}

func TestInit_JSONOutsideDev(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	initTo(&buf, "prod", "info")
	log.Info().Str("room_id", "7").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"room_id":"7"`) || !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("unexpected log line: %s", out)
	}
}
