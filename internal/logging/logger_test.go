package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"DEBUG":    zerolog.DebugLevel,
		"":         zerolog.InfoLevel,
		"warning":  zerolog.WarnLevel,
		" error ":  zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"verbose":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})
	log.Debug().Msg("hidden")
	log.Info().Str("table", "plays").Int64("removed", 3).Msg("filtered")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "info", ev["level"])
	assert.Equal(t, "plays", ev["table"])
	assert.EqualValues(t, 3, ev["removed"])
	assert.Equal(t, "filtered", ev["message"])
	assert.Contains(t, ev, "time")
}

func TestNew_Console(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(Config{Format: "console", Output: &buf})
	log.Warn().Str("file", "tracking2019.csv").Msg("absent")

	out := buf.String()
	assert.Contains(t, out, "absent")
	assert.Contains(t, out, "tracking2019.csv")
}
