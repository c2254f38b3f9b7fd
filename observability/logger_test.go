package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flux "github.com/nodelift/flux"
)

func TestZerologLoggerWritesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Info("hello", map[string]any{"count": 3})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "info", decoded["level"])
	assert.Equal(t, "hello", decoded["message"])
	assert.EqualValues(t, 3, decoded["count"])
}

func TestZerologLoggerLevelsMapCorrectly(t *testing.T) {
	cases := []struct {
		name  string
		log   func(*ZerologLogger)
		level string
	}{
		{"debug", func(l *ZerologLogger) { l.Debug("d", nil) }, "debug"},
		{"warn", func(l *ZerologLogger) { l.Warn("w", nil) }, "warn"},
		{"error", func(l *ZerologLogger) { l.Error("e", nil) }, "error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewZerologLogger(zerolog.New(&buf))
			tc.log(logger)

			var decoded map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
			assert.Equal(t, tc.level, decoded["level"])
		})
	}
}

func TestLoggerLayerRegistersUnderLoggerTag(t *testing.T) {
	var buf bytes.Buffer
	layer := LoggerLayer(zerolog.New(&buf))

	rt := flux.NewRuntime(flux.NewContext())
	exit := flux.Run(rt, context.Background(), flux.BuildLayer(layer))
	require.True(t, exit.IsSuccess())

	env, _ := exit.Value()
	svc := flux.ContextGet(env, LoggerTag)
	svc.Info("via layer", nil)
	assert.Contains(t, buf.String(), "via layer")
}
