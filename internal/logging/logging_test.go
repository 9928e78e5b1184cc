package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":         slog.LevelInfo,
		"INFO":     slog.LevelInfo,
		" debug ":  slog.LevelDebug,
		"Warning":  slog.LevelWarn,
		"warn":     slog.LevelWarn,
		"err":      slog.LevelError,
		"E-R-R-OR": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	lg, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	lg.Info("hidden")
	lg.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	lg, err := New(Options{Format: "text", Writer: &buf})
	require.NoError(t, err)

	lg.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}
