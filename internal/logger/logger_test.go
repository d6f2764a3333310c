package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("bogus", "text", &buf)

	assert.Equal(t, "info", log.Level())

	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Info().Str("source", "snippy").Msg("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "source=snippy")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "json", &buf)

	log.Warn().
		Str("source", "snippy").
		Int("rank", 1000).
		Bool("ok", false).
		Dur("took", 1500*time.Microsecond).
		Err(errors.New("boom")).
		Msg("gather failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "gather failed", line["msg"])
	assert.Equal(t, "snippy", line["source"])
	assert.Equal(t, float64(1000), line["rank"])
	assert.Equal(t, false, line["ok"])
	assert.Equal(t, 1.5, line["took"])
	assert.Equal(t, "boom", line["error"])
}

func TestErrNilIsIgnored(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "json", &buf)

	log.Info().Err(nil).Msg("fine")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, line, "error")
}

func TestNop(t *testing.T) {
	log := Nop()
	// Must not panic or write anywhere.
	log.Error().Str("k", "v").Msg("discarded")
}
