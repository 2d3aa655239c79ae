package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetOutput(os.Stderr, "console") })

	Info("schedule updated", "id", "porch", "hour", 7)
	Error("action failed", errors.New("boom"), "id", "porch")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "info", first["level"])
	assert.Equal(t, "schedule updated", first["message"])
	assert.Equal(t, "porch", first["id"])
	assert.EqualValues(t, 7, first["hour"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "error", second["level"])
	assert.Equal(t, "boom", second["err"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetOutput(os.Stderr, "console") })

	Debug("hidden")
	assert.Empty(t, buf.String())

	SetLevel(LevelDebug)
	Debug("shown", "odd")
	assert.Contains(t, buf.String(), "shown")
	SetLevel(LevelInfo)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
