package action

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "ontime/internal/log"
)

func TestFunc(t *testing.T) {
	calls := 0
	f := Func{Label: "count", Fn: func(context.Context) error { calls++; return nil }}
	require.NoError(t, f.Play(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "count", f.Name())

	boom := errors.New("boom")
	assert.ErrorIs(t, Func{Fn: func(context.Context) error { return boom }}.Play(context.Background()), boom)
	assert.NoError(t, Func{}.Play(context.Background()))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf, "json")
	t.Cleanup(func() { appLog.SetOutput(os.Stderr, "console") })

	require.NoError(t, Log{Message: "porch light on", KV: []any{"id", "porch"}}.Play(context.Background()))
	assert.Contains(t, buf.String(), "porch light on")
	assert.Contains(t, buf.String(), `"id":"porch"`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Log{Message: "x"}.Play(ctx), context.Canceled)
}
