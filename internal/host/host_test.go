package host

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stub struct {
	id     string
	err    error
	log    *[]string
	dumped int
}

func (s *stub) ID() string { return s.id }
func (s *stub) Setup() error {
	*s.log = append(*s.log, s.id)
	return s.err
}
func (s *stub) DumpConfig() { s.dumped++ }

func TestRegistrySetupInOrder(t *testing.T) {
	var log []string
	r := NewRegistry()
	a, b := &stub{id: "a", log: &log}, &stub{id: "b", log: &log}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	assert.Error(t, r.Register(&stub{id: "a", log: &log}))

	require.NoError(t, r.Setup())
	assert.Equal(t, []string{"a", "b"}, log)

	// late registration is set up right away
	require.NoError(t, r.Register(&stub{id: "c", log: &log}))
	assert.Equal(t, []string{"a", "b", "c"}, log)

	r.DumpConfig()
	assert.Equal(t, 1, a.dumped)
	assert.Equal(t, 1, b.dumped)

	got, ok := r.Get("b")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Len(t, r.Components(), 3)
}

func TestRegistrySetupStopsOnError(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	r := NewRegistry()
	require.NoError(t, r.Register(&stub{id: "a", log: &log, err: boom}))
	require.NoError(t, r.Register(&stub{id: "b", log: &log}))

	err := r.Setup()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, log)
}
