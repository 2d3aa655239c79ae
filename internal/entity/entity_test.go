package entity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hourTraits = Traits{Min: 0, Max: 23, Step: 1}

func TestNumberPublishNotifiesInOrder(t *testing.T) {
	n := NewNumber("hour", hourTraits, 7)
	assert.Equal(t, 7.0, n.State())

	var got []string
	n.AddOnStateCallback(func(v float64) { got = append(got, "a") })
	n.AddOnStateCallback(func(v float64) { got = append(got, "b") })
	n.AddOnStateCallback(nil)

	require.NoError(t, n.Publish(9))
	assert.Equal(t, 9.0, n.State())
	assert.Equal(t, []string{"a", "b"}, got)

	// unchanged values still notify
	require.NoError(t, n.Publish(9))
	assert.Len(t, got, 4)
}

func TestNumberRejectsOutOfRange(t *testing.T) {
	n := NewNumber("minute", Traits{Min: 0, Max: 59, Step: 1}, 0)
	called := false
	n.AddOnStateCallback(func(float64) { called = true })

	assert.Error(t, n.Publish(60))
	assert.Error(t, n.Publish(-1))
	assert.Error(t, n.Publish(math.NaN()))
	assert.Error(t, n.Publish(math.Inf(1)))
	assert.False(t, called)
	assert.Equal(t, 0.0, n.State())
}

func TestNumberSnapsToStep(t *testing.T) {
	n := NewNumber("minute", Traits{Min: 0, Max: 59, Step: 5}, 12)
	assert.Equal(t, 10.0, n.State())

	require.NoError(t, n.Publish(58))
	assert.Equal(t, 55.0, n.State())
}

func TestNumberInitialClamped(t *testing.T) {
	n := NewNumber("hour", hourTraits, 40)
	assert.Equal(t, 23.0, n.State())
}

func TestCallbackMayReadState(t *testing.T) {
	n := NewNumber("hour", hourTraits, 0)
	var seen float64
	n.AddOnStateCallback(func(float64) { seen = n.State() })
	require.NoError(t, n.Publish(5))
	assert.Equal(t, 5.0, seen)
}

func TestSwitch(t *testing.T) {
	s := NewSwitch("mon", false)
	var seen []bool
	s.AddOnStateCallback(func(v bool) { seen = append(seen, v, s.State()) })

	s.TurnOn()
	s.Toggle()
	s.TurnOff()

	assert.Equal(t, []bool{true, true, false, false, false, false}, seen)
	assert.Equal(t, "mon", s.Name())
}
