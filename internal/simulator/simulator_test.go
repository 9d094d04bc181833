package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/buildctl/coord"
)

func TestDriver_AbsoluteMotionSetsPosition(t *testing.T) {
	d := New(1)
	require.NoError(t, d.Dispatch("G1 X10 Y20 Z1"))

	pos, err := d.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 10, Y: 20, Z: 1}, pos)
}

func TestDriver_RelativeMotionAccumulates(t *testing.T) {
	d := New(1)
	require.NoError(t, d.Dispatch("G1 X10"))
	require.NoError(t, d.Dispatch("G91"))
	require.NoError(t, d.Dispatch("G1 X5"))

	pos, err := d.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, 15.0, pos.X)
}

func TestDriver_InchesConvertToMillimeters(t *testing.T) {
	d := New(1)
	require.NoError(t, d.Dispatch("G20"))
	require.NoError(t, d.Dispatch("G1 X1"))

	pos, err := d.CurrentPosition()
	require.NoError(t, err)
	assert.InEpsilon(t, 25.4, pos.X, 0.0001)
}

func TestDriver_InvalidatePositionClearsCurrentPosition(t *testing.T) {
	d := New(1)
	require.NoError(t, d.Dispatch("G1 X10"))
	d.InvalidatePosition()

	pos, err := d.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, coord.Point{}, pos)
}

func TestDriver_SetTargetTemperatureIsReflectedInReadTemperature(t *testing.T) {
	d := New(1)
	d.Machine().SetTargetTemperature(0, 200)

	temp, err := d.ReadTemperature()
	require.NoError(t, err)
	assert.Equal(t, 200.0, temp.Target)
	assert.Greater(t, temp.Current, 0.0)
}
