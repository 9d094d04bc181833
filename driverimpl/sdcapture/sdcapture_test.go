package sdcapture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/buildctl/coord"
	"github.com/mastercactapus/buildctl/internal/driverapi"
)

type nullDevice struct {
	dispatched []string
}

func (d *nullDevice) Dispatch(line string) error   { d.dispatched = append(d.dispatched, line); return nil }
func (d *nullDevice) Initialize() error             { return nil }
func (d *nullDevice) Uninitialize() error           { return nil }
func (d *nullDevice) IsInitialized() bool           { return true }
func (d *nullDevice) Dispose() error                { return nil }
func (d *nullDevice) Reset() error                  { return nil }
func (d *nullDevice) Stop(hard bool) error          { return nil }
func (d *nullDevice) Pause() error                  { return nil }
func (d *nullDevice) Unpause() error                { return nil }
func (d *nullDevice) IsFinished() bool              { return true }
func (d *nullDevice) CheckErrors() error            { return nil }
func (d *nullDevice) CurrentPosition() (coord.Point, error) { return coord.Point{}, nil }
func (d *nullDevice) InvalidatePosition()           {}
func (d *nullDevice) ReadTemperature() (driverapi.ToolTemperature, error) {
	return driverapi.ToolTemperature{}, nil
}
func (d *nullDevice) Machine() driverapi.MachineModel { return nil }

func TestDriver_BeginCaptureFailsWithoutCard(t *testing.T) {
	d := Wrap(&nullDevice{})
	d.SetCardPresent(false)
	code, err := d.BeginCapture("x.s3g")
	require.NoError(t, err)
	assert.Equal(t, driverapi.FailNoCard, code)
}

func TestDriver_BeginCaptureFailsWhenLocked(t *testing.T) {
	d := Wrap(&nullDevice{})
	d.SetLocked(true)
	code, err := d.BeginCapture("x.s3g")
	require.NoError(t, err)
	assert.Equal(t, driverapi.FailLocked, code)
}

func TestDriver_CaptureThenPlaybackReplaysLines(t *testing.T) {
	inner := &nullDevice{}
	d := Wrap(inner)

	code, err := d.BeginCapture("x.s3g")
	require.NoError(t, err)
	require.Equal(t, driverapi.Success, code)

	require.NoError(t, d.Dispatch("G1 X1"))
	require.NoError(t, d.Dispatch("G1 X2"))
	assert.Empty(t, inner.dispatched, "lines should be captured, not forwarded")

	n, err := d.EndCapture()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	code, err = d.Playback("x.s3g")
	require.NoError(t, err)
	require.Equal(t, driverapi.Success, code)

	for !d.IsFinished() {
	}
	assert.Equal(t, []string{"G1 X1", "G1 X2"}, inner.dispatched)
}

func TestDriver_PlaybackMissingFile(t *testing.T) {
	d := Wrap(&nullDevice{})
	code, err := d.Playback("missing.s3g")
	require.NoError(t, err)
	assert.Equal(t, driverapi.FailNoFile, code)
}
