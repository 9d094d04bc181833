package filecapture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/buildctl/coord"
	"github.com/mastercactapus/buildctl/internal/driverapi"
)

type nullDevice struct {
	dispatched []string
}

func (d *nullDevice) Dispatch(line string) error { d.dispatched = append(d.dispatched, line); return nil }
func (d *nullDevice) Initialize() error          { return nil }
func (d *nullDevice) Uninitialize() error        { return nil }
func (d *nullDevice) IsInitialized() bool        { return true }
func (d *nullDevice) Dispose() error             { return nil }
func (d *nullDevice) Reset() error               { return nil }
func (d *nullDevice) Stop(hard bool) error       { return nil }
func (d *nullDevice) Pause() error               { return nil }
func (d *nullDevice) Unpause() error             { return nil }
func (d *nullDevice) IsFinished() bool           { return true }
func (d *nullDevice) CheckErrors() error         { return nil }
func (d *nullDevice) CurrentPosition() (coord.Point, error) {
	return coord.Point{}, nil
}
func (d *nullDevice) InvalidatePosition() {}
func (d *nullDevice) ReadTemperature() (driverapi.ToolTemperature, error) {
	return driverapi.ToolTemperature{}, nil
}
func (d *nullDevice) Machine() driverapi.MachineModel { return nil }

func TestDriver_CapturesToFileInsteadOfForwarding(t *testing.T) {
	inner := &nullDevice{}
	d := Wrap(inner)

	name := filepath.Join(t.TempDir(), "out.gcode")
	require.NoError(t, d.BeginFileCapture(name))

	require.NoError(t, d.Dispatch("G1 X1"))
	require.NoError(t, d.Dispatch("G1 X2"))
	assert.Empty(t, inner.dispatched)

	require.NoError(t, d.EndFileCapture())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "G1 X1\nG1 X2\n", string(data))
}

func TestDriver_DispatchFallsThroughWithoutAnOpenCapture(t *testing.T) {
	inner := &nullDevice{}
	d := Wrap(inner)

	require.NoError(t, d.Dispatch("G1 X1"))
	assert.Equal(t, []string{"G1 X1"}, inner.dispatched)
}

func TestDriver_EndFileCaptureWithoutBeginFails(t *testing.T) {
	d := Wrap(&nullDevice{})
	require.Error(t, d.EndFileCapture())
}

func TestDriver_BeginFileCaptureTwiceFails(t *testing.T) {
	d := Wrap(&nullDevice{})
	name := filepath.Join(t.TempDir(), "out.gcode")
	require.NoError(t, d.BeginFileCapture(name))
	defer d.EndFileCapture()

	require.Error(t, d.BeginFileCapture(name))
}
