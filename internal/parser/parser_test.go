package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/buildctl/coord"
	"github.com/mastercactapus/buildctl/internal/command"
	"github.com/mastercactapus/buildctl/internal/driverapi"
)

type fakeModel struct {
	tool         int
	toolTemp     float64
	platformTool int
	platformTemp float64
}

func (m *fakeModel) ToolCount() int { return 1 }
func (m *fakeModel) SetTargetTemperature(tool int, celsius float64) {
	m.tool, m.toolTemp = tool, celsius
}
func (m *fakeModel) SetPlatformTargetTemperature(tool int, celsius float64) {
	m.platformTool, m.platformTemp = tool, celsius
}

type fakeDevice struct {
	model      *fakeModel
	dispatched []string
}

func newFakeDevice() *fakeDevice { return &fakeDevice{model: &fakeModel{}} }

func (d *fakeDevice) Dispatch(line string) error { d.dispatched = append(d.dispatched, line); return nil }
func (d *fakeDevice) Initialize() error          { return nil }
func (d *fakeDevice) Uninitialize() error        { return nil }
func (d *fakeDevice) IsInitialized() bool        { return true }
func (d *fakeDevice) Dispose() error             { return nil }
func (d *fakeDevice) Reset() error               { return nil }
func (d *fakeDevice) Stop(hard bool) error       { return nil }
func (d *fakeDevice) Pause() error               { return nil }
func (d *fakeDevice) Unpause() error             { return nil }
func (d *fakeDevice) IsFinished() bool           { return true }
func (d *fakeDevice) CheckErrors() error         { return nil }
func (d *fakeDevice) CurrentPosition() (coord.Point, error) {
	return coord.Point{}, nil
}
func (d *fakeDevice) InvalidatePosition() {}
func (d *fakeDevice) ReadTemperature() (driverapi.ToolTemperature, error) {
	return driverapi.ToolTemperature{}, nil
}
func (d *fakeDevice) Machine() driverapi.MachineModel { return d.model }

func TestGCodeParser_PlainMotionDispatchesVerbatim(t *testing.T) {
	p := NewGCodeParser()
	cmds, err := p.Parse("G1 X10 Y20")
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	d := newFakeDevice()
	require.NoError(t, cmds[0].Run(d))
	assert.Equal(t, []string{"G1 X10 Y20"}, d.dispatched)
}

func TestGCodeParser_BlankAndCommentLinesProduceNothing(t *testing.T) {
	p := NewGCodeParser()

	cmds, err := p.Parse("")
	require.NoError(t, err)
	assert.Nil(t, cmds)

	cmds, err = p.Parse("; just a comment")
	require.NoError(t, err)
	assert.Nil(t, cmds)
}

func TestGCodeParser_M104SetsTargetTemperatureAndDispatches(t *testing.T) {
	p := NewGCodeParser()
	cmds, err := p.Parse("M104 S200 T1")
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	d := newFakeDevice()
	require.NoError(t, cmds[0].Run(d))
	assert.Equal(t, 1, d.model.tool)
	assert.Equal(t, 200.0, d.model.toolTemp)
	assert.Equal(t, []string{"M104 S200 T1"}, d.dispatched)
}

func TestGCodeParser_M140SetsPlatformTargetTemperature(t *testing.T) {
	p := NewGCodeParser()
	cmds, err := p.Parse("M140 S60")
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	d := newFakeDevice()
	require.NoError(t, cmds[0].Run(d))
	assert.Equal(t, 60.0, d.model.platformTemp)
}

func TestGCodeParser_M0IsAnUnconditionalHalt(t *testing.T) {
	p := NewGCodeParser()
	cmds, err := p.Parse("M0")
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	err = cmds[0].Run(newFakeDevice())
	stop, ok := command.AsStop(err)
	require.True(t, ok)
	assert.Equal(t, command.UnconditionalHalt, stop.Kind)
}

func TestGCodeParser_M30IsProgramEnd(t *testing.T) {
	p := NewGCodeParser()
	cmds, err := p.Parse("M30")
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	err = cmds[0].Run(newFakeDevice())
	stop, ok := command.AsStop(err)
	require.True(t, ok)
	assert.Equal(t, command.ProgramEnd, stop.Kind)
}
