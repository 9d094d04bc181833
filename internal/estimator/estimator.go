// Package estimator implements the time-estimation driver described in the
// Design Notes: Controller.Estimate runs the exact same parse-then-execute
// contract the real build uses, but against a Driver that never touches
// hardware and only accumulates elapsed time.
package estimator

import (
	"io"
	"strings"
	"sync"

	"github.com/mastercactapus/buildctl/coord"
	"github.com/mastercactapus/buildctl/gcode"
	"github.com/mastercactapus/buildctl/internal/driverapi"
)

// defaultLineMillis is charged for any dispatched line that carries no
// motion or dwell information to estimate from (tool changes, fan speed,
// coolant, and the like).
const defaultLineMillis = 50

// Driver accumulates estimated build time as lines are dispatched to it. It
// implements driverapi.Core and driverapi.CommandSink; every other
// capability is intentionally absent since nothing real is ever touched.
type Driver struct {
	mu        sync.Mutex
	pos       coord.Point
	feed      float64 // mm/minute
	totalMs   int64
	model     estimatorModel
}

// New constructs an estimator starting from the origin with no feed rate
// set (so the first move without an explicit F word contributes only the
// default per-line estimate).
func New() *Driver {
	return &Driver{}
}

// Elapsed returns the accumulated estimate in milliseconds.
func (d *Driver) Elapsed() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalMs
}

func (d *Driver) Dispatch(line string) error {
	block, err := tokenize(line)
	if err != nil {
		return err
	}
	if block == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if hasF, f := block.Arg('F'); hasF {
		d.feed = f
	}

	for _, w := range block {
		if w.W == 'G' && w.Arg == 4 {
			d.totalMs += dwellMillis(block)
			return nil
		}
	}

	next := d.pos
	moved := false
	for _, w := range block {
		switch w.W {
		case 'X':
			next.X = w.Arg
			moved = true
		case 'Y':
			next.Y = w.Arg
			moved = true
		case 'Z':
			next.Z = w.Arg
			moved = true
		}
	}

	if !moved {
		d.totalMs += defaultLineMillis
		return nil
	}

	dist := d.pos.DistanceXY(next.X, next.Y)
	d.pos = next

	if d.feed <= 0 {
		d.totalMs += defaultLineMillis
		return nil
	}

	d.totalMs += int64(dist / d.feed * 60000)
	return nil
}

func dwellMillis(b gcode.Block) int64 {
	if hasP, p := b.Arg('P'); hasP {
		return int64(p)
	}
	if hasS, s := b.Arg('S'); hasS {
		return int64(s * 1000)
	}
	return 0
}

func tokenize(line string) (gcode.Block, error) {
	p := gcode.NewParser(strings.NewReader(line + "\n"))
	block, err := p.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

func (d *Driver) Initialize() error    { return nil }
func (d *Driver) Uninitialize() error  { return nil }
func (d *Driver) IsInitialized() bool  { return true }
func (d *Driver) Dispose() error       { return nil }
func (d *Driver) Reset() error         { return nil }
func (d *Driver) Stop(hard bool) error { return nil }
func (d *Driver) Pause() error         { return nil }
func (d *Driver) Unpause() error       { return nil }
func (d *Driver) IsFinished() bool     { return true }
func (d *Driver) CheckErrors() error   { return nil }
func (d *Driver) CurrentPosition() (coord.Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos, nil
}
func (d *Driver) InvalidatePosition() {}
func (d *Driver) ReadTemperature() (driverapi.ToolTemperature, error) {
	return driverapi.ToolTemperature{}, nil
}
func (d *Driver) Machine() driverapi.MachineModel { return &d.model }

// estimatorModel satisfies driverapi.MachineModel with no-ops: temperature
// targets don't affect a time estimate.
type estimatorModel struct{}

func (*estimatorModel) ToolCount() int                                          { return 1 }
func (*estimatorModel) SetTargetTemperature(tool int, celsius float64)          {}
func (*estimatorModel) SetPlatformTargetTemperature(tool int, celsius float64)  {}
