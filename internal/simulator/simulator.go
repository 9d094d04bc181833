// Package simulator implements the simulator driver (D2): a
// driverapi.Device that tracks position and tool temperature entirely in
// memory instead of talking to real hardware. It is selected by preference
// alongside, or instead of, a live driver so a build can be previewed
// without motion.
package simulator

import (
	"io"
	"strings"
	"sync"

	"github.com/mastercactapus/buildctl/coord"
	"github.com/mastercactapus/buildctl/gcode"
	"github.com/mastercactapus/buildctl/internal/driverapi"
)

// Driver is the in-memory Device. It implements driverapi.Core and
// driverapi.CommandSink; it does not implement Capture, SDCapture,
// SerialOwner or OnboardParameters, since none of those make sense for a
// device that has no file system or serial port of its own.
type Driver struct {
	mu          sync.Mutex
	initialized bool
	paused      bool
	pos         coord.Point
	posValid    bool
	modal       [256]float64
	model       *machineModel
}

// New constructs a simulator with toolCount independently addressable
// extruders, each starting at 0 °C.
func New(toolCount int) *Driver {
	d := &Driver{model: newMachineModel(toolCount)}
	d.resetModal()
	return d
}

func (d *Driver) resetModal() {
	d.modal[gcode.ModalGroupMotion] = 0
	d.modal[gcode.ModalGroupDistanceMode] = 90
	d.modal[gcode.ModalGroupUnits] = 21
	d.modal[gcode.ModalGroupFeedRateMode] = 94
}

func (d *Driver) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = true
	return nil
}

func (d *Driver) Uninitialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = false
	return nil
}

func (d *Driver) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

func (d *Driver) Dispose() error { return d.Uninitialize() }

func (d *Driver) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pos = coord.Point{}
	d.posValid = true
	d.resetModal()
	return nil
}

func (d *Driver) Stop(hard bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
	return nil
}

func (d *Driver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
	return nil
}

func (d *Driver) Unpause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
	return nil
}

// IsFinished always reports true: the simulator has no command backlog of
// its own, every dispatched line is applied synchronously.
func (d *Driver) IsFinished() bool { return true }

func (d *Driver) CheckErrors() error { return nil }

func (d *Driver) CurrentPosition() (coord.Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.posValid {
		return coord.Point{}, nil
	}
	return d.pos, nil
}

func (d *Driver) InvalidatePosition() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.posValid = false
}

func (d *Driver) ReadTemperature() (driverapi.ToolTemperature, error) {
	return d.model.readTemperature(), nil
}

func (d *Driver) Machine() driverapi.MachineModel { return d.model }

// Dispatch interprets a raw G-code line, updating position the way a
// grbl-class controller's internal model would: relative moves accumulate,
// absolute moves replace, and inch units are converted to millimeters.
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

	for _, w := range block {
		mg := w.ModalGroup()
		if mg != gcode.ModalGroupNone && mg != gcode.ModalGroupNonModal {
			d.modal[mg] = w.Arg
		}
	}

	args := block.Args()
	if len(args) == 0 {
		return nil
	}

	mul := 1.0
	if d.modal[gcode.ModalGroupUnits] == 20 {
		mul = 25.4
	}

	if !d.posValid {
		d.pos = coord.Point{}
		d.posValid = true
	}

	if d.modal[gcode.ModalGroupDistanceMode] == 91 {
		d.pos = d.pos.Add(applyAxes(coord.Point{}, args, mul))
	} else {
		d.pos = applyAxes(d.pos, args, mul)
	}

	return nil
}

func applyAxes(base coord.Point, b gcode.Block, mul float64) coord.Point {
	for _, w := range b {
		switch w.W {
		case 'X':
			base.X = w.Arg * mul
		case 'Y':
			base.Y = w.Arg * mul
		case 'Z':
			base.Z = w.Arg * mul
		}
	}
	return base
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
