// Package sdcapture simulates the on-device storage capability found on
// SD-card-equipped firmware: a named stream of dispatched lines is recorded
// into device memory and can later be played back as though the firmware
// itself were stepping through it.
package sdcapture

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mastercactapus/buildctl/internal/driverapi"
)

// Driver decorates an underlying driverapi.Device with driverapi.SDCapture,
// simulating the card itself as an in-memory file table so a machine with
// no real SD slot can still exercise the on-device-build code paths.
type Driver struct {
	driverapi.Device

	mu       sync.Mutex
	files    map[string][]string
	capture  string   // name of file currently being written, "" if none
	pending  []string // lines accumulated for the in-progress capture
	playback []string // remaining lines of an in-progress playback
	locked   bool
	hasCard  bool
}

// Wrap returns a Driver with a card present and unlocked.
func Wrap(inner driverapi.Device) *Driver {
	return &Driver{
		Device:  inner,
		files:   make(map[string][]string),
		hasCard: true,
	}
}

// SetCardPresent lets a test simulate the card being removed.
func (d *Driver) SetCardPresent(present bool) {
	d.mu.Lock()
	d.hasCard = present
	d.mu.Unlock()
}

// SetLocked lets a test simulate the card's write-protect switch.
func (d *Driver) SetLocked(locked bool) {
	d.mu.Lock()
	d.locked = locked
	d.mu.Unlock()
}

func (d *Driver) BeginCapture(name string) (driverapi.ResponseCode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasCard {
		return driverapi.FailNoCard, nil
	}
	if d.locked {
		return driverapi.FailLocked, nil
	}
	if d.capture != "" {
		return driverapi.FailGeneric, nil
	}

	d.capture = name
	d.pending = nil
	return driverapi.Success, nil
}

func (d *Driver) EndCapture() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == "" {
		return 0, nil
	}
	d.files[d.capture] = d.pending
	n := len(d.pending)
	d.capture = ""
	d.pending = nil
	return n, nil
}

func (d *Driver) Playback(name string) (driverapi.ResponseCode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasCard {
		return driverapi.FailNoCard, nil
	}
	lines, ok := d.files[name]
	if !ok {
		return driverapi.FailNoFile, nil
	}
	d.playback = append([]string(nil), lines...)
	return driverapi.Success, nil
}

// Dispatch records the line into the open capture instead of forwarding it
// to the wrapped device, mirroring the firmware writing a line to its card
// rather than executing it immediately.
func (d *Driver) Dispatch(line string) error {
	d.mu.Lock()
	if d.capture != "" {
		d.pending = append(d.pending, line)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.Device.Dispatch(line)
}

// IsFinished reports whether an in-progress playback has drained. Each call
// pops and dispatches one line to the wrapped device before reporting
// completion, the same cadence the pipeline's polling loop in BuildRemote
// expects from real firmware stepping through its own stored file.
func (d *Driver) IsFinished() bool {
	d.mu.Lock()
	if len(d.playback) == 0 {
		d.mu.Unlock()
		return true
	}
	line := d.playback[0]
	d.playback = d.playback[1:]
	remaining := len(d.playback)
	d.mu.Unlock()

	if strings.TrimSpace(line) != "" {
		_ = d.Device.Dispatch(line)
	}
	return remaining == 0
}

// BeginFileCapture, EndFileCapture and SetSerial forward to the wrapped
// device when it implements driverapi.Capture or driverapi.SerialOwner.
// Embedding driverapi.Device only promotes that interface's method set, so
// a decorator stack like sdcapture.Wrap(filecapture.Wrap(base)) would
// otherwise lose whichever capability sits underneath it.
func (d *Driver) BeginFileCapture(name string) error {
	cap, ok := d.Device.(driverapi.Capture)
	if !ok {
		return fmt.Errorf("sdcapture: wrapped driver does not support file capture")
	}
	return cap.BeginFileCapture(name)
}

func (d *Driver) EndFileCapture() error {
	cap, ok := d.Device.(driverapi.Capture)
	if !ok {
		return fmt.Errorf("sdcapture: wrapped driver does not support file capture")
	}
	return cap.EndFileCapture()
}

func (d *Driver) SetSerial(rwc io.ReadWriteCloser) {
	if so, ok := d.Device.(driverapi.SerialOwner); ok {
		so.SetSerial(rwc)
	}
}
