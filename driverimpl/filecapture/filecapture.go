// Package filecapture wraps any driverapi.Device with driverapi.Capture,
// redirecting the command stream to a plain text file on the host running
// the controller instead of (or in addition to) the wrapped device.
package filecapture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mastercactapus/buildctl/coord"
	"github.com/mastercactapus/buildctl/internal/driverapi"
)

// Driver decorates an underlying driverapi.Device: every Dispatch call is
// written to the capture file (when one is open) instead of being forwarded
// to the wrapped device, the same redirect the source system's file-upload
// path performs at the machine-controller layer.
type Driver struct {
	driverapi.Device

	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
}

// Wrap returns a Driver that captures to a file when BeginFileCapture is
// active and otherwise forwards Dispatch to inner unchanged.
func Wrap(inner driverapi.Device) *Driver {
	return &Driver{Device: inner}
}

func (d *Driver) BeginFileCapture(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f != nil {
		return fmt.Errorf("filecapture: capture already in progress")
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("filecapture: create %q: %w", name, err)
	}
	d.f = f
	d.buf = bufio.NewWriter(f)
	return nil
}

func (d *Driver) EndFileCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return fmt.Errorf("filecapture: no capture in progress")
	}
	flushErr := d.buf.Flush()
	closeErr := d.f.Close()
	d.f, d.buf = nil, nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Dispatch writes line to the open capture file; if no capture is active it
// falls through to the wrapped device, so a Driver can sit in front of a
// live connection and only intercept the lines belonging to a capture.
func (d *Driver) Dispatch(line string) error {
	d.mu.Lock()
	buf := d.buf
	d.mu.Unlock()

	if buf == nil {
		return d.Device.Dispatch(line)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.buf.WriteString(line); err != nil {
		return fmt.Errorf("filecapture: write: %w", err)
	}
	return d.buf.WriteByte('\n')
}

// CurrentPosition and InvalidatePosition pass straight through: a file
// capture is a pure command sink and never has a position of its own.
func (d *Driver) CurrentPosition() (coord.Point, error) { return d.Device.CurrentPosition() }
func (d *Driver) InvalidatePosition()                   { d.Device.InvalidatePosition() }

// BeginCapture, EndCapture and Playback forward to the wrapped device when
// it implements driverapi.SDCapture. Embedding driverapi.Device only
// promotes that interface's method set, so without this forwarding a
// decorator stack like filecapture.Wrap(sdcapture.Wrap(base)) would lose
// on-device capture the moment it picked up file capture.
func (d *Driver) BeginCapture(name string) (driverapi.ResponseCode, error) {
	sdc, ok := d.Device.(driverapi.SDCapture)
	if !ok {
		return driverapi.FailGeneric, fmt.Errorf("filecapture: wrapped driver does not support on-device capture")
	}
	return sdc.BeginCapture(name)
}

func (d *Driver) EndCapture() (int, error) {
	sdc, ok := d.Device.(driverapi.SDCapture)
	if !ok {
		return 0, fmt.Errorf("filecapture: wrapped driver does not support on-device capture")
	}
	return sdc.EndCapture()
}

func (d *Driver) Playback(name string) (driverapi.ResponseCode, error) {
	sdc, ok := d.Device.(driverapi.SDCapture)
	if !ok {
		return driverapi.FailGeneric, fmt.Errorf("filecapture: wrapped driver does not support on-device playback")
	}
	return sdc.Playback(name)
}

// SetSerial forwards to the wrapped device when it implements
// driverapi.SerialOwner, for the same reason BeginCapture etc. do above.
func (d *Driver) SetSerial(rwc io.ReadWriteCloser) {
	if so, ok := d.Device.(driverapi.SerialOwner); ok {
		so.SetSerial(rwc)
	}
}
