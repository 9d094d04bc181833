// Package serial implements a driverapi.Device over a line-oriented,
// ack-per-line firmware connection (Grbl and compatible controllers send
// "ok" or "error:..." after every accepted line and a "Grbl ..." banner on
// reset) using github.com/tarm/serial for the underlying port.
package serial

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	tserial "github.com/tarm/serial"

	"github.com/mastercactapus/buildctl/coord"
	"github.com/mastercactapus/buildctl/internal/driverapi"
)

// ErrReset is returned from Dispatch when the firmware reports a reset
// (a "Grbl ..." banner) before acknowledging the in-flight line.
var ErrReset = errors.New("serial: controller reset")

// Config describes how to open the underlying port. It is populated from a
// machine configuration's opaque <driver> subtree by cmd/buildctld.
type Config struct {
	Name string
	Baud int
}

// Driver is a driverapi.Core + CommandSink + SerialOwner implementation.
// Every Dispatch blocks until the firmware acknowledges that specific line,
// so unlike the buffered multi-line-ahead design it is grounded on, only
// one line is ever in flight; the pipeline's own retry/pause machinery
// already serializes dispatch one line at a time, so look-ahead buffering
// would add complexity with no caller that could use it.
type Driver struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	scan *bufio.Scanner

	ackCh   chan error
	resetCh chan struct{}
	closeCh chan struct{}

	model    machineModel
	pos      coord.Point
	posValid bool
	paused   bool
}

// New constructs a Driver with no port attached. SetSerial (or Initialize,
// once a port has been provided) must be called before Dispatch.
func New() *Driver {
	return &Driver{}
}

// SetSerial implements driverapi.SerialOwner. Passing nil releases the
// current port without closing it again if already closed.
func (d *Driver) SetSerial(rwc io.ReadWriteCloser) {
	d.mu.Lock()
	d.port = rwc
	d.mu.Unlock()
}

// Open is a convenience for cmd/buildctld: it opens a tarm/serial port from
// cfg. The caller attaches the returned port with SetSerial.
func Open(cfg Config) (*tserial.Port, error) {
	return tserial.OpenPort(&tserial.Config{Name: cfg.Name, Baud: cfg.Baud})
}

func (d *Driver) Initialize() error {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return fmt.Errorf("serial: no port attached")
	}

	d.mu.Lock()
	d.scan = bufio.NewScanner(port)
	d.ackCh = make(chan error)
	d.resetCh = make(chan struct{}, 1)
	d.closeCh = make(chan struct{})
	d.mu.Unlock()

	go d.readLoop()
	return nil
}

func (d *Driver) Uninitialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeCh != nil {
		select {
		case <-d.closeCh:
		default:
			close(d.closeCh)
		}
	}
	if d.port != nil {
		if closer, ok := d.port.(io.Closer); ok {
			return closer.Close()
		}
	}
	return nil
}

func (d *Driver) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port != nil && d.scan != nil
}

func (d *Driver) Dispose() error { return d.Uninitialize() }

func (d *Driver) Reset() error {
	return d.Dispatch("\x18") // Ctrl-X soft reset, the Grbl convention
}

func (d *Driver) Stop(hard bool) error {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return nil
	}
	if hard {
		_, err := port.Write([]byte{'!'}) // Grbl feed hold / immediate stop
		return err
	}
	return nil
}

func (d *Driver) Pause() error {
	d.mu.Lock()
	d.paused = true
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return nil
	}
	_, err := port.Write([]byte{'!'})
	return err
}

func (d *Driver) Unpause() error {
	d.mu.Lock()
	d.paused = false
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return nil
	}
	_, err := port.Write([]byte{'~'})
	return err
}

func (d *Driver) IsFinished() bool { return true }

func (d *Driver) CheckErrors() error { return nil }

func (d *Driver) CurrentPosition() (coord.Point, error) {
	if err := d.queryStatus(); err != nil {
		return coord.Point{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.posValid {
		return coord.Point{}, fmt.Errorf("serial: position unknown")
	}
	return d.pos, nil
}

func (d *Driver) InvalidatePosition() {
	d.mu.Lock()
	d.posValid = false
	d.mu.Unlock()
}

func (d *Driver) ReadTemperature() (driverapi.ToolTemperature, error) {
	return driverapi.ToolTemperature{}, fmt.Errorf("serial: controller reports no temperature")
}

func (d *Driver) Machine() driverapi.MachineModel { return &d.model }

// Dispatch writes line to the port and blocks until the firmware
// acknowledges it with "ok" or rejects it with "error:...".
func (d *Driver) Dispatch(line string) error {
	d.mu.Lock()
	port, ackCh, resetCh, closeCh := d.port, d.ackCh, d.resetCh, d.closeCh
	d.mu.Unlock()

	if port == nil {
		return fmt.Errorf("serial: not connected")
	}

	if _, err := io.WriteString(port, line+"\n"); err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}

	select {
	case err := <-ackCh:
		return err
	case <-resetCh:
		return ErrReset
	case <-closeCh:
		return io.ErrClosedPipe
	}
}

// queryStatus sends the realtime '?' status request and returns without
// waiting for the reply; readLoop updates the cached position when the
// firmware's status report arrives.
func (d *Driver) queryStatus() error {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return fmt.Errorf("serial: not connected")
	}
	_, err := port.Write([]byte{'?'})
	return err
}

func (d *Driver) readLoop() {
	d.mu.Lock()
	scan := d.scan
	ackCh := d.ackCh
	resetCh := d.resetCh
	closeCh := d.closeCh
	d.mu.Unlock()

	for scan.Scan() {
		select {
		case <-closeCh:
			return
		default:
		}

		line := strings.TrimSpace(scan.Text())
		switch {
		case line == "":
			continue
		case line == "ok":
			select {
			case ackCh <- nil:
			case <-closeCh:
				return
			}
		case strings.HasPrefix(line, "error:"):
			select {
			case ackCh <- errors.New(line):
			case <-closeCh:
				return
			}
		case strings.HasPrefix(line, "Grbl"):
			select {
			case resetCh <- struct{}{}:
			default:
			}
		case strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">"):
			d.applyStatus(line)
		}
	}
}

// applyStatus parses a Grbl-style `<Status|MPos:x,y,z|WCO:x,y,z>` report.
func (d *Driver) applyStatus(line string) {
	body := strings.TrimSuffix(strings.TrimPrefix(line, "<"), ">")
	for _, field := range strings.Split(body, "|")[1:] {
		kv := strings.SplitN(field, ":", 2)
		if len(kv) != 2 || kv[0] != "MPos" {
			continue
		}
		if p, err := parseCoords(kv[1]); err == nil {
			d.mu.Lock()
			d.pos = p
			d.posValid = true
			d.mu.Unlock()
		}
	}
}

func parseCoords(data string) (coord.Point, error) {
	parts := strings.Split(data, ",")
	if len(parts) != 3 {
		return coord.Point{}, fmt.Errorf("serial: malformed coordinate %q", data)
	}
	var p coord.Point
	var err error
	if p.X, err = strconv.ParseFloat(parts[0], 64); err != nil {
		return p, err
	}
	if p.Y, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return p, err
	}
	if p.Z, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return p, err
	}
	return p, nil
}

// machineModel is a minimal driverapi.MachineModel: serial firmware has no
// heated tool or platform, so target-temperature calls are accepted and
// discarded rather than rejected.
type machineModel struct{}

func (*machineModel) ToolCount() int                                          { return 0 }
func (*machineModel) SetTargetTemperature(tool int, celsius float64)          {}
func (*machineModel) SetPlatformTargetTemperature(tool int, celsius float64)  {}
