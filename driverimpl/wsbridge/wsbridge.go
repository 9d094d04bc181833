// Package wsbridge implements a driverapi.Device that talks to a machine
// through a websocket relay rather than a port on the local host — the same
// role the source system's serial-port-jockey bridge plays, letting several
// controller processes share one physical connection.
package wsbridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mastercactapus/buildctl/coord"
	"github.com/mastercactapus/buildctl/internal/driverapi"
)

// ErrReset mirrors driverimpl/serial's ErrReset: the relayed firmware sent
// a reset banner before acknowledging the in-flight line.
var ErrReset = errors.New("wsbridge: controller reset")

// message is one outbound frame queued for the connection goroutine, with a
// done channel closed once it has actually gone out over the wire.
type message struct {
	done    chan struct{}
	payload []byte
}

// dataFrame is the relay's envelope for a line of output from the device
// on the other end of the named port.
type dataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}

// sendFrame is the relay's envelope for a line the Driver wants delivered
// to the device on the named port.
type sendFrame struct {
	Port string     `json:"P"`
	Data []sendData `json:"Data"`
}
type sendData struct {
	Data string `json:"D"`
}

// Config names the relay to dial and the remote serial port to address.
type Config struct {
	URL  string
	Port string
}

// Driver dials a websocket relay and exchanges ack-per-line traffic with a
// named serial port on the other end, the same protocol driverimpl/serial
// speaks to a directly attached port.
type Driver struct {
	cfg Config

	mu      sync.Mutex
	model   machineModel
	pos     coord.Point
	posValid bool

	outgoing chan message
	ackCh    chan error
	resetCh  chan struct{}
	closeCh  chan struct{}
}

// New returns an unconnected Driver; Initialize dials the relay and starts
// the reconnect loop.
func New(cfg Config) *Driver {
	return &Driver{
		cfg:      cfg,
		outgoing: make(chan message, 64),
	}
}

func (d *Driver) Initialize() error {
	d.mu.Lock()
	d.ackCh = make(chan error)
	d.resetCh = make(chan struct{}, 1)
	d.closeCh = make(chan struct{})
	d.mu.Unlock()

	go d.loop()
	return nil
}

func (d *Driver) Uninitialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closeCh:
	default:
		close(d.closeCh)
	}
	return nil
}

func (d *Driver) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closeCh:
		return false
	default:
		return d.closeCh != nil
	}
}

func (d *Driver) Dispose() error { return d.Uninitialize() }

func (d *Driver) Reset() error           { return d.Dispatch("\x18") }
func (d *Driver) Stop(hard bool) error {
	if !hard {
		return nil
	}
	return d.writeRaw([]byte("!"))
}
func (d *Driver) Pause() error   { return d.writeRaw([]byte("!")) }
func (d *Driver) Unpause() error { return d.writeRaw([]byte("~")) }
func (d *Driver) IsFinished() bool   { return true }
func (d *Driver) CheckErrors() error { return nil }

func (d *Driver) CurrentPosition() (coord.Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.posValid {
		return coord.Point{}, fmt.Errorf("wsbridge: position unknown")
	}
	return d.pos, nil
}

func (d *Driver) InvalidatePosition() {
	d.mu.Lock()
	d.posValid = false
	d.mu.Unlock()
}

func (d *Driver) ReadTemperature() (driverapi.ToolTemperature, error) {
	return driverapi.ToolTemperature{}, fmt.Errorf("wsbridge: controller reports no temperature")
}

func (d *Driver) Machine() driverapi.MachineModel { return &d.model }

// Dispatch sends line to the relayed port and blocks for its ack, exactly
// like driverimpl/serial.Driver.Dispatch — the relay is transparent to the
// ack-per-line protocol, it just adds a hop.
func (d *Driver) Dispatch(line string) error {
	d.mu.Lock()
	ackCh, resetCh, closeCh := d.ackCh, d.resetCh, d.closeCh
	d.mu.Unlock()

	payload, err := json.Marshal(sendFrame{Port: d.cfg.Port, Data: []sendData{{Data: line}}})
	if err != nil {
		return fmt.Errorf("wsbridge: marshal: %w", err)
	}
	d.send(append([]byte("sendjson "), payload...))

	select {
	case err := <-ackCh:
		return err
	case <-resetCh:
		return ErrReset
	case <-closeCh:
		return io.ErrClosedPipe
	}
}

func (d *Driver) writeRaw(data []byte) error {
	payload, err := json.Marshal(sendFrame{Port: d.cfg.Port, Data: []sendData{{Data: string(data)}}})
	if err != nil {
		return err
	}
	d.send(append([]byte("sendjson "), payload...))
	return nil
}

func (d *Driver) send(payload []byte) {
	done := make(chan struct{})
	select {
	case d.outgoing <- message{done: done, payload: payload}:
		<-done
	case <-d.closeCh:
	}
}

// loop owns the websocket connection and redials on any read/write failure,
// the same reconnect shape as the relay it is grounded on.
func (d *Driver) loop() {
	var pending message

reconnect:
	for {
		select {
		case <-d.closeCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(d.cfg.URL, nil)
		if err != nil {
			select {
			case <-time.After(3 * time.Second):
				continue reconnect
			case <-d.closeCh:
				return
			}
		}

		lost := make(chan struct{})
		go d.readLoop(conn, lost)

		for {
			if pending.done != nil {
				if err := conn.WriteMessage(websocket.TextMessage, pending.payload); err != nil {
					conn.Close()
					continue reconnect
				}
				close(pending.done)
				pending.done = nil
			}

			select {
			case <-lost:
				conn.Close()
				continue reconnect
			case <-d.closeCh:
				conn.Close()
				return
			case pending = <-d.outgoing:
			}
		}
	}
}

func (d *Driver) readLoop(conn *websocket.Conn, lost chan struct{}) {
	defer close(lost)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			continue
		}
		var frame dataFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Port != d.cfg.Port {
			continue
		}
		d.handleLine(strings.TrimSpace(frame.Data))
	}
}

func (d *Driver) handleLine(line string) {
	d.mu.Lock()
	ackCh, resetCh, closeCh := d.ackCh, d.resetCh, d.closeCh
	d.mu.Unlock()

	switch {
	case line == "":
		return
	case line == "ok":
		select {
		case ackCh <- nil:
		case <-closeCh:
		}
	case strings.HasPrefix(line, "error:"):
		select {
		case ackCh <- errors.New(line):
		case <-closeCh:
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
		return coord.Point{}, fmt.Errorf("wsbridge: malformed coordinate %q", data)
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

type machineModel struct{}

func (*machineModel) ToolCount() int                                         { return 0 }
func (*machineModel) SetTargetTemperature(tool int, celsius float64)         {}
func (*machineModel) SetPlatformTargetTemperature(tool int, celsius float64) {}
