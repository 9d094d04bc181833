package serial

import (
	"bufio"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback glues two io.Pipe pairs into a single io.ReadWriteCloser so a
// test can play the role of the firmware on the other end of the wire.
type loopback struct {
	w *io.PipeWriter
	r *io.PipeReader
}

func (l *loopback) Write(p []byte) (int, error) { return l.w.Write(p) }
func (l *loopback) Read(p []byte) (int, error)  { return l.r.Read(p) }
func (l *loopback) Close() error {
	_ = l.w.Close()
	return l.r.Close()
}

// fakeFirmware reads whatever the driver writes and responds according to
// respond, run on its own goroutine for the lifetime of the test.
type fakeFirmware struct {
	sent chan string
}

func newFakeFirmware(t *testing.T, respond func(line string) string) (*Driver, *fakeFirmware) {
	fromDriver, toFirmware := io.Pipe()
	fromFirmware, toDriver := io.Pipe()

	d := New()
	d.SetSerial(&loopback{w: toFirmware, r: fromFirmware})
	require.NoError(t, d.Initialize())

	ff := &fakeFirmware{sent: make(chan string, 16)}

	go func() {
		scanner := bufio.NewScanner(fromDriver)
		// Realtime commands such as '?' arrive as a bare byte with no
		// newline, so they are split out as their own token.
		scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
			if len(data) > 0 && data[0] == '?' {
				return 1, data[:1], nil
			}
			return bufio.ScanLines(data, atEOF)
		})
		for scanner.Scan() {
			line := scanner.Text()
			ff.sent <- line
			resp := respond(line)
			if resp != "" {
				io.WriteString(toDriver, resp+"\n")
			}
		}
	}()

	return d, ff
}

func TestDriver_DispatchWaitsForOK(t *testing.T) {
	d, ff := newFakeFirmware(t, func(line string) string { return "ok" })
	defer d.Uninitialize()

	err := d.Dispatch("G1 X10")
	require.NoError(t, err)

	select {
	case sent := <-ff.sent:
		assert.Equal(t, "G1 X10", sent)
	case <-time.After(time.Second):
		t.Fatal("firmware never saw the dispatched line")
	}
}

func TestDriver_DispatchReturnsFirmwareError(t *testing.T) {
	d, _ := newFakeFirmware(t, func(line string) string { return "error:9" })
	defer d.Uninitialize()

	err := d.Dispatch("G1 X10")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "error:"))
}

func TestDriver_DispatchReturnsErrResetOnBanner(t *testing.T) {
	d, _ := newFakeFirmware(t, func(line string) string { return "Grbl 1.1h ['$' for help]" })
	defer d.Uninitialize()

	err := d.Dispatch("G1 X10")
	require.ErrorIs(t, err, ErrReset)
}

func TestDriver_CurrentPositionParsesStatusReport(t *testing.T) {
	d, _ := newFakeFirmware(t, func(line string) string {
		if line == "?" {
			return "<Idle|MPos:1.000,2.000,3.000|WCO:0.000,0.000,0.000>"
		}
		return "ok"
	})
	defer d.Uninitialize()

	require.Eventually(t, func() bool {
		_, err := d.CurrentPosition()
		return err == nil
	}, time.Second, 5*time.Millisecond)

	p, err := d.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.X)
	assert.Equal(t, 2.0, p.Y)
	assert.Equal(t, 3.0, p.Z)
}

func TestDriver_InvalidatePositionClearsCache(t *testing.T) {
	d, _ := newFakeFirmware(t, func(line string) string {
		if line == "?" {
			return "<Idle|MPos:5.000,5.000,5.000>"
		}
		return "ok"
	})
	defer d.Uninitialize()

	require.Eventually(t, func() bool {
		_, err := d.CurrentPosition()
		return err == nil
	}, time.Second, 5*time.Millisecond)

	d.InvalidatePosition()
	d.mu.Lock()
	valid := d.posValid
	d.mu.Unlock()
	assert.False(t, valid)
}
