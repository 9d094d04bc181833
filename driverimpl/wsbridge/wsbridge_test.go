package wsbridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// newFakeRelay starts an httptest server that upgrades to a websocket and,
// for every "sendjson "-prefixed frame addressed to port, replies with a
// dataFrame on the same port carrying respond's answer (nothing when it is
// empty).
func newFakeRelay(t *testing.T, port string, respond func(line string) string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if !strings.HasPrefix(string(data), "sendjson ") {
				continue
			}
			var frame sendFrame
			require.NoError(t, json.Unmarshal(data[len("sendjson "):], &frame))
			if frame.Port != port || len(frame.Data) == 0 {
				continue
			}
			resp := respond(frame.Data[0].Data)
			if resp == "" {
				continue
			}
			out, _ := json.Marshal(dataFrame{Port: port, Data: resp})
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestDriver_DispatchWaitsForOK(t *testing.T) {
	srv := newFakeRelay(t, "COM1", func(line string) string {
		if line == "\x18" {
			return ""
		}
		return "ok"
	})
	defer srv.Close()

	d := New(Config{URL: wsURL(srv.URL), Port: "COM1"})
	require.NoError(t, d.Initialize())
	defer d.Uninitialize()

	err := d.Dispatch("G1 X10")
	require.NoError(t, err)
}

func TestDriver_DispatchReturnsFirmwareError(t *testing.T) {
	srv := newFakeRelay(t, "COM1", func(line string) string { return "error:9" })
	defer srv.Close()

	d := New(Config{URL: wsURL(srv.URL), Port: "COM1"})
	require.NoError(t, d.Initialize())
	defer d.Uninitialize()

	err := d.Dispatch("G1 X10")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "error:"))
}

func TestDriver_CurrentPositionParsesStatusReport(t *testing.T) {
	srv := newFakeRelay(t, "COM1", func(line string) string {
		return "<Idle|MPos:4.000,5.000,6.000>"
	})
	defer srv.Close()

	d := New(Config{URL: wsURL(srv.URL), Port: "COM1"})
	require.NoError(t, d.Initialize())
	defer d.Uninitialize()

	go d.writeRaw([]byte("?"))

	require.Eventually(t, func() bool {
		_, err := d.CurrentPosition()
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	p, err := d.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.X)
	assert.Equal(t, 5.0, p.Y)
	assert.Equal(t, 6.0, p.Z)
}
