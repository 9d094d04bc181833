// Package httpapi exposes a Controller over HTTP: one POST endpoint per
// control operation, a state snapshot GET, and a server-sent-events stream
// of state and progress updates, the same three-part surface the source
// system's own HTTP API offers.
package httpapi

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"strings"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"

	"github.com/mastercactapus/buildctl/internal/command"
	"github.com/mastercactapus/buildctl/internal/event"
	"github.com/mastercactapus/buildctl/internal/gcodesource"
	"github.com/mastercactapus/buildctl/internal/machinestate"
	"github.com/mastercactapus/buildctl/internal/parser"
)

// Controller is the subset of controller.Controller the API drives. It is
// declared locally so this package never imports the controller package
// directly, keeping the dependency edge one-directional.
type Controller interface {
	MachineState() machinestate.State
	AddMachineStateListener(l event.Listener)
	RemoveMachineStateListener(l event.Listener)

	Connect()
	Disconnect(timeout time.Duration) error
	Reset()
	Pause()
	Unpause()
	Stop()

	Execute(src gcodesource.Source)
	Simulate(src gcodesource.Source)
	Upload(src gcodesource.Source, remoteName string)
	RunCommand(cmd command.Command)
}

// commandParser compiles /api/command's body into a command.Command. It
// carries no per-line state, so a single shared instance is safe across
// concurrent requests.
var commandParser = parser.NewGCodeParser()

// API is the http.Handler embedders mount under their server's mux.
type API struct {
	http.Handler

	c   Controller
	sse *sse.Server
}

// New builds an API wired to c. Every registered machine gets its own API
// value; callers mount each at a distinct prefix.
func New(c Controller) *API {
	r := mux.NewRouter()

	a := &API{
		Handler: r,
		c:       c,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(ioutil.Discard, "", 0),
		}),
	}

	r.HandleFunc("/api/connect", a.handleConnect).Methods("POST")
	r.HandleFunc("/api/disconnect", a.handleDisconnect).Methods("POST")
	r.HandleFunc("/api/reset", a.handleReset).Methods("POST")
	r.HandleFunc("/api/pause", a.handlePause).Methods("POST")
	r.HandleFunc("/api/unpause", a.handleUnpause).Methods("POST")
	r.HandleFunc("/api/stop", a.handleStop).Methods("POST")
	r.HandleFunc("/api/run", a.handleRun).Methods("POST")
	r.HandleFunc("/api/simulate", a.handleSimulate).Methods("POST")
	r.HandleFunc("/api/upload", a.handleUpload).Methods("POST")
	r.HandleFunc("/api/command", a.handleRunCommand).Methods("POST")
	r.HandleFunc("/api/state", a.handleState).Methods("GET")

	r.PathPrefix("/events/").Handler(a.sse)

	c.AddMachineStateListener(&sseListener{sse: a.sse})

	return a
}

// sseListener relays state and progress events onto the SSE server's
// "/events/state" and "/events/progress" channels. Tool status has no
// dedicated UI consumer yet and is dropped, the same scope the source
// system's own relay settles for.
type sseListener struct {
	sse *sse.Server
}

func (l *sseListener) OnStateChange(ev event.StateChangeEvent) {
	data, err := json.Marshal(ev.Current)
	if err != nil {
		log.Printf("httpapi: marshal state: %+v", err)
		return
	}
	l.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
}

func (l *sseListener) OnProgress(ev event.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("httpapi: marshal progress: %+v", err)
		return
	}
	l.sse.SendMessage("/events/progress", sse.SimpleMessage(string(data)))
}

func (l *sseListener) OnToolStatus(event.ToolStatusEvent) {}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) { a.c.Connect() }

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.c.Disconnect(10 * time.Second); err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	}
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request)   { a.c.Reset() }
func (a *API) handlePause(w http.ResponseWriter, r *http.Request)   { a.c.Pause() }
func (a *API) handleUnpause(w http.ResponseWriter, r *http.Request) { a.c.Unpause() }
func (a *API) handleStop(w http.ResponseWriter, r *http.Request)    { a.c.Stop() }

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	src, err := readSource(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.c.Execute(src)
}

func (a *API) handleSimulate(w http.ResponseWriter, r *http.Request) {
	src, err := readSource(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.c.Simulate(src)
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	remoteName := r.URL.Query().Get("name")
	if remoteName == "" {
		http.Error(w, "missing name parameter", http.StatusBadRequest)
		return
	}
	src, err := readSource(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.c.Upload(src, remoteName)
}

// handleRunCommand reads the request body as a single G-code line and
// dispatches it against the live driver outside of any build, the ad-hoc
// counterpart to handleRun's full-program path.
func (a *API) handleRunCommand(w http.ResponseWriter, r *http.Request) {
	data, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	line := strings.TrimSpace(string(data))
	if line == "" {
		http.Error(w, "missing command line", http.StatusBadRequest)
		return
	}

	cmds, err := commandParser.Parse(line)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(cmds) == 0 {
		http.Error(w, "line did not produce a command", http.StatusBadRequest)
		return
	}

	a.c.RunCommand(cmds[0])
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.c.MachineState()); err != nil {
		log.Printf("httpapi: encode state: %+v", err)
	}
}

// readSource reads the request body as newline-delimited G-code, dropping
// blank lines, the same normalization the source system's run handler does
// before handing a program to the machine.
func readSource(r *http.Request) (gcodesource.Source, error) {
	data, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return gcodesource.NewStringListSource(lines), nil
}
