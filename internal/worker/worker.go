// Package worker implements the machine worker (C6): the single goroutine
// that owns the driver and simulator, dispatches queued requests, and runs
// the build pipeline. Every other package in the controller either feeds
// this worker a request or reads an immutable snapshot of its state.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mastercactapus/buildctl/internal/command"
	"github.com/mastercactapus/buildctl/internal/driverapi"
	"github.com/mastercactapus/buildctl/internal/event"
	"github.com/mastercactapus/buildctl/internal/gcodesource"
	"github.com/mastercactapus/buildctl/internal/job"
	"github.com/mastercactapus/buildctl/internal/machinestate"
	"github.com/mastercactapus/buildctl/internal/parser"
	"github.com/mastercactapus/buildctl/internal/pipeline"
	"github.com/mastercactapus/buildctl/internal/preferences"
	"github.com/mastercactapus/buildctl/internal/prompt"
)

// Worker is the top-level per-controller loop. Construct with New, run it
// with Run in its own goroutine, and feed it requests with Schedule.
type Worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   machinestate.State
	running bool
	name    string

	queue   *job.Queue
	emitter *event.Emitter
	prefs   *preferences.Source
	pipe    *pipeline.Pipeline

	driver    driverapi.Device
	simDriver driverapi.Device

	warmup   []string
	cooldown []string

	currentSource gcodesource.Source
	currentTarget job.Target
	remoteName    string

	linesProcessed int
	linesTotal     int

	done chan struct{}
}

// New constructs a Worker. driver may be nil (a controller with no machine
// configured yet); simDriver may also be nil if no simulator is wired in.
func New(driver, simDriver driverapi.Device, warmup, cooldown []string, prefs *preferences.Source, up prompt.UserPrompt) *Worker {
	w := &Worker{
		driver:    driver,
		simDriver: simDriver,
		warmup:    warmup,
		cooldown:  cooldown,
		prefs:     prefs,
		done:      make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	w.queue = job.NewQueue(func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	w.emitter = event.NewEmitter(w.State)
	w.pipe = &pipeline.Pipeline{
		Prompt:        up,
		Emitter:       w.emitter,
		Cond:          w.cond,
		Parser:        parser.NewGCodeParser(),
		Prefs:         prefs,
		StateFn:       w.State,
		DrainRequests: w.drainQueue,
		Progress:      w.setLinesProcessed,
	}
	return w
}

// setLinesProcessed records the pipeline's running line count so it can be
// read back between progress events via LinesProcessed, mirroring the
// plain field read the source system's getLinesProcessed() is.
func (w *Worker) setLinesProcessed(processed, total int) {
	w.mu.Lock()
	w.linesProcessed = processed
	w.linesTotal = total
	w.mu.Unlock()
}

// LinesProcessed returns the number of lines dispatched so far in the
// current (or most recently finished) build.
func (w *Worker) LinesProcessed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.linesProcessed
}

// Schedule enqueues a request. Safe to call from any goroutine.
func (w *Worker) Schedule(r job.Request) { w.queue.Schedule(r) }

// Emitter exposes the worker's event emitter so a controller can register
// listeners (and new listeners can register directly with it too).
func (w *Worker) Emitter() *event.Emitter { return w.emitter }

// State returns an immutable snapshot of the current machine state.
func (w *Worker) State() machinestate.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Name returns the machine name read back from the driver on the last
// successful connect or reset.
func (w *Worker) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name
}

// Driver returns the live driver, or nil if none is configured.
func (w *Worker) Driver() driverapi.Device { return w.driver }

// SimulatorDriver returns the simulator driver, or nil if none is wired in.
func (w *Worker) SimulatorDriver() driverapi.Device { return w.simDriver }

func (w *Worker) setState(next machinestate.Phase) {
	w.mu.Lock()
	prev := w.state
	if !prev.CanTransition(next) {
		w.mu.Unlock()
		return
	}
	w.state = machinestate.State{Phase: next}
	cur := w.state
	w.cond.Broadcast()
	w.mu.Unlock()
	w.emitter.EmitStateChange(event.StateChangeEvent{Prev: prev, Current: cur})
}

func (w *Worker) setPaused(paused bool) {
	w.mu.Lock()
	prev := w.state
	w.state.Paused = paused
	cur := w.state
	w.cond.Broadcast()
	w.mu.Unlock()
	w.emitter.EmitStateChange(event.StateChangeEvent{Prev: prev, Current: cur})
}

func (w *Worker) stopRunning() {
	w.mu.Lock()
	w.running = false
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *Worker) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Run drives the worker's main loop until a DisconnectRemoteBuild request
// sets running to false and the current phase is not Stopping. It is meant
// to be called exactly once, from a dedicated goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	for {
		w.drainQueue()

		state := w.State()
		if !w.isRunning() && state.Phase != machinestate.Stopping {
			return
		}

		switch state.Phase {
		case machinestate.Building:
			w.runBuild(ctx)
		case machinestate.BuildingRemote:
			w.runRemoteBuild(ctx)
		case machinestate.Connecting:
			w.doConnect()
		case machinestate.Stopping:
			if w.driver != nil {
				w.driver.Stop(true)
			}
			w.setState(machinestate.Ready)
		case machinestate.Reset:
			w.doReset()
		case machinestate.NotAttached:
			if so, ok := w.driver.(driverapi.SerialOwner); ok {
				so.SetSerial(nil)
			}
			w.wait()
		default:
			w.wait()
		}
	}
}

// wait blocks on the worker's single condition variable unless a request
// is already pending, in which case it returns immediately so the loop can
// drain it without sleeping first.
func (w *Worker) wait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.queue.Len() > 0 {
		return
	}
	w.cond.Wait()
}

func (w *Worker) drainQueue() {
	for _, r := range w.queue.Drain() {
		w.applyRequest(r)
	}
}

func (w *Worker) doConnect() {
	if w.driver == nil {
		w.setState(machinestate.NotAttached)
		return
	}
	if err := w.driver.Initialize(); err != nil {
		w.setState(machinestate.NotAttached)
		return
	}
	w.readName()
	w.setState(machinestate.Ready)
}

func (w *Worker) doReset() {
	if w.driver != nil {
		w.driver.Reset()
		w.readName()
	}
	w.setState(machinestate.Ready)
}

func (w *Worker) readName() {
	if op, ok := w.driver.(driverapi.OnboardParameters); ok {
		if n := op.MachineName(); n != "" {
			w.mu.Lock()
			w.name = n
			w.mu.Unlock()
		}
	}
}

func (w *Worker) runBuild(ctx context.Context) {
	target := w.currentTarget
	src := w.currentSource
	name := w.remoteName

	var sim driverapi.Device
	if w.prefs.Current().Simulator || target == job.TargetSimulator {
		sim = w.simDriver
	}

	var driver driverapi.Device
	if target != job.TargetSimulator {
		driver = w.driver
	}

	var err error
	switch target {
	case job.TargetFile:
		err = w.pipe.BuildToFile(ctx, w.driver, sim, name, w.warmup, w.cooldown, src)
	case job.TargetRemoteFile:
		err = w.pipe.BuildToRemoteFile(ctx, w.driver, sim, name, w.warmup, w.cooldown, src)
	default:
		err = w.pipe.Build(ctx, target, driver, sim, w.warmup, w.cooldown, src)
	}
	if err != nil {
		log.Printf("worker: build ended: %v", err)
	}

	switch {
	case err == nil:
		w.setState(machinestate.Ready)
	case errors.Is(err, pipeline.ErrBuildAborted):
		// A hard Stop() on the live machine leaves it in a state the
		// controller can no longer trust without re-handshaking; an
		// aborted simulator or file capture has nothing to re-attach to.
		if target == job.TargetMachine {
			w.setState(machinestate.Connecting)
		} else {
			// A capture/simulator abort that never went through applyStop
			// (e.g. an SD begin-capture failure) still announces Stopping
			// before settling, the same way a user-initiated Stop() does.
			w.setState(machinestate.Stopping)
			w.setState(machinestate.Ready)
		}
	case target == job.TargetMachine:
		w.setState(machinestate.Connecting)
	default:
		w.setState(machinestate.Ready)
	}
}

func (w *Worker) runRemoteBuild(ctx context.Context) {
	err := w.pipe.BuildRemote(ctx, w.driver, w.remoteName)
	if err != nil {
		log.Printf("worker: remote build ended: %v", err)
	}
	switch {
	case err == nil:
		w.setState(machinestate.Ready)
	case errors.Is(err, pipeline.ErrBuildAborted):
		// A failed playback settles through Stopping; the Run loop's
		// Stopping case then stops the driver and moves to Ready.
		w.setState(machinestate.Stopping)
	default:
		w.setState(machinestate.Connecting)
	}
}

// Dispose schedules the terminating request and waits up to 5 seconds for
// the worker's Run loop to exit.
func (w *Worker) Dispose() {
	w.Schedule(job.NewDisconnectRemoteBuild())
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
	}
}

func (w *Worker) applyRequest(r job.Request) {
	switch r.Type {
	case job.Connect:
		if w.State().Phase == machinestate.NotAttached {
			w.setState(machinestate.Connecting)
		}
	case job.ResetRequest:
		if w.State().IsConnected() {
			w.setState(machinestate.Reset)
		}
	case job.Simulate:
		w.currentTarget = job.TargetSimulator
		w.currentSource = r.Source
		w.setState(machinestate.Building)
	case job.BuildDirect:
		w.currentTarget = job.TargetMachine
		w.currentSource = r.Source
		w.setState(machinestate.Building)
	case job.BuildToFile:
		w.currentTarget = job.TargetFile
		w.currentSource = r.Source
		w.remoteName = r.RemoteName
		w.setState(machinestate.Building)
	case job.BuildToRemoteFile:
		w.currentTarget = job.TargetRemoteFile
		w.currentSource = r.Source
		w.remoteName = r.RemoteName
		w.setState(machinestate.Building)
	case job.BuildRemote:
		w.remoteName = r.RemoteName
		w.setState(machinestate.BuildingRemote)
	case job.Pause:
		if s := w.State(); s.IsBuilding() && !s.Paused {
			w.setPaused(true)
		}
	case job.Unpause:
		if s := w.State(); s.IsBuilding() && s.Paused {
			w.setPaused(false)
		}
	case job.Stop:
		w.applyStop()
	case job.Disconnect:
		w.applyDisconnectLive()
	case job.DisconnectRemoteBuild:
		w.applyDisconnect()
	case job.RunCommand:
		w.runAdHocCommand(r.Command)
	}
}

func (w *Worker) applyStop() {
	if w.driver != nil {
		if mm := w.driver.Machine(); mm != nil {
			for t := 0; t < mm.ToolCount(); t++ {
				mm.SetTargetTemperature(t, 0)
				mm.SetPlatformTargetTemperature(t, 0)
			}
		}
	}
	if w.State().IsBuilding() {
		w.setState(machinestate.Stopping)
	}
}

// applyDisconnectLive tears down a live connection synchronously: the
// public Controller.Disconnect() schedules this request and then blocks
// until the state reaches NotAttached, instead of touching the driver from
// outside the worker goroutine the way the source system's race-prone
// disconnect() did.
func (w *Worker) applyDisconnectLive() {
	if w.driver != nil {
		w.driver.Uninitialize()
	}
	w.setState(machinestate.NotAttached)
}

func (w *Worker) applyDisconnect() {
	switch s := w.State(); {
	case s.Phase == machinestate.BuildingRemote:
		w.stopRunning()
	case s.IsBuilding():
		w.setState(machinestate.Stopping)
		w.stopRunning()
	default:
		w.stopRunning()
	}
}

// runAdHocCommand executes a single command against the live driver,
// retrying on ErrRetry and swallowing StopError: an ad-hoc jog or tool
// command was never going to end the program.
func (w *Worker) runAdHocCommand(cmd command.Command) {
	if cmd == nil || w.driver == nil {
		return
	}
	for {
		err := cmd.Run(w.driver)
		if err == nil {
			return
		}
		if errors.Is(err, command.ErrRetry) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		return
	}
}
