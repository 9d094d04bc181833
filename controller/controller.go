// Package controller assembles a machine worker, its preferences, and a
// parsed machine configuration into the public surface embedders program
// against. It owns nothing about G-code or device wire protocols itself;
// every operation here is a thin, synchronous-feeling wrapper around
// scheduling a request on internal/worker and, where the caller needs a
// result back, waiting for the matching state transition.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mastercactapus/buildctl/internal/command"
	"github.com/mastercactapus/buildctl/internal/config"
	"github.com/mastercactapus/buildctl/internal/driverapi"
	"github.com/mastercactapus/buildctl/internal/estimator"
	"github.com/mastercactapus/buildctl/internal/event"
	"github.com/mastercactapus/buildctl/internal/gcodesource"
	"github.com/mastercactapus/buildctl/internal/job"
	"github.com/mastercactapus/buildctl/internal/machinestate"
	"github.com/mastercactapus/buildctl/internal/parser"
	"github.com/mastercactapus/buildctl/internal/preferences"
	"github.com/mastercactapus/buildctl/internal/prompt"
	"github.com/mastercactapus/buildctl/internal/worker"
)

// DriverFactory builds a live driver from a machine configuration's opaque
// <driver> subtree. cmd/buildctld passes a single factory that selects the
// driver by its Type.
type DriverFactory func(cfg config.Driver) (driverapi.Device, error)

// Controller is the public entry point: one per configured machine. Every
// method is safe to call from any goroutine.
type Controller struct {
	machine config.Machine
	prefs   *preferences.Source
	w       *worker.Worker
	ctx     context.Context
	cancel  context.CancelFunc

	srcMu sync.Mutex
	src   gcodesource.Source
}

// Open loads a machine configuration from path, builds its driver with
// factory, and starts the worker goroutine. simDriver may be nil to run
// without a simulator. up may be nil, in which case prompt.Headless is used.
func Open(path string, factory DriverFactory, simDriver driverapi.Device, up prompt.UserPrompt) (*Controller, error) {
	machine, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var driver driverapi.Device
	if factory != nil {
		driver, err = factory(machine.Driver)
		if err != nil {
			return nil, fmt.Errorf("controller: build driver: %w", err)
		}
	}

	if up == nil {
		up = prompt.Headless{}
	}

	prefs := preferences.NewSource()
	w := worker.New(driver, simDriver, machine.Warmup, machine.Cooldown, prefs, up)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{machine: machine, prefs: prefs, w: w, ctx: ctx, cancel: cancel}

	go w.Run(ctx)

	return c, nil
}

// Name returns the machine's configured display name, falling back to
// whatever name the driver reported on the last successful connect.
func (c *Controller) Name() string {
	if c.machine.Name != "" {
		return c.machine.Name
	}
	return c.w.Name()
}

// Driver returns the live driver, or nil if none is configured.
func (c *Controller) Driver() driverapi.Device { return c.w.Driver() }

// SimulatorDriver returns the simulator driver, or nil if none is wired in.
func (c *Controller) SimulatorDriver() driverapi.Device { return c.w.SimulatorDriver() }

// MachineState returns an immutable snapshot of the current state.
func (c *Controller) MachineState() machinestate.State { return c.w.State() }

// IsInitialized reports whether the driver is attached and past connect.
func (c *Controller) IsInitialized() bool { return c.w.State().IsConnected() }

// IsPaused reports whether a build is currently paused.
func (c *Controller) IsPaused() bool { return c.w.State().IsPaused() }

// IsSimulating reports whether the preferences source currently runs a
// simulator alongside (or instead of) the live driver.
func (c *Controller) IsSimulating() bool { return c.prefs.Current().Simulator }

// IsInteractiveTarget reports whether the machine is idle and able to
// accept a new build, connect, or reset request right now.
func (c *Controller) IsInteractiveTarget() bool { return c.w.State().IsReady() }

// AddMachineStateListener registers l with the controller's event emitter.
func (c *Controller) AddMachineStateListener(l event.Listener) { c.w.Emitter().AddListener(l) }

// RemoveMachineStateListener unregisters l.
func (c *Controller) RemoveMachineStateListener(l event.Listener) { c.w.Emitter().RemoveListener(l) }

// Connect schedules a connection attempt. It is a no-op unless the machine
// is currently NotAttached.
func (c *Controller) Connect() { c.w.Schedule(job.NewConnect()) }

// Disconnect schedules a live-driver teardown and blocks until the machine
// reaches NotAttached or timeout elapses, whichever comes first. Routing
// through the request queue rather than touching the driver directly avoids
// racing an in-flight build for the same driver.
func (c *Controller) Disconnect(timeout time.Duration) error {
	c.w.Schedule(job.NewDisconnect())
	return c.waitFor(timeout, func(s machinestate.State) bool {
		return s.Phase == machinestate.NotAttached
	})
}

// Reset schedules a reset. It is a no-op unless the machine is connected.
func (c *Controller) Reset() { c.w.Schedule(job.NewReset()) }

// Pause schedules a pause. It only takes effect while a build is running.
func (c *Controller) Pause() { c.w.Schedule(job.NewPause()) }

// Unpause schedules resuming a paused build.
func (c *Controller) Unpause() { c.w.Schedule(job.NewUnpause()) }

// Stop schedules an abort of the current build, zeroing tool and platform
// target temperatures first.
func (c *Controller) Stop() { c.w.Schedule(job.NewStop()) }

// SetCodeSource records src as the controller's current source: the one
// Execute and Simulate fall back to when called with a nil src, the way
// the source system's setCodeSource(source) feeds its own no-argument
// execute()/simulate().
func (c *Controller) SetCodeSource(src gcodesource.Source) {
	c.srcMu.Lock()
	c.src = src
	c.srcMu.Unlock()
}

// codeSource resolves src against the current source when src is nil.
func (c *Controller) codeSource(src gcodesource.Source) gcodesource.Source {
	if src != nil {
		return src
	}
	c.srcMu.Lock()
	defer c.srcMu.Unlock()
	return c.src
}

// Execute builds src directly against the live driver. A nil src builds
// whatever SetCodeSource last set.
func (c *Controller) Execute(src gcodesource.Source) {
	c.w.Schedule(job.NewBuildDirect(c.codeSource(src)))
}

// Simulate builds src against the simulator only, regardless of the
// simulator preference. A nil src builds whatever SetCodeSource last set.
func (c *Controller) Simulate(src gcodesource.Source) {
	c.w.Schedule(job.NewSimulate(c.codeSource(src)))
}

// BuildToFile redirects src's command stream to a file on the host at name.
// A nil src builds whatever SetCodeSource last set.
func (c *Controller) BuildToFile(src gcodesource.Source, name string) {
	c.w.Schedule(job.NewBuildToFile(c.codeSource(src), name))
}

// Upload builds src to on-device storage under remoteName instead of
// driving the machine directly. A nil src builds whatever SetCodeSource
// last set.
func (c *Controller) Upload(src gcodesource.Source, remoteName string) {
	c.w.Schedule(job.NewBuildToRemoteFile(c.codeSource(src), remoteName))
}

// BuildRemote plays back a file previously uploaded under remoteName.
func (c *Controller) BuildRemote(remoteName string) {
	c.w.Schedule(job.NewBuildRemote(remoteName))
}

// RunCommand dispatches a single ad-hoc command against the live driver,
// outside of any build.
func (c *Controller) RunCommand(cmd command.Command) {
	c.w.Schedule(job.NewRunCommand(cmd))
}

// Estimate runs src through the same parser the real build uses, but
// against a Driver that only accumulates elapsed time, and returns the
// estimate in milliseconds. It does not touch the worker or its queue: the
// estimator is a throwaway driver constructed fresh for this call, so
// estimating never competes with a live build for the worker goroutine.
func (c *Controller) Estimate(src gcodesource.Source) (time.Duration, error) {
	est := estimator.New()
	p := parser.NewGCodeParser()

	lines := append(append([]string{}, c.machine.Warmup...), allLines(src)...)
	lines = append(lines, c.machine.Cooldown...)

	for _, line := range lines {
		cmds, err := p.Parse(line)
		if err != nil {
			return 0, err
		}
		for _, cmd := range cmds {
			if err := cmd.Run(est); err != nil {
				if _, ok := command.AsStop(err); ok {
					return time.Duration(est.Elapsed()) * time.Millisecond, nil
				}
				return 0, err
			}
		}
	}

	return time.Duration(est.Elapsed()) * time.Millisecond, nil
}

func allLines(src gcodesource.Source) []string {
	src.Rewind()
	var out []string
	for {
		line, ok := src.Next()
		if !ok {
			break
		}
		out = append(out, line)
	}
	src.Rewind()
	return out
}

// Model returns the live driver's machine model, falling back to the
// simulator's when no live driver is configured or connected. It returns
// nil if neither is wired in.
func (c *Controller) Model() driverapi.MachineModel {
	if d := c.w.Driver(); d != nil {
		if m := d.Machine(); m != nil {
			return m
		}
	}
	if d := c.w.SimulatorDriver(); d != nil {
		return d.Machine()
	}
	return nil
}

// LinesProcessed returns the number of lines dispatched so far in the
// current (or most recently finished) build. Callers that want to react to
// every update as it happens, rather than poll, should subscribe a
// listener with AddMachineStateListener and read event.ProgressEvent
// instead.
func (c *Controller) LinesProcessed() int { return c.w.LinesProcessed() }

// Dispose schedules the worker's termination request, waits for its Run
// loop to exit, and cancels the controller's context.
func (c *Controller) Dispose() {
	c.w.Dispose()
	c.cancel()
}

func (c *Controller) waitFor(timeout time.Duration, pred func(machinestate.State) bool) error {
	if pred(c.w.State()) {
		return nil
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if pred(c.w.State()) {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("controller: timed out waiting for state")
		}
	}
}
