// Package pipeline implements the build pipeline (C5): it pulls lines from
// a GCodeSource, compiles them through a parser.Parser, dispatches the
// result to a driver (and, in parallel, a simulator), and honours pause,
// stop and retry signals at every line boundary.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mastercactapus/buildctl/internal/command"
	"github.com/mastercactapus/buildctl/internal/driverapi"
	"github.com/mastercactapus/buildctl/internal/event"
	"github.com/mastercactapus/buildctl/internal/gcodesource"
	"github.com/mastercactapus/buildctl/internal/job"
	"github.com/mastercactapus/buildctl/internal/machinestate"
	"github.com/mastercactapus/buildctl/internal/parser"
	"github.com/mastercactapus/buildctl/internal/preferences"
	"github.com/mastercactapus/buildctl/internal/prompt"
)

// ErrBuildInterrupted is returned when the build's context is cancelled.
var ErrBuildInterrupted = errors.New("pipeline: build interrupted")

// ErrBuildAborted is returned when the machine state moves to Stopping or
// Reset while a build is in progress.
var ErrBuildAborted = errors.New("pipeline: build aborted")

// buildContext tracks progress across a build's warmup/source/cooldown
// segments. It is worker-local and lives only for the duration of one
// Build call.
type buildContext struct {
	linesProcessed int
	linesTotal     int
	startMillis    int64
	estimatedTotal int64
	pollingEnabled bool
	pollIntervalMs int64
	lastPolled     int64
}

// Pipeline holds everything the build loop needs that does not change
// between builds: how to surface prompts and events, how to read the
// worker's live state, how to let queued requests interrupt a build
// mid-line, and which condition variable to block on while paused.
type Pipeline struct {
	Prompt  prompt.UserPrompt
	Emitter *event.Emitter
	Cond    *sync.Cond
	Parser  parser.Parser
	Prefs   *preferences.Source

	// StateFn returns a live snapshot of the worker's machine state.
	StateFn func() machinestate.State
	// DrainRequests, if set, is called once per processed line so
	// Pause/Stop/RunCommand requests enqueued mid-build take effect
	// without waiting for the line to finish.
	DrainRequests func()

	// RetryBackoff, if set, is consulted before each re-dispatch of a
	// command that returned ErrRetry, with attempt starting at 1 for the
	// first retry. Retries are unbounded either way; this only controls
	// the delay between them. Nil means no delay at all.
	RetryBackoff func(attempt int) time.Duration

	// Progress, if set, is called with the running line count every time a
	// ProgressEvent is emitted, so a caller outside the pipeline (the
	// worker, for Controller.LinesProcessed) can keep its own cheap
	// snapshot without subscribing an event listener.
	Progress func(processed, total int)
}

// Build runs the warmup, source and cooldown segments in order against
// driver and, if non-nil, sim, then waits for the driver to report it has
// finished executing everything dispatched to it.
func (p *Pipeline) Build(ctx context.Context, target job.Target, driver, sim driverapi.Device, warmup, cooldown []string, src gcodesource.Source) error {
	bc := &buildContext{
		linesTotal:     len(warmup) + len(cooldown) + src.LineCount(),
		startMillis:    nowMs(),
		pollingEnabled: true,
		pollIntervalMs: 1000,
	}
	if p.Progress != nil {
		p.Progress(0, bc.linesTotal)
	}

	if driver != nil {
		driver.CurrentPosition() //nolint:errcheck // reconciles cached position as a side effect
		defer driver.InvalidatePosition()
	}

	segments := []gcodesource.Source{
		gcodesource.NewStringListSource(warmup),
		src,
		gcodesource.NewStringListSource(cooldown),
	}

	for _, seg := range segments {
		if err := p.runSegment(ctx, target, bc, driver, sim, seg); err != nil {
			return err
		}
	}

	return p.awaitFinished(ctx, driver)
}

func (p *Pipeline) runSegment(ctx context.Context, target job.Target, bc *buildContext, driver, sim driverapi.Device, seg gcodesource.Source) error {
	seg.Rewind()

	var pending []command.Command
	retry := false
	attempt := 0

	for {
		if !retry {
			line, ok := seg.Next()
			if !ok {
				break
			}
			bc.linesProcessed++
			attempt = 0

			cmds, err := p.Parser.Parse(line)
			if err != nil {
				return err
			}
			pending = cmds
		} else if p.RetryBackoff != nil {
			time.Sleep(p.RetryBackoff(attempt))
		}

		if err := ctx.Err(); err != nil {
			return ErrBuildInterrupted
		}

		if sim != nil && !retry {
			runSimulated(pending, sim)
		}

		if driver != nil {
			rest, done, nextRetry, err := runAgainstDriver(pending, driver, p.Prompt)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			retry = nextRetry
			if retry {
				pending = rest
				attempt++
			}
			if !retry {
				pending = nil
				if err := driver.CheckErrors(); err != nil {
					return err
				}
			}
		} else {
			retry = false
			pending = nil
		}

		state := p.StateFn()
		if state.Paused {
			if driver != nil {
				driver.Pause()
			}
			// The only thing that can flip Paused back off is an Unpause
			// (or Stop) request sitting in the queue, and nothing else is
			// running to drain it while this goroutine blocks here. Wait
			// for a wake-up, then drain outside the lock before
			// rechecking, since draining re-enters this same lock.
			for p.StateFn().Paused {
				p.Cond.L.Lock()
				if p.StateFn().Paused {
					p.Cond.Wait()
				}
				p.Cond.L.Unlock()
				if p.DrainRequests != nil {
					p.DrainRequests()
				}
			}
			if driver != nil {
				driver.Unpause()
			}
		}

		state = p.StateFn()
		if (state.Phase == machinestate.Stopping || state.Phase == machinestate.Reset) && target != job.TargetSimulator {
			if driver != nil {
				driver.Stop(true)
			}
			return ErrBuildAborted
		}
		if !state.IsBuilding() {
			return nil
		}

		if driver != nil {
			p.poll(bc, driver)
		}

		p.Emitter.EmitProgress(event.ProgressEvent{
			ElapsedMs:        nowMs() - bc.startMillis,
			EstimatedTotalMs: bc.estimatedTotal,
			LinesProcessed:   bc.linesProcessed,
			LinesTotal:       bc.linesTotal,
		})
		if p.Progress != nil {
			p.Progress(bc.linesProcessed, bc.linesTotal)
		}

		if p.DrainRequests != nil {
			p.DrainRequests()
		}
	}

	return nil
}

// runSimulated feeds every pending command to the simulator, ignoring
// retry and stop signals entirely: the simulator never blocks a build.
func runSimulated(pending []command.Command, sim driverapi.Device) {
	for _, c := range pending {
		_ = c.Run(sim)
	}
}

// runAgainstDriver executes pending commands against driver using
// peek-then-remove semantics. done reports that the segment ended (a
// program-end/halt code, or a declined optional halt); nextRetry reports
// that the head command should be re-run next iteration without consuming
// a new line, and rest then holds the commands still queued, head first.
func runAgainstDriver(pending []command.Command, driver driverapi.Device, up prompt.UserPrompt) (rest []command.Command, done bool, nextRetry bool, err error) {
	for len(pending) > 0 {
		runErr := pending[0].Run(driver)
		if runErr == nil {
			pending = pending[1:]
			continue
		}
		if errors.Is(runErr, command.ErrRetry) {
			return pending, false, true, nil
		}
		if stop, ok := command.AsStop(runErr); ok {
			if stop.Kind == command.OptionalHalt {
				if up.Confirm(stop.Message) {
					pending = pending[1:]
					continue
				}
				return nil, true, false, nil
			}
			up.Info(stop.Message)
			return nil, true, false, nil
		}
		return nil, false, false, runErr
	}
	return nil, false, false, nil
}

func (p *Pipeline) poll(bc *buildContext, driver driverapi.Device) {
	if !bc.pollingEnabled || !p.Prefs.Current().MonitorTemp {
		return
	}
	now := nowMs()
	if now-bc.lastPolled < bc.pollIntervalMs {
		return
	}
	bc.lastPolled = now
	if temp, err := driver.ReadTemperature(); err == nil {
		p.Emitter.EmitToolStatus(event.ToolStatusEvent{Tool: temp})
	}
}

func (p *Pipeline) awaitFinished(ctx context.Context, driver driverapi.Device) error {
	if driver == nil {
		return nil
	}
	for !driver.IsFinished() {
		if err := ctx.Err(); err != nil {
			return ErrBuildInterrupted
		}
		if p.DrainRequests != nil {
			p.DrainRequests()
		}
		state := p.StateFn()
		if state.Phase == machinestate.Stopping || state.Phase == machinestate.Reset {
			driver.Stop(true)
			return ErrBuildAborted
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
