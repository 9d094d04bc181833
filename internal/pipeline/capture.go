package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mastercactapus/buildctl/internal/driverapi"
	"github.com/mastercactapus/buildctl/internal/gcodesource"
	"github.com/mastercactapus/buildctl/internal/job"
	"github.com/mastercactapus/buildctl/internal/machinestate"
	"github.com/mastercactapus/buildctl/internal/sderror"
)

// BuildToFile redirects the command stream to a file on the host running
// the controller for the duration of the build.
func (p *Pipeline) BuildToFile(ctx context.Context, driver, sim driverapi.Device, name string, warmup, cooldown []string, src gcodesource.Source) error {
	cap, ok := driver.(driverapi.Capture)
	if !ok {
		return fmt.Errorf("pipeline: driver does not support file capture")
	}
	if err := cap.BeginFileCapture(name); err != nil {
		return err
	}

	buildErr := p.Build(ctx, job.TargetFile, driver, sim, warmup, cooldown, src)

	if err := cap.EndFileCapture(); err != nil && buildErr == nil {
		buildErr = err
	}
	return buildErr
}

// BuildToRemoteFile redirects the command stream to storage on the device
// itself, translating a non-Success begin response into a prompt and
// aborting without dispatching anything.
func (p *Pipeline) BuildToRemoteFile(ctx context.Context, driver, sim driverapi.Device, name string, warmup, cooldown []string, src gcodesource.Source) error {
	sdc, ok := driver.(driverapi.SDCapture)
	if !ok {
		return fmt.Errorf("pipeline: driver does not support on-device capture")
	}

	code, err := sdc.BeginCapture(name)
	if err != nil {
		return err
	}
	if code != driverapi.Success {
		p.Prompt.Info(sderror.Message(code))
		return ErrBuildAborted
	}

	buildErr := p.Build(ctx, job.TargetRemoteFile, driver, sim, warmup, cooldown, src)

	n, err := sdc.EndCapture()
	if err != nil && buildErr == nil {
		buildErr = err
	}
	if err == nil {
		log.Printf("pipeline: capture %q ended, EndCapture reported %d", name, n)
	}
	return buildErr
}

// BuildRemote plays back a previously captured on-device file, polling
// IsFinished once a second and honouring pause/stop the same way a live
// build does.
func (p *Pipeline) BuildRemote(ctx context.Context, driver driverapi.Device, name string) error {
	sdc, ok := driver.(driverapi.SDCapture)
	if !ok {
		return fmt.Errorf("pipeline: driver does not support on-device playback")
	}

	code, err := sdc.Playback(name)
	if err != nil {
		return err
	}
	if code != driverapi.Success {
		p.Prompt.Info(sderror.Message(code))
		return ErrBuildAborted
	}

	for !driver.IsFinished() {
		if err := ctx.Err(); err != nil {
			return ErrBuildInterrupted
		}

		if p.DrainRequests != nil {
			p.DrainRequests()
		}

		state := p.StateFn()
		if state.Paused {
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
		}

		state = p.StateFn()
		if state.Phase == machinestate.Stopping || state.Phase == machinestate.Reset {
			driver.Stop(true)
			return ErrBuildAborted
		}

		time.Sleep(time.Second)
	}
	return nil
}
