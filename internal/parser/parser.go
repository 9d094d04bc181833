// Package parser implements the default G-code parser (D1): a concrete
// realization of the parse(line) -> []Command contract, built on the
// gcode package's tokenizer. It recognizes just enough of the M-code
// vocabulary to drive the controller's stop and temperature semantics;
// everything else is forwarded to the device verbatim and interpreted by
// the firmware the way a real printer already does.
package parser

import (
	"io"
	"strings"

	"github.com/mastercactapus/buildctl/gcode"
	"github.com/mastercactapus/buildctl/internal/command"
	"github.com/mastercactapus/buildctl/internal/driverapi"
)

// Parser compiles a single line of G-code into zero or more commands. It is
// the interface the build pipeline depends on; the build controller has no
// knowledge of gcode.Block or any other tokenizer detail.
type Parser interface {
	Parse(line string) ([]command.Command, error)
}

// GCodeParser is the bundled default Parser. It carries no per-line state,
// so a single instance may be shared; the pipeline holds one and feeds the
// commands it compiles for a line to both the live driver and the
// simulator.
type GCodeParser struct{}

// NewGCodeParser constructs the default parser.
func NewGCodeParser() *GCodeParser { return &GCodeParser{} }

func (p *GCodeParser) Parse(line string) ([]command.Command, error) {
	block, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, nil
	}
	if err := block.Validate(); err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(line)

	for _, w := range block {
		if w.W != 'M' {
			continue
		}
		switch w.Arg {
		case 0:
			return []command.Command{stopCommand(command.UnconditionalHalt, "M0 program stop")}, nil
		case 1:
			return []command.Command{stopCommand(command.OptionalHalt, "M1 optional stop")}, nil
		case 2, 30:
			return []command.Command{stopCommand(command.ProgramEnd, "program end")}, nil
		// M109/M190 (wait for temperature) are handled like M104/M140:
		// the target is set and the line dispatched, without blocking
		// until the temperature is reached.
		case 104, 109:
			return []command.Command{setTemperatureCommand(block, raw, false)}, nil
		case 140, 190:
			return []command.Command{setTemperatureCommand(block, raw, true)}, nil
		}
	}

	return []command.Command{dispatchCommand(raw)}, nil
}

// tokenize parses a single line into a gcode.Block, treating a blank or
// comment-only line as "nothing to do" rather than an error.
func tokenize(line string) (gcode.Block, error) {
	p := gcode.NewParser(strings.NewReader(line + "\n"))
	block, err := p.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

func stopCommand(kind command.StopKind, message string) command.Command {
	return command.Func(func(d driverapi.Device) error {
		return &command.StopError{Kind: kind, Message: message}
	})
}

func setTemperatureCommand(b gcode.Block, raw string, platform bool) command.Command {
	_, target := b.Arg('S')
	tool := 0
	if hasT, t := b.Arg('T'); hasT {
		tool = int(t)
	}

	return command.Func(func(d driverapi.Device) error {
		if m := d.Machine(); m != nil {
			if platform {
				m.SetPlatformTargetTemperature(tool, target)
			} else {
				m.SetTargetTemperature(tool, target)
			}
		}
		return d.Dispatch(raw)
	})
}

func dispatchCommand(raw string) command.Command {
	return command.Func(func(d driverapi.Device) error {
		return d.Dispatch(raw)
	})
}
