// Package job implements the request queue (C4): the tagged-union intents
// external callers submit to the machine worker, and the FIFO they travel
// through.
package job

import (
	"github.com/google/uuid"

	"github.com/mastercactapus/buildctl/internal/command"
	"github.com/mastercactapus/buildctl/internal/gcodesource"
)

// Type identifies the kind of request carried by a Request. It mirrors
// replicatorg.machine.MachineController.RequestType one-for-one.
type Type int

const (
	Connect Type = iota
	ResetRequest
	Simulate
	BuildDirect
	BuildToFile
	BuildToRemoteFile
	BuildRemote
	Pause
	Unpause
	Stop
	Disconnect
	DisconnectRemoteBuild
	RunCommand
)

func (t Type) String() string {
	switch t {
	case Connect:
		return "connect"
	case ResetRequest:
		return "reset"
	case Simulate:
		return "simulate"
	case BuildDirect:
		return "build-direct"
	case BuildToFile:
		return "build-to-file"
	case BuildToRemoteFile:
		return "build-to-remote-file"
	case BuildRemote:
		return "build-remote"
	case Pause:
		return "pause"
	case Unpause:
		return "unpause"
	case Stop:
		return "stop"
	case Disconnect:
		return "disconnect"
	case DisconnectRemoteBuild:
		return "disconnect-remote-build"
	case RunCommand:
		return "run-command"
	default:
		return "unknown"
	}
}

// Request is a tagged-union intent: only the fields relevant to Type are
// populated. ID exists purely for log correlation; it carries no semantics.
type Request struct {
	ID         uuid.UUID
	Type       Type
	Source     gcodesource.Source
	RemoteName string
	Command    command.Command
}

func newRequest(t Type) Request {
	return Request{ID: uuid.New(), Type: t}
}

func NewConnect() Request { return newRequest(Connect) }
func NewReset() Request   { return newRequest(ResetRequest) }
func NewPause() Request   { return newRequest(Pause) }
func NewUnpause() Request { return newRequest(Unpause) }
func NewStop() Request       { return newRequest(Stop) }
func NewDisconnect() Request { return newRequest(Disconnect) }
func NewDisconnectRemoteBuild() Request {
	return newRequest(DisconnectRemoteBuild)
}

func NewSimulate(src gcodesource.Source) Request {
	r := newRequest(Simulate)
	r.Source = src
	return r
}

func NewBuildDirect(src gcodesource.Source) Request {
	r := newRequest(BuildDirect)
	r.Source = src
	return r
}

func NewBuildToFile(src gcodesource.Source, remoteName string) Request {
	r := newRequest(BuildToFile)
	r.Source = src
	r.RemoteName = remoteName
	return r
}

func NewBuildToRemoteFile(src gcodesource.Source, remoteName string) Request {
	r := newRequest(BuildToRemoteFile)
	r.Source = src
	r.RemoteName = remoteName
	return r
}

func NewBuildRemote(remoteName string) Request {
	r := newRequest(BuildRemote)
	r.RemoteName = remoteName
	return r
}

func NewRunCommand(cmd command.Command) Request {
	r := newRequest(RunCommand)
	r.Command = cmd
	return r
}
