package event

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/buildctl/internal/machinestate"
)

type spyListener struct {
	states    []StateChangeEvent
	progress  []ProgressEvent
	toolStats []ToolStatusEvent
}

func (s *spyListener) OnStateChange(ev StateChangeEvent)   { s.states = append(s.states, ev) }
func (s *spyListener) OnProgress(ev ProgressEvent)          { s.progress = append(s.progress, ev) }
func (s *spyListener) OnToolStatus(ev ToolStatusEvent)      { s.toolStats = append(s.toolStats, ev) }

func TestEmitter_RegistrationDeliversCurrentState(t *testing.T) {
	state := machinestate.State{Phase: machinestate.Ready}
	e := NewEmitter(func() machinestate.State { return state })

	l := &spyListener{}
	e.AddListener(l)

	assert.Len(t, l.states, 1)
	assert.Equal(t, state, l.states[0].Prev)
	assert.Equal(t, state, l.states[0].Current)
}

func TestEmitter_EmitReachesAllListeners(t *testing.T) {
	e := NewEmitter(nil)
	a, b := &spyListener{}, &spyListener{}
	e.AddListener(a)
	e.AddListener(b)

	e.EmitProgress(ProgressEvent{LinesProcessed: 5})

	assert.Len(t, a.progress, 1)
	assert.Len(t, b.progress, 1)
}

func TestEmitter_RemoveListenerStopsFutureEmissions(t *testing.T) {
	e := NewEmitter(nil)
	l := &spyListener{}
	e.AddListener(l)
	e.RemoveListener(l)

	e.EmitProgress(ProgressEvent{LinesProcessed: 1})

	assert.Empty(t, l.progress)
}

func TestEmitter_RemoveDuringEmissionDoesNotAffectCurrentPass(t *testing.T) {
	e := NewEmitter(nil)
	var l2 *spyListener
	l1 := &removingListener{remove: func() { e.RemoveListener(l2) }}
	l2 = &spyListener{}
	e.AddListener(l1)
	e.AddListener(l2)

	e.EmitProgress(ProgressEvent{LinesProcessed: 1})

	// l2 was still in the snapshot taken before l1 removed it.
	assert.Len(t, l2.progress, 1)

	e.EmitProgress(ProgressEvent{LinesProcessed: 2})
	assert.Len(t, l2.progress, 1)
}

type removingListener struct {
	remove func()
}

func (r *removingListener) OnStateChange(StateChangeEvent) {}
func (r *removingListener) OnProgress(ProgressEvent)        { r.remove() }
func (r *removingListener) OnToolStatus(ToolStatusEvent)    {}
