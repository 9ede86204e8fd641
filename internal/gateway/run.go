package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/user/clawgate/internal/agent"
	"github.com/user/clawgate/internal/types"
)

// RunState tracks where an active run is in its lifecycle.
type RunState string

const (
	RunStarting   RunState = "starting"
	RunStreaming  RunState = "streaming"
	RunCompacting RunState = "compacting"
	RunEnding     RunState = "ending"
)

// ActiveRun is one in-flight agent run. The coordinator owns the table of
// these; everything else observes them through coordinator methods.
type ActiveRun struct {
	ID        types.RunID
	Key       types.SessionKey
	Model     string
	StartedAt time.Time

	cancel   context.CancelFunc
	steer    chan string
	followup chan string

	mu    sync.Mutex
	state RunState
}

func newActiveRun(key types.SessionKey, model string, cancel context.CancelFunc, steerCap int) *ActiveRun {
	if steerCap <= 0 {
		steerCap = 20
	}
	return &ActiveRun{
		ID:        types.NewRunID(),
		Key:       key,
		Model:     model,
		StartedAt: time.Now(),
		cancel:    cancel,
		steer:     make(chan string, steerCap),
		followup:  make(chan string, steerCap),
		state:     RunStarting,
	}
}

// State returns the run's current lifecycle state.
func (r *ActiveRun) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// observe advances the lifecycle state from a run event.
func (r *ActiveRun) observe(e agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Type {
	case agent.EventMessageUpdate:
		if r.state == RunStarting {
			r.state = RunStreaming
		}
	case agent.EventCompactionStart:
		r.state = RunCompacting
	case agent.EventCompactionEnd:
		if e.WillRetry {
			r.state = RunStarting
		}
	case agent.EventMessageEnd:
		r.state = RunEnding
	}
}

// Cancel aborts the run. Buffered partial text is still flushed to the
// session's surface before the run ends.
func (r *ActiveRun) Cancel() {
	r.cancel()
}

// offerSteer injects guidance into the run without blocking. Reports
// whether the run accepted it.
func (r *ActiveRun) offerSteer(text string) bool {
	select {
	case r.steer <- text:
		return true
	default:
		return false
	}
}

func (r *ActiveRun) offerFollowup(text string) bool {
	select {
	case r.followup <- text:
		return true
	default:
		return false
	}
}

// drainSteer returns any steered text the run never consumed.
func (r *ActiveRun) drainSteer() []string {
	var out []string
	for {
		select {
		case s := <-r.steer:
			out = append(out, s)
		default:
			return out
		}
	}
}
