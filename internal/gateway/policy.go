package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/session"
)

const defaultQueueCap = 20

// lane buffers messages for one session while no run can take them. The
// disposition of a message is decided when it arrives and never rewritten:
// once collected, a message waits for the next run even if the mode changes.
type lane struct {
	sess *session.Session

	pending    []string
	summarized int
	timer      *time.Timer
}

// add applies the cap and drop rule, then appends. A summarize overflow
// collapses the whole backlog, new message included, into the count.
func (l *lane) add(body string, qc config.QueueConfig) {
	max := qc.Cap
	if max <= 0 {
		max = defaultQueueCap
	}
	if len(l.pending) >= max {
		switch qc.Drop {
		case "new":
			return
		case "summarize":
			l.summarized += len(l.pending) + 1
			l.pending = nil
			return
		default: // old
			l.pending = l.pending[1:]
		}
	}
	l.pending = append(l.pending, body)
}

func (l *lane) addAll(bodies []string, qc config.QueueConfig) {
	for _, b := range bodies {
		l.add(b, qc)
	}
}

// flush joins the buffered messages, deduplicated in arrival order, into
// one run body. A collapsed backlog becomes a count note so the model
// knows messages were lost.
func (l *lane) flush() string {
	seen := make(map[string]struct{}, len(l.pending))
	parts := make([]string, 0, len(l.pending)+1)
	for _, p := range l.pending {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		parts = append(parts, p)
	}
	l.pending = nil
	if l.summarized > 0 {
		note := fmt.Sprintf("[%d messages while you were busy]", l.summarized)
		parts = append([]string{note}, parts...)
		l.summarized = 0
	}
	return strings.Join(parts, "\n")
}

func (l *lane) empty() bool {
	return len(l.pending) == 0 && l.summarized == 0
}
