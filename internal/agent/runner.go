package agent

import (
	"context"

	"github.com/user/clawgate/internal/types"
)

// Request describes one agent run. Steer and Followup are drained by the
// runner between model turns: steered text joins the current run as extra
// user guidance, followups start another turn after the final message.
// Either channel may be nil.
type Request struct {
	RunID      types.RunID
	SessionKey types.SessionKey
	Surface    string
	Body       string
	History    []types.HistoryEntry
	Model      string

	Steer    <-chan string
	Followup <-chan string
}

// Runner executes agent runs. The returned channel is closed when the run
// ends; the final event before close is agent_end (possibly preceded by an
// error event). Cancel the context to abort the run.
type Runner interface {
	Run(ctx context.Context, req Request) (<-chan Event, error)
}
