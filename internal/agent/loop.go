package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/user/clawgate/internal/prompt"
	"github.com/user/clawgate/pkg/llm"
)

// promptTooLongRe matches the provider's context-overflow error. A match
// triggers compaction: the history window is halved and the turn retried.
var promptTooLongRe = regexp.MustCompile(`prompt is too long:\s*(\d+)\s*tokens?\s*>\s*(\d+)`)

// LoopConfig tunes the turn loop.
type LoopConfig struct {
	SystemTemplate  string
	EnforceFinalTag bool
	MaxRounds       int // tool rounds per turn, default 10
	MaxCompactions  int // overflow retries per run, default 3
}

// LoopRunner drives the model turn loop over an llm.Provider: stream a
// completion, execute any requested tools, feed results back, repeat until
// the model answers with plain text.
type LoopRunner struct {
	provider llm.Provider
	engine   *prompt.Engine
	registry *Registry
	cfg      LoopConfig
}

func NewLoopRunner(provider llm.Provider, engine *prompt.Engine, registry *Registry, cfg LoopConfig) *LoopRunner {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 10
	}
	if cfg.MaxCompactions <= 0 {
		cfg.MaxCompactions = 3
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &LoopRunner{provider: provider, engine: engine, registry: registry, cfg: cfg}
}

func (r *LoopRunner) Run(ctx context.Context, req Request) (<-chan Event, error) {
	system, err := prompt.RenderSystem(r.cfg.SystemTemplate, req.SessionKey, req.Surface, r.registry.Names(), r.cfg.EnforceFinalTag)
	if err != nil {
		return nil, err
	}
	out := make(chan Event, 64)
	go r.run(ctx, req, system, out)
	return out, nil
}

func (r *LoopRunner) run(ctx context.Context, req Request, system string, out chan<- Event) {
	defer close(out)
	emit := func(e Event) {
		e.RunID = req.RunID
		out <- e
	}

	emit(Event{Type: EventAgentStart})

	window := req.History
	msgs := r.engine.Window(system, window, req.Body)
	tools := r.registry.AsLLMTools()
	compactions := 0
	round := 0

	for round < r.cfg.MaxRounds {
		msgs = drainSteer(req.Steer, msgs)

		deltas, err := r.provider.Stream(ctx, msgs, tools)
		if err != nil {
			if promptTooLongRe.MatchString(err.Error()) {
				emit(Event{Type: EventCompactionStart})
				willRetry := compactions < r.cfg.MaxCompactions && len(window) > 0
				emit(Event{Type: EventCompactionEnd, WillRetry: willRetry})
				if willRetry {
					compactions++
					window = window[(len(window)+1)/2:]
					msgs = r.engine.Window(system, window, req.Body)
					continue
				}
			}
			emit(Event{Type: EventError, Err: err})
			emit(Event{Type: EventAgentEnd})
			return
		}

		var content strings.Builder
		var toolCalls []llm.ToolCall
		for d := range deltas {
			if d.Content != "" {
				content.WriteString(d.Content)
				emit(Event{Type: EventMessageUpdate, Text: content.String()})
			}
			toolCalls = append(toolCalls, d.ToolCalls...)
		}
		if ctx.Err() != nil {
			emit(Event{Type: EventError, Err: ctx.Err()})
			emit(Event{Type: EventAgentEnd})
			return
		}

		if len(toolCalls) > 0 {
			if content.Len() > 0 {
				emit(Event{Type: EventTextEnd, Text: content.String()})
			}
			msgs = append(msgs, llm.Message{Role: "assistant", Content: content.String(), Tools: toolCalls})
			for _, tc := range toolCalls {
				msgs = append(msgs, r.execTool(ctx, tc, emit))
			}
			round++
			continue
		}

		emit(Event{Type: EventMessageEnd, Text: content.String()})

		// A queued followup extends the run with a fresh turn instead of
		// starting a new run.
		if f, ok := takeFollowup(req.Followup); ok {
			msgs = append(msgs,
				llm.Message{Role: "assistant", Content: content.String()},
				llm.Message{Role: "user", Content: f},
			)
			round = 0
			continue
		}

		emit(Event{Type: EventAgentEnd})
		return
	}

	emit(Event{Type: EventError, Err: fmt.Errorf("max tool rounds (%d) exceeded", r.cfg.MaxRounds)})
	emit(Event{Type: EventAgentEnd})
}

func (r *LoopRunner) execTool(ctx context.Context, tc llm.ToolCall, emit func(Event)) llm.Message {
	emit(Event{
		Type:       EventToolStart,
		ToolCallID: tc.ID,
		Tool:       tc.Function.Name,
		Meta:       map[string]any{"arguments": string(tc.Function.Arguments)},
	})

	var result string
	tool, ok := r.registry.Get(tc.Function.Name)
	if !ok {
		result = fmt.Sprintf("error: unknown tool %q", tc.Function.Name)
	} else if out, err := tool.Execute(ctx, tc.Function.Arguments); err != nil {
		result = fmt.Sprintf("error: %v", err)
	} else {
		result = out
	}

	emit(Event{
		Type:       EventToolEnd,
		ToolCallID: tc.ID,
		Tool:       tc.Function.Name,
		Meta:       map[string]any{"result": result},
	})
	return llm.Message{Role: "tool", Content: result, Tools: []llm.ToolCall{{ID: tc.ID}}}
}

// drainSteer appends any pending steered text as user messages without
// blocking.
func drainSteer(ch <-chan string, msgs []llm.Message) []llm.Message {
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return msgs
			}
			if strings.TrimSpace(s) != "" {
				msgs = append(msgs, llm.Message{Role: "user", Content: s})
			}
		default:
			return msgs
		}
	}
}

func takeFollowup(ch <-chan string) (string, bool) {
	select {
	case f, ok := <-ch:
		if ok && strings.TrimSpace(f) != "" {
			return f, true
		}
		return "", false
	default:
		return "", false
	}
}
