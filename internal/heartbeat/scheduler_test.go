package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/user/clawgate/internal/agent"
	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/gateway"
	"github.com/user/clawgate/internal/session"
	"github.com/user/clawgate/internal/subscriber"
	"github.com/user/clawgate/internal/types"
)

// beatRunner answers every run with a fixed reply or error.
type beatRunner struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (b *beatRunner) Run(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, req.Body)
	b.mu.Unlock()

	ch := make(chan agent.Event, 4)
	ch <- agent.Event{Type: agent.EventAgentStart}
	if b.err != nil {
		ch <- agent.Event{Type: agent.EventError, Err: b.err}
	} else {
		ch <- agent.Event{Type: agent.EventMessageEnd, Text: b.reply}
	}
	ch <- agent.Event{Type: agent.EventAgentEnd}
	close(ch)
	return ch, nil
}

type beatSink struct {
	mu     sync.Mutex
	blocks []subscriber.Block
}

func (s *beatSink) Deliver(key types.SessionKey, surface, to string, b subscriber.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, b)
	return nil
}

func fixture(t *testing.T, runner agent.Runner) (*Scheduler, *beatSink) {
	t.Helper()
	cfg := &config.Config{
		MaxConcurrent:  2,
		TimeoutSeconds: 5,
		LLM:            config.LLMConfig{Model: "test-model"},
	}
	conf := func() *config.Config { return cfg }

	store, err := session.OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	sessions := session.NewManager(store, cfg.Session)
	sink := &beatSink{}
	coord := gateway.NewCoordinator(runner, sessions, conf, sink)
	coord.Start(context.Background())
	t.Cleanup(coord.Stop)

	return New(sessions, coord, sink, conf), sink
}

func job() config.HeartbeatJob {
	return config.HeartbeatJob{SessionKey: "telegram:42", Every: "30m"}
}

func TestBeatWithReplyIsDelivered(t *testing.T) {
	runner := &beatRunner{reply: "your build finished"}
	s, sink := fixture(t, runner)

	s.Fire(job())

	if len(sink.blocks) != 1 || sink.blocks[0].Text != "your build finished" {
		t.Fatalf("blocks = %+v", sink.blocks)
	}
	if evt, _ := s.Last("telegram:42"); evt.Status != types.HeartbeatSent {
		t.Errorf("status = %s", evt.Status)
	}
	if runner.prompts[0] != DefaultPrompt {
		t.Errorf("prompt = %q, want default", runner.prompts[0])
	}
}

func TestBeatNoReplyToken(t *testing.T) {
	runner := &beatRunner{reply: subscriber.NoReply}
	s, sink := fixture(t, runner)

	s.Fire(job())

	if len(sink.blocks) != 0 {
		t.Errorf("token reply must not deliver: %+v", sink.blocks)
	}
	if evt, _ := s.Last("telegram:42"); evt.Status != types.HeartbeatOKToken {
		t.Errorf("status = %s", evt.Status)
	}
}

func TestBeatEmptyReply(t *testing.T) {
	runner := &beatRunner{reply: ""}
	s, _ := fixture(t, runner)

	s.Fire(job())

	if evt, _ := s.Last("telegram:42"); evt.Status != types.HeartbeatOKEmpty {
		t.Errorf("status = %s", evt.Status)
	}
}

func TestBeatTargetNoneSuppressesDelivery(t *testing.T) {
	runner := &beatRunner{reply: "something happened"}
	s, sink := fixture(t, runner)

	j := job()
	j.Target = "none"
	s.Fire(j)

	if len(sink.blocks) != 0 {
		t.Errorf("target none must not deliver: %+v", sink.blocks)
	}
}

func TestBeatCustomPrompt(t *testing.T) {
	runner := &beatRunner{reply: subscriber.NoReply}
	s, _ := fixture(t, runner)

	j := job()
	j.Prompt = "check the backups"
	s.Fire(j)

	if runner.prompts[0] != "check the backups" {
		t.Errorf("prompt = %q", runner.prompts[0])
	}
}

func TestBeatDegradedProbeFailsWithBackoff(t *testing.T) {
	runner := &beatRunner{reply: "fine"}
	s, _ := fixture(t, runner)
	s.SetDegradedProbe(func() bool { return true })

	s.Fire(job())
	if evt, _ := s.Last("telegram:42"); evt.Status != types.HeartbeatFailed {
		t.Fatalf("status = %s", evt.Status)
	}
	if len(runner.prompts) != 0 {
		t.Errorf("degraded beat must not run the agent, got %d runs", len(runner.prompts))
	}

	// next beat lands inside the backoff window
	s.Fire(job())
	if evt, _ := s.Last("telegram:42"); evt.Status != types.HeartbeatSkipped {
		t.Errorf("status = %s, want skipped during backoff", evt.Status)
	}
}

func TestBeatFailureBacksOff(t *testing.T) {
	runner := &beatRunner{err: errors.New("provider down")}
	s, _ := fixture(t, runner)

	s.Fire(job())
	if evt, _ := s.Last("telegram:42"); evt.Status != types.HeartbeatFailed {
		t.Fatalf("status = %s", evt.Status)
	}

	// next beat lands inside the backoff window
	s.Fire(job())
	if evt, _ := s.Last("telegram:42"); evt.Status != types.HeartbeatSkipped {
		t.Errorf("status = %s, want skipped during backoff", evt.Status)
	}
	if len(runner.prompts) != 1 {
		t.Errorf("backoff should prevent the second run, got %d runs", len(runner.prompts))
	}
}
