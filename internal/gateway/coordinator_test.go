package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/clawgate/internal/agent"
	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/session"
	"github.com/user/clawgate/internal/subscriber"
	"github.com/user/clawgate/internal/types"
)

// fakeRunner answers every run with a fixed reply. If hold is set, runs
// block until it is closed (or the context is cancelled).
type fakeRunner struct {
	mu       sync.Mutex
	requests []agent.Request
	started  chan struct{}
	hold     chan struct{}
	reply    string
}

func (f *fakeRunner) Run(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	ch := make(chan agent.Event, 8)
	go func() {
		defer close(ch)
		ch <- agent.Event{Type: agent.EventAgentStart, RunID: req.RunID}
		if f.started != nil {
			f.started <- struct{}{}
		}
		if f.hold != nil {
			select {
			case <-f.hold:
			case <-ctx.Done():
				ch <- agent.Event{Type: agent.EventError, Err: ctx.Err()}
				ch <- agent.Event{Type: agent.EventAgentEnd}
				return
			}
		}
		ch <- agent.Event{Type: agent.EventMessageEnd, Text: f.reply, RunID: req.RunID}
		ch <- agent.Event{Type: agent.EventAgentEnd, RunID: req.RunID}
	}()
	return ch, nil
}

func (f *fakeRunner) bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, r.Body)
	}
	return out
}

type fakeSink struct {
	mu     sync.Mutex
	blocks []subscriber.Block
}

func (f *fakeSink) Deliver(key types.SessionKey, surface, to string, b subscriber.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, b)
	return nil
}

func (f *fakeSink) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.blocks {
		out = append(out, b.Text)
	}
	return out
}

func coordFixture(t *testing.T, runner agent.Runner, cfg *config.Config) (*Coordinator, *session.Manager, *fakeSink) {
	t.Helper()
	store, err := session.OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	sessions := session.NewManager(store, cfg.Session)
	sink := &fakeSink{}
	c := NewCoordinator(runner, sessions, func() *config.Config { return cfg }, sink)
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	sessions.SetActiveProbe(c.IsActive)
	return c, sessions, sink
}

func testConfig(mode string) *config.Config {
	return &config.Config{
		MaxConcurrent:  2,
		TimeoutSeconds: 5,
		Queue:          config.QueueConfig{Mode: mode, DebounceMs: 10, Cap: 2, Drop: "summarize"},
		LLM:            config.LLMConfig{Model: "test-model"},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDebouncedRunDeliversAndRecordsHistory(t *testing.T) {
	runner := &fakeRunner{reply: "hello back"}
	c, sessions, sink := coordFixture(t, runner, testConfig("collect"))

	sess, _ := sessions.Resolve("test:alice", "test", "alice")
	c.Submit(sess, "hi")

	waitFor(t, "delivery", func() bool { return len(sink.texts()) == 1 })
	if sink.texts()[0] != "hello back" {
		t.Errorf("delivered = %v", sink.texts())
	}

	waitFor(t, "history", func() bool { return len(sessions.History("test:alice")) == 2 })
	hist := sessions.History("test:alice")
	if hist[0].Role != "user" || hist[0].Content != "hi" || hist[1].Role != "assistant" {
		t.Errorf("history = %+v", hist)
	}
}

func TestBurstCoalescedByDebounce(t *testing.T) {
	runner := &fakeRunner{reply: "ok"}
	c, sessions, _ := coordFixture(t, runner, testConfig("collect"))

	sess, _ := sessions.Resolve("test:alice", "test", "alice")
	c.Submit(sess, "part one")
	c.Submit(sess, "part two")

	waitFor(t, "run", func() bool { return len(runner.bodies()) == 1 })
	if runner.bodies()[0] != "part one\npart two" {
		t.Errorf("coalesced body = %q", runner.bodies()[0])
	}
}

func TestCollectWhileBusySummarizesOverflow(t *testing.T) {
	runner := &fakeRunner{reply: "ok", started: make(chan struct{}, 1), hold: make(chan struct{})}
	c, sessions, _ := coordFixture(t, runner, testConfig("collect"))

	sess, _ := sessions.Resolve("test:alice", "test", "alice")
	c.Submit(sess, "m1")
	<-runner.started

	for _, m := range []string{"m2", "m3", "m4"} {
		c.Submit(sess, m)
	}
	close(runner.hold)

	waitFor(t, "second run", func() bool { return len(runner.bodies()) == 2 })
	want := "[1 messages while you were busy]\nm3\nm4"
	if got := runner.bodies()[1]; got != want {
		t.Errorf("backlog body = %q, want %q", got, want)
	}
}

func TestSteerModeInjectsIntoActiveRun(t *testing.T) {
	runner := &fakeRunner{reply: "ok", started: make(chan struct{}, 1), hold: make(chan struct{})}
	c, sessions, _ := coordFixture(t, runner, testConfig("steer"))

	sess, _ := sessions.Resolve("test:alice", "test", "alice")
	c.Submit(sess, "m1")
	<-runner.started

	c.Submit(sess, "steer this")

	run := c.ActiveFor("test:alice")
	if run == nil {
		t.Fatal("expected an active run")
	}
	select {
	case got := <-run.steer:
		if got != "steer this" {
			t.Errorf("steer = %q", got)
		}
	default:
		t.Error("steer channel should hold the message")
	}
	close(runner.hold)
}

func TestInterruptCancelsAndReruns(t *testing.T) {
	runner := &fakeRunner{reply: "ok", started: make(chan struct{}, 2), hold: make(chan struct{})}
	c, sessions, _ := coordFixture(t, runner, testConfig("interrupt"))

	sess, _ := sessions.Resolve("test:alice", "test", "alice")
	c.Submit(sess, "slow question")
	<-runner.started

	c.Submit(sess, "never mind, new question")

	waitFor(t, "rerun", func() bool { return len(runner.bodies()) == 2 })
	if runner.bodies()[1] != "never mind, new question" {
		t.Errorf("second run body = %q", runner.bodies()[1])
	}
}

func TestRunPromptBypassesQueue(t *testing.T) {
	runner := &fakeRunner{reply: "pong"}
	c, sessions, sink := coordFixture(t, runner, testConfig("collect"))

	sess, _ := sessions.Resolve("test:alice", "test", "alice")
	out, err := c.RunPrompt(sess, "ping", "other-model")
	if err != nil {
		t.Fatal(err)
	}
	if out != "pong" {
		t.Errorf("final = %q", out)
	}
	if len(sink.texts()) != 0 {
		t.Errorf("RunPrompt must not deliver, got %v", sink.texts())
	}
	if runner.requests[0].Model != "other-model" {
		t.Errorf("model = %q", runner.requests[0].Model)
	}
}

func TestRunPromptBusy(t *testing.T) {
	runner := &fakeRunner{reply: "ok", started: make(chan struct{}, 1), hold: make(chan struct{})}
	c, sessions, _ := coordFixture(t, runner, testConfig("collect"))

	sess, _ := sessions.Resolve("test:alice", "test", "alice")
	c.Submit(sess, "m1")
	<-runner.started

	if _, err := c.RunPrompt(sess, "hb", ""); err != ErrBusy {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	close(runner.hold)
}
