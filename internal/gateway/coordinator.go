package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/clawgate/internal/agent"
	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/session"
	"github.com/user/clawgate/internal/subscriber"
	"github.com/user/clawgate/internal/types"
)

// ErrBusy is returned by RunPrompt when the session already has a run.
var ErrBusy = errors.New("session has an active run")

const failureNotice = "Sorry, something went wrong processing your message."

// BlockSink receives shaped reply blocks for delivery. Implemented by the
// delivery dispatcher.
type BlockSink interface {
	Deliver(key types.SessionKey, surface, to string, block subscriber.Block) error
}

// Coordinator owns the active-run table. Runs are serial per session key;
// a weighted semaphore caps concurrency across sessions. Messages arriving
// while a session is busy follow the configured queue mode.
type Coordinator struct {
	runner   agent.Runner
	sessions *session.Manager
	conf     func() *config.Config
	sink     BlockSink
	sem      *semaphore.Weighted

	mu     sync.Mutex
	active map[types.SessionKey]*ActiveRun
	lanes  map[types.SessionKey]*lane

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoordinator(runner agent.Runner, sessions *session.Manager, conf func() *config.Config, sink BlockSink) *Coordinator {
	maxConcurrent := int64(conf().MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Coordinator{
		runner:   runner,
		sessions: sessions,
		conf:     conf,
		sink:     sink,
		sem:      semaphore.NewWeighted(maxConcurrent),
		active:   make(map[types.SessionKey]*ActiveRun),
		lanes:    make(map[types.SessionKey]*lane),
	}
}

// Start initialises the coordinator's context. Must be called before Submit.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
}

// Stop cancels all runs and waits for them to unwind.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// IsActive reports whether the key has a run in flight. Wired into the
// session manager's idle sweeper.
func (c *Coordinator) IsActive(key types.SessionKey) bool {
	return c.ActiveFor(key) != nil
}

// ActiveFor returns the key's active run, or nil.
func (c *Coordinator) ActiveFor(key types.SessionKey) *ActiveRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[key]
}

// Submit routes one accepted message. Idle sessions collect it under the
// debounce window and then run; busy sessions follow the queue mode.
func (c *Coordinator) Submit(sess *session.Session, body string) {
	cfg := c.conf()
	qc := cfg.Queue
	mode := cfg.QueueModeFor(sess.Surface)

	c.mu.Lock()
	defer c.mu.Unlock()

	ln := c.laneLocked(sess)
	run := c.active[sess.Key]
	if run == nil {
		ln.add(body, qc)
		c.scheduleLocked(ln, qc)
		return
	}

	switch mode {
	case "steer":
		if run.offerSteer(body) {
			return
		}
	case "steer-backlog":
		// Steer the run, and keep the message for a fresh run afterwards.
		run.offerSteer(body)
	case "followup":
		if run.offerFollowup(body) {
			return
		}
	case "interrupt":
		slog.Info("interrupting active run", "key", sess.Key, "run", run.ID)
		run.Cancel()
	}
	ln.add(body, qc)
}

// RunPrompt executes a prompt for a session outside the inbound path,
// bypassing queueing, and returns the shaped final text. Delivery is the
// caller's business. Returns ErrBusy if the session has an active run.
func (c *Coordinator) RunPrompt(sess *session.Session, body, model string) (string, error) {
	c.mu.Lock()
	if c.active[sess.Key] != nil {
		c.mu.Unlock()
		return "", ErrBusy
	}
	runCtx, cancel := context.WithCancel(c.ctx)
	run := newActiveRun(sess.Key, c.modelOr(model), cancel, c.conf().Queue.Cap)
	c.active[sess.Key] = run
	c.mu.Unlock()

	sub := c.execute(runCtx, sess, run, body, false)
	out := sub.FinalText()
	if out == "" && sub.Suppressed() {
		out = subscriber.NoReply
	}
	return out, sub.Wait()
}

func (c *Coordinator) laneLocked(sess *session.Session) *lane {
	ln, ok := c.lanes[sess.Key]
	if !ok {
		ln = &lane{sess: sess}
		c.lanes[sess.Key] = ln
	}
	ln.sess = sess
	return ln
}

// scheduleLocked arms (or re-arms) the lane's debounce timer, coalescing a
// burst of messages into one run.
func (c *Coordinator) scheduleLocked(ln *lane, qc config.QueueConfig) {
	debounce := time.Duration(qc.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = time.Second
	}
	if ln.timer != nil {
		ln.timer.Stop()
	}
	ln.timer = time.AfterFunc(debounce, func() { c.flushLane(ln) })
}

func (c *Coordinator) flushLane(ln *lane) {
	c.mu.Lock()
	if ln.empty() || c.active[ln.sess.Key] != nil || c.ctx == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	body := ln.flush()
	runCtx, cancel := context.WithCancel(c.ctx)
	run := newActiveRun(ln.sess.Key, c.modelOr(""), cancel, c.conf().Queue.Cap)
	c.active[ln.sess.Key] = run
	sess := ln.sess
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		sub := c.execute(runCtx, sess, run, body, true)
		if err := sub.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run failed", "run", run.ID, "key", sess.Key, "error", err)
			if !errors.Is(err, context.DeadlineExceeded) {
				c.sink.Deliver(sess.Key, sess.Surface, sess.To, subscriber.Block{Text: failureNotice, Final: true})
			}
		}
	}()
}

// execute drives one run to completion and returns its subscriber, which
// has already consumed the whole event stream.
func (c *Coordinator) execute(runCtx context.Context, sess *session.Session, run *ActiveRun, body string, deliver bool) *subscriber.Subscriber {
	defer c.finish(sess, run)

	cfg := c.conf()
	sub := subscriber.New(c.subOptions(cfg), c.callbacks(sess, deliver))

	if err := c.sem.Acquire(runCtx, 1); err != nil {
		failSub(sub, err)
		return sub
	}
	defer c.sem.Release(1)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	history := c.sessions.History(sess.Key)
	c.sessions.TouchRun(sess.Key)
	c.sessions.AppendHistory(sess.Key, "user", body)

	slog.Info("run started", "run", run.ID, "key", sess.Key, "model", run.Model)
	events, err := c.runner.Run(ctx, agent.Request{
		RunID:      run.ID,
		SessionKey: sess.Key,
		Surface:    sess.Surface,
		Body:       body,
		History:    history,
		Model:      run.Model,
		Steer:      run.steer,
		Followup:   run.followup,
	})
	if err != nil {
		failSub(sub, err)
		return sub
	}

	// Track run state while forwarding to the subscriber.
	fwd := make(chan agent.Event, 64)
	go func() {
		defer close(fwd)
		for e := range events {
			run.observe(e)
			fwd <- e
		}
	}()
	sub.Consume(fwd)

	if final := sub.FinalText(); final != "" {
		c.sessions.AppendHistory(sess.Key, "assistant", final)
	}
	slog.Info("run finished", "run", run.ID, "key", sess.Key, "duration", time.Since(run.StartedAt))
	return sub
}

// finish retires the run and flushes anything that queued up behind it.
func (c *Coordinator) finish(sess *session.Session, run *ActiveRun) {
	cfg := c.conf()
	c.mu.Lock()
	delete(c.active, sess.Key)
	ln := c.laneLocked(sess)
	ln.addAll(run.drainSteer(), cfg.Queue)
	if !ln.empty() {
		c.scheduleLocked(ln, cfg.Queue)
	}
	c.mu.Unlock()
}

func (c *Coordinator) modelOr(model string) string {
	if model != "" {
		return model
	}
	return c.conf().LLM.Model
}

func (c *Coordinator) subOptions(cfg *config.Config) subscriber.Options {
	return subscriber.Options{
		Chunk:           cfg.Reply.BlockReplyChunking,
		BlockChunking:   true,
		BlockBreak:      cfg.Reply.BlockReplyBreak,
		EnforceFinalTag: cfg.Reply.EnforceFinalTag,
	}
}

func (c *Coordinator) callbacks(sess *session.Session, deliver bool) subscriber.Callbacks {
	if !deliver {
		return subscriber.Callbacks{}
	}
	return subscriber.Callbacks{
		OnBlock: func(b subscriber.Block) {
			if err := c.sink.Deliver(sess.Key, sess.Surface, sess.To, b); err != nil {
				slog.Error("block delivery failed", "key", sess.Key, "error", err)
			}
		},
	}
}

// failSub closes a subscriber with a synthetic error stream.
func failSub(sub *subscriber.Subscriber, err error) {
	ch := make(chan agent.Event, 2)
	ch <- agent.Event{Type: agent.EventError, Err: err}
	ch <- agent.Event{Type: agent.EventAgentEnd}
	close(ch)
	sub.Consume(ch)
}
