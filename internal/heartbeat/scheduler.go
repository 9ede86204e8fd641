// Package heartbeat wakes sessions on a cadence so the agent can check in
// without being messaged first.
package heartbeat

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/gateway"
	"github.com/user/clawgate/internal/session"
	"github.com/user/clawgate/internal/subscriber"
	"github.com/user/clawgate/internal/types"
)

// DefaultPrompt is sent when a job configures no prompt of its own. The
// system prompt teaches the model to answer NO_REPLY when nothing needs
// saying.
const DefaultPrompt = "HEARTBEAT"

const failureBackoffBase = 30 * time.Second

// cronParser accepts @every durations, descriptors, and standard cron
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler fires configured heartbeat jobs. A beat never interrupts an
// active run, and repeated failures back off exponentially, capped at the
// job's own cadence.
type Scheduler struct {
	sessions *session.Manager
	coord    *gateway.Coordinator
	sink     gateway.BlockSink
	conf     func() *config.Config
	cron     *cron.Cron

	// deferred supplies wake texts parked for the next beat, if wired.
	deferred func(types.SessionKey) []string
	// degraded reports a gateway-wide unhealthy state, if wired.
	degraded func() bool

	mu        sync.Mutex
	last      map[types.SessionKey]types.HeartbeatEvent
	failures  map[types.SessionKey]int
	skipUntil map[types.SessionKey]time.Time
}

// SetDeferredSource wires the webhook ingestor's parked wake texts into
// beat prompts.
func (s *Scheduler) SetDeferredSource(fn func(types.SessionKey) []string) {
	s.deferred = fn
}

// SetDegradedProbe wires a health signal. While it reports true, beats fail
// without running the agent and back off like any other failure.
func (s *Scheduler) SetDegradedProbe(fn func() bool) {
	s.degraded = fn
}

func New(sessions *session.Manager, coord *gateway.Coordinator, sink gateway.BlockSink, conf func() *config.Config) *Scheduler {
	return &Scheduler{
		sessions:  sessions,
		coord:     coord,
		sink:      sink,
		conf:      conf,
		cron:      cron.New(cron.WithParser(cronParser)),
		last:      make(map[types.SessionKey]types.HeartbeatEvent),
		failures:  make(map[types.SessionKey]int),
		skipUntil: make(map[types.SessionKey]time.Time),
	}
}

// Start registers the configured jobs and starts the ticker.
func (s *Scheduler) Start() error {
	for _, job := range s.conf().Heartbeats {
		job := job
		spec := job.Every
		if _, err := time.ParseDuration(spec); err == nil {
			spec = "@every " + spec
		}
		if _, err := s.cron.AddFunc(spec, func() { s.fire(job) }); err != nil {
			slog.Error("invalid heartbeat cadence", "session_key", job.SessionKey, "every", job.Every, "error", err)
			continue
		}
		slog.Info("heartbeat scheduled", "session_key", job.SessionKey, "every", job.Every)
	}
	s.cron.Start()
	return nil
}

// Reload drops all entries and re-registers from current config.
func (s *Scheduler) Reload() error {
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.Start()
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Last returns the most recent beat outcome for a session key.
func (s *Scheduler) Last(key types.SessionKey) (types.HeartbeatEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.last[key]
	return evt, ok
}

// Fire runs one heartbeat job immediately. Exposed for webhook wake-ups.
func (s *Scheduler) Fire(job config.HeartbeatJob) {
	s.fire(job)
}

func (s *Scheduler) fire(job config.HeartbeatJob) {
	key := types.SessionKey(job.SessionKey)
	now := time.Now()

	s.mu.Lock()
	inBackoff := now.Before(s.skipUntil[key])
	s.mu.Unlock()
	if inBackoff {
		s.record(key, types.HeartbeatSkipped)
		return
	}
	if s.coord.IsActive(key) {
		s.record(key, types.HeartbeatSkipped)
		return
	}
	if s.degraded != nil && s.degraded() {
		s.recordFailure(key, job, errors.New("gateway degraded"))
		return
	}

	surface, to, _ := strings.Cut(job.SessionKey, ":")
	sess, _ := s.sessions.Resolve(key, surface, to)

	promptText := job.Prompt
	if promptText == "" {
		promptText = DefaultPrompt
	}
	if s.deferred != nil {
		if texts := s.deferred(key); len(texts) > 0 {
			promptText = strings.Join(append(texts, promptText), "\n")
		}
	}

	out, err := s.coord.RunPrompt(sess, promptText, job.Model)
	if errors.Is(err, gateway.ErrBusy) {
		s.record(key, types.HeartbeatSkipped)
		return
	}
	if err != nil {
		s.recordFailure(key, job, err)
		return
	}
	s.clearFailures(key)

	switch strings.TrimSpace(out) {
	case "":
		s.record(key, types.HeartbeatOKEmpty)
		return
	case subscriber.NoReply:
		s.record(key, types.HeartbeatOKToken)
		return
	}

	surface, to = s.target(job, sess)
	if surface == "" {
		s.record(key, types.HeartbeatOKEmpty)
		return
	}
	if err := s.sink.Deliver(key, surface, to, subscriber.Block{Text: out, Final: true}); err != nil {
		s.recordFailure(key, job, err)
		return
	}
	s.record(key, types.HeartbeatSent)
}

// target resolves where a beat's reply goes: "none" nowhere, "last" (or
// empty) to the session's own conversation, "surface:to" somewhere explicit.
func (s *Scheduler) target(job config.HeartbeatJob, sess *session.Session) (surface, to string) {
	switch job.Target {
	case "none":
		return "", ""
	case "", "last":
		return sess.Surface, sess.To
	default:
		surface, to, _ = strings.Cut(job.Target, ":")
		return surface, to
	}
}

func (s *Scheduler) record(key types.SessionKey, status types.HeartbeatStatus) {
	s.mu.Lock()
	s.last[key] = types.HeartbeatEvent{TS: types.Millis(time.Now()), Status: status}
	s.mu.Unlock()
	slog.Debug("heartbeat", "session_key", key, "status", status)
}

func (s *Scheduler) recordFailure(key types.SessionKey, job config.HeartbeatJob, err error) {
	s.mu.Lock()
	s.failures[key]++
	n := s.failures[key]
	delay := failureBackoffBase
	for i := 1; i < n && delay < 24*time.Hour; i++ {
		delay *= 2
	}
	if cadence, perr := time.ParseDuration(job.Every); perr == nil && delay > cadence {
		delay = cadence
	}
	s.skipUntil[key] = time.Now().Add(delay)
	s.mu.Unlock()

	s.record(key, types.HeartbeatFailed)
	slog.Warn("heartbeat failed", "session_key", key, "consecutive", n, "backoff", delay, "error", err)
}

func (s *Scheduler) clearFailures(key types.SessionKey) {
	s.mu.Lock()
	delete(s.failures, key)
	delete(s.skipUntil, key)
	s.mu.Unlock()
}
