// Package gateway routes accepted inbound messages into agent runs and
// owns the active-run table and queue policy.
package gateway

import (
	"context"
	"log/slog"
	"strings"

	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/gate"
	"github.com/user/clawgate/internal/session"
	"github.com/user/clawgate/internal/subscriber"
	"github.com/user/clawgate/internal/types"
)

const resetAck = "Session reset."

// Router is the inbound pipeline: dedupe, gate, reset triggers, session
// resolution, then handoff to the coordinator.
type Router struct {
	gate     *gate.Gate
	sessions *session.Manager
	coord    *Coordinator
	conf     func() *config.Config
	sink     BlockSink
	dedupe   *dedupeCache
}

func NewRouter(g *gate.Gate, sessions *session.Manager, coord *Coordinator, conf func() *config.Config, sink BlockSink) *Router {
	return &Router{
		gate:     g,
		sessions: sessions,
		coord:    coord,
		conf:     conf,
		sink:     sink,
		dedupe:   newDedupeCache(),
	}
}

// HandleInbound processes one transport event. Rejections are silent
// towards the sender; only the log says why.
func (r *Router) HandleInbound(ctx context.Context, evt *types.InboundEvent) error {
	cfg := r.conf()

	if r.dedupe.Seen(evt) {
		slog.Debug("duplicate inbound dropped", "surface", evt.Surface, "message_id", evt.MessageID)
		return nil
	}

	if d := r.gate.Check(cfg, evt); !d.Accept {
		slog.Debug("inbound rejected", "surface", evt.Surface, "from", evt.From, "reason", d.Reason)
		return nil
	}

	body := composeBody(evt)
	if body == "" {
		return nil
	}

	key := r.sessions.DeriveKey(evt)

	if r.sessions.IsResetTrigger(evt.Body) {
		// The first trigger wins; anything after it talks to the new session.
		if run := r.coord.ActiveFor(key); run != nil {
			run.Cancel()
		}
		r.sessions.Reset(key)
		return r.sink.Deliver(key, evt.Surface, evt.To, subscriber.Block{Text: resetAck, Final: true})
	}

	sess, isNew := r.sessions.Resolve(key, evt.Surface, evt.To)
	if isNew {
		slog.Info("session created", "key", key, "surface", evt.Surface)
	}

	r.coord.Submit(sess, body)
	return nil
}

// composeBody builds the run body from the event: transcript wins over raw
// text, group messages carry the sender's name, attachments become media
// tokens the reply pipeline understands.
func composeBody(evt *types.InboundEvent) string {
	body := evt.Body
	if evt.Transcript != "" {
		body = evt.Transcript
	}
	body = strings.TrimSpace(body)

	if evt.ChatType == types.ChatGroup && evt.SenderName != "" && body != "" {
		body = evt.SenderName + ": " + body
	}
	for _, m := range evt.Media {
		if body != "" {
			body += "\n"
		}
		body += "MEDIA:" + m
	}
	return body
}
