package subscriber

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/user/clawgate/internal/agent"
	"github.com/user/clawgate/internal/config"
)

// NoReply is the token a run answers with when nothing should be delivered.
const NoReply = "NO_REPLY"

// Block is one deliverable reply unit.
type Block struct {
	Text      string
	MediaURLs []string
	// Final marks the last block of the run's final message.
	Final bool
}

// Callbacks receive the subscriber's output. Any callback may be nil.
type Callbacks struct {
	// OnPartial gets each text delta as it streams, for typing indicators
	// and draft previews.
	OnPartial func(delta string)
	// OnBlock gets each finished reply block in delivery order.
	OnBlock func(Block)
	// OnToolNote gets one line per run of identical tool invocations.
	OnToolNote func(note string)
}

// Options controls reply shaping.
type Options struct {
	Chunk config.ChunkConfig
	// BlockChunking splits long replies into chat-sized blocks.
	BlockChunking bool
	// BlockBreak is where segment text becomes blocks: "text_end" delivers
	// each text segment as it completes, "message_end" (default) joins
	// segments and delivers once.
	BlockBreak      string
	EnforceFinalTag bool
}

// Subscriber consumes one run's event stream and shapes it into blocks.
// A compaction retry resets all buffers, so the consumer sees the retried
// completion as if it were the only one.
type Subscriber struct {
	opts Options
	cb   Callbacks

	agg        toolAgg
	cum        string
	pending    []string
	lastBlock  string
	finalText  string
	suppressed bool
	err        error
	done       chan struct{}
}

func New(opts Options, cb Callbacks) *Subscriber {
	if opts.BlockBreak == "" {
		opts.BlockBreak = "message_end"
	}
	return &Subscriber{opts: opts, cb: cb, done: make(chan struct{})}
}

// Consume processes events until the channel closes. Call it from the run's
// consumer goroutine; Wait unblocks when it returns.
func (s *Subscriber) Consume(events <-chan agent.Event) {
	defer close(s.done)
	for e := range events {
		switch e.Type {
		case agent.EventMessageUpdate:
			delta := e.Text
			if strings.HasPrefix(e.Text, s.cum) {
				delta = e.Text[len(s.cum):]
			}
			s.cum = e.Text
			if s.cb.OnPartial != nil && delta != "" {
				s.cb.OnPartial(delta)
			}

		case agent.EventTextEnd:
			if s.opts.BlockBreak == "text_end" {
				s.publish(e.Text, false)
			} else {
				s.pending = append(s.pending, e.Text)
			}
			s.cum = ""

		case agent.EventMessageEnd:
			text := e.Text
			if len(s.pending) > 0 {
				text = strings.Join(append(s.pending, e.Text), "\n\n")
				s.pending = nil
			}
			s.publish(text, true)
			s.cum = ""

		case agent.EventToolStart:
			args, _ := e.Meta["arguments"].(string)
			if note, ok := s.agg.observe(e.Tool, args); ok {
				s.note(note)
			}

		case agent.EventToolEnd:
			slog.Debug("tool finished", "run", e.RunID, "tool", e.Tool, "meta", SanitizeToolPayload(e.Meta))

		case agent.EventCompactionEnd:
			if e.WillRetry {
				s.cum = ""
				s.pending = nil
				s.lastBlock = ""
				s.finalText = ""
				s.suppressed = false
			}

		case agent.EventError:
			s.err = e.Err
			// A cancelled or timed-out run still delivers what it had.
			if s.cum != "" && (errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)) {
				s.publish(s.cum, true)
				s.cum = ""
			}

		case agent.EventAgentEnd:
			if note, ok := s.agg.flush(); ok {
				s.note(note)
			}
		}
	}
}

// Wait blocks until the stream ends and returns the run's error, if any.
func (s *Subscriber) Wait() error {
	<-s.done
	return s.err
}

// FinalText returns the shaped final message. Valid after Wait.
func (s *Subscriber) FinalText() string {
	<-s.done
	return s.finalText
}

// Suppressed reports whether the final message was withheld by the
// no-reply token. Valid after Wait.
func (s *Subscriber) Suppressed() bool {
	<-s.done
	return s.suppressed
}

func (s *Subscriber) note(note string) {
	if s.cb.OnToolNote != nil {
		s.cb.OnToolNote(note)
	}
}

func (s *Subscriber) publish(text string, final bool) {
	text = StripThinking(text)
	if s.opts.EnforceFinalTag && final {
		text = ExtractFinal(text)
	}
	text, media := ExtractMedia(text)
	text = strings.TrimSpace(text)

	if text == NoReply {
		slog.Debug("reply suppressed by token")
		s.suppressed = true
		return
	}
	if text == "" && len(media) == 0 {
		return
	}
	if final {
		s.finalText = text
	}

	var chunks []string
	if text != "" {
		if s.opts.BlockChunking {
			chunks = Chunk(text, s.opts.Chunk)
		} else {
			chunks = []string{text}
		}
	}
	if len(chunks) == 0 {
		// media-only reply
		s.emit(Block{MediaURLs: media, Final: final})
		return
	}

	for i, c := range chunks {
		if c == s.lastBlock {
			continue
		}
		b := Block{Text: c, Final: final && i == len(chunks)-1}
		if i == 0 {
			b.MediaURLs = media
		}
		s.emit(b)
	}
}

func (s *Subscriber) emit(b Block) {
	s.lastBlock = b.Text
	if s.cb.OnBlock != nil {
		s.cb.OnBlock(b)
	}
}
