// Package gate decides whether an inbound event should reach the agent.
// The check is side-effect free: it reads a config snapshot and the event,
// and produces an accept or a reject with a reason.
package gate

import (
	"log/slog"
	"regexp"
	"sync"

	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/types"
)

// Decision is the outcome of gating one inbound event.
type Decision struct {
	Accept bool
	Reason string // set on reject
}

func reject(reason string) Decision { return Decision{Reason: reason} }

var accepted = Decision{Accept: true}

// Gate evaluates inbound events against per-surface rules. Compiled mention
// patterns are cached; invalid patterns are logged once and skipped.
type Gate struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp // pattern source → compiled, nil if invalid
}

func New() *Gate {
	return &Gate{patterns: make(map[string]*regexp.Regexp)}
}

// Check applies the gate rules in order: surface enabled, DM allowlist,
// group selection, mention requirement. Per-group overrides win over
// surface-level settings. A malformed event is rejected, never an error.
func (g *Gate) Check(cfg *config.Config, evt *types.InboundEvent) Decision {
	if evt == nil || evt.Surface == "" || (evt.ChatType != types.ChatDirect && evt.ChatType != types.ChatGroup) {
		return reject("malformed")
	}

	sc, ok := cfg.Surfaces[evt.Surface]
	if !ok {
		return reject("surface not configured")
	}
	if sc.Enabled != nil && !*sc.Enabled {
		return reject("surface disabled")
	}

	// A surface with an AllowFrom list runs on a personal account. Native
	// mention flags are unreliable there (the bot identity is the owner's),
	// so only text patterns count.
	selfChat := sc.AllowFrom != nil

	if evt.ChatType == types.ChatDirect {
		if sc.AllowFrom != nil && !g.senderAllowed(sc.AllowFrom, evt) {
			return reject("sender not in allowlist")
		}
		return accepted
	}

	group := resolveGroup(sc, evt)
	if group == nil {
		return reject("group not configured")
	}

	if group.AllowFrom != nil && !g.senderAllowed(group.AllowFrom, evt) {
		return reject("sender not in group allowlist")
	}

	// Groups require a mention unless the group override says otherwise.
	requireMention := true
	if group.RequireMention != nil {
		requireMention = *group.RequireMention
	}
	if !requireMention {
		return accepted
	}

	if evt.MentionsBot && !selfChat {
		return accepted
	}
	if evt.TextMentionHit || g.textMention(sc.MentionPatterns, evt.Body) {
		return accepted
	}
	return reject("mention required")
}

// senderAllowed reports whether the event's sender passes an allowlist.
// An empty (but present) list is self-chat mode: own identity only.
func (g *Gate) senderAllowed(allow []string, evt *types.InboundEvent) bool {
	if len(allow) == 0 {
		return evt.From == evt.To
	}
	for _, a := range allow {
		if a == evt.From || a == "*" {
			return true
		}
	}
	return false
}

// resolveGroup finds the group descriptor by id (preferred), then subject
// slug, then the "*" wildcard.
func resolveGroup(sc *config.SurfaceConfig, evt *types.InboundEvent) *config.GroupConfig {
	if len(sc.Groups) == 0 {
		return nil
	}
	if evt.GroupID != "" {
		if gc, ok := sc.Groups[evt.GroupID]; ok {
			return gc
		}
	}
	if evt.GroupSubject != "" {
		if gc, ok := sc.Groups[evt.GroupSubject]; ok {
			return gc
		}
	}
	if gc, ok := sc.Groups["*"]; ok {
		return gc
	}
	return nil
}

// textMention reports whether any configured pattern matches the body,
// case-insensitively. The event's own TextMentionHit flag also counts, for
// transports that pre-match upstream.
func (g *Gate) textMention(patterns []string, body string) bool {
	for _, pat := range patterns {
		re := g.compiled(pat)
		if re != nil && re.MatchString(body) {
			return true
		}
	}
	return false
}

func (g *Gate) compiled(pat string) *regexp.Regexp {
	g.mu.Lock()
	defer g.mu.Unlock()
	if re, ok := g.patterns[pat]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pat)
	if err != nil {
		slog.Warn("gate: invalid mention pattern skipped", "pattern", pat, "error", err)
		re = nil
	}
	g.patterns[pat] = re
	return re
}
