package gate

import (
	"testing"
	"time"

	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/types"
)

func boolPtr(b bool) *bool { return &b }

// selfChatConfig mirrors a personal-account deployment: one allowed DM
// sender, any group accepted when the text mentions the bot.
func selfChatConfig() *config.Config {
	return &config.Config{
		Surfaces: map[string]*config.SurfaceConfig{
			"whatsapp": {
				AllowFrom:       []string{"+15555550123"},
				MentionPatterns: []string{"@clawd"},
				Groups: map[string]*config.GroupConfig{
					"*": {RequireMention: boolPtr(true)},
				},
			},
		},
	}
}

func groupEvent(body string, mentionsBot bool) *types.InboundEvent {
	return &types.InboundEvent{
		Surface:     "whatsapp",
		ChatType:    types.ChatGroup,
		From:        "+447700900000",
		To:          "+15555550123",
		GroupID:     "g-123",
		Body:        body,
		MentionsBot: mentionsBot,
		ReceivedAt:  time.Now(),
	}
}

func TestGroupTextMentionAccepted(t *testing.T) {
	g := New()
	d := g.Check(selfChatConfig(), groupEvent("@clawd hi", false))
	if !d.Accept {
		t.Fatalf("expected accept, got reject(%s)", d.Reason)
	}
}

func TestMetadataMentionIgnoredInSelfChat(t *testing.T) {
	g := New()
	d := g.Check(selfChatConfig(), groupEvent("hello everyone", true))
	if d.Accept {
		t.Fatal("expected reject: metadata mentions do not count in self-chat mode")
	}
}

func TestMetadataMentionCountsOnBotAccount(t *testing.T) {
	cfg := &config.Config{
		Surfaces: map[string]*config.SurfaceConfig{
			"whatsapp": {
				Groups: map[string]*config.GroupConfig{"*": {}},
			},
		},
	}
	g := New()
	if d := g.Check(cfg, groupEvent("hello", true)); !d.Accept {
		t.Fatalf("expected accept, got reject(%s)", d.Reason)
	}
}

func TestGateRules(t *testing.T) {
	cfg := &config.Config{
		Surfaces: map[string]*config.SurfaceConfig{
			"telegram": {
				AllowFrom:       []string{"alice"},
				MentionPatterns: []string{"@bot\\b"},
				Groups: map[string]*config.GroupConfig{
					"team": {RequireMention: boolPtr(false)},
				},
			},
			"disabled": {Enabled: boolPtr(false)},
		},
	}

	tests := []struct {
		name   string
		evt    *types.InboundEvent
		accept bool
	}{
		{
			"unknown surface rejected",
			&types.InboundEvent{Surface: "signal", ChatType: types.ChatDirect, From: "x"},
			false,
		},
		{
			"disabled surface rejected",
			&types.InboundEvent{Surface: "disabled", ChatType: types.ChatDirect, From: "x"},
			false,
		},
		{
			"dm sender in allowlist",
			&types.InboundEvent{Surface: "telegram", ChatType: types.ChatDirect, From: "alice"},
			true,
		},
		{
			"dm sender not in allowlist",
			&types.InboundEvent{Surface: "telegram", ChatType: types.ChatDirect, From: "mallory"},
			false,
		},
		{
			"unknown group without wildcard rejected",
			&types.InboundEvent{Surface: "telegram", ChatType: types.ChatGroup, GroupID: "random", Body: "@bot hi"},
			false,
		},
		{
			"group with mention not required",
			&types.InboundEvent{Surface: "telegram", ChatType: types.ChatGroup, GroupID: "team", Body: "plain text"},
			true,
		},
		{
			"malformed event rejected",
			&types.InboundEvent{Surface: "telegram"},
			false,
		},
	}

	g := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Check(cfg, tt.evt)
			if d.Accept != tt.accept {
				t.Errorf("accept = %v (reason %q), want %v", d.Accept, d.Reason, tt.accept)
			}
		})
	}
}

func TestSelfChatEmptyAllowlist(t *testing.T) {
	cfg := &config.Config{
		Surfaces: map[string]*config.SurfaceConfig{
			"whatsapp": {AllowFrom: []string{}},
		},
	}
	g := New()

	self := &types.InboundEvent{Surface: "whatsapp", ChatType: types.ChatDirect, From: "+1", To: "+1"}
	if d := g.Check(cfg, self); !d.Accept {
		t.Fatalf("own-identity DM should pass, got reject(%s)", d.Reason)
	}

	other := &types.InboundEvent{Surface: "whatsapp", ChatType: types.ChatDirect, From: "+2", To: "+1"}
	if d := g.Check(cfg, other); d.Accept {
		t.Fatal("foreign DM should be rejected in self-chat mode")
	}
}

func TestInvalidMentionPatternSkipped(t *testing.T) {
	cfg := &config.Config{
		Surfaces: map[string]*config.SurfaceConfig{
			"whatsapp": {
				AllowFrom:       []string{"+1"},
				MentionPatterns: []string{"([", "@ok"},
				Groups:          map[string]*config.GroupConfig{"*": {}},
			},
		},
	}
	g := New()
	if d := g.Check(cfg, groupEvent("@ok then", false)); !d.Accept {
		t.Fatalf("valid pattern should still match, got reject(%s)", d.Reason)
	}
}
