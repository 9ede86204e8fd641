package telegram

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/clawgate/internal/types"
)

func TestEventFromPrivateMessage(t *testing.T) {
	msg := &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, FirstName: "Alice"},
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		Text:      "hello",
		Date:      1700000000,
	}
	evt := eventFromMessage(msg, "clawbot")
	if evt == nil {
		t.Fatal("expected event")
	}
	if evt.ChatType != types.ChatDirect || evt.From != "42" || evt.To != "42" {
		t.Errorf("evt = %+v", evt)
	}
	if evt.MessageID != "7" || evt.SenderName != "Alice" {
		t.Errorf("evt = %+v", evt)
	}
}

func TestEventFromGroupMentionsBot(t *testing.T) {
	msg := &tgbotapi.Message{
		MessageID: 8,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: -100, Type: "supergroup", Title: "ops"},
		Text:      "@clawbot status?",
		Entities:  []tgbotapi.MessageEntity{{Type: "mention", Offset: 0, Length: 8}},
	}
	evt := eventFromMessage(msg, "clawbot")
	if evt.ChatType != types.ChatGroup || evt.GroupID != "-100" || evt.GroupSubject != "ops" {
		t.Errorf("evt = %+v", evt)
	}
	if evt.To != "-100" {
		t.Errorf("reply address must be the group chat, got %q", evt.To)
	}
	if !evt.MentionsBot {
		t.Error("mention entity for the bot should set MentionsBot")
	}

	msg.Text = "@someoneelse hi"
	if evt := eventFromMessage(msg, "clawbot"); evt.MentionsBot {
		t.Error("mention of another user must not set MentionsBot")
	}
}

func TestEventFromMediaMessage(t *testing.T) {
	msg := &tgbotapi.Message{
		MessageID: 9,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		Caption:   "look at this",
		Photo:     []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}},
	}
	evt := eventFromMessage(msg, "clawbot")
	if evt.Body != "look at this" {
		t.Errorf("caption should become the body: %q", evt.Body)
	}
	if len(evt.Media) != 1 || evt.Media[0] != "big" {
		t.Errorf("largest photo size wins: %v", evt.Media)
	}
}

func TestEmptyUpdateIgnored(t *testing.T) {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: 42, Type: "private"},
	}
	if evt := eventFromMessage(msg, "clawbot"); evt != nil {
		t.Errorf("nothing to route, got %+v", evt)
	}
}

func TestSplitMessage(t *testing.T) {
	if parts := splitMessage("short"); len(parts) != 1 {
		t.Errorf("parts = %v", parts)
	}
	long := strings.Repeat("x", maxMessageChars+10)
	parts := splitMessage(long)
	if len(parts) != 2 || len(parts[0]) != maxMessageChars || len(parts[1]) != 10 {
		t.Errorf("lengths = %d, %d", len(parts[0]), len(parts[1]))
	}
}
