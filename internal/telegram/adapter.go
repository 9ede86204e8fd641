// Package telegram bridges Telegram long-polling to the inbound router and
// registers the surface's delivery handler.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/clawgate/internal/gateway"
	"github.com/user/clawgate/internal/subscriber"
	"github.com/user/clawgate/internal/types"
)

// Surface is the name this adapter registers under in config and delivery.
const Surface = "telegram"

const maxMessageChars = 4096

// Adapter owns the bot connection.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	router *gateway.Router
}

func New(token string, router *gateway.Router) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Adapter{bot: bot, router: router}, nil
}

// Start long-polls for updates until the context ends.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram adapter started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			evt := eventFromMessage(update.Message, a.bot.Self.UserName)
			if evt == nil {
				continue
			}
			if err := a.router.HandleInbound(ctx, evt); err != nil {
				slog.Error("telegram inbound failed", "error", err)
			}
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Handler returns the delivery handler for this surface.
func (a *Adapter) Handler() func(to string, block subscriber.Block) error {
	return func(to string, block subscriber.Block) error {
		chatID, err := strconv.ParseInt(to, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid telegram chat id %q: %w", to, err)
		}
		for _, part := range splitMessage(block.Text) {
			if err := a.sendText(chatID, part); err != nil {
				return err
			}
		}
		for _, m := range block.MediaURLs {
			photo := tgbotapi.NewPhoto(chatID, mediaFile(m))
			if _, err := a.bot.Send(photo); err != nil {
				return fmt.Errorf("send media: %w", err)
			}
		}
		return nil
	}
}

func (a *Adapter) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := a.bot.Send(msg); err != nil {
		// Markdown that does not parse is re-sent as plain text.
		msg.ParseMode = ""
		if _, err := a.bot.Send(msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// mediaFile maps a media token to the bot API: local paths upload, anything
// else is treated as an existing file ID.
func mediaFile(m string) tgbotapi.RequestFileData {
	if strings.HasPrefix(m, "/") || strings.HasPrefix(m, "./") {
		return tgbotapi.FilePath(m)
	}
	return tgbotapi.FileID(m)
}

// eventFromMessage converts one update into the router's inbound shape.
// To is the chat ID, so replies go back to the originating conversation.
// Returns nil for updates with nothing to route.
func eventFromMessage(msg *tgbotapi.Message, botUser string) *types.InboundEvent {
	evt := &types.InboundEvent{
		Surface:    Surface,
		From:       strconv.FormatInt(msg.From.ID, 10),
		To:         strconv.FormatInt(msg.Chat.ID, 10),
		Body:       msg.Text,
		MessageID:  strconv.Itoa(msg.MessageID),
		SenderName: msg.From.FirstName,
		ReceivedAt: time.Unix(int64(msg.Date), 0),
	}

	if msg.Chat.IsPrivate() {
		evt.ChatType = types.ChatDirect
	} else {
		evt.ChatType = types.ChatGroup
		evt.GroupID = strconv.FormatInt(msg.Chat.ID, 10)
		evt.GroupSubject = msg.Chat.Title
	}

	if msg.Caption != "" && evt.Body == "" {
		evt.Body = msg.Caption
	}
	for _, e := range msg.Entities {
		if e.Type == "mention" && strings.Contains(msg.Text, "@"+botUser) {
			evt.MentionsBot = true
			break
		}
	}

	if len(msg.Photo) > 0 {
		evt.Media = append(evt.Media, msg.Photo[len(msg.Photo)-1].FileID)
	}
	if msg.Document != nil {
		evt.Media = append(evt.Media, msg.Document.FileID)
	}
	if msg.Voice != nil {
		evt.Media = append(evt.Media, msg.Voice.FileID)
	}

	if evt.Body == "" && len(evt.Media) == 0 {
		return nil
	}
	return evt
}

func splitMessage(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= maxMessageChars {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxMessageChars
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
