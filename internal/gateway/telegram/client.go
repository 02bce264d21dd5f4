// Package telegram adapts gopkg.in/telebot.v3 to the gateway interfaces.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/flowbot/internal/domain"
	apperrors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/pkg/config"
)

// Client is a long-polling Telegram transport for one bot token.
type Client struct {
	tb  *telebot.Bot
	log *slog.Logger
	now func() time.Time
}

// New creates a client. Unless offline is set the token is verified against
// the Bot API, so a bad credential fails here.
func New(token string, cfg config.TelegramConfig, offline bool, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	settings := telebot.Settings{
		Token:   token,
		URL:     cfg.APIURL,
		Poller:  &telebot.LongPoller{Timeout: cfg.PollTimeout},
		Offline: offline,
		OnError: func(err error, c telebot.Context) {
			log.Error("telebot error", "error", err)
		},
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return &Client{tb: tb, log: log, now: time.Now}, nil
}

// Run registers update handlers and polls until ctx is cancelled.
func (c *Client) Run(ctx context.Context, handle func(gateway.Event)) error {
	c.tb.Handle(telebot.OnText, func(tc telebot.Context) error {
		if ev, ok := c.textEvent(tc); ok {
			handle(ev)
		}
		return nil
	})
	c.tb.Handle(telebot.OnCallback, func(tc telebot.Context) error {
		ev, ok := c.callbackEvent(tc)
		if err := tc.Respond(); err != nil {
			c.log.Warn("failed to answer callback", "error", err)
		}
		if ok {
			handle(ev)
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.tb.Start()
	}()

	<-ctx.Done()
	c.tb.Stop()
	<-done
	return nil
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string, kb *gateway.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewTransportError("send text", err)
	}

	var opts []any
	if markup := toMarkup(kb); markup != nil {
		opts = append(opts, markup)
	}

	if _, err := c.tb.Send(telebot.ChatID(chatID), text, opts...); err != nil {
		return transportError("send text", err)
	}
	return nil
}

// SendPhoto sends http(s) sources by reference and anything else as a local
// file upload.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, source, caption string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewTransportError("send photo", err)
	}

	var file telebot.File
	if isRemote(source) {
		file = telebot.FromURL(source)
	} else {
		if _, err := os.Stat(source); err != nil {
			return apperrors.NewTransportError("send photo", fmt.Errorf("image %q: %w", source, err))
		}
		file = telebot.FromDisk(source)
	}

	photo := &telebot.Photo{File: file, Caption: caption}
	if _, err := c.tb.Send(telebot.ChatID(chatID), photo); err != nil {
		return transportError("send photo", err)
	}
	return nil
}

func (c *Client) textEvent(tc telebot.Context) (gateway.Event, bool) {
	msg := tc.Message()
	if msg == nil || tc.Sender() == nil {
		return gateway.Event{}, false
	}
	return gateway.NewTextEvent(msg.Chat.ID, msg.Text, c.profile(tc.Sender()), c.now()), true
}

func (c *Client) callbackEvent(tc telebot.Context) (gateway.Event, bool) {
	cb := tc.Callback()
	if cb == nil || tc.Sender() == nil {
		return gateway.Event{}, false
	}

	chatID := tc.Sender().ID
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = cb.Message.Chat.ID
	}

	return gateway.Event{
		Type:         gateway.EventCallback,
		ChatID:       chatID,
		CallbackData: strings.TrimPrefix(cb.Data, "\f"),
		Profile:      c.profile(tc.Sender()),
		ReceivedAt:   c.now(),
	}, true
}

func (c *Client) profile(u *telebot.User) domain.UserProfile {
	return domain.UserProfile{
		ID:         u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Locale:     u.LanguageCode,
		IsBot:      u.IsBot,
		LastActive: c.now().UTC(),
	}
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// transportError marks flood-control responses as retryable.
func transportError(op string, err error) error {
	appErr := apperrors.NewTransportError(op, err)

	var flood telebot.FloodError
	appErr.Retryable = errors.As(err, &flood)
	return appErr
}
