// Package gateway defines the boundary between bot instances and the chat
// platform: inbound events and outbound send calls.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/Proton-105/flowbot/internal/domain"
)

type EventType string

const (
	EventCommand  EventType = "command"
	EventText     EventType = "text"
	EventCallback EventType = "callback"
)

// Event is one inbound update from an end user.
type Event struct {
	Type         EventType
	ChatID       int64
	Text         string
	CallbackData string
	Profile      domain.UserProfile
	ReceivedAt   time.Time
}

// UserID identifies the sender.
func (e Event) UserID() int64 {
	return e.Profile.ID
}

// Command returns the normalized command name ("/start") of a command event.
func (e Event) Command() string {
	if e.Type != EventCommand {
		return ""
	}
	name, _, _ := strings.Cut(strings.TrimSpace(e.Text), " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}

// Action returns the text or callback data that a resumed flow matches on.
func (e Event) Action() string {
	if e.Type == EventCallback {
		return e.CallbackData
	}
	return e.Text
}

// NewTextEvent classifies text as a command when it starts with a slash.
func NewTextEvent(chatID int64, text string, profile domain.UserProfile, at time.Time) Event {
	typ := EventText
	if strings.HasPrefix(text, "/") {
		typ = EventCommand
	}
	return Event{Type: typ, ChatID: chatID, Text: text, Profile: profile, ReceivedAt: at}
}

// Sender delivers outbound messages. Implementations report failures as
// transport errors and never panic on platform errors.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, kb *Keyboard) error
	SendPhoto(ctx context.Context, chatID int64, source, caption string) error
}

// Transport is a Sender that also produces inbound events.
type Transport interface {
	Sender
	// Run delivers events to handle until ctx is cancelled.
	Run(ctx context.Context, handle func(Event)) error
}
