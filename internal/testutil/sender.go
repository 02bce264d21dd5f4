// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/Proton-105/flowbot/internal/gateway"
)

// Sender records every outbound send. Failing makes sends to the listed
// chats return Err.
type Sender struct {
	mu      sync.Mutex
	sent    []gateway.Action
	Failing map[int64]bool
	Err     error
}

func NewSender() *Sender {
	return &Sender{Failing: make(map[int64]bool)}
}

func (s *Sender) SendText(_ context.Context, chatID int64, text string, kb *gateway.Keyboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Failing[chatID] {
		return s.Err
	}
	a := gateway.TextAction(chatID, text)
	a.Keyboard = kb
	s.sent = append(s.sent, a)
	return nil
}

func (s *Sender) SendPhoto(_ context.Context, chatID int64, source, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Failing[chatID] {
		return s.Err
	}
	s.sent = append(s.sent, gateway.PhotoAction(chatID, source, caption))
	return nil
}

// Sent returns a copy of the recorded sends.
func (s *Sender) Sent() []gateway.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]gateway.Action, len(s.sent))
	copy(out, s.sent)
	return out
}

// Texts returns the text of every recorded text send.
func (s *Sender) Texts() []string {
	var out []string
	for _, a := range s.Sent() {
		if a.Kind == gateway.ActionText {
			out = append(out, a.Text)
		}
	}
	return out
}

func (s *Sender) Reset() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}

// Logger discards all output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
