package testutil

import (
	"context"
	"sync"

	"github.com/Proton-105/flowbot/internal/gateway"
)

// Transport is an in-process gateway.Transport. Push feeds events to the
// running consumer.
type Transport struct {
	*Sender

	mu      sync.Mutex
	handle  func(gateway.Event)
	running chan struct{}
	RunErr  error
}

func NewTransport() *Transport {
	return &Transport{Sender: NewSender(), running: make(chan struct{})}
}

func (t *Transport) Run(ctx context.Context, handle func(gateway.Event)) error {
	t.mu.Lock()
	t.handle = handle
	close(t.running)
	t.mu.Unlock()

	if t.RunErr != nil {
		return t.RunErr
	}

	<-ctx.Done()

	t.mu.Lock()
	t.handle = nil
	t.mu.Unlock()
	return nil
}

// Running is closed once Run has been called.
func (t *Transport) Running() <-chan struct{} {
	return t.running
}

// Push delivers ev as if it arrived from the platform. It reports false
// when the transport is not running.
func (t *Transport) Push(ev gateway.Event) bool {
	t.mu.Lock()
	handle := t.handle
	t.mu.Unlock()

	if handle == nil {
		return false
	}
	handle(ev)
	return true
}
