package bot

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/flowbot/internal/domain"
	"github.com/Proton-105/flowbot/internal/gateway"
	"github.com/Proton-105/flowbot/internal/testutil"
)

func event(userID int64, text string) gateway.Event {
	return gateway.NewTextEvent(userID, text, domain.UserProfile{ID: userID}, time.Now())
}

func TestDispatcherKeepsPerUserOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[int64][]string)
	)
	handle := func(_ context.Context, ev gateway.Event) error {
		time.Sleep(time.Duration(rand.IntN(300)) * time.Microsecond)
		mu.Lock()
		seen[ev.UserID()] = append(seen[ev.UserID()], ev.Text)
		mu.Unlock()
		return nil
	}

	d := NewDispatcher(context.Background(), handle, 4, testutil.Logger())
	want := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	for _, text := range want {
		for user := int64(1); user <= 3; user++ {
			require.True(t, d.Submit(event(user, text)))
		}
	}
	d.Close()

	for user := int64(1); user <= 3; user++ {
		assert.Equal(t, want, seen[user], "user %d", user)
	}
	assert.Zero(t, d.Pending())
}

func TestDispatcherNeverRunsOneUserConcurrently(t *testing.T) {
	var active, overlaps atomic.Int32
	handle := func(_ context.Context, _ gateway.Event) error {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(200 * time.Microsecond)
		active.Add(-1)
		return nil
	}

	d := NewDispatcher(context.Background(), handle, 8, testutil.Logger())
	for i := 0; i < 50; i++ {
		d.Submit(event(7, "x"))
	}
	d.Close()

	assert.Zero(t, overlaps.Load())
}

func TestDispatcherRunsUsersInParallel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan int64, 2)
	handle := func(_ context.Context, ev gateway.Event) error {
		started <- ev.UserID()
		<-release
		return nil
	}

	d := NewDispatcher(context.Background(), handle, 2, testutil.Logger())
	d.Submit(event(1, "a"))
	d.Submit(event(2, "b"))

	got := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("users were not handled in parallel")
		}
	}
	close(release)
	d.Close()

	assert.Equal(t, map[int64]bool{1: true, 2: true}, got)
}

func TestDispatcherSurvivesPanicsAndRejectsAfterClose(t *testing.T) {
	var handled atomic.Int32
	handle := func(_ context.Context, ev gateway.Event) error {
		if ev.Text == "boom" {
			panic("boom")
		}
		handled.Add(1)
		return nil
	}

	d := NewDispatcher(context.Background(), handle, 1, testutil.Logger())
	d.Submit(event(1, "boom"))
	d.Submit(event(1, "ok"))
	d.Close()

	assert.Equal(t, int32(1), handled.Load())
	assert.False(t, d.Submit(event(1, "late")))
}
