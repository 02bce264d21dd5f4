package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user has no live state.
var ErrNotFound = errors.New("session state not found")

// Store persists session states. Implementations treat expired entries as
// absent on Get and reclaim them only in Sweep.
type Store interface {
	Get(ctx context.Context, userID int64) (*State, error)
	Set(ctx context.Context, userID int64, state *State) error
	Clear(ctx context.Context, userID int64) error
	Sweep(ctx context.Context, now time.Time) (int, error)
}
