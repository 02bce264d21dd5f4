// Package storage implements the durable per-bot user data store: the users
// table and operator-defined tables that reference it.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/flowbot/internal/domain"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrUnknownTable      = errors.New("unknown table")
	ErrUnknownColumn     = errors.New("unknown column")
)

// Query reads rows of one user from a dynamic table, newest first. When
// FilterColumn is set only rows whose value equals FilterValue are returned.
type Query struct {
	Table        string
	UserID       int64
	Columns      []string
	FilterColumn string
	FilterValue  string
	Limit        int
}

// Store is the contract the flow interpreter and broadcast scheduler use.
// Every write is committed before the call returns.
type Store interface {
	UpsertUser(ctx context.Context, profile domain.UserProfile) error
	AppendRecord(ctx context.Context, table string, userID int64, fields map[string]string) error
	UpdateLastRecord(ctx context.Context, table string, userID int64, fields map[string]string) error
	Query(ctx context.Context, q Query) ([]domain.Row, error)
	QuerySegment(ctx context.Context, segment domain.Segment, now time.Time) ([]int64, error)
	Ping(ctx context.Context) error
	Close() error
}
