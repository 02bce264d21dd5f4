package manager

import (
	"fmt"
	"slices"
	"time"
)

// Status is the lifecycle state of one bot.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusFailed   Status = "failed"
)

var transitions = map[Status][]Status{
	StatusStopped:  {StatusStarting},
	StatusStarting: {StatusRunning, StatusFailed, StatusStopped},
	StatusRunning:  {StatusStopping, StatusFailed, StatusStopped},
	StatusStopping: {StatusStopped, StatusFailed},
	StatusFailed:   {StatusStarting, StatusStopped},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Info is a snapshot of one bot's lifecycle.
type Info struct {
	BotID     string    `json:"bot_id"`
	Status    Status    `json:"status"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
	Staged    bool      `json:"staged_graph,omitempty"`
}

type transitionError struct {
	botID    string
	from, to Status
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("bot %s: cannot move from %s to %s", e.botID, e.from, e.to)
}
