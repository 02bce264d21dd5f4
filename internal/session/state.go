// Package session keeps per-user conversation progress for one bot instance.
package session

import (
	"maps"
	"time"
)

// InputConfig records where a pending free-form answer is written.
type InputConfig struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	Mode     string `json:"mode"`
	SaveMode string `json:"save_mode"`
}

// State is the progress marker of one user inside a bot's flow graph.
type State struct {
	UserID        int64             `json:"user_id"`
	CurrentNodeID string            `json:"current_node_id,omitempty"`
	AwaitingInput bool              `json:"awaiting_input"`
	Input         *InputConfig      `json:"input_config,omitempty"`
	Expected      map[string]int    `json:"expected_response_map,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// New returns an empty state for userID.
func New(userID int64) *State {
	return &State{UserID: userID, Context: make(map[string]string)}
}

// Expired reports whether the state is past its expiry at now.
func (s *State) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Suspended reports whether the user is parked on an interactive node.
func (s *State) Suspended() bool {
	return s != nil && s.CurrentNodeID != ""
}

// Release drops the resume data while keeping context variables.
func (s *State) Release() {
	s.CurrentNodeID = ""
	s.AwaitingInput = false
	s.Input = nil
	s.Expected = nil
}

// Empty reports whether nothing is worth persisting.
func (s *State) Empty() bool {
	return !s.Suspended() && len(s.Context) == 0
}

// Set stores a context variable.
func (s *State) Set(key, value string) {
	if key == "" {
		return
	}
	if s.Context == nil {
		s.Context = make(map[string]string)
	}
	s.Context[key] = value
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	c := *s
	c.Expected = maps.Clone(s.Expected)
	c.Context = maps.Clone(s.Context)
	if s.Input != nil {
		in := *s.Input
		c.Input = &in
	}
	return &c
}
