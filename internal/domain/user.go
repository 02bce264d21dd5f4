// Package domain holds the records shared between storage, flow execution and broadcasts.
package domain

import "time"

// UserProfile is the fixed-shape profile of an end user, keyed by the
// platform user id.
type UserProfile struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Locale     string    `json:"locale,omitempty"`
	IsBot      bool      `json:"is_bot"`
	FirstSeen  time.Time `json:"first_seen"`
	LastActive time.Time `json:"last_active"`
}

// Segment selects broadcast recipients.
type Segment string

const (
	SegmentAll      Segment = "all"
	SegmentActive   Segment = "active"
	SegmentInactive Segment = "inactive"
)

// ActivityWindow separates active from inactive users.
const ActivityWindow = 7 * 24 * time.Hour

// ParseSegment maps a configured target to a Segment, defaulting to all.
func ParseSegment(s string) (Segment, bool) {
	switch Segment(s) {
	case "", SegmentAll:
		return SegmentAll, true
	case SegmentActive:
		return SegmentActive, true
	case SegmentInactive:
		return SegmentInactive, true
	default:
		return "", false
	}
}

// Row is one record read from a dynamic table, values in column order.
type Row []string
