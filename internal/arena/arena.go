// Package arena persists rated outfit submissions and serves the
// leaderboard. It consumes only the {submission, rating} tuples the rate
// workflow produces; it never sees image bytes.
package arena

import (
	"context"
	"time"
)

// Entry is one rated submission.
type Entry struct {
	ID            string    `json:"id"`
	Occasion      string    `json:"occasion"`
	Budget        string    `json:"budget,omitempty"`
	OverallRating float64   `json:"overall_rating"`
	Summary       string    `json:"summary,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists entries. Implementations must tolerate concurrent
// appends from multiple server instances.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Leaderboard(ctx context.Context, limit int) ([]Entry, error)
}

// DefaultLeaderboardSize is used when a caller asks for zero or a
// negative number of entries.
const DefaultLeaderboardSize = 10

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLeaderboardSize
	}
	return limit
}
