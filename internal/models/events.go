package models

import (
	"time"

	"github.com/google/uuid"
)

type ContestEventType string

const (
	EventEntryCreated ContestEventType = "entry.created"
	EventEntryDeleted ContestEventType = "entry.deleted"
	EventVoteCast     ContestEventType = "vote.cast"
	EventContestReset ContestEventType = "contest.reset"

	// EventSnapshot is never published. It labels the snapshot taken at startup.
	EventSnapshot ContestEventType = "leaderboard.snapshot"
)

// ContestEvent is published after a ledger write commits.
type ContestEvent struct {
	ID         string           `json:"id"`
	Type       ContestEventType `json:"type"`
	EntryID    int64            `json:"entry_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

func NewContestEvent(eventType ContestEventType, entryID int64) ContestEvent {
	return ContestEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		EntryID:    entryID,
		OccurredAt: time.Now().UTC(),
	}
}

// LeaderboardUpdate is pushed to live leaderboard subscribers.
type LeaderboardUpdate struct {
	Reason ContestEventType `json:"reason"`
	Top    []Entry          `json:"top"`
	Stats  Stats            `json:"stats"`
	At     time.Time        `json:"at"`
}
