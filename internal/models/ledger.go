package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Exposure records that a session has been shown an entry.
type Exposure struct {
	bun.BaseModel `bun:"table:exposures,alias:x"`

	ID        int64     `bun:"id,pk,autoincrement" json:"-"`
	EntryID   int64     `bun:"entry_id,notnull,unique:exposures_entry_session" json:"entry_id"`
	Session   string    `bun:"session,notnull,unique:exposures_entry_session" json:"session"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Vote records one session's endorsement of an entry.
type Vote struct {
	bun.BaseModel `bun:"table:votes,alias:v"`

	ID        int64     `bun:"id,pk,autoincrement" json:"-"`
	EntryID   int64     `bun:"entry_id,notnull,unique:votes_entry_session" json:"entry_id"`
	Session   string    `bun:"session,notnull,unique:votes_entry_session" json:"session"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// VoteOutcome is the result of a cast_vote call. The zero value means the call failed
// before reaching the ledger.
type VoteOutcome int

const (
	VoteAccepted VoteOutcome = iota + 1
	VoteAlreadyVoted
	VoteEntryNotFound
)

func (o VoteOutcome) String() string {
	switch o {
	case VoteAccepted:
		return "accepted"
	case VoteAlreadyVoted:
		return "already_voted"
	case VoteEntryNotFound:
		return "entry_not_found"
	default:
		return "unknown"
	}
}

type Stats struct {
	TotalEntries   int `json:"total_contestants"`
	TotalVotes     int `json:"total_votes"`
	UniqueSessions int `json:"unique_voters"`
}

type TallyMismatch struct {
	EntryID   int64 `bun:"entry_id" json:"entry_id"`
	VoteCount int   `bun:"vote_count" json:"vote_count"`
	VoteRows  int   `bun:"vote_rows" json:"vote_rows"`
}

// AuditReport lists every violation of the ledger invariants found in storage.
type AuditReport struct {
	CheckedAt            time.Time       `json:"checked_at"`
	Mismatches           []TallyMismatch `json:"mismatches"`
	VotesWithoutExposure int             `json:"votes_without_exposure"`
	DanglingRows         int             `json:"dangling_rows"`
}

func (r *AuditReport) Healthy() bool {
	return len(r.Mismatches) == 0 && r.VotesWithoutExposure == 0 && r.DanglingRows == 0
}
