package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Entry is a votable contestant. VoteCount is owned by the vote ledger and always equals
// the number of Vote rows referencing the entry.
type Entry struct {
	bun.BaseModel `bun:"table:entries,alias:e"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	ImageRef  string    `bun:"image_ref,notnull" json:"image_ref"`
	VoteCount int       `bun:"vote_count,notnull,default:0" json:"votes"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type EntryOrder int

const (
	// OrderNewest lists entries by creation time, newest first.
	OrderNewest EntryOrder = iota
	// OrderVotes lists entries by vote count descending, ties by id ascending.
	OrderVotes
)

func (o EntryOrder) String() string {
	if o == OrderVotes {
		return "votes"
	}
	return "newest"
}
