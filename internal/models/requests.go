package models

// BallotRequest is the body of both view and vote calls.
type BallotRequest struct {
	ContestantID int64  `json:"contestant_id"`
	Session      string `json:"session"`
}

type CreateEntriesRequest struct {
	Name      string   `json:"name"`
	ImageRef  string   `json:"image_ref,omitempty"`
	ImageRefs []string `json:"image_refs,omitempty"`
}

// Refs merges the single and batch forms, single first.
func (r CreateEntriesRequest) Refs() []string {
	refs := make([]string, 0, len(r.ImageRefs)+1)
	if r.ImageRef != "" {
		refs = append(refs, r.ImageRef)
	}
	return append(refs, r.ImageRefs...)
}

type CreateEntriesResponse struct {
	Count       int     `json:"count"`
	Contestants []Entry `json:"contestants"`
}

type VoteResponse struct {
	Outcome string `json:"outcome"`
	Votes   int    `json:"votes,omitempty"`
}
