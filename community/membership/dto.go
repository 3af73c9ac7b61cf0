package membership

import (
	"fmt"

	"github.com/google/uuid"
)

// --- Inputs ---

// CommunityFlag is the desired membership state for one community.
type CommunityFlag struct {
	Name    string `json:"name"`
	Desired bool   `json:"desired"`
}

// TraitEvent is a member's desired community memberships, in processing order.
type TraitEvent struct {
	MemberID    int64           `json:"memberId"`
	TraitKind   string          `json:"traitKind"`
	Communities []CommunityFlag `json:"communities"`
	SSOProvider string          `json:"ssoProvider,omitempty"`
}

// IdentityEvent describes a newly created identity.
type IdentityEvent struct {
	SubjectID   int64  `json:"subjectId"`
	Handle      string `json:"handle,omitempty"`
	SSOProvider string `json:"ssoProvider,omitempty"`
}

// --- Results ---

// Action is what a run did for one community.
type Action string

const (
	ActionAdded     Action = "added"
	ActionRemoved   Action = "removed"
	ActionUnchanged Action = "unchanged"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

// ItemError describes a failure confined to a single community.
type ItemError struct {
	Community string
	GroupID   string
	Op        string
	Err       error
}

func (e *ItemError) Error() string {
	if e.GroupID != "" {
		return fmt.Sprintf("community %q (group %s): %s: %v", e.Community, e.GroupID, e.Op, e.Err)
	}
	return fmt.Sprintf("community %q: %s: %v", e.Community, e.Op, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Outcome is the per-community result of a reconciliation run.
type Outcome struct {
	Community string `json:"community"`
	GroupID   string `json:"groupId,omitempty"`
	Desired   bool   `json:"desired"`
	Action    Action `json:"action"`
	Error     string `json:"error,omitempty"`
}

// Result is the outcome of one reconciliation run.
type Result struct {
	RunID    uuid.UUID    `json:"runId"`
	MemberID int64        `json:"memberId"`
	Outcomes []Outcome    `json:"outcomes"`
	Errors   []*ItemError `json:"-"`
}

// Mutations counts the additions and removals the run applied.
func (r *Result) Mutations() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == ActionAdded || o.Action == ActionRemoved {
			n++
		}
	}
	return n
}

// EnrollResult is the outcome of a closed-community enrollment.
type EnrollResult struct {
	RunID     uuid.UUID `json:"runId"`
	SubjectID int64     `json:"subjectId"`
	Provider  string    `json:"provider,omitempty"`
	GroupID   string    `json:"groupId,omitempty"`
	Action    Action    `json:"action"`
}
