package shared

import "github.com/google/uuid"

// Stream topic constants.
const (
	TopicTraitCreate    = "member.action.profile.trait.create"
	TopicTraitUpdate    = "member.action.profile.trait.update"
	TopicTraitDelete    = "member.action.profile.trait.delete"
	TopicIdentityCreate = "identity.notification.create"
)

// TraitKindCommunities is the only trait kind the processor acts on.
const TraitKindCommunities = "communities"

// TraitTopics lists the topics carrying profile trait changes.
var TraitTopics = []string{TopicTraitCreate, TopicTraitUpdate, TopicTraitDelete}

// Bus event constants published after each membership decision.
const (
	EventMembershipAdded   = "community.membership.added"
	EventMembershipRemoved = "community.membership.removed"
	EventMembershipFailed  = "community.membership.failed"
)

// Membership operations carried by MembershipEventData.Op.
const (
	OpResolve = "resolve"
	OpAdd     = "add"
	OpRemove  = "remove"
)

// MembershipEventData is the payload for membership events.
type MembershipEventData struct {
	RunID     uuid.UUID `json:"runId"`
	MemberID  int64     `json:"memberId"`
	Community string    `json:"community,omitempty"`
	GroupID   string    `json:"groupId,omitempty"`
	Op        string    `json:"op"`
	Error     string    `json:"error,omitempty"`
}
