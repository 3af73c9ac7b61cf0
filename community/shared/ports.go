package shared

import "context"

// Group is a named group held by the remote group directory.
type Group struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	SSOID string `json:"ssoId,omitempty"`
}

// TokenProvider supplies bearer credentials for the group directory.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// GroupDirectory is the remote membership API as seen by the reconciler.
// Lookups return ErrGroupNotFound when nothing matches. RemoveMembership
// returns ErrNotMember when the member holds no membership in the group.
type GroupDirectory interface {
	FindGroupByName(ctx context.Context, name string) (*Group, error)
	FindGroupBySSOID(ctx context.Context, ssoID string) (*Group, error)
	ListMemberships(ctx context.Context, memberID int64) ([]string, error)
	AddMembership(ctx context.Context, groupID string, memberID int64) error
	RemoveMembership(ctx context.Context, groupID string, memberID int64) error
}

// DirectoryConnector binds a GroupDirectory to one bearer token.
type DirectoryConnector interface {
	Connect(token string) GroupDirectory
}
