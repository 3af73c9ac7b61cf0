package shared

import "errors"

// Community processor errors.
var (
	ErrInvalidEvent        = errors.New("invalid event payload")
	ErrUnresolvedCommunity = errors.New("no group matches community")
	ErrGroupNotFound       = errors.New("group not found")
	ErrNotMember           = errors.New("member has no membership in group")
	ErrDirectory           = errors.New("group directory request failed")
	ErrAuth                = errors.New("token acquisition failed")
	ErrNilAppContext       = errors.New("community plugin: app context is nil")
	ErrNilServiceRegistry  = errors.New("community plugin: service registry is nil")
)
