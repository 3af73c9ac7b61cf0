package community

import (
	"github.com/leeforge/framework/logging"
	"github.com/leeforge/framework/plugin"

	membershipmod "github.com/leeforge/community-processor/community/membership"
	"github.com/leeforge/community-processor/community/shared"
)

const ServiceKeyCommunityFactory = "adapter.community.factory"

// ServiceFactory creates community plugin services using host-provided adapters.
type ServiceFactory interface {
	NewMembershipService(events plugin.EventBus, logger logging.Logger) *membershipmod.Service
}

// Re-export interface types from shared so factory implementations import from this package.
type (
	TokenProvider      = shared.TokenProvider
	GroupDirectory     = shared.GroupDirectory
	DirectoryConnector = shared.DirectoryConnector
	Group              = shared.Group
)
