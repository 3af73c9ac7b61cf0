package factory

import (
	"time"

	"github.com/leeforge/framework/logging"
	"github.com/leeforge/framework/plugin"

	membershipmod "github.com/leeforge/community-processor/community/membership"
	"github.com/leeforge/community-processor/community/shared"
)

// HTTPFactory implements community.ServiceFactory over the remote group API.
type HTTPFactory struct {
	tokens      shared.TokenProvider
	connector   shared.DirectoryConnector
	itemTimeout time.Duration
}

// NewHTTPFactory creates a factory backed by the given token provider and
// directory connector.
func NewHTTPFactory(tokens shared.TokenProvider, connector shared.DirectoryConnector, itemTimeout time.Duration) *HTTPFactory {
	return &HTTPFactory{
		tokens:      tokens,
		connector:   connector,
		itemTimeout: itemTimeout,
	}
}

func (f *HTTPFactory) NewMembershipService(events plugin.EventBus, logger logging.Logger) *membershipmod.Service {
	return membershipmod.NewService(f.tokens, f.connector, events, logger, f.itemTimeout)
}
