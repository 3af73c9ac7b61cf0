package community

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/leeforge/framework/logging"
	"github.com/leeforge/framework/plugin"

	membershipmod "github.com/leeforge/community-processor/community/membership"
	"github.com/leeforge/community-processor/community/shared"
)

const serviceKeyMembership = "community.service"

// Re-export shared types so external consumers can import from this package.
type MembershipEventData = shared.MembershipEventData

// Re-export sentinel errors.
var (
	ErrInvalidEvent        = shared.ErrInvalidEvent
	ErrUnresolvedCommunity = shared.ErrUnresolvedCommunity
	ErrGroupNotFound       = shared.ErrGroupNotFound
	ErrDirectory           = shared.ErrDirectory
	ErrAuth                = shared.ErrAuth
)

// Re-export event constants.
const (
	EventMembershipAdded   = shared.EventMembershipAdded
	EventMembershipRemoved = shared.EventMembershipRemoved
	EventMembershipFailed  = shared.EventMembershipFailed
)

// CommunityPlugin keeps group directory memberships in line with member
// community traits.
type CommunityPlugin struct {
	logger  logging.Logger
	factory ServiceFactory
	events  plugin.EventBus

	membershipSvc *membershipmod.Service
	membershipH   *membershipmod.Handler
	subs          []plugin.Subscription
}

func (p *CommunityPlugin) Name() string           { return "community" }
func (p *CommunityPlugin) Version() string        { return "1.0.0" }
func (p *CommunityPlugin) Dependencies() []string { return nil }

func (p *CommunityPlugin) Enable(ctx context.Context, app *plugin.AppContext) error {
	if app == nil {
		return shared.ErrNilAppContext
	}
	if app.Services == nil {
		return shared.ErrNilServiceRegistry
	}

	if app.Logger == nil {
		p.logger = logging.FromZap(zap.NewNop())
	} else {
		p.logger = logging.FromZap(app.Logger)
	}
	p.events = app.Events

	factory, err := plugin.Resolve[ServiceFactory](app.Services, ServiceKeyCommunityFactory)
	if err != nil {
		return fmt.Errorf("resolve community service factory: %w", err)
	}
	p.factory = factory

	p.membershipSvc = p.factory.NewMembershipService(p.events, p.logger)
	p.membershipH = membershipmod.NewHandler(p.membershipSvc, p.logger)

	if err := app.Services.Register(serviceKeyMembership, p.membershipSvc); err != nil {
		return fmt.Errorf("register membership service: %w", err)
	}

	p.logger.Info("community plugin enabled")
	return nil
}

// Install has nothing to seed; groups are owned by the remote directory.
func (p *CommunityPlugin) Install(ctx context.Context, app *plugin.AppContext) error {
	return nil
}

// Disable drops the stream subscriptions.
func (p *CommunityPlugin) Disable(ctx context.Context, app *plugin.AppContext) error {
	for _, sub := range p.subs {
		sub.Unsubscribe()
	}
	p.subs = nil
	if p.logger != nil {
		p.logger.Info("community plugin: shutting down")
	}
	return nil
}

// SubscribeEvents routes stream topics to the membership service.
func (p *CommunityPlugin) SubscribeEvents(bus plugin.EventBus) {
	for _, topic := range shared.TraitTopics {
		p.subs = append(p.subs, bus.Subscribe(topic, func(ctx context.Context, e plugin.Event) error {
			return p.membershipSvc.OnTraitChanged(ctx, e.Data)
		}))
	}
	p.subs = append(p.subs, bus.Subscribe(shared.TopicIdentityCreate, func(ctx context.Context, e plugin.Event) error {
		return p.membershipSvc.OnIdentityCreated(ctx, e.Data)
	}))
}

func (p *CommunityPlugin) RegisterRoutes(router chi.Router) {
	if router == nil || p.membershipH == nil {
		return
	}

	router.Route("/communities", func(r chi.Router) {
		r.Post("/reconcile", p.membershipH.Reconcile)
		r.Post("/enroll", p.membershipH.Enroll)
	})
}

func (p *CommunityPlugin) HealthCheck(ctx context.Context) error {
	if p.membershipSvc == nil {
		return fmt.Errorf("community plugin: membership service not initialized")
	}
	return p.membershipSvc.Ping(ctx)
}

func (p *CommunityPlugin) PluginOptions() plugin.PluginOptions {
	return plugin.PluginOptions{
		Description: "Community trait to group membership synchronization plugin",
	}
}

var (
	_ plugin.Plugin          = (*CommunityPlugin)(nil)
	_ plugin.Installable     = (*CommunityPlugin)(nil)
	_ plugin.Disableable     = (*CommunityPlugin)(nil)
	_ plugin.RouteProvider   = (*CommunityPlugin)(nil)
	_ plugin.EventSubscriber = (*CommunityPlugin)(nil)
	_ plugin.HealthReporter  = (*CommunityPlugin)(nil)
	_ plugin.Configurable    = (*CommunityPlugin)(nil)
)
