package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leeforge/framework/logging"
	"github.com/leeforge/framework/plugin"
	"go.uber.org/zap"

	"github.com/leeforge/community-processor/community/shared"
)

// DefaultItemTimeout bounds every single group directory call.
const DefaultItemTimeout = 10 * time.Second

// Service reconciles community memberships against the group directory.
type Service struct {
	tokens      shared.TokenProvider
	connector   shared.DirectoryConnector
	events      plugin.EventBus
	logger      logging.Logger
	itemTimeout time.Duration
}

// NewService creates a new membership service.
func NewService(
	tokens shared.TokenProvider,
	connector shared.DirectoryConnector,
	events plugin.EventBus,
	logger logging.Logger,
	itemTimeout time.Duration,
) *Service {
	if logger == nil {
		logger = logging.FromZap(zap.NewNop())
	}
	if itemTimeout <= 0 {
		itemTimeout = DefaultItemTimeout
	}
	return &Service{
		tokens:      tokens,
		connector:   connector,
		events:      events,
		logger:      logger,
		itemTimeout: itemTimeout,
	}
}

// Ping verifies that credentials for the group directory can be obtained.
func (s *Service) Ping(ctx context.Context) error {
	if s.tokens == nil || s.connector == nil {
		return fmt.Errorf("membership service not initialized")
	}
	_, err := s.connect(ctx)
	return err
}

// Reconcile aligns the member's group memberships with the event.
//
// Memberships are read once per run; communities are then handled strictly
// in event order against that snapshot. A failure on one community is
// recorded in Result.Errors and does not stop the others. Only token
// acquisition and the membership snapshot abort the run.
func (s *Service) Reconcile(ctx context.Context, ev *TraitEvent) (*Result, error) {
	if ev == nil || ev.MemberID < 1 {
		return nil, fmt.Errorf("%w: member id must be at least 1", shared.ErrInvalidEvent)
	}

	res := &Result{
		RunID:    uuid.New(),
		MemberID: ev.MemberID,
		Outcomes: make([]Outcome, 0, len(ev.Communities)),
	}
	if len(ev.Communities) == 0 {
		s.logger.Info("community: no community flags in event",
			zap.Int64("memberID", ev.MemberID),
		)
		return res, nil
	}

	dir, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	current, err := s.snapshot(ctx, dir, ev.MemberID)
	if err != nil {
		return nil, err
	}

	for _, flag := range ev.Communities {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, itemErr := s.apply(ctx, dir, res.RunID, ev.MemberID, flag, current)
		res.Outcomes = append(res.Outcomes, out)
		if itemErr != nil {
			res.Errors = append(res.Errors, itemErr)
		}
	}

	s.logger.Info("community: reconciliation finished",
		zap.Stringer("runID", res.RunID),
		zap.Int64("memberID", ev.MemberID),
		zap.Int("communities", len(ev.Communities)),
		zap.Int("mutations", res.Mutations()),
		zap.Int("failures", len(res.Errors)),
	)
	return res, nil
}

// EnrollFromSSOProvider adds a new identity to the group registered for its
// SSO provider. It returns ErrGroupNotFound when no group is registered.
func (s *Service) EnrollFromSSOProvider(ctx context.Context, ev *IdentityEvent) (*EnrollResult, error) {
	if ev == nil || ev.SubjectID < 1 {
		return nil, fmt.Errorf("%w: subject id must be at least 1", shared.ErrInvalidEvent)
	}

	provider := strings.TrimSpace(ev.SSOProvider)
	res := &EnrollResult{
		RunID:     uuid.New(),
		SubjectID: ev.SubjectID,
		Provider:  provider,
		Action:    ActionSkipped,
	}
	if provider == "" {
		return res, nil
	}

	dir, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	var group *shared.Group
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		group, err = dir.FindGroupBySSOID(ctx, provider)
		return err
	})
	if err != nil {
		if errors.Is(err, shared.ErrGroupNotFound) {
			s.logger.Info("community: no group registered for sso provider",
				zap.String("provider", provider),
				zap.Int64("subjectID", ev.SubjectID),
			)
		}
		return res, fmt.Errorf("find group for sso provider %q: %w", provider, err)
	}
	res.GroupID = group.ID

	current, err := s.snapshot(ctx, dir, ev.SubjectID)
	if err != nil {
		return res, err
	}
	if _, ok := current[group.ID]; ok {
		res.Action = ActionUnchanged
		s.logger.Info("community: subject already in sso group",
			zap.Int64("subjectID", ev.SubjectID),
			zap.String("groupID", group.ID),
		)
		return res, nil
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return dir.AddMembership(ctx, group.ID, ev.SubjectID)
	})
	if err != nil {
		s.publish(ctx, shared.EventMembershipFailed, shared.MembershipEventData{
			RunID: res.RunID, MemberID: ev.SubjectID, GroupID: group.ID, Op: shared.OpAdd, Error: err.Error(),
		})
		return res, fmt.Errorf("add subject %d to group %s: %w", ev.SubjectID, group.ID, err)
	}

	res.Action = ActionAdded
	s.logger.Info("community: added subject to sso group",
		zap.Int64("subjectID", ev.SubjectID),
		zap.String("groupID", group.ID),
	)
	s.publish(ctx, shared.EventMembershipAdded, shared.MembershipEventData{
		RunID: res.RunID, MemberID: ev.SubjectID, GroupID: group.ID, Op: shared.OpAdd,
	})
	return res, nil
}

// OnTraitChanged handles a profile trait message routed from the stream.
func (s *Service) OnTraitChanged(ctx context.Context, data any) error {
	raw, ok := rawPayload(data)
	if !ok {
		s.logger.Warn("community: ignoring unrecognized trait payload")
		return nil
	}

	payload, err := DecodeTraitPayload(raw)
	if err != nil {
		s.logger.Error("community: invalid trait payload", zap.Error(err))
		return err
	}
	if !payload.IsCommunities() {
		s.logger.Info("community: trait is not communities, ignoring",
			zap.String("traitID", payload.TraitID),
		)
		return nil
	}

	_, err = s.Reconcile(ctx, payload.Event())
	return err
}

// OnIdentityCreated handles an identity creation message routed from the stream.
func (s *Service) OnIdentityCreated(ctx context.Context, data any) error {
	raw, ok := rawPayload(data)
	if !ok {
		s.logger.Warn("community: ignoring unrecognized identity payload")
		return nil
	}

	payload, err := DecodeIdentityPayload(raw)
	if err != nil {
		s.logger.Error("community: invalid identity payload", zap.Error(err))
		return err
	}

	_, err = s.EnrollFromSSOProvider(ctx, payload.Event())
	if errors.Is(err, shared.ErrGroupNotFound) {
		return nil
	}
	return err
}

// --- private helpers ---

func (s *Service) apply(
	ctx context.Context,
	dir shared.GroupDirectory,
	runID uuid.UUID,
	memberID int64,
	flag CommunityFlag,
	current map[string]struct{},
) (Outcome, *ItemError) {
	out := Outcome{Community: flag.Name, Desired: flag.Desired}

	var group *shared.Group
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		group, err = dir.FindGroupByName(ctx, flag.Name)
		return err
	})
	if err != nil {
		if errors.Is(err, shared.ErrGroupNotFound) {
			err = fmt.Errorf("%w: %s", shared.ErrUnresolvedCommunity, flag.Name)
		}
		return s.fail(ctx, runID, memberID, out, shared.OpResolve, err)
	}
	out.GroupID = group.ID

	_, present := current[group.ID]
	switch {
	case flag.Desired && present:
		out.Action = ActionUnchanged
		s.logger.Info("community: member already in group",
			zap.Int64("memberID", memberID),
			zap.String("groupID", group.ID),
		)
		return out, nil

	case !flag.Desired && !present:
		out.Action = ActionUnchanged
		s.logger.Info("community: member already not in group",
			zap.Int64("memberID", memberID),
			zap.String("groupID", group.ID),
		)
		return out, nil

	case flag.Desired:
		err := s.call(ctx, func(ctx context.Context) error {
			return dir.AddMembership(ctx, group.ID, memberID)
		})
		if err != nil {
			return s.fail(ctx, runID, memberID, out, shared.OpAdd, err)
		}
		current[group.ID] = struct{}{}
		out.Action = ActionAdded
		s.logger.Info("community: added member to group",
			zap.Int64("memberID", memberID),
			zap.String("groupID", group.ID),
		)
		s.publish(ctx, shared.EventMembershipAdded, shared.MembershipEventData{
			RunID: runID, MemberID: memberID, Community: flag.Name, GroupID: group.ID, Op: shared.OpAdd,
		})
		return out, nil

	default:
		err := s.call(ctx, func(ctx context.Context) error {
			return dir.RemoveMembership(ctx, group.ID, memberID)
		})
		if err != nil {
			return s.fail(ctx, runID, memberID, out, shared.OpRemove, err)
		}
		delete(current, group.ID)
		out.Action = ActionRemoved
		s.logger.Info("community: removed member from group",
			zap.Int64("memberID", memberID),
			zap.String("groupID", group.ID),
		)
		s.publish(ctx, shared.EventMembershipRemoved, shared.MembershipEventData{
			RunID: runID, MemberID: memberID, Community: flag.Name, GroupID: group.ID, Op: shared.OpRemove,
		})
		return out, nil
	}
}

func (s *Service) fail(
	ctx context.Context,
	runID uuid.UUID,
	memberID int64,
	out Outcome,
	op string,
	err error,
) (Outcome, *ItemError) {
	itemErr := &ItemError{Community: out.Community, GroupID: out.GroupID, Op: op, Err: err}
	out.Action = ActionFailed
	out.Error = err.Error()

	s.logger.Error("community: membership change failed",
		zap.Stringer("runID", runID),
		zap.Int64("memberID", memberID),
		zap.String("community", out.Community),
		zap.String("groupID", out.GroupID),
		zap.String("op", op),
		zap.Error(err),
	)
	s.publish(ctx, shared.EventMembershipFailed, shared.MembershipEventData{
		RunID:     runID,
		MemberID:  memberID,
		Community: out.Community,
		GroupID:   out.GroupID,
		Op:        op,
		Error:     err.Error(),
	})
	return out, itemErr
}

func (s *Service) connect(ctx context.Context) (shared.GroupDirectory, error) {
	var token string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		token, err = s.tokens.Token(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAuth, err)
	}
	return s.connector.Connect(token), nil
}

func (s *Service) snapshot(ctx context.Context, dir shared.GroupDirectory, memberID int64) (map[string]struct{}, error) {
	var groupIDs []string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		groupIDs, err = dir.ListMemberships(ctx, memberID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list memberships of member %d: %w", memberID, err)
	}

	current := make(map[string]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		current[id] = struct{}{}
	}
	return current, nil
}

// call runs fn under the per-item timeout.
func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	defer cancel()
	return fn(callCtx)
}

func (s *Service) publish(ctx context.Context, name string, data shared.MembershipEventData) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, plugin.Event{
		Name:   name,
		Source: "community",
		Data:   data,
	})
}

func rawPayload(data any) ([]byte, bool) {
	switch v := data.(type) {
	case json.RawMessage:
		return v, true
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}
