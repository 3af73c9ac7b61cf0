package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leeforge/community-processor/community/shared"
)

const membershipTypeUser = "user"

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds group directory settings.
type Config struct {
	BaseURL string
	// RateLimit caps requests per second; zero disables throttling.
	RateLimit float64
	Burst     int
}

// Connector builds token-bound directory clients that share one transport
// and one rate limiter.
type Connector struct {
	baseURL    string
	httpClient HTTPClient
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewConnector creates a new group directory connector.
func NewConnector(cfg Config, httpClient HTTPClient, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Connector{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}
}

// Connect returns a client authenticating with the given bearer token.
func (c *Connector) Connect(token string) shared.GroupDirectory {
	return &Client{conn: c, token: token}
}

// Client implements shared.GroupDirectory over the group HTTP API.
//
// A Client serves one reconciliation run. The group listing is fetched once
// and matched locally; membership ids learned from the per-group member
// listings are kept so removals can address them.
type Client struct {
	conn  *Connector
	token string

	mu          sync.Mutex
	groups      []groupResource
	memberships map[string]map[int64]string // group id -> member id -> membership id
}

// StatusError reports a non-success response from the group API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: API returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// FindGroupByName returns the group whose name matches, ignoring case.
func (c *Client) FindGroupByName(ctx context.Context, name string) (*shared.Group, error) {
	groups, err := c.listGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Name != "" && strings.EqualFold(g.Name, name) {
			return g.toGroup(), nil
		}
	}
	return nil, fmt.Errorf("%w: name %q", shared.ErrGroupNotFound, name)
}

// FindGroupBySSOID returns the group registered for an SSO provider.
func (c *Client) FindGroupBySSOID(ctx context.Context, ssoID string) (*shared.Group, error) {
	groups, err := c.listGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.SSOID != "" && strings.EqualFold(g.SSOID, ssoID) {
			return g.toGroup(), nil
		}
	}
	return nil, fmt.Errorf("%w: sso id %q", shared.ErrGroupNotFound, ssoID)
}

// ListMemberships returns the ids of the groups a member belongs to. Every
// group in the listing has its members read.
func (c *Client) ListMemberships(ctx context.Context, memberID int64) ([]string, error) {
	groups, err := c.listGroups(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	for _, g := range groups {
		members, err := c.listMembers(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		if _, ok := members[memberID]; ok {
			ids = append(ids, g.ID)
		}
	}
	return ids, nil
}

// AddMembership adds a member to a group. A conflict means the member is
// already there and counts as success.
func (c *Client) AddMembership(ctx context.Context, groupID string, memberID int64) error {
	path := "/v3/groups/" + url.PathEscape(groupID) + "/members"
	body := addMemberRequest{Param: memberParam{MemberID: memberID, MembershipType: membershipTypeUser}}

	err := c.do(ctx, http.MethodPost, path, body, nil)
	if se, ok := asStatusError(err); ok && se.StatusCode == http.StatusConflict {
		err = nil
	}
	if err == nil {
		// The new membership id is not returned; drop the group so a later
		// removal reads it again.
		c.forgetMembers(groupID)
	}
	return err
}

// RemoveMembership removes a member from a group by deleting the membership
// record that links them. It returns shared.ErrNotMember when the group has
// no membership for the member.
func (c *Client) RemoveMembership(ctx context.Context, groupID string, memberID int64) error {
	membershipID, ok := c.knownMembership(groupID, memberID)
	if !ok {
		members, err := c.listMembers(ctx, groupID)
		if err != nil {
			return err
		}
		if membershipID, ok = members[memberID]; !ok {
			return fmt.Errorf("%w: member %d in group %q", shared.ErrNotMember, memberID, groupID)
		}
	}

	path := "/v3/groups/" + url.PathEscape(groupID) + "/members/" + url.PathEscape(membershipID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.memberships[groupID], memberID)
	c.mu.Unlock()
	return nil
}

// listGroups reads GET /v3/groups once per client. A failed read is retried
// on the next call.
func (c *Client) listGroups(ctx context.Context) ([]groupResource, error) {
	c.mu.Lock()
	groups := c.groups
	c.mu.Unlock()
	if groups != nil {
		return groups, nil
	}

	var resp envelope[groupResource]
	if err := c.do(ctx, http.MethodGet, "/v3/groups", nil, &resp); err != nil {
		return nil, err
	}
	groups = resp.Result.Content
	if groups == nil {
		groups = []groupResource{}
	}

	c.mu.Lock()
	c.groups = groups
	c.mu.Unlock()
	return groups, nil
}

// listMembers reads the user memberships of one group and remembers their ids.
func (c *Client) listMembers(ctx context.Context, groupID string) (map[int64]string, error) {
	path := "/v3/groups/" + url.PathEscape(groupID) + "/members"

	var resp envelope[membershipResource]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	members := make(map[int64]string, len(resp.Result.Content))
	for _, m := range resp.Result.Content {
		if m.MembershipType != "" && m.MembershipType != membershipTypeUser {
			continue
		}
		members[m.MemberID] = m.ID
	}

	c.mu.Lock()
	if c.memberships == nil {
		c.memberships = make(map[string]map[int64]string)
	}
	c.memberships[groupID] = members
	c.mu.Unlock()
	return members, nil
}

func (c *Client) knownMembership(groupID string, memberID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.memberships[groupID][memberID]
	return id, ok
}

func (c *Client) forgetMembers(groupID string) {
	c.mu.Lock()
	delete(c.memberships, groupID)
	c.mu.Unlock()
}

// do performs one API call. Every failure wraps shared.ErrDirectory.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	if err := c.doRequest(ctx, method, path, body, result); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrDirectory, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	if c.conn.limiter != nil {
		if err := c.conn.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s %s: rate limit: %w", method, path, err)
		}
	}

	target := c.conn.baseURL + path

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.conn.logger.Debug("group directory request", zap.String("method", method), zap.String("path", path))

	resp, err := c.conn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(msg)}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func asStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	ok := errors.As(err, &se)
	return se, ok
}

// Group API response types
type envelope[T any] struct {
	Result struct {
		Content []T `json:"content"`
	} `json:"result"`
}

type groupResource struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	SSOID string `json:"ssoId,omitempty"`
}

// membershipResource links a member to a group.
type membershipResource struct {
	ID             string `json:"id"`
	MembershipType string `json:"membershipType"`
	MemberID       int64  `json:"memberId"`
}

func (g groupResource) toGroup() *shared.Group {
	return &shared.Group{ID: g.ID, Name: g.Name, SSOID: g.SSOID}
}

type addMemberRequest struct {
	Param memberParam `json:"param"`
}

type memberParam struct {
	MemberID       int64  `json:"memberId"`
	MembershipType string `json:"membershipType"`
}
