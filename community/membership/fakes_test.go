package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/leeforge/framework/plugin"

	"github.com/leeforge/community-processor/community/shared"
)

// mockTokens returns a fixed token or error.
type mockTokens struct {
	token string
	err   error
	calls int
}

func (m *mockTokens) Token(_ context.Context) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.token, nil
}

type call struct {
	Op       string
	GroupID  string
	MemberID int64
}

// mockDirectory is an in-memory group directory that records mutations.
type mockDirectory struct {
	mu      sync.Mutex
	groups  []shared.Group
	members map[int64]map[string]bool

	calls      []call
	failOn     map[string]error // keyed by "op:groupID"
	listErr    error
	blockAdd   bool
	lookups    int
	tokenSeen  string
	connectCnt int
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		groups: []shared.Group{
			{ID: "abc123", Name: "name_abc123"},
			{ID: "abc124", Name: "name_ABC124"},
			{ID: "abc125", Name: "name_abc125"},
			{ID: "abc126", Name: "name_abc126"},
			{ID: "sso1", Name: "Wipro", SSOID: "wipro-adfs"},
		},
		members: map[int64]map[string]bool{
			12345: {"abc123": true, "abc124": true, "abc125": true},
			12346: {"abc125": true},
		},
		failOn: map[string]error{},
	}
}

func (d *mockDirectory) Connect(token string) shared.GroupDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokenSeen = token
	d.connectCnt++
	return d
}

func (d *mockDirectory) FindGroupByName(_ context.Context, name string) (*shared.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if err := d.failOn["resolve:"+name]; err != nil {
		return nil, err
	}
	for _, g := range d.groups {
		if strings.EqualFold(g.Name, name) {
			g := g
			return &g, nil
		}
	}
	return nil, fmt.Errorf("%w: name %q", shared.ErrGroupNotFound, name)
}

func (d *mockDirectory) FindGroupBySSOID(_ context.Context, ssoID string) (*shared.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range d.groups {
		if g.SSOID != "" && g.SSOID == ssoID {
			g := g
			return &g, nil
		}
	}
	return nil, fmt.Errorf("%w: sso id %q", shared.ErrGroupNotFound, ssoID)
}

func (d *mockDirectory) ListMemberships(_ context.Context, memberID int64) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	var ids []string
	for _, g := range d.groups {
		if d.members[memberID][g.ID] {
			ids = append(ids, g.ID)
		}
	}
	return ids, nil
}

func (d *mockDirectory) AddMembership(ctx context.Context, groupID string, memberID int64) error {
	if d.blockAdd {
		<-ctx.Done()
		return fmt.Errorf("%w: %w", shared.ErrDirectory, ctx.Err())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{Op: shared.OpAdd, GroupID: groupID, MemberID: memberID})
	if err := d.failOn["add:"+groupID]; err != nil {
		return err
	}
	if d.members[memberID] == nil {
		d.members[memberID] = map[string]bool{}
	}
	d.members[memberID][groupID] = true
	return nil
}

func (d *mockDirectory) RemoveMembership(_ context.Context, groupID string, memberID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{Op: shared.OpRemove, GroupID: groupID, MemberID: memberID})
	if err := d.failOn["remove:"+groupID]; err != nil {
		return err
	}
	delete(d.members[memberID], groupID)
	return nil
}

func (d *mockDirectory) memberOf(memberID int64) []string {
	ids, _ := d.ListMemberships(context.Background(), memberID)
	return ids
}

func (d *mockDirectory) resetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events []plugin.Event
}

func (b *recordingBus) Publish(_ context.Context, e plugin.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) Subscribe(string, plugin.EventHandler) plugin.Subscription {
	return noopSubscription{}
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.events))
	for _, e := range b.events {
		names = append(names, e.Name)
	}
	return names
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

var errBoom = errors.New("boom")
