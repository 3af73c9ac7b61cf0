package directory

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leeforge/community-processor/community/membership"
	"github.com/leeforge/community-processor/community/shared"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

// newSeededGroupAPI mirrors the membership fixture: ids 1-3 belong to 12345
// and id 4 to 12346.
func newSeededGroupAPI() *fakeGroupAPI {
	f := &fakeGroupAPI{groups: map[string]groupResource{}, members: map[string]map[int64]string{}, next: 1}
	for _, id := range []string{"abc123", "abc124", "abc125", "abc126"} {
		f.addGroup(groupResource{ID: id, Name: "name_" + id})
	}
	f.addMember("abc123", 12345)
	f.addMember("abc124", 12345)
	f.addMember("abc125", 12345)
	f.addMember("abc125", 12346)
	return f
}

func reconcileAgainst(t *testing.T, api *fakeGroupAPI, memberID int64, flags ...membership.CommunityFlag) *membership.Result {
	t.Helper()
	srv := newTestServer(t, api)
	conn := NewConnector(Config{BaseURL: srv.URL}, srv.Client(), nil)
	svc := membership.NewService(staticToken("m2m"), conn, nil, nil, time.Second)

	res, err := svc.Reconcile(context.Background(), &membership.TraitEvent{MemberID: memberID, Communities: flags})
	require.NoError(t, err)
	return res
}

func mutations(requests []string) []string {
	var out []string
	for _, r := range requests {
		if !strings.HasPrefix(r, http.MethodGet+" ") {
			out = append(out, r)
		}
	}
	return out
}

func TestReconcile_UpdateRemovesByMembershipID(t *testing.T) {
	api := newSeededGroupAPI()

	res := reconcileAgainst(t, api, 12345,
		membership.CommunityFlag{Name: "name_abc123", Desired: false},
		membership.CommunityFlag{Name: "name_abc124", Desired: true},
		membership.CommunityFlag{Name: "name_abc126", Desired: true},
		membership.CommunityFlag{Name: "name_abc125", Desired: true},
	)
	require.Empty(t, res.Errors)

	require.Equal(t, []string{
		"DELETE /v3/groups/abc123/members/1",
		"POST /v3/groups/abc126/members",
	}, mutations(api.seen()))
	require.False(t, api.isMember("abc123", 12345))
	require.True(t, api.isMember("abc124", 12345))
	require.True(t, api.isMember("abc125", 12345))
	require.True(t, api.isMember("abc126", 12345))
	require.Equal(t, "GET /v3/groups", api.seen()[0])
}

func TestReconcile_DeleteLeavesOtherMembers(t *testing.T) {
	api := newSeededGroupAPI()

	res := reconcileAgainst(t, api, 12346,
		membership.CommunityFlag{Name: "name_abc125", Desired: false},
		membership.CommunityFlag{Name: "name_abc123", Desired: false},
		membership.CommunityFlag{Name: "not_found", Desired: false},
	)
	require.Len(t, res.Errors, 1)
	require.ErrorIs(t, res.Errors[0], shared.ErrUnresolvedCommunity)

	require.Equal(t, []string{"DELETE /v3/groups/abc125/members/4"}, mutations(api.seen()))
	require.False(t, api.isMember("abc125", 12346))
	require.True(t, api.isMember("abc125", 12345))
}
