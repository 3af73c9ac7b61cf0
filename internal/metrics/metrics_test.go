package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leeforge/framework/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/leeforge/community-processor/community/shared"
	"github.com/leeforge/community-processor/internal/stream"
)

func TestRecorder_ObserveMessage(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.ObserveMessage("member.action.profile.trait.create", stream.StatusProcessed)
	r.ObserveMessage("member.action.profile.trait.create", stream.StatusProcessed)
	r.ObserveMessage("member.action.profile.trait.create", stream.StatusInvalid)

	require.Equal(t, 2.0, testutil.ToFloat64(r.messages.WithLabelValues("member.action.profile.trait.create", stream.StatusProcessed)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.messages.WithLabelValues("member.action.profile.trait.create", stream.StatusInvalid)))
}

func TestRecorder_CountsMembershipEvents(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	bus := stream.NewBus()
	r.Subscribe(bus)

	ctx := context.Background()
	publish := func(name, op string) {
		require.NoError(t, bus.Publish(ctx, plugin.Event{Name: name, Data: shared.MembershipEventData{MemberID: 1, Op: op}}))
	}
	publish(shared.EventMembershipAdded, shared.OpAdd)
	publish(shared.EventMembershipAdded, shared.OpAdd)
	publish(shared.EventMembershipRemoved, shared.OpRemove)
	publish(shared.EventMembershipFailed, shared.OpResolve)

	require.Equal(t, 2.0, testutil.ToFloat64(r.mutations.WithLabelValues(shared.OpAdd)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.mutations.WithLabelValues(shared.OpRemove)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues(shared.OpResolve)))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	r.ObserveMessage("identity.notification.create", stream.StatusUnrouted)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `community_processor_messages_total{status="unrouted",topic="identity.notification.create"} 1`)
}
