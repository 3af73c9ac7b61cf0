package metrics

import (
	"context"
	"net/http"

	"github.com/leeforge/framework/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leeforge/community-processor/community/shared"
)

const namespace = "community_processor"

// Recorder counts consumed messages and membership changes.
type Recorder struct {
	gatherer prometheus.Gatherer

	messages  *prometheus.CounterVec
	mutations *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewRecorder registers the processor counters with reg.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Stream messages consumed, by topic and outcome.",
		}, []string{"topic", "status"}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Group membership changes applied, by operation.",
		}, []string{"op"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_failures_total",
			Help:      "Per-community failures, by operation.",
		}, []string{"op"}),
	}
}

// ObserveMessage counts one consumed message.
func (r *Recorder) ObserveMessage(topic, status string) {
	r.messages.WithLabelValues(topic, status).Inc()
}

// Subscribe counts membership events published on bus.
func (r *Recorder) Subscribe(bus plugin.EventBus) []plugin.Subscription {
	return []plugin.Subscription{
		bus.Subscribe(shared.EventMembershipAdded, r.onMutation),
		bus.Subscribe(shared.EventMembershipRemoved, r.onMutation),
		bus.Subscribe(shared.EventMembershipFailed, r.onFailure),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) onMutation(_ context.Context, e plugin.Event) error {
	if data, ok := e.Data.(shared.MembershipEventData); ok {
		r.mutations.WithLabelValues(data.Op).Inc()
	}
	return nil
}

func (r *Recorder) onFailure(_ context.Context, e plugin.Event) error {
	if data, ok := e.Data.(shared.MembershipEventData); ok {
		r.failures.WithLabelValues(data.Op).Inc()
	}
	return nil
}
