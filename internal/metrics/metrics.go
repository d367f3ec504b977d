package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ChatsCreated      prometheus.Counter
	MessagesFlagged   prometheus.Counter
	RemoteFailures    prometheus.Counter
	FallbackWrites    prometheus.Counter
	ActivitiesTracked prometheus.Counter
}

// New registers the gateway counters on reg. Each caller owns its registry,
// so tests can build isolated instances.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChatsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutortron",
			Name:      "chats_created_total",
			Help:      "Chats durably created on the RAG backend",
		}),
		MessagesFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutortron",
			Name:      "messages_flagged_total",
			Help:      "Messages flagged by backend moderation on append",
		}),
		RemoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutortron",
			Name:      "remote_failures_total",
			Help:      "RAG backend calls that failed as unavailable",
		}),
		FallbackWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutortron",
			Name:      "fallback_writes_total",
			Help:      "Chat snapshots written to the local fallback store",
		}),
		ActivitiesTracked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutortron",
			Name:      "activities_tracked_total",
			Help:      "Activity log entries recorded",
		}),
	}
	reg.MustRegister(m.ChatsCreated, m.MessagesFlagged, m.RemoteFailures, m.FallbackWrites, m.ActivitiesTracked)
	return m
}
