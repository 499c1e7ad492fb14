package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sortie_chat",
		Name:      "ws_connections",
		Help:      "Open websocket connections.",
	})
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sortie_chat",
		Name:      "messages_sent_total",
		Help:      "Messages persisted, by room kind and message type.",
	}, []string{"room_kind", "type"})
	PollVotes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sortie_chat",
		Name:      "poll_votes_total",
		Help:      "Accepted poll ballots.",
	})
	VoteConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sortie_chat",
		Name:      "poll_vote_conflicts_total",
		Help:      "Poll writes that lost a version race and were retried.",
	})
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sortie_chat",
		Name:      "ws_dropped_frames_total",
		Help:      "Frames dropped because a session send buffer was full.",
	})
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sortie_chat",
		Name:      "notification_failures_total",
		Help:      "Push notifications that could not be handed off.",
	})
)

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
