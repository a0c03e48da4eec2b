package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/concord/internal/rpc"
)

var (
	subscribeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_coordinator_subscribe_total",
			Help: "Total number of Subscribe calls by status.",
		},
		[]string{"status"},
	)

	proposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_coordinator_proposals_total",
			Help: "Total number of proposals by final status.",
		},
		[]string{"status"},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_coordinator_fetch_task_total",
			Help: "Total number of FetchTask calls by status.",
		},
		[]string{"status"},
	)

	enrolledParties = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_coordinator_enrolled_parties",
			Help: "Number of parties with a live registration.",
		},
	)
)

func init() {
	prometheus.MustRegister(subscribeTotal)
	prometheus.MustRegister(proposalsTotal)
	prometheus.MustRegister(fetchTotal)
	prometheus.MustRegister(enrolledParties)

	// Pre-initialize label combinations so they appear in /metrics
	// before the first event.
	for _, s := range []rpc.SubscribeStatus{rpc.SubscribeSuccess, rpc.SubscribeDuplicateEnroll, rpc.SubscribeNotServing} {
		subscribeTotal.WithLabelValues(string(s))
	}
	for _, s := range []rpc.ProposalStatus{rpc.ProposalSuccess, rpc.ProposalReject, rpc.ProposalNotEnoughSubscribers, rpc.ProposalNotEnoughResponders} {
		proposalsTotal.WithLabelValues(string(s))
	}
	for _, s := range []rpc.FetchStatus{rpc.FetchReady, rpc.FetchNotFound, rpc.FetchNotAllow, rpc.FetchTimeout, rpc.FetchCanceled, rpc.FetchRandomOut} {
		fetchTotal.WithLabelValues(string(s))
	}
}
