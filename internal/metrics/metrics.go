package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkroom_requests_total",
			Help: "Room protocol requests by operation and response status.",
		},
		[]string{"op", "status"},
	)

	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talkroom_list_batch_size",
			Help:    "Number of messages returned per list request.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
		},
	)

	deleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "talkroom_messages_deleted_total",
			Help: "Messages removed, replies and channel resets included.",
		},
	)
)

func init() {
	prometheus.MustRegister(requests)
	prometheus.MustRegister(batchSize)
	prometheus.MustRegister(deleted)
}

func ObserveRequest(op string, status int) {
	requests.WithLabelValues(op, strconv.Itoa(status)).Inc()
}

func ObserveBatch(size int) {
	batchSize.Observe(float64(size))
}

func ObserveDeleted(n int64) {
	deleted.Add(float64(n))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
