package apfetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actorFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "windrose_apfetch_actor_fetches",
	Help: "Remote actor document fetches",
}, []string{"status"})

var actorFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "windrose_apfetch_actor_fetch_duration",
	Help:    "Time to fetch a remote actor document",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 30, 20),
})
