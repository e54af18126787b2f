package lazycache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "windrose_lazycache_hits",
	Help: "Number of cache hits",
}, []string{"cache"})

var cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "windrose_lazycache_misses",
	Help: "Number of cache misses",
}, []string{"cache"})

var loadsCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "windrose_lazycache_loads_coalesced",
	Help: "Number of loads coalesced into a concurrent load of the same key",
}, []string{"cache"})
