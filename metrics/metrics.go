package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var InboxActivities = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "inkpot_inbox_activities_total",
	Help: "Inbound activities by type and dispatch outcome",
}, []string{"type", "outcome"})

var DeliveriesSent = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkpot_deliveries_sent_total",
	Help: "Outbound deliveries accepted by the remote inbox",
})

var DeliveriesFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkpot_deliveries_failed_total",
	Help: "Outbound deliveries that failed and were dropped",
})

var DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkpot_deliveries_dropped_total",
	Help: "Outbound deliveries refused because the pool queue was full",
})

var EnrichQueued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkpot_enrich_queued_total",
	Help: "Enrichment events accepted onto the queue",
})

var EnrichDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkpot_enrich_dropped_total",
	Help: "Enrichment events dropped because the queue was full",
})

var EnrichProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkpot_enrich_processed_total",
	Help: "Enrichment passes completed",
})

var EnrichArticlesImported = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkpot_enrich_articles_imported_total",
	Help: "Remote articles imported by enrichment passes",
})
