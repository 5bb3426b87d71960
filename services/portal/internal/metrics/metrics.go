package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LinksIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_links_issued_total",
			Help: "Total number of application links issued",
		},
	)

	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_uploads_total",
			Help: "Uploaded files by outcome",
		},
		[]string{"result"},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portal_upload_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 6),
		},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_submissions_total",
			Help: "Application submissions by outcome",
		},
		[]string{"result"},
	)

	SweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_sweep_deleted_total",
			Help: "Orphaned upload objects removed by the sweeper",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_events_published_total",
			Help: "Domain events published to the bus",
		},
		[]string{"subject", "result"},
	)
)
