package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scanner metrics
var (
	ScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mix_scans_total",
			Help: "Total number of storage scans performed",
		},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mix_scan_duration_seconds",
			Help:    "Duration of storage scans in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScanErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mix_scan_errors_total",
			Help: "Total number of entries skipped during scans due to errors",
		},
	)

	MailboxesRegistered = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mix_mailboxes_registered",
			Help: "Number of registered mailboxes by kind",
		},
		[]string{"kind"},
	)

	NameRewritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mix_name_rewrites_total",
			Help: "Total number of mailbox display names changed by config callbacks",
		},
	)
)

// Task queue metrics
var (
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mix_tasks_total",
			Help: "Total number of queue tasks performed",
		},
		[]string{"type", "status"},
	)

	TasksQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mix_tasks_queued",
			Help: "Current number of tasks waiting in the queue",
		},
	)
)

// Archive mirror metrics
var (
	ArchiveUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mix_archive_uploads_total",
			Help: "Total number of archive mirror uploads",
		},
		[]string{"status"},
	)

	ArchiveUploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mix_archive_upload_bytes_total",
			Help: "Total bytes uploaded to the archive mirror",
		},
	)
)
