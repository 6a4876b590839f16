// Package metrics holds the Prometheus collectors of the session engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsAcquired counts session acquisitions by outcome (created, resumed, idempotent, raced).
	SessionsAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exstem_sessions_acquired_total",
		Help: "Session acquisitions by outcome",
	}, []string{"outcome"})

	// SubmissionsRetired counts abandoned attempts retired as EXPIRED.
	SubmissionsRetired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exstem_submissions_retired_total",
		Help: "Abandoned EXAM attempts retired as EXPIRED",
	})

	// Checkpoints counts checkpoint writes by result.
	Checkpoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exstem_checkpoints_total",
		Help: "Checkpoint writes by result",
	}, []string{"result"})

	// SubmissionsGraded counts graded submissions by termination reason.
	SubmissionsGraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exstem_submissions_graded_total",
		Help: "Graded submissions by termination reason",
	}, []string{"reason"})

	// GradeRatio tracks score/total of graded submissions.
	GradeRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exstem_grade_ratio",
		Help:    "Score divided by total of graded submissions",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	// GradingDuration tracks the latency of the grading transaction.
	GradingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exstem_grading_duration_seconds",
		Help:    "Grading duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// WorkerPersisted counts queue items persisted by worker.
	WorkerPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exstem_worker_persisted_total",
		Help: "Queue items persisted to PostgreSQL by worker",
	}, []string{"worker"})

	// WorkerRequeued counts queue items pushed back after a failed write.
	WorkerRequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exstem_worker_requeued_total",
		Help: "Queue items requeued after a failed write by worker",
	}, []string{"worker"})
)
