package codeix

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// gateSeizures counts write-permission attempts by outcome.
	// Labels: outcome (acquired, queued, deferred)
	gateSeizures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiln",
		Subsystem: "codeix",
		Name:      "gate_seizures_total",
		Help:      "Write permission seize attempts by outcome",
	}, []string{"outcome"})

	// gateReleases counts write-permission releases.
	gateReleases = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiln",
		Subsystem: "codeix",
		Name:      "gate_releases_total",
		Help:      "Write permission releases",
	})

	// gateWakeups counts blocked waiters resumed by a release.
	gateWakeups = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiln",
		Subsystem: "codeix",
		Name:      "gate_wakeups_total",
		Help:      "Blocked seize waiters resumed",
	})

	// stagingCommits counts committed staging cycles.
	stagingCommits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiln",
		Subsystem: "codeix",
		Name:      "staging_commits_total",
		Help:      "Staging cycles published to readers",
	})

	// stagingAborts counts aborted staging cycles.
	stagingAborts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiln",
		Subsystem: "codeix",
		Name:      "staging_aborts_total",
		Help:      "Staging cycles discarded before commit",
	})
)
