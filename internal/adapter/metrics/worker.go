package metrics

import "github.com/prometheus/client_golang/prometheus"

// WorkerMetrics tracks action queue jobs.
type WorkerMetrics struct {
	Jobs         *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	LeasesReaped prometheus.Counter
}

func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	m := &WorkerMetrics{
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Processed jobs, by kind and outcome (succeeded, retried, dead_lettered, dropped).",
		}, []string{"kind", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Job handling latency, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		LeasesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "leases_reaped_total",
			Help:      "In-flight jobs returned to the ready set after their lease expired.",
		}),
	}

	reg.MustRegister(m.Jobs, m.JobDuration, m.LeasesReaped)
	return m
}

// RoleMetrics tracks member role mutations.
type RoleMetrics struct {
	Mutations   *prometheus.CounterVec
	RolesPurged prometheus.Counter
}

func NewRoleMetrics(reg prometheus.Registerer) *RoleMetrics {
	m := &RoleMetrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "roles",
			Name:      "mutations_total",
			Help:      "Role mutations, by operation (add, remove) and outcome (ok, denied, error).",
		}, []string{"op", "outcome"}),
		RolesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "roles",
			Name:      "purged_total",
			Help:      "Configured roles removed because they no longer exist or cannot be managed.",
		}),
	}

	reg.MustRegister(m.Mutations, m.RolesPurged)
	return m
}

// TeamSyncMetrics tracks roster synchronisation.
type TeamSyncMetrics struct {
	Runs    *prometheus.CounterVec
	Changes *prometheus.CounterVec
}

func NewTeamSyncMetrics(reg prometheus.Registerer) *TeamSyncMetrics {
	m := &TeamSyncMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "team_sync",
			Name:      "runs_total",
			Help:      "Team sync runs per team, by outcome.",
		}, []string{"outcome"}),
		Changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "team_sync",
			Name:      "changes_total",
			Help:      "Roster changes applied, by change (added, removed, linked).",
		}, []string{"change"}),
	}

	reg.MustRegister(m.Runs, m.Changes)
	return m
}
