package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lock acquisition latency - histogram to track p50/p90/p99
	// one sample per TryAcquire, won or not
	// labels: backend (revision/sequence)
	LockAcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zlock_lock_acquire_duration_seconds",
			Help:    "time taken by a single lock acquisition attempt",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"backend"},
	)

	// acquisition outcomes
	// labels: lock_name, status (won/not_won/error)
	LockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zlock_lock_acquire_total",
			Help: "total number of lock acquisition attempts",
		},
		[]string{"lock_name", "status"},
	)

	// release outcomes
	// labels: lock_name, status (released/noop/error)
	LockReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zlock_lock_release_total",
			Help: "total number of lock releases",
		},
		[]string{"lock_name", "status"},
	)

	// locks this process currently believes it holds
	// should go back to zero when every caller has released
	LocksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zlock_locks_active",
			Help: "current number of locks held by this process",
		},
	)

	// renewal attempts made by the tick tasks
	// labels: backend, status (ok/unavailable/lost)
	// a steady stream of unavailable means the backend is flapping
	LockRenewalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zlock_lock_renewal_total",
			Help: "total number of lock renewal attempts",
		},
		[]string{"backend", "status"},
	)

	// locks confirmed lost while held, every increment is an alert
	LocksLostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zlock_locks_lost_total",
			Help: "total number of held locks lost during renewal",
		},
		[]string{"lock_name"},
	)

	// scheduler task runs
	// labels: outcome (ok/error/panic/stopped/skipped)
	SchedulerTaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zlock_scheduler_task_runs_total",
			Help: "total number of scheduled task runs by outcome",
		},
		[]string{"outcome"},
	)

	// tasks currently scheduled across all pools
	SchedulerTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zlock_scheduler_tasks",
			Help: "current number of scheduled periodic tasks",
		},
	)

	// lease grants served by a zlock node
	LeaseGrantTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zlock_lease_grant_total",
			Help: "total number of leases granted",
		},
	)

	// keep-alives served by a zlock node
	// labels: status (success/failure)
	LeaseKeepAliveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zlock_lease_keepalive_total",
			Help: "total number of lease keep-alives processed",
		},
		[]string{"status"},
	)

	// lease expiration counter - tracks crashed or partitioned holders
	LeaseExpireTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zlock_lease_expire_total",
			Help: "total number of lease expirations",
		},
	)

	// store contents on a zlock node
	StoreKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zlock_store_keys",
			Help: "current number of keys in the store",
		},
	)

	StoreLeases = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zlock_store_leases",
			Help: "current number of live leases in the store",
		},
	)

	StoreRevision = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zlock_store_revision",
			Help: "current store revision",
		},
	)

	// raft leader status - 1 if this node is leader, 0 if follower
	RaftIsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zlock_raft_is_leader",
			Help: "whether this node is the raft leader (1 = leader, 0 = follower)",
		},
	)

	// number of voters in the raft configuration
	RaftPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zlock_raft_peers",
			Help: "number of peers in the raft cluster",
		},
	)

	// last raft log index applied to the fsm
	RaftAppliedIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zlock_raft_applied_index",
			Help: "last raft log index applied to the fsm",
		},
	)

	// always 1 when running
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zlock_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	Up.Set(1)
}
