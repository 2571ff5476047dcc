// Package metrics exposes Prometheus collectors for the ledger services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency
const (
	MetricEventsIngestedTotal     = "ledger_events_ingested_total"
	MetricBatchesTotal            = "ledger_ingest_batches_total"
	MetricTipConflictsTotal       = "ledger_tip_conflicts_total"
	MetricAppendDuration          = "ledger_append_duration_seconds"
	MetricVerificationRunsTotal   = "ledger_verification_runs_total"
	MetricEventsVerifiedTotal     = "ledger_events_verified_total"
	MetricChainBreaksTotal        = "ledger_chain_breaks_total"
	MetricOfflineMergesTotal      = "ledger_offline_merges_total"
	MetricOfflineConflictsTotal   = "ledger_offline_conflicts_total"
	MetricEventsRehashedTotal     = "ledger_events_rehashed_total"
	MetricArchivesSealedTotal     = "ledger_archives_sealed_total"
	MetricArchiveBytesTotal       = "ledger_archive_bytes_total"
	MetricReplicationChecksTotal  = "ledger_replication_checks_total"
	MetricContinuityViolations    = "ledger_continuity_violations_total"
	MetricAPIRequestDuration      = "ledger_api_request_duration_seconds"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Registry holds all ledger metrics. Operations are thread-safe.
type Registry struct {
	EventsIngested       *prometheus.CounterVec
	Batches              *prometheus.CounterVec
	TipConflicts         *prometheus.CounterVec
	AppendDuration       *prometheus.HistogramVec
	VerificationRuns     *prometheus.CounterVec
	EventsVerified       *prometheus.CounterVec
	ChainBreaks          *prometheus.CounterVec
	OfflineMerges        *prometheus.CounterVec
	OfflineConflicts     *prometheus.CounterVec
	EventsRehashed       *prometheus.CounterVec
	ArchivesSealed       *prometheus.CounterVec
	ArchiveBytes         *prometheus.CounterVec
	ReplicationChecks    *prometheus.CounterVec
	ContinuityViolations *prometheus.CounterVec
	APIRequestDuration   *prometheus.HistogramVec
}

// NewRegistry creates all collectors. They are not registered; call
// Register with the process registry.
func NewRegistry() *Registry {
	return &Registry{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsIngestedTotal,
			Help: "Events committed to the ledger by chain",
		}, []string{"chain_id"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBatchesTotal,
			Help: "Ingestion batches by chain and outcome",
		}, []string{"chain_id", "status"}),
		TipConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTipConflictsTotal,
			Help: "Optimistic-concurrency retries on the chain tip",
		}, []string{"chain_id"}),
		AppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricAppendDuration,
			Help:    "End-to-end batch append duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"chain_id"}),
		VerificationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricVerificationRunsTotal,
			Help: "Verification runs by chain and resulting status",
		}, []string{"chain_id", "chain_status"}),
		EventsVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsVerifiedTotal,
			Help: "Events whose digests were recomputed and matched",
		}, []string{"chain_id"}),
		ChainBreaks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricChainBreaksTotal,
			Help: "Hash mismatches found during verification",
		}, []string{"chain_id"}),
		OfflineMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricOfflineMergesTotal,
			Help: "Offline reconciliation attempts by outcome",
		}, []string{"chain_id", "status"}),
		OfflineConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricOfflineConflictsTotal,
			Help: "Offline events held back for review by reason",
		}, []string{"chain_id", "reason"}),
		EventsRehashed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsRehashedTotal,
			Help: "Offline events rehashed into the canonical chain",
		}, []string{"chain_id"}),
		ArchivesSealed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricArchivesSealedTotal,
			Help: "Sealed archive objects by chain",
		}, []string{"chain_id"}),
		ArchiveBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricArchiveBytesTotal,
			Help: "Compressed bytes exported to archive storage",
		}, []string{"chain_id"}),
		ReplicationChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricReplicationChecksTotal,
			Help: "Archive durability confirmations by outcome",
		}, []string{"status"}),
		ContinuityViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricContinuityViolations,
			Help: "Archive continuity violations detected at seal time",
		}, []string{"chain_id"}),
		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricAPIRequestDuration,
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// Register registers all collectors with the given registry
func (r *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.EventsIngested, r.Batches, r.TipConflicts, r.AppendDuration,
		r.VerificationRuns, r.EventsVerified, r.ChainBreaks,
		r.OfflineMerges, r.OfflineConflicts, r.EventsRehashed,
		r.ArchivesSealed, r.ArchiveBytes, r.ReplicationChecks,
		r.ContinuityViolations, r.APIRequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
