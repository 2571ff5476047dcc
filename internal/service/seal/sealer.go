// Package seal exports fully verified day ranges of the ledger into
// compressed, replicated archives. Boundary digests are recorded on every
// archive so chain integrity across archives can be re-derived after the
// live rows are purged under retention policy.
package seal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/domain/values"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/archive"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
)

// Exporter uploads encoded ranges to external storage, answers durability
// checks against the uploaded objects and retrieves them on demand
type Exporter interface {
	Export(ctx context.Context, chainID string, day time.Time, events []*ledger.Event) (*archive.ExportResult, error)
	Confirm(ctx context.Context, objectKey string, expectedSize int64) (bool, error)
	Fetch(ctx context.Context, objectKey string) ([]*ledger.Event, error)
}

// Config bounds range selection and retention
type Config struct {
	// RetentionYears sets each archive's retention expiry from its day
	RetentionYears int
	// PurgeGrace is the window after replication confirmation before the
	// covered live rows become purge-eligible
	PurgeGrace time.Duration
	// MinRangeAge keeps the sealer away from the tail of the chain that is
	// still being appended to
	MinRangeAge time.Duration
}

// DefaultConfig returns production-leaning sealer settings
func DefaultConfig() Config {
	return Config{
		RetentionYears: 7,
		PurgeGrace:     72 * time.Hour,
		MinRangeAge:    24 * time.Hour,
	}
}

// Sealer seals one day range per pass, oldest first. Sealing only advances
// when the whole range is VERIFIED; a continuity violation against the
// previous archive halts sealing for the chain until the incident is
// resolved.
type Sealer struct {
	store     ledger.Store
	archives  ledger.ArchiveRepository
	incidents ledger.IncidentRepository
	exporter  Exporter
	cfg       Config
	reg       *metrics.Registry
	logger    *zap.Logger
}

// NewSealer creates an archive sealer
func NewSealer(store ledger.Store, archives ledger.ArchiveRepository, incidents ledger.IncidentRepository, exporter Exporter, cfg Config, reg *metrics.Registry, logger *zap.Logger) *Sealer {
	if cfg.RetentionYears <= 0 {
		cfg.RetentionYears = DefaultConfig().RetentionYears
	}
	if cfg.PurgeGrace <= 0 {
		cfg.PurgeGrace = DefaultConfig().PurgeGrace
	}
	if cfg.MinRangeAge < 0 {
		cfg.MinRangeAge = DefaultConfig().MinRangeAge
	}
	return &Sealer{
		store:     store,
		archives:  archives,
		incidents: incidents,
		exporter:  exporter,
		cfg:       cfg,
		reg:       reg,
		logger:    logger,
	}
}

// SealNext seals the oldest unsealed day of a chain, returning nil metadata
// when no range is ready: nothing unsealed, the day is still inside the
// minimum age window, or the range is not yet fully verified.
func (s *Sealer) SealNext(ctx context.Context, chainID string) (*ledger.ArchiveMetadata, error) {
	previous, err := s.archives.LatestSealed(ctx, chainID)
	if err != nil {
		return nil, err
	}

	start := values.FirstSequenceNumber()
	if previous != nil {
		if start, err = previous.SequenceEnd.Next(); err != nil {
			return nil, err
		}
	}

	head, err := s.store.ReadRange(ctx, chainID, start, start)
	if err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return nil, nil
	}

	day := head[0].Timestamp.UTC().Truncate(24 * time.Hour)
	dayEnd := day.Add(24 * time.Hour)
	if time.Since(dayEnd) < s.cfg.MinRangeAge {
		s.logger.Debug("oldest unsealed day still inside the age window",
			zap.String("chain_id", chainID), zap.Time("day", day))
		return nil, nil
	}

	end, err := s.store.LatestCommittedBefore(ctx, chainID, dayEnd.Add(-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	if end.LessThan(start) {
		return nil, nil
	}

	lastVerified, err := s.store.LastVerifiedSequence(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if lastVerified.LessThan(end) {
		s.logger.Info("unsealed day not fully verified yet",
			zap.String("chain_id", chainID),
			zap.Time("day", day),
			zap.String("verified_through", lastVerified.String()),
			zap.String("range_end", end.String()))
		return nil, nil
	}

	events, err := s.store.ReadRange(ctx, chainID, start, end)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	meta := &ledger.ArchiveMetadata{
		ArchiveID:         uuid.New(),
		ChainID:           chainID,
		EventDateStart:    events[0].Timestamp,
		EventDateEnd:      events[len(events)-1].Timestamp,
		SequenceStart:     events[0].SequenceID,
		SequenceEnd:       events[len(events)-1].SequenceID,
		EventCount:        len(events),
		ChainStartHash:    events[0].PreviousEventHash,
		ChainEndHash:      events[len(events)-1].CurrentEventHash,
		RetentionExpiry:   day.AddDate(s.cfg.RetentionYears, 0, 0),
		ReplicationStatus: ledger.ReplicationPending,
	}
	if previous != nil {
		meta.PreviousDayEndHash = previous.ChainEndHash
	}

	if err := meta.CheckContinuity(previous); err != nil {
		return nil, s.continuityViolation(ctx, meta, err)
	}

	result, err := s.exporter.Export(ctx, chainID, day, events)
	if err != nil {
		return nil, err
	}

	meta.FileName = result.FileName
	meta.ObjectKey = result.ObjectKey
	meta.FileSize = result.FileSize
	meta.CompressionRatio = result.CompressionRatio
	meta.StorageLocation = result.StorageLocation
	meta.ExportDate = time.Now().UTC()

	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if err := s.archives.SaveArchive(ctx, meta); err != nil {
		return nil, err
	}

	s.reg.ArchivesSealed.WithLabelValues(chainID).Inc()
	s.reg.ArchiveBytes.WithLabelValues(chainID).Add(float64(meta.FileSize))
	s.logger.Info("day range sealed",
		zap.String("chain_id", chainID),
		zap.Time("day", day),
		zap.String("archive_id", meta.ArchiveID.String()),
		zap.String("object_key", meta.ObjectKey),
		zap.Int("events", meta.EventCount),
		zap.Int64("bytes", meta.FileSize))
	return meta, nil
}

// continuityViolation raises a critical incident and surfaces the violation
// without writing archive metadata. Sealing stays halted for the chain
// because the same violation recurs on every subsequent pass.
func (s *Sealer) continuityViolation(ctx context.Context, meta *ledger.ArchiveMetadata, cause error) error {
	s.reg.ContinuityViolations.WithLabelValues(meta.ChainID).Inc()
	incident := ledger.NewContinuityViolationIncident(meta.ChainID, meta.ArchiveID, cause.Error())
	if err := s.incidents.SaveIncident(ctx, incident); err != nil {
		s.logger.Error("failed to persist continuity incident",
			zap.String("chain_id", meta.ChainID), zap.Error(err))
	}
	s.logger.Error("archive continuity violation, sealing halted",
		zap.String("chain_id", meta.ChainID),
		zap.String("incident_id", incident.IncidentID.String()),
		zap.Error(cause))
	return cause
}

// ConfirmReplication checks pending archives against external storage and
// records the outcome, returning the number confirmed durable
func (s *Sealer) ConfirmReplication(ctx context.Context, limit int) (int, error) {
	pending, err := s.archives.ListPendingReplication(ctx, limit)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for _, meta := range pending {
		ok, err := s.exporter.Confirm(ctx, meta.ObjectKey, meta.FileSize)
		if err != nil {
			return confirmed, err
		}

		now := time.Now().UTC()
		if ok {
			meta.MarkReplicated(now)
			confirmed++
			s.reg.ReplicationChecks.WithLabelValues(metrics.StatusSuccess).Inc()
		} else {
			meta.MarkReplicationFailed(now)
			s.reg.ReplicationChecks.WithLabelValues(metrics.StatusFailure).Inc()
			s.logger.Warn("archive replication unconfirmed",
				zap.String("archive_id", meta.ArchiveID.String()),
				zap.String("object_key", meta.ObjectKey))
		}
		if err := s.archives.UpdateReplication(ctx, meta); err != nil {
			return confirmed, err
		}
	}
	return confirmed, nil
}

// PurgeEligible returns the archives whose covered live rows may be purged:
// replication confirmed and past the grace window. Purge execution is an
// operator action outside this service.
func (s *Sealer) PurgeEligible(ctx context.Context, chainID string, from, to time.Time) ([]*ledger.ArchiveMetadata, error) {
	archives, err := s.archives.ListArchives(ctx, chainID, from, to)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	eligible := make([]*ledger.ArchiveMetadata, 0, len(archives))
	for _, meta := range archives {
		if meta.PurgeEligible(s.cfg.PurgeGrace, now) {
			eligible = append(eligible, meta)
		}
	}
	return eligible, nil
}

// Fetch downloads and decodes a sealed archive, recording the access for
// the retention audit trail
func (s *Sealer) Fetch(ctx context.Context, archiveID uuid.UUID, accessedBy string) ([]*ledger.Event, error) {
	meta, err := s.archives.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	events, err := s.exporter.Fetch(ctx, meta.ObjectKey)
	if err != nil {
		return nil, err
	}
	if err := s.archives.RecordAccess(ctx, archiveID, accessedBy, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to record archive access",
			zap.String("archive_id", archiveID.String()), zap.Error(err))
	}
	return events, nil
}
