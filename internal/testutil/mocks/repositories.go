package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
)

// VerificationRepository is an in-memory ledger.VerificationRepository
type VerificationRepository struct {
	mu   sync.Mutex
	runs []*ledger.VerificationRun
}

// NewVerificationRepository creates an empty repository
func NewVerificationRepository() *VerificationRepository {
	return &VerificationRepository{}
}

func (r *VerificationRepository) SaveRun(_ context.Context, run *ledger.VerificationRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *VerificationRepository) LatestRun(_ context.Context, chainID string) (*ledger.VerificationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].ChainID == chainID {
			return r.runs[i], nil
		}
	}
	return nil, nil
}

func (r *VerificationRepository) ListRuns(_ context.Context, chainID string, limit int) ([]*ledger.VerificationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ledger.VerificationRun
	for i := len(r.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.runs[i].ChainID == chainID {
			out = append(out, r.runs[i])
		}
	}
	return out, nil
}

// Runs returns all saved runs
func (r *VerificationRepository) Runs() []*ledger.VerificationRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ledger.VerificationRun(nil), r.runs...)
}

// IncidentRepository is an in-memory ledger.IncidentRepository
type IncidentRepository struct {
	mu        sync.Mutex
	incidents []*ledger.Incident
}

// NewIncidentRepository creates an empty repository
func NewIncidentRepository() *IncidentRepository {
	return &IncidentRepository{}
}

func (r *IncidentRepository) SaveIncident(_ context.Context, incident *ledger.Incident) error {
	if err := incident.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.incidents {
		if existing.IncidentID == incident.IncidentID {
			r.incidents[i] = incident
			return nil
		}
	}
	r.incidents = append(r.incidents, incident)
	return nil
}

func (r *IncidentRepository) GetIncident(_ context.Context, incidentID uuid.UUID) (*ledger.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, incident := range r.incidents {
		if incident.IncidentID == incidentID {
			return incident, nil
		}
	}
	return nil, errors.NewNotFoundError("security incident")
}

func (r *IncidentRepository) ListIncidents(_ context.Context, filter ledger.IncidentFilter) ([]*ledger.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ledger.Incident
	for _, incident := range r.incidents {
		if filter.Type != "" && incident.IncidentType != filter.Type {
			continue
		}
		if filter.Severity != "" && incident.Severity != filter.Severity {
			continue
		}
		if filter.OnlyOpen && !incident.IsOpen() {
			continue
		}
		out = append(out, incident)
	}
	return out, nil
}

// Incidents returns all saved incidents
func (r *IncidentRepository) Incidents() []*ledger.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ledger.Incident(nil), r.incidents...)
}

// MergeRepository is an in-memory ledger.MergeRepository
type MergeRepository struct {
	mu      sync.Mutex
	records []*ledger.MergeRecord
}

// NewMergeRepository creates an empty repository
func NewMergeRepository() *MergeRepository {
	return &MergeRepository{}
}

func (r *MergeRepository) SaveMergeRecord(_ context.Context, record *ledger.MergeRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *MergeRepository) GetMergeRecord(_ context.Context, mergeID uuid.UUID) (*ledger.MergeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.MergeID == mergeID {
			return record, nil
		}
	}
	return nil, errors.NewNotFoundError("merge record")
}

func (r *MergeRepository) ListMergeRecords(_ context.Context, deviceID string, limit int) ([]*ledger.MergeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ledger.MergeRecord
	for i := len(r.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.records[i].DeviceID == deviceID {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

// Records returns all saved merge records
func (r *MergeRepository) Records() []*ledger.MergeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ledger.MergeRecord(nil), r.records...)
}

// ArchiveRepository is an in-memory ledger.ArchiveRepository
type ArchiveRepository struct {
	mu       sync.Mutex
	archives []*ledger.ArchiveMetadata
}

// NewArchiveRepository creates an empty repository
func NewArchiveRepository() *ArchiveRepository {
	return &ArchiveRepository{}
}

func (r *ArchiveRepository) SaveArchive(_ context.Context, meta *ledger.ArchiveMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archives = append(r.archives, meta)
	return nil
}

func (r *ArchiveRepository) GetArchive(_ context.Context, archiveID uuid.UUID) (*ledger.ArchiveMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, meta := range r.archives {
		if meta.ArchiveID == archiveID {
			return meta, nil
		}
	}
	return nil, errors.ErrArchiveNotFound
}

func (r *ArchiveRepository) LatestSealed(_ context.Context, chainID string) (*ledger.ArchiveMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *ledger.ArchiveMetadata
	for _, meta := range r.archives {
		if meta.ChainID != chainID {
			continue
		}
		if latest == nil || meta.SequenceEnd.GreaterThan(latest.SequenceEnd) {
			latest = meta
		}
	}
	return latest, nil
}

func (r *ArchiveRepository) ListArchives(_ context.Context, chainID string, from, to time.Time) ([]*ledger.ArchiveMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ledger.ArchiveMetadata
	for _, meta := range r.archives {
		if meta.ChainID != chainID {
			continue
		}
		if meta.EventDateEnd.Before(from) || meta.EventDateStart.After(to) {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (r *ArchiveRepository) UpdateReplication(_ context.Context, meta *ledger.ArchiveMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.archives {
		if existing.ArchiveID == meta.ArchiveID {
			r.archives[i] = meta
			return nil
		}
	}
	return errors.ErrArchiveNotFound
}

func (r *ArchiveRepository) RecordAccess(_ context.Context, archiveID uuid.UUID, accessedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, meta := range r.archives {
		if meta.ArchiveID == archiveID {
			meta.Touch(accessedBy, at)
			return nil
		}
	}
	return errors.ErrArchiveNotFound
}

func (r *ArchiveRepository) ListPendingReplication(_ context.Context, limit int) ([]*ledger.ArchiveMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ledger.ArchiveMetadata
	for _, meta := range r.archives {
		if meta.ReplicationStatus == ledger.ReplicationPending {
			out = append(out, meta)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Archives returns all saved archive records
func (r *ArchiveRepository) Archives() []*ledger.ArchiveMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ledger.ArchiveMetadata(nil), r.archives...)
}
