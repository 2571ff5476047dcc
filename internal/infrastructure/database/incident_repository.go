package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
)

// IncidentRepository persists security incidents in Postgres. The ledger
// only inserts; resolution columns are updated by the incident workflow
// through SaveIncident upserts keyed on incident_id.
type IncidentRepository struct {
	conn *ConnectionPool
}

// NewIncidentRepository creates a repository backed by the shared pool
func NewIncidentRepository(conn *ConnectionPool) *IncidentRepository {
	return &IncidentRepository{conn: conn}
}

const incidentColumns = `
	incident_id, incident_type, severity, detected_at, description,
	affected_entity_type, affected_entity_id,
	resolution_status, resolved_at, resolved_by, resolution_notes`

// SaveIncident inserts a new incident or updates the resolution fields of
// an existing one
func (r *IncidentRepository) SaveIncident(ctx context.Context, incident *ledger.Incident) error {
	if err := incident.Validate(); err != nil {
		return err
	}

	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO security_incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (incident_id) DO UPDATE SET
			resolution_status = EXCLUDED.resolution_status,
			resolved_at = EXCLUDED.resolved_at,
			resolved_by = EXCLUDED.resolved_by,
			resolution_notes = EXCLUDED.resolution_notes`,
		incident.IncidentID, string(incident.IncidentType), string(incident.Severity),
		incident.DetectedAt, incident.Description,
		nullString(incident.AffectedEntityType), nullString(incident.AffectedEntityID),
		string(incident.ResolutionStatus), incident.ResolvedAt,
		nullString(incident.ResolvedBy), nullString(incident.ResolutionNotes))
	if err != nil {
		return errors.NewInternalError("failed to save security incident").WithCause(err)
	}
	return nil
}

// GetIncident looks up a single incident by ID
func (r *IncidentRepository) GetIncident(ctx context.Context, incidentID uuid.UUID) (*ledger.Incident, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+incidentColumns+`
		FROM security_incidents
		WHERE incident_id = $1`, incidentID)
	if err != nil {
		return nil, errors.NewInternalError("failed to read security incident").WithCause(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.NewInternalError("failed to read security incident").WithCause(err)
		}
		return nil, errors.NewNotFoundError("security incident")
	}
	return scanIncident(rows)
}

// ListIncidents returns incidents matching the filter, newest first
func (r *IncidentRepository) ListIncidents(ctx context.Context, filter ledger.IncidentFilter) ([]*ledger.Incident, error) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Type != "" {
		conditions = append(conditions, "incident_type = "+arg(string(filter.Type)))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = "+arg(string(filter.Severity)))
	}
	if filter.OnlyOpen {
		conditions = append(conditions, "resolution_status <> 'RESOLVED'")
	}
	if !filter.DetectedFrom.IsZero() {
		conditions = append(conditions, "detected_at >= "+arg(filter.DetectedFrom))
	}
	if !filter.DetectedTo.IsZero() {
		conditions = append(conditions, "detected_at <= "+arg(filter.DetectedTo))
	}

	query := `SELECT ` + incidentColumns + ` FROM security_incidents`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY detected_at DESC LIMIT " + arg(limit)

	rows, err := r.conn.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list security incidents").WithCause(err)
	}
	defer rows.Close()

	var incidents []*ledger.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate security incidents").WithCause(err)
	}
	return incidents, nil
}

func scanIncident(rows pgx.Rows) (*ledger.Incident, error) {
	var (
		incident                     ledger.Incident
		incidentType, severity       string
		resolutionStatus             string
		entityType, entityID         *string
		resolvedBy, resolutionNotes  *string
	)
	err := rows.Scan(
		&incident.IncidentID, &incidentType, &severity,
		&incident.DetectedAt, &incident.Description,
		&entityType, &entityID,
		&resolutionStatus, &incident.ResolvedAt, &resolvedBy, &resolutionNotes)
	if err != nil {
		return nil, errors.NewInternalError("failed to scan security incident").WithCause(err)
	}
	incident.IncidentType = ledger.IncidentType(incidentType)
	incident.Severity = ledger.IncidentSeverity(severity)
	incident.ResolutionStatus = ledger.ResolutionStatus(resolutionStatus)
	incident.AffectedEntityType = deref(entityType)
	incident.AffectedEntityID = deref(entityID)
	incident.ResolvedBy = deref(resolvedBy)
	incident.ResolutionNotes = deref(resolutionNotes)
	return &incident, nil
}
