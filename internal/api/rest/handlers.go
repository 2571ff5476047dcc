// Package rest exposes the ledger over HTTP: batch ingestion, the offline
// merge path, integrity queries, verification and sealing triggers, and a
// websocket feed of ledger activity.
package rest

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/service/ingest"
	"github.com/meridianid/audit-ledger-backend/internal/service/reconcile"
	"github.com/meridianid/audit-ledger-backend/internal/service/seal"
	"github.com/meridianid/audit-ledger-backend/internal/service/verify"
)

// Handler carries the service dependencies for every route
type Handler struct {
	coordinator *ingest.Coordinator
	reconciler  *reconcile.Reconciler
	verifier    *verify.Verifier
	sealer      *seal.Sealer

	store     ledger.Store
	runs      ledger.VerificationRepository
	incidents ledger.IncidentRepository
	merges    ledger.MergeRepository
	archives  ledger.ArchiveRepository

	stream       *Stream
	defaultChain string
	validate     *validator.Validate
	logger       *slog.Logger
}

// HandlerDeps wires the handler's collaborators
type HandlerDeps struct {
	Coordinator *ingest.Coordinator
	Reconciler  *reconcile.Reconciler
	Verifier    *verify.Verifier
	Sealer      *seal.Sealer

	Store     ledger.Store
	Runs      ledger.VerificationRepository
	Incidents ledger.IncidentRepository
	Merges    ledger.MergeRepository
	Archives  ledger.ArchiveRepository

	DefaultChain string
	Logger       *slog.Logger
}

// NewHandler creates the route handler
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		coordinator:  deps.Coordinator,
		reconciler:   deps.Reconciler,
		verifier:     deps.Verifier,
		sealer:       deps.Sealer,
		store:        deps.Store,
		runs:         deps.Runs,
		incidents:    deps.Incidents,
		merges:       deps.Merges,
		archives:     deps.Archives,
		stream:       NewStream(deps.Logger),
		defaultChain: deps.DefaultChain,
		validate:     validator.New(),
		logger:       deps.Logger,
	}
}

func (h *Handler) chainOrDefault(chainID string) string {
	if chainID == "" {
		return h.defaultChain
	}
	return chainID
}

// SubmitBatch commits a batch of online events as one atomic chain
// extension
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, r, errors.NewValidationError("INVALID_REQUEST", err.Error()))
		return
	}

	chainID := h.chainOrDefault(req.ChainID)
	events := make([]*ledger.Event, len(req.Events))
	for i := range req.Events {
		event, err := req.Events[i].toEvent(chainID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		events[i] = event
	}

	result, err := h.coordinator.IngestBatch(r.Context(), chainID, events)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.stream.PublishBatch(result)
	writeJSON(w, http.StatusCreated, result)
}

// SubmitOfflineBatch merges a disconnected device's batch into the
// canonical chain and returns the merge record
func (h *Handler) SubmitOfflineBatch(w http.ResponseWriter, r *http.Request) {
	var req offlineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, r, errors.NewValidationError("INVALID_REQUEST", err.Error()))
		return
	}

	chainID := h.chainOrDefault(req.ChainID)
	events := make([]*ledger.Event, len(req.Events))
	for i := range req.Events {
		event, err := req.Events[i].toEvent(chainID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		events[i] = event
	}

	record, err := h.reconciler.Merge(r.Context(), reconcile.OfflineBatch{
		ChainID:   chainID,
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		SessionID: req.SessionID,
		Events:    events,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.stream.PublishMerge(record)
	writeJSON(w, http.StatusOK, record)
}

// GetEvent returns a single committed event by ID
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, errors.NewValidationError("INVALID_EVENT_ID", err.Error()))
		return
	}

	event, err := h.store.ReadEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// GetChainStatus reports the tip, verification progress and open incident
// count for compliance tooling
func (h *Handler) GetChainStatus(w http.ResponseWriter, r *http.Request) {
	chainID := r.PathValue("chainID")

	tip, err := h.store.GetTip(r.Context(), chainID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	verified, err := h.store.LastVerifiedSequence(r.Context(), chainID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	lastRun, err := h.runs.LatestRun(r.Context(), chainID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	open, err := h.incidents.ListIncidents(r.Context(), ledger.IncidentFilter{OnlyOpen: true})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := chainStatusResponse{
		ChainID:         chainID,
		TipSequence:     tip.Sequence.Value(),
		VerifiedThrough: verified.Value(),
		LastRun:         lastRun,
		OpenIncidents:   len(open),
	}
	if !tip.IsEmpty() {
		resp.TipHash = tip.Hash.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListIncidents returns security incidents matching the query filters
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ledger.IncidentFilter{
		Type:     ledger.IncidentType(query.Get("type")),
		Severity: ledger.IncidentSeverity(query.Get("severity")),
		OnlyOpen: query.Get("open") == "true",
		Limit:    queryInt(query.Get("limit"), 100),
	}
	if from, err := time.Parse(time.RFC3339, query.Get("from")); err == nil {
		filter.DetectedFrom = from
	}
	if to, err := time.Parse(time.RFC3339, query.Get("to")); err == nil {
		filter.DetectedTo = to
	}

	incidents, err := h.incidents.ListIncidents(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents})
}

// TriggerVerification runs an on-demand verification pass and returns the
// completed run
func (h *Handler) TriggerVerification(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	chainID := h.chainOrDefault(req.ChainID)
	initiatedBy := ActorFrom(r.Context())
	if initiatedBy == "" {
		initiatedBy = "api"
	}

	var run *ledger.VerificationRun
	var err error
	if req.Full {
		run, err = h.verifier.VerifyChainFull(r.Context(), chainID, initiatedBy)
	} else {
		run, err = h.verifier.VerifyChain(r.Context(), chainID, initiatedBy)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.stream.PublishRun(run)
	writeJSON(w, http.StatusOK, run)
}

// TriggerSeal runs one sealing pass and reports whether a range was sealed
func (h *Handler) TriggerSeal(w http.ResponseWriter, r *http.Request) {
	if h.sealer == nil {
		writeError(w, r, errors.NewBusinessError("ARCHIVE_DISABLED",
			"archive storage is not configured"))
		return
	}

	var req sealRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	meta, err := h.sealer.SealNext(r.Context(), h.chainOrDefault(req.ChainID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sealResponse{Sealed: meta != nil, Archive: meta})
}

// ListArchives returns archive metadata for a date range; purge_eligible
// narrows to archives whose covered rows may be purged
func (h *Handler) ListArchives(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	chainID := h.chainOrDefault(query.Get("chain_id"))

	from := time.Time{}
	to := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, query.Get("from")); err == nil {
		from = parsed
	}
	if parsed, err := time.Parse(time.RFC3339, query.Get("to")); err == nil {
		to = parsed
	}

	var archives []*ledger.ArchiveMetadata
	var err error
	if query.Get("purge_eligible") == "true" {
		if h.sealer == nil {
			writeError(w, r, errors.NewBusinessError("ARCHIVE_DISABLED",
				"archive storage is not configured"))
			return
		}
		archives, err = h.sealer.PurgeEligible(r.Context(), chainID, from, to)
	} else {
		archives, err = h.archives.ListArchives(r.Context(), chainID, from, to)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"archives": archives})
}

// ListMerges returns a device's reconciliation history
func (h *Handler) ListMerges(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, r, errors.NewValidationError("MISSING_DEVICE_ID",
			"device_id query parameter is required"))
		return
	}

	records, err := h.merges.ListMergeRecords(r.Context(), deviceID,
		queryInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"merges": records})
}

// Healthz answers liveness probes
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
