/*
handlers.go - HTTP API handlers for the traceability engine

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates all business rules to the ledger package.

ENDPOINTS:
  Events:
    POST /api/events/collection   Submit a collection event
    GET  /api/events/collection   List collection events (?orgId=)
    POST /api/events/processing   Submit a processing step
    GET  /api/events/processing   List processing steps (?orgId=)
    POST /api/events/quality      Submit a quality test
    GET  /api/events/quality      List quality tests (?orgId=)
    POST /api/events/custody      Submit a custody transfer

  Batches:
    POST /api/batches                 Create a DRAFT batch
    GET  /api/batches                 List batches (?orgId=)
    GET  /api/batches/{id}            Get one batch
    POST /api/batches/{id}/mint       Mint (QA gates enforced)
    POST /api/batches/{id}/release    Release a minted batch
    POST /api/batches/{id}/recall     Recall with a reason

  Rules:
    GET /api/rules/{species}          List rule sets for a species
    PUT /api/rules/{species}          Upsert a (species, region) rule set

  Dashboard and public portal:
    GET /api/dashboard                Metrics + recent feed (?species&region&orgId&from&to)
    GET /api/public/provenance/{slug} Provenance bundle (records a scan)
    GET /api/public/batch/{slug}      Batch by public slug

ERROR HANDLING:
  Engine rejections are deterministic business-rule failures and map to
  4xx with kind and message passed through verbatim:
    404  NOT_FOUND
    409  DUPLICATE_ID, INVALID_STATE
    400  everything else in the taxonomy
  Anything that is not a ledger.ValidationError is a 500.

SEE ALSO:
  - dto.go:    request/response shapes
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/supremekai52/neocrypt/ledger"
)

// Handler holds the engine and rule store behind the REST surface.
type Handler struct {
	Engine *ledger.Engine
	Rules  *ledger.RuleStore
}

// NewHandler creates a handler over the given engine and rule store.
func NewHandler(engine *ledger.Engine, rules *ledger.RuleStore) *Handler {
	return &Handler{Engine: engine, Rules: rules}
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// SubmitCollectionEvent admits a harvest. An omitted id is assigned here;
// re-submitting an explicit id that already exists is a 409.
func (h *Handler) SubmitCollectionEvent(w http.ResponseWriter, r *http.Request) {
	var req CollectionEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w, err)
		return
	}
	ts, err := parseTimestamp(req.Timestamp, "timestamp")
	if err != nil {
		writeError(w, err)
		return
	}

	event := ledger.CollectionEvent{
		ID:            orNewID(req.ID, "event"),
		SpeciesCode:   req.SpeciesCode,
		SpeciesName:   req.SpeciesName,
		Part:          ledger.PlantPart(req.Part),
		OrgID:         req.OrgID,
		CollectorID:   req.CollectorID,
		Timestamp:     ts,
		Lat:           req.Lat,
		Lon:           req.Lon,
		Geohash:       req.Geohash,
		GPSAccuracy:   req.GPSAccuracy,
		HarvestMethod: ledger.HarvestMethod(req.HarvestMethod),
		PermitsRef:    req.PermitsRef,
		MediaRefs:     req.MediaRefs,
		InitialQuality: ledger.InitialQuality{
			MoisturePct:      req.InitialQuality.MoisturePct,
			ForeignMatterPct: req.InitialQuality.ForeignMatterPct,
		},
		RegionID: req.RegionID,
		WeightKg: decimal.NewFromFloat(req.WeightKg),
	}

	id, err := h.Engine.AdmitCollectionEvent(r.Context(), event)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmittedDTO{ID: id})
}

// ListCollectionEvents returns admitted harvests, newest first.
func (h *Handler) ListCollectionEvents(w http.ResponseWriter, r *http.Request) {
	events := h.Engine.CollectionEvents(r.URL.Query().Get("orgId"))
	dtos := make([]CollectionEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toCollectionDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitProcessingStep admits a processing step.
func (h *Handler) SubmitProcessingStep(w http.ResponseWriter, r *http.Request) {
	var req ProcessingStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w, err)
		return
	}
	start, err := parseTimestamp(req.TimestampStart, "timestampStart")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseTimestamp(req.TimestampEnd, "timestampEnd")
	if err != nil {
		writeError(w, err)
		return
	}

	step := ledger.ProcessingStep{
		ID:             orNewID(req.ID, "step"),
		InputRefs:      req.InputRefs,
		Type:           ledger.StepType(req.Type),
		TimestampStart: start,
		TimestampEnd:   end,
		Conditions: ledger.StepConditions{
			TempC:       req.Conditions.TempC,
			HumidityPct: req.Conditions.HumidityPct,
			DurationHrs: req.Conditions.DurationHrs,
		},
		FacilityID:      req.FacilityID,
		LocationGeohash: req.LocationGeohash,
		OperatorID:      req.OperatorID,
		MediaRefs:       req.MediaRefs,
		OutputWeightKg:  decimal.NewFromFloat(req.OutputWeightKg),
	}

	id, err := h.Engine.AdmitProcessingStep(r.Context(), step)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmittedDTO{ID: id})
}

// ListProcessingSteps returns admitted steps, newest first.
func (h *Handler) ListProcessingSteps(w http.ResponseWriter, r *http.Request) {
	steps := h.Engine.ProcessingSteps(r.URL.Query().Get("orgId"))
	dtos := make([]ProcessingStepDTO, len(steps))
	for i, step := range steps {
		dtos[i] = toStepDTO(step)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitQualityTest admits a lab result.
func (h *Handler) SubmitQualityTest(w http.ResponseWriter, r *http.Request) {
	var req QualityTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w, err)
		return
	}
	ts, err := parseTimestamp(req.Timestamp, "timestamp")
	if err != nil {
		writeError(w, err)
		return
	}

	test := ledger.QualityTest{
		ID:          orNewID(req.ID, "test"),
		SubjectRef:  req.SubjectRef,
		LabOrgID:    req.LabOrgID,
		TestType:    ledger.TestType(req.TestType),
		SpecVersion: req.SpecVersion,
		Result: ledger.TestResult{
			Value:     req.Result.Value,
			Unit:      req.Result.Unit,
			Pass:      req.Result.Pass,
			MethodRef: req.Result.MethodRef,
		},
		ArtifactRef:             req.ArtifactRef,
		ArtifactHash:            req.ArtifactHash,
		VerifiableCredentialRef: req.VerifiableCredentialRef,
		Timestamp:               ts,
	}

	id, err := h.Engine.AdmitQualityTest(r.Context(), test)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmittedDTO{ID: id})
}

// ListQualityTests returns admitted tests, newest first.
func (h *Handler) ListQualityTests(w http.ResponseWriter, r *http.Request) {
	tests := h.Engine.QualityTests(r.URL.Query().Get("orgId"))
	dtos := make([]QualityTestDTO, len(tests))
	for i, test := range tests {
		dtos[i] = toTestDTO(test)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitCustodyEvent admits a custody transfer.
func (h *Handler) SubmitCustodyEvent(w http.ResponseWriter, r *http.Request) {
	var req CustodyEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w, err)
		return
	}
	ts, err := parseTimestamp(req.Timestamp, "timestamp")
	if err != nil {
		writeError(w, err)
		return
	}

	custody := ledger.CustodyEvent{
		ID:            orNewID(req.ID, "custody"),
		FromOrgID:     req.FromOrgID,
		ToOrgID:       req.ToOrgID,
		SubjectRefs:   req.SubjectRefs,
		WeighmentKg:   decimal.NewFromFloat(req.WeighmentKg),
		TransportMeta: req.TransportMeta,
		Timestamp:     ts,
	}

	id, err := h.Engine.AdmitCustodyEvent(r.Context(), custody)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmittedDTO{ID: id})
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// CreateBatch stores a new DRAFT batch.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w, err)
		return
	}

	inputs := make([]ledger.BatchInput, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = ledger.BatchInput{RefID: in.RefID, WeightKg: decimal.NewFromFloat(in.WeightKg)}
	}
	formulation := make([]ledger.FormulationLine, len(req.BOM.Formulation))
	for i, line := range req.BOM.Formulation {
		formulation[i] = ledger.FormulationLine{
			IngredientID: line.IngredientID,
			BatchID:      line.BatchID,
			Grams:        line.Grams,
			Pct:          line.Pct,
		}
	}

	batch, err := h.Engine.CreateBatch(r.Context(), ledger.BatchDraft{
		ManufacturerOrgID: req.ManufacturerOrgID,
		Inputs:            inputs,
		BOM:               ledger.BillOfMaterials{LotCode: req.BOM.LotCode, Formulation: formulation},
		QAGates:           req.QAGates,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(batch))
}

// ListBatches returns batches, newest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches := h.Engine.Batches(r.URL.Query().Get("orgId"))
	dtos := make([]BatchDTO, len(batches))
	for i, batch := range batches {
		dtos[i] = toBatchDTO(batch)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBatch returns one batch by id.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Engine.Batch(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(batch))
}

// MintBatch enforces the QA gates and mints the batch.
func (h *Handler) MintBatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.MintBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MintResultDTO{QRSerial: result.QRSerial, Slug: result.Slug})
}

// ReleaseBatch moves a minted batch to RELEASED.
func (h *Handler) ReleaseBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.ReleaseBatch(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecallBatch moves a minted or released batch to RECALLED.
func (h *Handler) RecallBatch(w http.ResponseWriter, r *http.Request) {
	var req RecallBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w, err)
		return
	}
	if err := h.Engine.RecallBatch(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all rule sets for a species.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.Rules.BySpecies(chi.URLParam(r, "species"))
	dtos := make([]RuleSetDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRuleSetDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertRule creates or replaces a (species, region) rule set.
func (h *Handler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	var req UpsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w, err)
		return
	}

	seasons := make([]ledger.SeasonWindow, len(req.Seasons))
	for i, s := range req.Seasons {
		seasons[i] = ledger.SeasonWindow{Start: s.Start, End: s.End}
	}
	rule, err := h.Rules.Upsert(chi.URLParam(r, "species"), req.RegionID, ledger.RuleFields{
		GeohashPrefixes: req.GeohashPrefixes,
		Seasons:         seasons,
		QuotaPerSeason:  decimal.NewFromFloat(req.QuotaPerSeason),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleSetDTO(rule))
}

// =============================================================================
// DASHBOARD AND PUBLIC HANDLERS
// =============================================================================

// GetDashboard computes the aggregate view, honoring filters uniformly.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.DashboardFilter{
		Species: q.Get("species"),
		Region:  q.Get("region"),
		OrgID:   q.Get("orgId"),
	}
	if from := q.Get("from"); from != "" {
		ts, err := parseTimestamp(from, "from")
		if err != nil {
			writeError(w, err)
			return
		}
		filter.From = ts
	}
	if to := q.Get("to"); to != "" {
		ts, err := parseTimestamp(to, "to")
		if err != nil {
			writeError(w, err)
			return
		}
		filter.To = ts
	}

	data := h.Engine.Dashboard(filter)
	dto := DashboardDTO{
		Metrics: DashboardMetricsDTO{
			EventsToday:   data.Metrics.EventsToday,
			BatchesMinted: data.Metrics.BatchesMinted,
			Recalls:       data.Metrics.Recalls,
			TotalWeightKg: weightFloat(data.Metrics.TotalWeightKg),
		},
		RecentEvents: make([]RecentEventDTO, len(data.RecentEvents)),
	}
	for i, ev := range data.RecentEvents {
		dto.RecentEvents[i] = RecentEventDTO{
			ID:        ev.ID,
			Type:      ev.Type,
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
			Details:   ev.Details,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetProvenanceBundle resolves a public slug and returns the bundle.
// The lookup fires the scan notification for the read model.
func (h *Handler) GetProvenanceBundle(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Engine.BatchBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	bundle, err := h.Engine.ProvenanceBundle(batch.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBundleDTO(bundle))
}

// GetBatchBySlug returns the batch behind a public slug.
func (h *Handler) GetBatchBySlug(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Engine.BatchBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(batch))
}

// =============================================================================
// HELPERS
// =============================================================================

func orNewID(id, prefix string) string {
	if id != "" {
		return id
	}
	return prefix + "_" + uuid.NewString()
}

func parseTimestamp(value, field string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{
			Kind:    ledger.KindInvalidInput,
			Message: fmt.Sprintf("%s is not a valid RFC3339 timestamp", field),
			Field:   field,
		}
	}
	return ts, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeBadJSON(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorDTO{
		Kind:    string(ledger.KindInvalidInput),
		Message: "invalid JSON body: " + err.Error(),
	})
}

// writeError maps engine rejections to 4xx, everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		writeJSON(w, http.StatusInternalServerError, ErrorDTO{
			Kind:    "INTERNAL",
			Message: err.Error(),
		})
		return
	}

	status := http.StatusBadRequest
	switch {
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case ledger.IsConflict(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, ErrorDTO{
		Kind:    string(verr.Kind),
		Message: verr.Message,
		Field:   verr.Field,
	})
}
