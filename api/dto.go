/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes for the REST surface, decoupled from the ledger entities.
  Wire fields are camelCase to match the collector app and consumer
  portal. Mass quantities travel as JSON numbers and are converted to
  decimal at the handler boundary.

NAMING CONVENTION:
  - *DTO:     response types returned to clients
  - *Request: request body types from clients

VALIDATION:
  Structural validation (parseable timestamps, known enums) happens in
  handlers; business rules live in the ledger package. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: conversion helpers and endpoints
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/supremekai52/neocrypt/ledger"
)

// =============================================================================
// EVENT SUBMISSIONS
// =============================================================================

// InitialQualityDTO mirrors the field-side quality assessment.
type InitialQualityDTO struct {
	MoisturePct      float64  `json:"moisturePct"`
	ForeignMatterPct *float64 `json:"foreignMatterPct,omitempty"`
}

// CollectionEventRequest submits a harvest for admission.
type CollectionEventRequest struct {
	ID             string            `json:"id,omitempty"`
	SpeciesCode    string            `json:"speciesCode"`
	SpeciesName    string            `json:"speciesName"`
	Part           string            `json:"part"`
	OrgID          string            `json:"orgId"`
	CollectorID    string            `json:"collectorId"`
	Timestamp      string            `json:"timestamp"`
	Lat            float64           `json:"lat"`
	Lon            float64           `json:"lon"`
	Geohash        string            `json:"geohash"`
	GPSAccuracy    float64           `json:"gpsAccuracy"`
	HarvestMethod  string            `json:"harvestMethod"`
	PermitsRef     string            `json:"permitsRef,omitempty"`
	MediaRefs      []string          `json:"mediaRefs,omitempty"`
	InitialQuality InitialQualityDTO `json:"initialQuality"`
	RegionID       string            `json:"regionId"`
	WeightKg       float64           `json:"weightKg"`
}

// CollectionEventDTO is the response projection of an admitted harvest.
type CollectionEventDTO struct {
	ID             string            `json:"id"`
	SpeciesCode    string            `json:"speciesCode"`
	SpeciesName    string            `json:"speciesName"`
	Part           string            `json:"part"`
	OrgID          string            `json:"orgId"`
	CollectorID    string            `json:"collectorId"`
	Timestamp      string            `json:"timestamp"`
	Lat            float64           `json:"lat"`
	Lon            float64           `json:"lon"`
	Geohash        string            `json:"geohash"`
	GPSAccuracy    float64           `json:"gpsAccuracy"`
	HarvestMethod  string            `json:"harvestMethod"`
	InitialQuality InitialQualityDTO `json:"initialQuality"`
	RulesVersion   string            `json:"rulesVersion"`
	RegionID       string            `json:"regionId"`
	WeightKg       float64           `json:"weightKg"`
}

// StepConditionsDTO mirrors the optional environmental envelope.
type StepConditionsDTO struct {
	TempC       *float64 `json:"tempC,omitempty"`
	HumidityPct *float64 `json:"humidityPct,omitempty"`
	DurationHrs *float64 `json:"durationHrs,omitempty"`
}

// ProcessingStepRequest submits a processing step.
type ProcessingStepRequest struct {
	ID              string            `json:"id,omitempty"`
	InputRefs       []string          `json:"inputRefs"`
	Type            string            `json:"type"`
	TimestampStart  string            `json:"timestampStart"`
	TimestampEnd    string            `json:"timestampEnd"`
	Conditions      StepConditionsDTO `json:"conditions"`
	FacilityID      string            `json:"facilityId"`
	LocationGeohash string            `json:"locationGeohash,omitempty"`
	OperatorID      string            `json:"operatorId"`
	MediaRefs       []string          `json:"mediaRefs,omitempty"`
	OutputWeightKg  float64           `json:"outputWeightKg"`
}

// ProcessingStepDTO is the response projection of an admitted step.
type ProcessingStepDTO struct {
	ID             string            `json:"id"`
	InputRefs      []string          `json:"inputRefs"`
	Type           string            `json:"type"`
	TimestampStart string            `json:"timestampStart"`
	TimestampEnd   string            `json:"timestampEnd"`
	Conditions     StepConditionsDTO `json:"conditions"`
	FacilityID     string            `json:"facilityId"`
	OperatorID     string            `json:"operatorId"`
	OutputWeightKg float64           `json:"outputWeightKg"`
}

// TestResultDTO mirrors a lab result.
type TestResultDTO struct {
	Value     string `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Pass      bool   `json:"pass"`
	MethodRef string `json:"methodRef,omitempty"`
}

// QualityTestRequest submits a lab result.
type QualityTestRequest struct {
	ID                      string        `json:"id,omitempty"`
	SubjectRef              string        `json:"subjectRef"`
	LabOrgID                string        `json:"labOrgId"`
	TestType                string        `json:"testType"`
	SpecVersion             string        `json:"specVersion"`
	Result                  TestResultDTO `json:"result"`
	ArtifactRef             string        `json:"artifactRef"`
	ArtifactHash            string        `json:"artifactHash"`
	VerifiableCredentialRef string        `json:"verifiableCredentialRef,omitempty"`
	Timestamp               string        `json:"timestamp"`
}

// QualityTestDTO is the response projection of an admitted test.
type QualityTestDTO struct {
	ID          string        `json:"id"`
	SubjectRef  string        `json:"subjectRef"`
	LabOrgID    string        `json:"labOrgId"`
	TestType    string        `json:"testType"`
	SpecVersion string        `json:"specVersion"`
	Result      TestResultDTO `json:"result"`
	Timestamp   string        `json:"timestamp"`
}

// CustodyEventRequest submits a custody transfer.
type CustodyEventRequest struct {
	ID            string            `json:"id,omitempty"`
	FromOrgID     string            `json:"fromOrgId"`
	ToOrgID       string            `json:"toOrgId"`
	SubjectRefs   []string          `json:"subjectRefs"`
	WeighmentKg   float64           `json:"weighmentKg"`
	TransportMeta map[string]string `json:"transportMeta,omitempty"`
	Timestamp     string            `json:"timestamp"`
}

// SubmittedDTO acknowledges an admission with the assigned id.
type SubmittedDTO struct {
	ID string `json:"id"`
}

// =============================================================================
// BATCHES
// =============================================================================

// BatchInputDTO links a batch to one upstream entity.
type BatchInputDTO struct {
	RefID    string  `json:"refId"`
	WeightKg float64 `json:"weightKg"`
}

// FormulationLineDTO is one bill-of-materials line.
type FormulationLineDTO struct {
	IngredientID string   `json:"ingredientId,omitempty"`
	BatchID      string   `json:"batchId,omitempty"`
	Grams        *float64 `json:"grams,omitempty"`
	Pct          *float64 `json:"pct,omitempty"`
}

// BOMDTO mirrors the bill of materials.
type BOMDTO struct {
	LotCode     string               `json:"lotCode"`
	Formulation []FormulationLineDTO `json:"formulation,omitempty"`
}

// CreateBatchRequest creates a DRAFT batch.
type CreateBatchRequest struct {
	ManufacturerOrgID string          `json:"manufacturerOrgId"`
	Inputs            []BatchInputDTO `json:"inputs"`
	BOM               BOMDTO          `json:"bom"`
	QAGates           []string        `json:"qaGates,omitempty"`
}

// RecallBatchRequest carries the recall reason.
type RecallBatchRequest struct {
	Reason string `json:"reason"`
}

// BatchDTO is the response projection of a batch.
type BatchDTO struct {
	ID                string          `json:"id"`
	ManufacturerOrgID string          `json:"manufacturerOrgId"`
	Inputs            []BatchInputDTO `json:"inputs"`
	BOM               BOMDTO          `json:"bom"`
	QAGates           []string        `json:"qaGates"`
	Status            string          `json:"status"`
	QRSerial          string          `json:"qrSerial,omitempty"`
	PublicSlug        string          `json:"publicSlug,omitempty"`
	RecallReason      string          `json:"recallReason,omitempty"`
	CreatedAt         string          `json:"createdAt"`
	UpdatedAt         string          `json:"updatedAt"`
}

// MintResultDTO is returned by a successful mint.
type MintResultDTO struct {
	QRSerial string `json:"qrSerial"`
	Slug     string `json:"slug"`
}

// =============================================================================
// RULES
// =============================================================================

// SeasonDTO is one MM-DD window.
type SeasonDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// UpsertRuleRequest creates or replaces a rule set.
type UpsertRuleRequest struct {
	RegionID        string      `json:"regionId"`
	GeohashPrefixes []string    `json:"geohashPrefixes"`
	Seasons         []SeasonDTO `json:"seasons"`
	QuotaPerSeason  float64     `json:"quotaPerSeason"`
}

// RuleSetDTO is the response projection of a rule set.
type RuleSetDTO struct {
	SpeciesCode     string      `json:"speciesCode"`
	RegionID        string      `json:"regionId"`
	GeohashPrefixes []string    `json:"geohashPrefixes"`
	Seasons         []SeasonDTO `json:"seasons"`
	QuotaPerSeason  float64     `json:"quotaPerSeason"`
	Version         string      `json:"version"`
}

// =============================================================================
// DASHBOARD AND PROVENANCE
// =============================================================================

// DashboardMetricsDTO mirrors the aggregate counters.
type DashboardMetricsDTO struct {
	EventsToday   int     `json:"eventsToday"`
	BatchesMinted int     `json:"batchesMinted"`
	Recalls       int     `json:"recalls"`
	TotalWeightKg float64 `json:"totalWeight"`
}

// RecentEventDTO is one row of the merged feed.
type RecentEventDTO struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Details   string `json:"details"`
}

// DashboardDTO is the full dashboard payload.
type DashboardDTO struct {
	Metrics      DashboardMetricsDTO `json:"metrics"`
	RecentEvents []RecentEventDTO    `json:"recentEvents"`
}

// TimelineEntryDTO is one step of a provenance timeline.
type TimelineEntryDTO struct {
	T      string `json:"t"`
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
	Region string `json:"region,omitempty"`
}

// CertificateDTO is one compliance artifact.
type CertificateDTO struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	URL    string `json:"url"`
}

// ProvenanceBundleDTO is the public provenance payload.
type ProvenanceBundleDTO struct {
	BundleID string `json:"bundleId"`
	BatchID  string `json:"batchId"`
	Summary  struct {
		Species      string `json:"species"`
		Manufacturer string `json:"manufacturer"`
		Status       string `json:"status"`
		Lot          string `json:"lot"`
	} `json:"summary"`
	Map struct {
		Region          string `json:"region"`
		CentroidGeohash string `json:"centroidGeohash"`
	} `json:"map"`
	Timeline   []TimelineEntryDTO `json:"timeline"`
	Compliance struct {
		RulesVersion string           `json:"rulesVersion"`
		FairTrade    bool             `json:"fairTrade"`
		Certificates []CertificateDTO `json:"certificates"`
	} `json:"compliance"`
}

// ErrorDTO is the structured rejection payload: kind and message verbatim
// from the engine, plus the offending field when known.
type ErrorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func weightFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func toCollectionDTO(ev ledger.CollectionEvent) CollectionEventDTO {
	return CollectionEventDTO{
		ID:            ev.ID,
		SpeciesCode:   ev.SpeciesCode,
		SpeciesName:   ev.SpeciesName,
		Part:          string(ev.Part),
		OrgID:         ev.OrgID,
		CollectorID:   ev.CollectorID,
		Timestamp:     ev.Timestamp.UTC().Format(time.RFC3339),
		Lat:           ev.Lat,
		Lon:           ev.Lon,
		Geohash:       ev.Geohash,
		GPSAccuracy:   ev.GPSAccuracy,
		HarvestMethod: string(ev.HarvestMethod),
		InitialQuality: InitialQualityDTO{
			MoisturePct:      ev.InitialQuality.MoisturePct,
			ForeignMatterPct: ev.InitialQuality.ForeignMatterPct,
		},
		RulesVersion: ev.RulesVersion,
		RegionID:     ev.RegionID,
		WeightKg:     weightFloat(ev.WeightKg),
	}
}

func toStepDTO(step ledger.ProcessingStep) ProcessingStepDTO {
	return ProcessingStepDTO{
		ID:             step.ID,
		InputRefs:      step.InputRefs,
		Type:           string(step.Type),
		TimestampStart: step.TimestampStart.UTC().Format(time.RFC3339),
		TimestampEnd:   step.TimestampEnd.UTC().Format(time.RFC3339),
		Conditions: StepConditionsDTO{
			TempC:       step.Conditions.TempC,
			HumidityPct: step.Conditions.HumidityPct,
			DurationHrs: step.Conditions.DurationHrs,
		},
		FacilityID:     step.FacilityID,
		OperatorID:     step.OperatorID,
		OutputWeightKg: weightFloat(step.OutputWeightKg),
	}
}

func toTestDTO(test ledger.QualityTest) QualityTestDTO {
	return QualityTestDTO{
		ID:          test.ID,
		SubjectRef:  test.SubjectRef,
		LabOrgID:    test.LabOrgID,
		TestType:    string(test.TestType),
		SpecVersion: test.SpecVersion,
		Result: TestResultDTO{
			Value:     test.Result.Value,
			Unit:      test.Result.Unit,
			Pass:      test.Result.Pass,
			MethodRef: test.Result.MethodRef,
		},
		Timestamp: test.Timestamp.UTC().Format(time.RFC3339),
	}
}

func toBatchDTO(batch ledger.Batch) BatchDTO {
	inputs := make([]BatchInputDTO, len(batch.Inputs))
	for i, in := range batch.Inputs {
		inputs[i] = BatchInputDTO{RefID: in.RefID, WeightKg: weightFloat(in.WeightKg)}
	}
	formulation := make([]FormulationLineDTO, len(batch.BOM.Formulation))
	for i, line := range batch.BOM.Formulation {
		formulation[i] = FormulationLineDTO{
			IngredientID: line.IngredientID,
			BatchID:      line.BatchID,
			Grams:        line.Grams,
			Pct:          line.Pct,
		}
	}
	return BatchDTO{
		ID:                batch.ID,
		ManufacturerOrgID: batch.ManufacturerOrgID,
		Inputs:            inputs,
		BOM:               BOMDTO{LotCode: batch.BOM.LotCode, Formulation: formulation},
		QAGates:           batch.QAGates,
		Status:            string(batch.Status),
		QRSerial:          batch.QRSerial,
		PublicSlug:        batch.PublicSlug,
		RecallReason:      batch.RecallReason,
		CreatedAt:         batch.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         batch.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toRuleSetDTO(rule ledger.RuleSet) RuleSetDTO {
	seasons := make([]SeasonDTO, len(rule.Seasons))
	for i, s := range rule.Seasons {
		seasons[i] = SeasonDTO{Start: s.Start, End: s.End}
	}
	return RuleSetDTO{
		SpeciesCode:     rule.SpeciesCode,
		RegionID:        rule.RegionID,
		GeohashPrefixes: rule.GeohashPrefixes,
		Seasons:         seasons,
		QuotaPerSeason:  weightFloat(rule.QuotaPerSeason),
		Version:         rule.Version,
	}
}

func toBundleDTO(bundle ledger.ProvenanceBundle) ProvenanceBundleDTO {
	var dto ProvenanceBundleDTO
	dto.BundleID = bundle.BundleID
	dto.BatchID = bundle.BatchID
	dto.Summary.Species = bundle.Summary.Species
	dto.Summary.Manufacturer = bundle.Summary.Manufacturer
	dto.Summary.Status = string(bundle.Summary.Status)
	dto.Summary.Lot = bundle.Summary.Lot
	dto.Map.Region = bundle.Map.Region
	dto.Map.CentroidGeohash = bundle.Map.CentroidGeohash
	dto.Timeline = make([]TimelineEntryDTO, len(bundle.Timeline))
	for i, entry := range bundle.Timeline {
		dto.Timeline[i] = TimelineEntryDTO{
			T:      entry.At.UTC().Format(time.RFC3339),
			Type:   entry.Type,
			Detail: entry.Detail,
			Region: entry.Region,
		}
	}
	dto.Compliance.RulesVersion = bundle.Compliance.RulesVersion
	dto.Compliance.FairTrade = bundle.Compliance.FairTrade
	dto.Compliance.Certificates = make([]CertificateDTO, len(bundle.Compliance.Certificates))
	for i, cert := range bundle.Compliance.Certificates {
		dto.Compliance.Certificates[i] = CertificateDTO{Name: cert.Name, SHA256: cert.SHA256, URL: cert.URL}
	}
	return dto
}
