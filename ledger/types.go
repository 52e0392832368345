/*
Package ledger provides the event validation and provenance engine.

PURPOSE:
  This package contains the core traceability engine: an append-only,
  in-memory log of supply-chain events (collection, processing, quality,
  custody, batches) guarded by a rule-driven validator. Everything else
  in the system - HTTP handlers, the SQLite read model, QR rendering -
  is a thin consumer of this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - CollectionEvent: a harvest recorded by a collector, immutable once admitted
  - ProcessingStep:  a transformation (drying, grinding, ...) over prior events
  - QualityTest:     a lab result attached to a prior entity
  - CustodyEvent:    physical hand-over between two organizations
  - Batch:           the manufacturer-assembled unit, the only mutable entity
  - RuleSet:         per-species, per-region harvesting constraints

DESIGN PRINCIPLES:
  1. Immutability: admitted events are never updated or deleted
  2. Precision: mass quantities use decimal.Decimal, never float64
  3. Auditability: every event carries the rules version it passed

SEE ALSO:
  - rules.go:      RuleSet lookup and upsert
  - engine.go:     admission (validate-then-append)
  - batch.go:      batch lifecycle state machine
  - projection.go: dashboard and provenance read views
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

// PlantPart identifies which part of the plant was harvested.
type PlantPart string

const (
	PartRoot       PlantPart = "ROOT"
	PartLeaf       PlantPart = "LEAF"
	PartSeed       PlantPart = "SEED"
	PartBark       PlantPart = "BARK"
	PartFlower     PlantPart = "FLOWER"
	PartWholePlant PlantPart = "WHOLE_PLANT"
)

// HarvestMethod distinguishes cultivated from wild collection.
type HarvestMethod string

const (
	HarvestCultivated HarvestMethod = "CULTIVATED"
	HarvestWild       HarvestMethod = "WILD"
)

// StepType identifies a processing transformation.
type StepType string

const (
	StepDrying   StepType = "DRYING"
	StepGrinding StepType = "GRINDING"
	StepStorage  StepType = "STORAGE"
	StepPacking  StepType = "PACKING"
)

// TestType identifies a quality test discipline.
type TestType string

const (
	TestMoisture   TestType = "MOISTURE"
	TestPesticide  TestType = "PESTICIDE"
	TestDNA        TestType = "DNA"
	TestHeavyMetal TestType = "HEAVY_METAL"
	TestMicrobial  TestType = "MICROBIAL"
)

// BatchStatus is the lifecycle state of a batch.
// DRAFT -> MINTED -> RELEASED, with MINTED/RELEASED -> RECALLED (terminal).
type BatchStatus string

const (
	StatusDraft    BatchStatus = "DRAFT"
	StatusMinted   BatchStatus = "MINTED"
	StatusReleased BatchStatus = "RELEASED"
	StatusRecalled BatchStatus = "RECALLED"
)

// Role is the identity context of an acting user. The engine never mutates
// identity records; roles are referenced by the surrounding API layer.
type Role string

const (
	RoleFarmer       Role = "FARMER"
	RoleProcessor    Role = "PROCESSOR"
	RoleLab          Role = "LAB"
	RoleManufacturer Role = "MANUFACTURER"
	RoleRegulator    Role = "REGULATOR"
	RoleViewer       Role = "VIEWER"
)

// =============================================================================
// RULE SET
// =============================================================================

// SeasonWindow is a recurring MM-DD calendar range during which harvesting
// is permitted. When Start > End the window wraps across the year boundary
// (e.g. 10-01 .. 03-31).
type SeasonWindow struct {
	Start string
	End   string
}

// RuleSet holds the harvesting constraints for one (species, region) pair.
// A RuleSet registered with an empty RegionID acts as the species-wide
// fallback when no region-specific variant exists.
type RuleSet struct {
	SpeciesCode     string
	RegionID        string
	GeohashPrefixes []string
	Seasons         []SeasonWindow
	QuotaPerSeason  decimal.Decimal
	Version         string
}

// =============================================================================
// EVENT ENTITIES - immutable once admitted
// =============================================================================

// InitialQuality is the field-side quality assessment taken at collection.
type InitialQuality struct {
	MoisturePct      float64
	ForeignMatterPct *float64
}

// CollectionEvent records a single harvest. Created exactly once via
// admission; never updated or deleted.
type CollectionEvent struct {
	ID             string
	SpeciesCode    string
	SpeciesName    string
	Part           PlantPart
	OrgID          string
	CollectorID    string
	Timestamp      time.Time
	Lat            float64
	Lon            float64
	Geohash        string
	GPSAccuracy    float64
	HarvestMethod  HarvestMethod
	PermitsRef     string
	MediaRefs      []string
	InitialQuality InitialQuality
	RulesVersion   string
	RegionID       string
	WeightKg       decimal.Decimal
	CreatedAt      time.Time
}

// StepConditions carries the optional environmental envelope of a
// processing step.
type StepConditions struct {
	TempC       *float64
	HumidityPct *float64
	DurationHrs *float64
}

// ProcessingStep records a transformation over one or more prior
// collection events or processing steps.
type ProcessingStep struct {
	ID              string
	InputRefs       []string
	Type            StepType
	TimestampStart  time.Time
	TimestampEnd    time.Time
	Conditions      StepConditions
	FacilityID      string
	LocationGeohash string
	OperatorID      string
	MediaRefs       []string
	OutputWeightKg  decimal.Decimal
	CreatedAt       time.Time
}

// TestResult is the outcome of a quality test.
type TestResult struct {
	Value     string
	Unit      string
	Pass      bool
	MethodRef string
}

// QualityTest records a lab result against a prior entity.
type QualityTest struct {
	ID                      string
	SubjectRef              string
	LabOrgID                string
	TestType                TestType
	SpecVersion             string
	Result                  TestResult
	ArtifactRef             string
	ArtifactHash            string
	VerifiableCredentialRef string
	Timestamp               time.Time
	CreatedAt               time.Time
}

// CustodyEvent records a transfer of physical custody between two
// organizations for a set of prior entities.
type CustodyEvent struct {
	ID            string
	FromOrgID     string
	ToOrgID       string
	SubjectRefs   []string
	WeighmentKg   decimal.Decimal
	TransportMeta map[string]string
	Timestamp     time.Time
	CreatedAt     time.Time
}

// =============================================================================
// BATCH
// =============================================================================

// BatchInput links a batch to one upstream entity with its contributed mass.
type BatchInput struct {
	RefID    string
	WeightKg decimal.Decimal
}

// FormulationLine is one ingredient line of a bill of materials.
type FormulationLine struct {
	IngredientID string
	BatchID      string
	Grams        *float64
	Pct          *float64
}

// BillOfMaterials describes what a batch is made of.
type BillOfMaterials struct {
	LotCode     string
	Formulation []FormulationLine
}

// Batch is the manufacturer-assembled unit minted with a public QR code.
// The only entity whose status mutates after admission.
type Batch struct {
	ID                string
	ManufacturerOrgID string
	Inputs            []BatchInput
	BOM               BillOfMaterials
	QAGates           []string
	Status            BatchStatus
	QRSerial          string
	PublicSlug        string
	RecallReason      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BatchDraft is the caller-supplied portion of a new batch.
type BatchDraft struct {
	ManufacturerOrgID string
	Inputs            []BatchInput
	BOM               BillOfMaterials
	QAGates           []string
}

// MintResult is returned by a successful mint.
type MintResult struct {
	QRSerial string
	Slug     string
}
