/*
engine.go - Admission: validate-then-append over the in-memory event log

PURPOSE:
  The Engine is the single writer over the event log. Each admission is
  atomic: the candidate event is validated against the rule store and the
  current log, then appended, with no interleaving that could invalidate a
  checked precondition. The log is append-only - no update, no delete;
  corrections happen via new events or explicit batch status transitions.

ADMISSION PIPELINE (collection events, short-circuits on first failure):
  1. structural field checks        -> INVALID_INPUT
  2. rule lookup                    -> SPECIES_NOT_CONFIGURED
  3. geohash prefix match           -> GEO_FENCE_VIOLATION
  4. season window (UTC month-day)  -> OUT_OF_SEASON
  5. quota check-and-increment      -> QUOTA_EXCEEDED
  6. id uniqueness + append         -> DUPLICATE_ID

CONCURRENCY:
  Quota buckets are keyed (species, region, calendar year) and carry their
  own mutex, so two concurrent admissions against one bucket serialize
  while unrelated buckets proceed. The entity maps sit behind an RWMutex;
  reads observe a consistent snapshot. Lock order is always bucket lock
  before map lock.

SEE ALSO:
  - rules.go:      the RuleSet checks
  - batch.go:      batch lifecycle operations
  - projection.go: read views over the log
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// listCap bounds all listing queries, mirroring the read model's page size.
const listCap = 50

// defaultCredentialFailMarker flags a verifiable-credential reference as
// failing verification. Stand-in policy until a real verifier is attached.
const defaultCredentialFailMarker = "failVC=true"

// =============================================================================
// QUOTA ACCOUNTING
// =============================================================================

type quotaKey struct {
	SpeciesCode string
	RegionID    string
	Year        int
}

func (k quotaKey) String() string {
	return fmt.Sprintf("%s_%s_%d", k.SpeciesCode, k.RegionID, k.Year)
}

// quotaBucket owns the running admitted-weight total for one
// (species, region, season-year) tuple.
type quotaBucket struct {
	mu    sync.Mutex
	total decimal.Decimal
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns the event log and applies all admission rules.
type Engine struct {
	rules    *RuleStore
	notifier Notifier
	now      func() time.Time

	// strictSubjectRefs makes QualityTest admission require an existing
	// subject. Off by default: lab tests may reference external samples.
	strictSubjectRefs  bool
	credentialFailMark string

	mu      sync.RWMutex
	events  map[string]CollectionEvent
	steps   map[string]ProcessingStep
	tests   map[string]QualityTest
	custody map[string]CustodyEvent
	batches map[string]Batch

	bucketsMu sync.Mutex
	buckets   map[quotaKey]*quotaBucket
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier attaches the persistence-projection subscriber.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock injects the time source. Tests pin it for deterministic
// dashboard windows and serial generation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStrictSubjectRefs makes quality-test admission reject subject
// references that do not resolve to an admitted entity.
func WithStrictSubjectRefs() Option {
	return func(e *Engine) { e.strictSubjectRefs = true }
}

// WithCredentialFailMarker overrides the substring that marks a
// verifiable-credential reference as failing verification.
func WithCredentialFailMarker(marker string) Option {
	return func(e *Engine) { e.credentialFailMark = marker }
}

// NewEngine creates an empty engine backed by the given rule store.
func NewEngine(rules *RuleStore, opts ...Option) *Engine {
	e := &Engine{
		rules:              rules,
		notifier:           NullNotifier{},
		now:                time.Now,
		credentialFailMark: defaultCredentialFailMarker,
		events:             make(map[string]CollectionEvent),
		steps:              make(map[string]ProcessingStep),
		tests:              make(map[string]QualityTest),
		custody:            make(map[string]CustodyEvent),
		batches:            make(map[string]Batch),
		buckets:            make(map[quotaKey]*quotaBucket),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) bucket(k quotaKey) *quotaBucket {
	e.bucketsMu.Lock()
	defer e.bucketsMu.Unlock()
	b, ok := e.buckets[k]
	if !ok {
		b = &quotaBucket{total: decimal.Zero}
		e.buckets[k] = b
	}
	return b
}

// QuotaUsed returns the admitted weight accumulated against one quota
// bucket. Regulator-facing; zero for an untouched bucket.
func (e *Engine) QuotaUsed(speciesCode, regionID string, year int) decimal.Decimal {
	b := e.bucket(quotaKey{SpeciesCode: speciesCode, RegionID: regionID, Year: year})
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// =============================================================================
// COLLECTION ADMISSION
// =============================================================================

// AdmitCollectionEvent validates the candidate against the rule store and
// appends it. On success the stored event carries the rules version it was
// validated against and the admission notification has fired.
func (e *Engine) AdmitCollectionEvent(ctx context.Context, event CollectionEvent) (string, error) {
	if err := validateCollection(&event); err != nil {
		return "", err
	}

	rule, ok := e.rules.Get(event.SpeciesCode, event.RegionID)
	if !ok {
		return "", rejectField(KindSpeciesNotConfigured,
			fmt.Sprintf("species %s not configured", event.SpeciesCode), "speciesCode")
	}
	if !rule.MatchesGeofence(event.Geohash) {
		return "", rejectField(KindGeofenceViolation, "location outside allowed geofence", "geohash")
	}
	if !rule.InSeason(event.Timestamp) {
		return "", rejectField(KindOutOfSeason, "collection outside allowed season", "timestamp")
	}

	event.RulesVersion = rule.Version
	event.CreatedAt = e.now().UTC()

	// Quota check and increment must be atomic with the append; the bucket
	// lock serializes admissions for this (species, region, year) while
	// other buckets proceed.
	b := e.bucket(quotaKey{
		SpeciesCode: event.SpeciesCode,
		RegionID:    rule.RegionID,
		Year:        event.Timestamp.UTC().Year(),
	})
	b.mu.Lock()
	if b.total.Add(event.WeightKg).GreaterThan(rule.QuotaPerSeason) {
		b.mu.Unlock()
		return "", rejectField(KindQuotaExceeded, "seasonal quota exceeded", "weightKg")
	}

	e.mu.Lock()
	if _, exists := e.events[event.ID]; exists {
		e.mu.Unlock()
		b.mu.Unlock()
		return "", rejectField(KindDuplicateID,
			fmt.Sprintf("collection event %s already admitted", event.ID), "id")
	}
	e.events[event.ID] = event
	e.mu.Unlock()

	b.total = b.total.Add(event.WeightKg)
	b.mu.Unlock()

	e.notifier.CollectionEventAdmitted(ctx, event)
	return event.ID, nil
}

func validateCollection(event *CollectionEvent) error {
	if event.ID == "" {
		return rejectField(KindInvalidInput, "id is required", "id")
	}
	if event.SpeciesCode == "" {
		return rejectField(KindInvalidInput, "species code is required", "speciesCode")
	}
	if event.Timestamp.IsZero() {
		return rejectField(KindInvalidInput, "timestamp is required", "timestamp")
	}
	if event.Lat < -90 || event.Lat > 90 {
		return rejectField(KindInvalidInput, "latitude must be within [-90, 90]", "lat")
	}
	if event.Lon < -180 || event.Lon > 180 {
		return rejectField(KindInvalidInput, "longitude must be within [-180, 180]", "lon")
	}
	if event.Geohash == "" {
		return rejectField(KindInvalidInput, "geohash is required", "geohash")
	}
	if event.GPSAccuracy < 0 {
		return rejectField(KindInvalidInput, "gps accuracy must not be negative", "gpsAccuracy")
	}
	if !event.WeightKg.IsPositive() {
		return rejectField(KindInvalidInput, "weight must be positive", "weightKg")
	}
	if q := event.InitialQuality.MoisturePct; q < 0 || q > 100 {
		return rejectField(KindInvalidInput, "moisture must be within [0, 100]", "initialQuality.moisturePct")
	}
	if fm := event.InitialQuality.ForeignMatterPct; fm != nil && (*fm < 0 || *fm > 100) {
		return rejectField(KindInvalidInput, "foreign matter must be within [0, 100]", "initialQuality.foreignMatterPct")
	}
	return nil
}

// =============================================================================
// DOWNSTREAM ADMISSIONS
// =============================================================================

// refExistsLocked reports whether id resolves to an admitted collection
// event or processing step. Caller holds at least a read lock.
func (e *Engine) refExistsLocked(id string) bool {
	if _, ok := e.events[id]; ok {
		return true
	}
	_, ok := e.steps[id]
	return ok
}

// AdmitProcessingStep validates input references and appends the step.
func (e *Engine) AdmitProcessingStep(ctx context.Context, step ProcessingStep) (string, error) {
	if step.ID == "" {
		return "", rejectField(KindInvalidInput, "id is required", "id")
	}
	if len(step.InputRefs) == 0 {
		return "", rejectField(KindInvalidInput, "at least one input reference is required", "inputRefs")
	}
	if !step.OutputWeightKg.IsPositive() {
		return "", rejectField(KindInvalidInput, "output weight must be positive", "outputWeightKg")
	}
	step.CreatedAt = e.now().UTC()

	e.mu.Lock()
	for _, ref := range step.InputRefs {
		if !e.refExistsLocked(ref) {
			e.mu.Unlock()
			return "", rejectField(KindInvalidReference,
				fmt.Sprintf("input reference %s not found", ref), ref)
		}
	}
	if _, exists := e.steps[step.ID]; exists {
		e.mu.Unlock()
		return "", rejectField(KindDuplicateID,
			fmt.Sprintf("processing step %s already admitted", step.ID), "id")
	}
	e.steps[step.ID] = step
	e.mu.Unlock()

	e.notifier.ProcessingStepAdmitted(ctx, step)
	return step.ID, nil
}

// AdmitQualityTest verifies the attached credential (when present) and
// appends the test. Subject references are not required to resolve unless
// the engine was built with WithStrictSubjectRefs: lab tests may cover
// samples that never entered this log.
func (e *Engine) AdmitQualityTest(ctx context.Context, test QualityTest) (string, error) {
	if test.ID == "" {
		return "", rejectField(KindInvalidInput, "id is required", "id")
	}
	if test.SubjectRef == "" {
		return "", rejectField(KindInvalidInput, "subject reference is required", "subjectRef")
	}
	if ref := test.VerifiableCredentialRef; ref != "" && strings.Contains(ref, e.credentialFailMark) {
		return "", rejectField(KindCredentialFailed,
			"verifiable credential verification failed", "verifiableCredentialRef")
	}
	test.CreatedAt = e.now().UTC()

	e.mu.Lock()
	if e.strictSubjectRefs && !e.refExistsLocked(test.SubjectRef) {
		e.mu.Unlock()
		return "", rejectField(KindInvalidReference,
			fmt.Sprintf("subject reference %s not found", test.SubjectRef), test.SubjectRef)
	}
	if _, exists := e.tests[test.ID]; exists {
		e.mu.Unlock()
		return "", rejectField(KindDuplicateID,
			fmt.Sprintf("quality test %s already admitted", test.ID), "id")
	}
	e.tests[test.ID] = test
	e.mu.Unlock()

	e.notifier.QualityTestAdmitted(ctx, test)
	return test.ID, nil
}

// AdmitCustodyEvent validates subject references and appends the transfer.
func (e *Engine) AdmitCustodyEvent(ctx context.Context, custody CustodyEvent) (string, error) {
	if custody.ID == "" {
		return "", rejectField(KindInvalidInput, "id is required", "id")
	}
	if len(custody.SubjectRefs) == 0 {
		return "", rejectField(KindInvalidInput, "at least one subject reference is required", "subjectRefs")
	}
	if !custody.WeighmentKg.IsPositive() {
		return "", rejectField(KindInvalidInput, "weighment must be positive", "weighmentKg")
	}
	custody.CreatedAt = e.now().UTC()

	e.mu.Lock()
	for _, ref := range custody.SubjectRefs {
		if !e.refExistsLocked(ref) {
			e.mu.Unlock()
			return "", rejectField(KindInvalidReference,
				fmt.Sprintf("subject reference %s not found", ref), ref)
		}
	}
	if _, exists := e.custody[custody.ID]; exists {
		e.mu.Unlock()
		return "", rejectField(KindDuplicateID,
			fmt.Sprintf("custody event %s already admitted", custody.ID), "id")
	}
	e.custody[custody.ID] = custody
	e.mu.Unlock()

	e.notifier.CustodyEventAdmitted(ctx, custody)
	return custody.ID, nil
}

// =============================================================================
// LISTING QUERIES
// =============================================================================

// CollectionEvents returns admitted collection events, newest first,
// optionally filtered by collecting organization. Capped at 50.
func (e *Engine) CollectionEvents(orgID string) []CollectionEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []CollectionEvent
	for _, ev := range e.events {
		if orgID != "" && ev.OrgID != orgID {
			continue
		}
		result = append(result, ev)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return capList(result)
}

// ProcessingSteps returns admitted steps, newest first, optionally
// filtered by facility organization. Capped at 50.
func (e *Engine) ProcessingSteps(orgID string) []ProcessingStep {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []ProcessingStep
	for _, step := range e.steps {
		if orgID != "" && step.FacilityID != orgID {
			continue
		}
		result = append(result, step)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampStart.After(result[j].TimestampStart)
	})
	return capList(result)
}

// QualityTests returns admitted tests, newest first, optionally filtered
// by lab organization. Capped at 50.
func (e *Engine) QualityTests(orgID string) []QualityTest {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []QualityTest
	for _, test := range e.tests {
		if orgID != "" && test.LabOrgID != orgID {
			continue
		}
		result = append(result, test)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return capList(result)
}

// CustodyEvents returns admitted custody transfers, newest first,
// optionally filtered by either party. Capped at 50.
func (e *Engine) CustodyEvents(orgID string) []CustodyEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []CustodyEvent
	for _, c := range e.custody {
		if orgID != "" && c.FromOrgID != orgID && c.ToOrgID != orgID {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return capList(result)
}

func capList[T any](list []T) []T {
	if len(list) > listCap {
		return list[:listCap]
	}
	return list
}
