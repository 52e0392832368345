/*
projection.go - Read views derived from the event log

PURPOSE:
  Answers dashboard and consumer-portal reads purely from the in-memory
  log, never mutating it. Three views:

  Dashboard:        aggregate metrics plus the 10 most recent events
  ProvenanceBundle: the chronologically ordered upstream history of a batch
  BatchBySlug:      public QR lookup, which also fires a scan notification

KEY INSIGHT:
  Every view is a full scan over current state. The log is bounded by what
  one process admits in memory, so scans are cheap and keep the views
  trivially consistent - there is no cache to invalidate.

FILTERS:
  Dashboard filters (species, region, org, date range) apply uniformly to
  both the metrics and the recent-events feed. A filter left empty matches
  everything.

SEE ALSO:
  - engine.go: the state these views read
  - batch.go:  batch status feeding the minted/recalled counts
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// recentEventsCap bounds the dashboard feed.
const recentEventsCap = 10

// =============================================================================
// DASHBOARD
// =============================================================================

// DashboardFilter narrows the dashboard to a slice of the log. Zero values
// match everything.
type DashboardFilter struct {
	Species string
	Region  string
	OrgID   string
	From    time.Time
	To      time.Time
}

func (f DashboardFilter) matchesCollection(ev CollectionEvent) bool {
	if f.Species != "" && ev.SpeciesCode != f.Species {
		return false
	}
	if f.Region != "" && ev.RegionID != f.Region {
		return false
	}
	if f.OrgID != "" && ev.OrgID != f.OrgID {
		return false
	}
	return f.matchesRange(ev.Timestamp)
}

func (f DashboardFilter) matchesStep(step ProcessingStep) bool {
	// Steps carry no species or region; only org and range apply.
	if f.Species != "" || f.Region != "" {
		return false
	}
	if f.OrgID != "" && step.FacilityID != f.OrgID {
		return false
	}
	return f.matchesRange(step.TimestampStart)
}

func (f DashboardFilter) matchesRange(at time.Time) bool {
	if !f.From.IsZero() && at.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && at.After(f.To) {
		return false
	}
	return true
}

// DashboardMetrics are the aggregate counters shown on the overview screen.
type DashboardMetrics struct {
	EventsToday   int
	BatchesMinted int
	Recalls       int
	TotalWeightKg decimal.Decimal
}

// RecentEvent is one row of the merged collection/processing feed.
type RecentEvent struct {
	ID        string
	Type      string
	Timestamp time.Time
	Details   string
}

// DashboardData is the full dashboard payload.
type DashboardData struct {
	Metrics      DashboardMetrics
	RecentEvents []RecentEvent
}

// Dashboard computes the aggregate view by full scan of current state.
// EventsToday counts collection events admitted on the current UTC
// calendar day; BatchesMinted counts MINTED and RELEASED batches.
func (e *Engine) Dashboard(filter DashboardFilter) DashboardData {
	e.mu.RLock()
	defer e.mu.RUnlock()

	today := e.now().UTC().Truncate(24 * time.Hour)

	metrics := DashboardMetrics{TotalWeightKg: decimal.Zero}
	var feed []RecentEvent

	for _, ev := range e.events {
		if !filter.matchesCollection(ev) {
			continue
		}
		if !ev.Timestamp.UTC().Before(today) {
			metrics.EventsToday++
		}
		metrics.TotalWeightKg = metrics.TotalWeightKg.Add(ev.WeightKg)
		feed = append(feed, RecentEvent{
			ID:        ev.ID,
			Type:      "Collection",
			Timestamp: ev.Timestamp,
			Details:   fmt.Sprintf("%s - %skg", ev.SpeciesName, ev.WeightKg.String()),
		})
	}
	for _, step := range e.steps {
		if !filter.matchesStep(step) {
			continue
		}
		feed = append(feed, RecentEvent{
			ID:        step.ID,
			Type:      "Processing",
			Timestamp: step.TimestampStart,
			Details:   fmt.Sprintf("%s - %skg", step.Type, step.OutputWeightKg.String()),
		})
	}
	for _, batch := range e.batches {
		switch batch.Status {
		case StatusMinted, StatusReleased:
			metrics.BatchesMinted++
		case StatusRecalled:
			metrics.Recalls++
		}
	}

	sort.SliceStable(feed, func(i, j int) bool {
		if !feed[i].Timestamp.Equal(feed[j].Timestamp) {
			return feed[i].Timestamp.After(feed[j].Timestamp)
		}
		return feed[i].ID < feed[j].ID
	})
	if len(feed) > recentEventsCap {
		feed = feed[:recentEventsCap]
	}

	return DashboardData{Metrics: metrics, RecentEvents: feed}
}

// =============================================================================
// PROVENANCE BUNDLE
// =============================================================================

// TimelineEntry is one step of a batch's reconstructed history.
type TimelineEntry struct {
	At     time.Time
	Type   string
	Detail string
	Region string
}

// Certificate is a compliance artifact attached to the bundle.
type Certificate struct {
	Name   string
	SHA256 string
	URL    string
}

// Compliance is the static compliance block of a bundle, derived from
// batch metadata, not recomputed per call.
type Compliance struct {
	RulesVersion string
	FairTrade    bool
	Certificates []Certificate
}

// BundleSummary is the headline block of a bundle.
type BundleSummary struct {
	Species      string
	Manufacturer string
	Status       BatchStatus
	Lot          string
}

// BundleMap locates the bundle for the map widget.
type BundleMap struct {
	Region          string
	CentroidGeohash string
}

// ProvenanceBundle is the read-only reconstruction of a batch's upstream
// history for public display. Derived on demand, never stored.
type ProvenanceBundle struct {
	BundleID   string
	BatchID    string
	Summary    BundleSummary
	Map        BundleMap
	Timeline   []TimelineEntry
	Compliance Compliance
}

// ProvenanceBundle assembles the bundle for a batch: one Collection entry
// per input that resolves to a collection event, one Processing entry per
// step whose inputs intersect the batch's inputs, one Quality Test entry
// per test against a batch input. Entries sort ascending by timestamp;
// the sort is stable, so ties keep emission order and repeated calls
// return identical timelines.
func (e *Engine) ProvenanceBundle(batchID string) (ProvenanceBundle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	batch, ok := e.batches[batchID]
	if !ok {
		return ProvenanceBundle{}, reject(KindNotFound, "batch not found")
	}

	inputSet := make(map[string]bool, len(batch.Inputs))
	for _, in := range batch.Inputs {
		inputSet[in.RefID] = true
	}

	var timeline []TimelineEntry
	summary := BundleSummary{
		Manufacturer: batch.ManufacturerOrgID,
		Status:       batch.Status,
		Lot:          batch.BOM.LotCode,
	}
	bundleMap := BundleMap{}
	rulesVersion := ""

	for _, in := range batch.Inputs {
		ev, ok := e.events[in.RefID]
		if !ok {
			continue
		}
		timeline = append(timeline, TimelineEntry{
			At:     ev.Timestamp,
			Type:   "Collection",
			Detail: fmt.Sprintf("%s (%s)", ev.SpeciesName, ev.Part),
			Region: ev.RegionID,
		})
		// Headline and map come from the first resolvable collection input.
		if summary.Species == "" {
			summary.Species = fmt.Sprintf("%s (%s)", ev.SpeciesName, ev.SpeciesCode)
			bundleMap = BundleMap{Region: ev.RegionID, CentroidGeohash: ev.Geohash}
			rulesVersion = ev.RulesVersion
		}
	}

	// Map iteration order is random; sort matches by id so emission order,
	// and therefore tie-breaking in the stable sort below, is reproducible.
	var matchedSteps []ProcessingStep
	for _, step := range e.steps {
		if intersects(step.InputRefs, inputSet) {
			matchedSteps = append(matchedSteps, step)
		}
	}
	sort.Slice(matchedSteps, func(i, j int) bool { return matchedSteps[i].ID < matchedSteps[j].ID })
	for _, step := range matchedSteps {
		timeline = append(timeline, TimelineEntry{
			At:     step.TimestampStart,
			Type:   "Processing",
			Detail: string(step.Type),
		})
	}

	var matchedTests []QualityTest
	for _, test := range e.tests {
		if inputSet[test.SubjectRef] {
			matchedTests = append(matchedTests, test)
		}
	}
	sort.Slice(matchedTests, func(i, j int) bool { return matchedTests[i].ID < matchedTests[j].ID })
	for _, test := range matchedTests {
		verdict := "FAIL"
		if test.Result.Pass {
			verdict = "PASS"
		}
		timeline = append(timeline, TimelineEntry{
			At:     test.Timestamp,
			Type:   "Quality Test",
			Detail: fmt.Sprintf("%s: %s", test.TestType, verdict),
		})
	}

	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].At.Before(timeline[j].At)
	})

	return ProvenanceBundle{
		BundleID: "bundle_" + batch.ID,
		BatchID:  batch.ID,
		Summary:  summary,
		Map:      bundleMap,
		Timeline: timeline,
		Compliance: Compliance{
			RulesVersion: rulesVersion,
			FairTrade:    true,
			Certificates: []Certificate{},
		},
	}, nil
}

func intersects(refs []string, set map[string]bool) bool {
	for _, ref := range refs {
		if set[ref] {
			return true
		}
	}
	return false
}

// =============================================================================
// PUBLIC SLUG LOOKUP
// =============================================================================

// BatchBySlug resolves a public slug to its batch and fires the scan
// notification so the read model can record consumer lookups.
func (e *Engine) BatchBySlug(ctx context.Context, slug string) (Batch, error) {
	e.mu.RLock()
	var found *Batch
	for _, b := range e.batches {
		if b.PublicSlug != "" && b.PublicSlug == slug {
			batch := b
			found = &batch
			break
		}
	}
	e.mu.RUnlock()

	if found == nil {
		return Batch{}, reject(KindNotFound, "batch not found")
	}
	e.notifier.BatchScanned(ctx, *found, slug)
	return *found, nil
}
