package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supremekai52/neocrypt/ledger"
)

// =============================================================================
// DASHBOARD
// =============================================================================

func TestDashboard_Metrics(t *testing.T) {
	// GIVEN: One event from last week, one from the current UTC day,
	//        one minted batch and one recalled batch
	// THEN:  EventsToday counts only the current-day event, weight sums
	//        both, and the batch counters split by status

	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.AdmitCollectionEvent(ctx, collection("evt-old", 50))
	require.NoError(t, err)

	today := collection("evt-today", 30)
	today.Timestamp = time.Date(2024, time.January, 20, 10, 0, 0, 0, time.UTC)
	_, err = engine.AdmitCollectionEvent(ctx, today)
	require.NoError(t, err)

	passGates(t, engine)
	mintOver := func(refID string) ledger.Batch {
		batch, err := engine.CreateBatch(ctx, ledger.BatchDraft{
			ManufacturerOrgID: "org_manufacturer",
			Inputs:            []ledger.BatchInput{{RefID: refID, WeightKg: decimal.NewFromInt(10)}},
			BOM:               ledger.BillOfMaterials{LotCode: "LOT-" + refID},
			QAGates:           []string{"moisture"},
		})
		require.NoError(t, err)
		_, err = engine.MintBatch(ctx, batch.ID)
		require.NoError(t, err)
		return batch
	}
	// Gates were passed against evt-1, so both batches reference it.
	_, err = engine.AdmitCollectionEvent(ctx, collection("evt-1", 5))
	require.NoError(t, err)
	mintOver("evt-1")
	recalled := mintOver("evt-1")
	require.NoError(t, engine.RecallBatch(ctx, recalled.ID, "contamination"))

	data := engine.Dashboard(ledger.DashboardFilter{})
	assert.Equal(t, 1, data.Metrics.EventsToday)
	assert.Equal(t, 1, data.Metrics.BatchesMinted)
	assert.Equal(t, 1, data.Metrics.Recalls)
	assert.True(t, data.Metrics.TotalWeightKg.Equal(decimal.NewFromInt(85)),
		"want 85, got %s", data.Metrics.TotalWeightKg)
}

func TestDashboard_FeedIsNewestFirstAndCapped(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		ev := collection(fmt.Sprintf("evt-%02d", i), 1)
		ev.Timestamp = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		_, err := engine.AdmitCollectionEvent(ctx, ev)
		require.NoError(t, err)
	}

	data := engine.Dashboard(ledger.DashboardFilter{})
	require.Len(t, data.RecentEvents, 10)
	assert.Equal(t, "evt-11", data.RecentEvents[0].ID)
	assert.Equal(t, "evt-02", data.RecentEvents[9].ID)
	for i := 1; i < len(data.RecentEvents); i++ {
		assert.False(t, data.RecentEvents[i].Timestamp.After(data.RecentEvents[i-1].Timestamp),
			"feed must be ordered newest first")
	}
}

func TestDashboard_FeedMergesProcessingSteps(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.AdmitCollectionEvent(ctx, collection("evt-1", 50))
	require.NoError(t, err)
	_, err = engine.AdmitProcessingStep(ctx, step("step-1", "evt-1"))
	require.NoError(t, err)

	data := engine.Dashboard(ledger.DashboardFilter{})
	require.Len(t, data.RecentEvents, 2)
	// step-1 starts on the 16th, evt-1 was collected on the 15th.
	assert.Equal(t, "Processing", data.RecentEvents[0].Type)
	assert.Equal(t, "Collection", data.RecentEvents[1].Type)
}

func TestDashboard_FiltersApplyToMetricsAndFeed(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.AdmitCollectionEvent(ctx, collection("evt-1", 50))
	require.NoError(t, err)
	other := collection("evt-2", 20)
	other.OrgID = "org_other"
	_, err = engine.AdmitCollectionEvent(ctx, other)
	require.NoError(t, err)
	_, err = engine.AdmitProcessingStep(ctx, step("step-1", "evt-1"))
	require.NoError(t, err)

	t.Run("org filter", func(t *testing.T) {
		data := engine.Dashboard(ledger.DashboardFilter{OrgID: "org_other"})
		require.Len(t, data.RecentEvents, 1)
		assert.Equal(t, "evt-2", data.RecentEvents[0].ID)
		assert.True(t, data.Metrics.TotalWeightKg.Equal(decimal.NewFromInt(20)))
	})

	t.Run("species filter excludes steps", func(t *testing.T) {
		data := engine.Dashboard(ledger.DashboardFilter{Species: "ASHW"})
		require.Len(t, data.RecentEvents, 2)
		for _, ev := range data.RecentEvents {
			assert.Equal(t, "Collection", ev.Type)
		}
	})

	t.Run("date range", func(t *testing.T) {
		data := engine.Dashboard(ledger.DashboardFilter{
			From: time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC),
		})
		require.Len(t, data.RecentEvents, 1)
		assert.Equal(t, "step-1", data.RecentEvents[0].ID)
	})
}

// =============================================================================
// PROVENANCE BUNDLE
// =============================================================================

// mintTracedBatch builds the canonical chain: a collection event, a drying
// step over it, passing moisture and pesticide tests, then a minted batch.
func mintTracedBatch(t *testing.T, engine *ledger.Engine) ledger.Batch {
	t.Helper()
	ctx := context.Background()

	batch := seedBatch(t, engine)
	_, err := engine.AdmitProcessingStep(ctx, step("step-1", "evt-1"))
	require.NoError(t, err)
	passGates(t, engine)
	_, err = engine.MintBatch(ctx, batch.ID)
	require.NoError(t, err)

	minted, err := engine.Batch(batch.ID)
	require.NoError(t, err)
	return minted
}

func TestProvenanceBundle_TimelineIsChronological(t *testing.T) {
	// GIVEN: collection (Jan 15) -> drying (Jan 16) -> two tests (Jan 18)
	// THEN:  Four timeline entries, ascending by timestamp

	engine := newTestEngine(t)
	batch := mintTracedBatch(t, engine)

	bundle, err := engine.ProvenanceBundle(batch.ID)
	require.NoError(t, err)

	require.Len(t, bundle.Timeline, 4)
	assert.Equal(t, "Collection", bundle.Timeline[0].Type)
	assert.Equal(t, "Withania somnifera (ROOT)", bundle.Timeline[0].Detail)
	assert.Equal(t, "jodhpur_rajasthan", bundle.Timeline[0].Region)
	assert.Equal(t, "Processing", bundle.Timeline[1].Type)
	assert.Equal(t, "DRYING", bundle.Timeline[1].Detail)
	assert.Equal(t, "Quality Test", bundle.Timeline[2].Type)
	assert.Equal(t, "MOISTURE: PASS", bundle.Timeline[2].Detail)
	assert.Equal(t, "PESTICIDE: PASS", bundle.Timeline[3].Detail)
	for i := 1; i < len(bundle.Timeline); i++ {
		assert.False(t, bundle.Timeline[i].At.Before(bundle.Timeline[i-1].At))
	}
}

func TestProvenanceBundle_SummaryAndCompliance(t *testing.T) {
	engine := newTestEngine(t)
	batch := mintTracedBatch(t, engine)

	bundle, err := engine.ProvenanceBundle(batch.ID)
	require.NoError(t, err)

	assert.Equal(t, "bundle_"+batch.ID, bundle.BundleID)
	assert.Equal(t, batch.ID, bundle.BatchID)
	assert.Equal(t, "Withania somnifera (ASHW)", bundle.Summary.Species)
	assert.Equal(t, "org_manufacturer", bundle.Summary.Manufacturer)
	assert.Equal(t, ledger.StatusMinted, bundle.Summary.Status)
	assert.Equal(t, "LOT-2024-001", bundle.Summary.Lot)
	assert.Equal(t, "jodhpur_rajasthan", bundle.Map.Region)
	assert.Equal(t, "tsj2d", bundle.Map.CentroidGeohash)
	assert.NotEmpty(t, bundle.Compliance.RulesVersion)
	assert.True(t, bundle.Compliance.FairTrade)
	assert.NotNil(t, bundle.Compliance.Certificates)
}

func TestProvenanceBundle_IsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	batch := mintTracedBatch(t, engine)

	first, err := engine.ProvenanceBundle(batch.ID)
	require.NoError(t, err)
	second, err := engine.ProvenanceBundle(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProvenanceBundle_UnknownBatch(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.ProvenanceBundle("batch_missing")
	assertKind(t, err, ledger.KindNotFound)
}

func TestProvenanceBundle_UnrelatedEntriesExcluded(t *testing.T) {
	// A step over a different event must not leak into the bundle.
	engine := newTestEngine(t)
	ctx := context.Background()

	batch := mintTracedBatch(t, engine)
	_, err := engine.AdmitCollectionEvent(ctx, collection("evt-other", 10))
	require.NoError(t, err)
	_, err = engine.AdmitProcessingStep(ctx, step("step-other", "evt-other"))
	require.NoError(t, err)

	bundle, err := engine.ProvenanceBundle(batch.ID)
	require.NoError(t, err)
	require.Len(t, bundle.Timeline, 4)
	for _, entry := range bundle.Timeline {
		assert.NotEqual(t, "evt-other", entry.Detail)
	}
}

// =============================================================================
// SLUG LOOKUP
// =============================================================================

func TestBatchBySlug_ResolvesAndNotifies(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine(t, ledger.WithNotifier(rec))
	ctx := context.Background()

	batch := mintTracedBatch(t, engine)
	require.NotEmpty(t, batch.PublicSlug)

	found, err := engine.BatchBySlug(ctx, batch.PublicSlug)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, found.ID)

	calls := rec.Calls()
	assert.Contains(t, calls, "batchScanned:"+batch.ID)
}

func TestBatchBySlug_UnknownSlug(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.BatchBySlug(context.Background(), "batch_nope")
	assertKind(t, err, ledger.KindNotFound)
}
