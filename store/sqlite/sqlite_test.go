package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supremekai52/neocrypt/ledger"
	"github.com/supremekai52/neocrypt/rules"
	"github.com/supremekai52/neocrypt/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newProjector(t *testing.T) *sqlite.Projector {
	t.Helper()
	proj, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { proj.Close() })
	return proj
}

// newEngine wires a seeded engine to the projector, so admissions flow
// into SQLite the same way they do in the running server.
func newEngine(t *testing.T, proj *sqlite.Projector) *ledger.Engine {
	t.Helper()
	store, err := rules.SeedStore()
	require.NoError(t, err)
	return ledger.NewEngine(store, ledger.WithNotifier(proj))
}

func collection(id string) ledger.CollectionEvent {
	return ledger.CollectionEvent{
		ID:            id,
		SpeciesCode:   "ASHW",
		SpeciesName:   "Withania somnifera",
		Part:          ledger.PartRoot,
		OrgID:         "org_farm",
		CollectorID:   "collector_1",
		Timestamp:     time.Date(2024, time.January, 15, 8, 30, 0, 0, time.UTC),
		Lat:           26.2389,
		Lon:           73.0243,
		Geohash:       "tsj2d",
		GPSAccuracy:   5.0,
		HarvestMethod: ledger.HarvestCultivated,
		InitialQuality: ledger.InitialQuality{
			MoisturePct: 12.5,
		},
		RegionID: "jodhpur_rajasthan",
		WeightKg: decimal.NewFromInt(50),
	}
}

func mintBatch(t *testing.T, engine *ledger.Engine) ledger.Batch {
	t.Helper()
	ctx := context.Background()

	_, err := engine.AdmitCollectionEvent(ctx, collection("evt-1"))
	require.NoError(t, err)
	for _, tt := range []struct {
		id       string
		testType ledger.TestType
	}{
		{"test-m", ledger.TestMoisture},
		{"test-p", ledger.TestPesticide},
	} {
		_, err := engine.AdmitQualityTest(ctx, ledger.QualityTest{
			ID:          tt.id,
			SubjectRef:  "evt-1",
			LabOrgID:    "org_lab",
			TestType:    tt.testType,
			SpecVersion: "AYUSH-2024",
			Result:      ledger.TestResult{Value: "ok", Pass: true},
			ArtifactRef: "reports/" + tt.id + ".pdf",
			Timestamp:   time.Date(2024, time.January, 18, 10, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	batch, err := engine.CreateBatch(ctx, ledger.BatchDraft{
		ManufacturerOrgID: "org_manufacturer",
		Inputs:            []ledger.BatchInput{{RefID: "evt-1", WeightKg: decimal.NewFromInt(50)}},
		BOM:               ledger.BillOfMaterials{LotCode: "LOT-2024-001"},
	})
	require.NoError(t, err)
	_, err = engine.MintBatch(ctx, batch.ID)
	require.NoError(t, err)

	minted, err := engine.Batch(batch.ID)
	require.NoError(t, err)
	return minted
}

// =============================================================================
// PROJECTION
// =============================================================================

func TestProjector_CollectionEventsAreProjected(t *testing.T) {
	proj := newProjector(t)
	engine := newEngine(t, proj)
	ctx := context.Background()

	_, err := engine.AdmitCollectionEvent(ctx, collection("evt-1"))
	require.NoError(t, err)

	n, err := proj.CollectionEventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProjector_RejectedEventsAreNotProjected(t *testing.T) {
	proj := newProjector(t)
	engine := newEngine(t, proj)
	ctx := context.Background()

	outOfFence := collection("evt-bad")
	outOfFence.Geohash = "abc99"
	_, err := engine.AdmitCollectionEvent(ctx, outOfFence)
	require.Error(t, err)

	n, err := proj.CollectionEventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProjector_BatchStatusFollowsLifecycle(t *testing.T) {
	proj := newProjector(t)
	engine := newEngine(t, proj)
	ctx := context.Background()

	batch := mintBatch(t, engine)

	status, err := proj.BatchStatus(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "MINTED", status)

	require.NoError(t, engine.ReleaseBatch(ctx, batch.ID))
	status, err = proj.BatchStatus(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "RELEASED", status)

	require.NoError(t, engine.RecallBatch(ctx, batch.ID, "contamination"))
	status, err = proj.BatchStatus(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "RECALLED", status)
}

func TestProjector_BatchStatus_Unprojected(t *testing.T) {
	proj := newProjector(t)
	_, err := proj.BatchStatus(context.Background(), "batch_missing")
	require.Error(t, err)
}

func TestProjector_ScanCounting(t *testing.T) {
	proj := newProjector(t)
	engine := newEngine(t, proj)
	ctx := context.Background()

	batch := mintBatch(t, engine)

	for i := 0; i < 3; i++ {
		_, err := engine.BatchBySlug(ctx, batch.PublicSlug)
		require.NoError(t, err)
	}

	n, err := proj.ScanCount(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
