/*
Package sqlite provides the SQLite-backed read model projector.

PURPOSE:
  Implements ledger.Notifier: every admitted entity and batch transition
  is projected into SQLite for durable querying by reporting tools. The
  engine's in-memory state stays authoritative - a failed projection is
  logged and dropped, never rolled back into the engine.

KEY TABLES:
  collection_events:  immutable projection of admitted harvests
  processing_steps:   immutable projection of processing steps
  quality_tests:      immutable projection of lab results
  custody_events:     immutable projection of custody transfers
  batches:            current batch state (status transitions update in place)
  batch_inputs:       batch input references with weights
  scan_events:        one row per public slug lookup

APPEND-ONLY ENFORCEMENT:
  Event tables receive INSERTs only. The single mutable table is batches,
  mirroring the engine: batch status is the one mutable attribute in the
  whole model.

WAL MODE:
  Opened with WAL for concurrent readers against the single projector
  writer, and foreign keys on.

USAGE:
  proj, err := sqlite.New("./data/neocrypt.db")
  engine := ledger.NewEngine(rules, ledger.WithNotifier(proj))

SEE ALSO:
  - ledger/notifier.go: the outbound port this package implements
  - cmd/server/main.go: wiring
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/supremekai52/neocrypt/ledger"
)

// Projector writes engine notifications into SQLite.
type Projector struct {
	db *sql.DB
}

// New opens (or creates) the database and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Projector, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	p := &Projector{db: db}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return p, nil
}

// Close closes the database connection.
func (p *Projector) Close() error {
	return p.db.Close()
}

func (p *Projector) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collection_events (
		id TEXT PRIMARY KEY,
		species_code TEXT NOT NULL,
		species_name TEXT NOT NULL,
		part TEXT NOT NULL,
		org_id TEXT NOT NULL,
		collector_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		geohash TEXT NOT NULL,
		gps_accuracy REAL NOT NULL,
		harvest_method TEXT NOT NULL,
		permits_ref TEXT,
		media_refs TEXT NOT NULL,
		moisture_pct REAL NOT NULL,
		foreign_matter_pct REAL,
		rules_version TEXT NOT NULL,
		region_id TEXT NOT NULL,
		weight_kg TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_collection_events_org
		ON collection_events(org_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_collection_events_species
		ON collection_events(species_code, region_id);

	CREATE TABLE IF NOT EXISTS processing_steps (
		id TEXT PRIMARY KEY,
		input_refs TEXT NOT NULL,
		step_type TEXT NOT NULL,
		timestamp_start TEXT NOT NULL,
		timestamp_end TEXT NOT NULL,
		temp_c REAL,
		humidity_pct REAL,
		duration_hrs REAL,
		facility_id TEXT NOT NULL,
		location_geohash TEXT,
		operator_id TEXT NOT NULL,
		media_refs TEXT NOT NULL,
		output_weight_kg TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_processing_steps_facility
		ON processing_steps(facility_id, timestamp_start);

	CREATE TABLE IF NOT EXISTS quality_tests (
		id TEXT PRIMARY KEY,
		subject_ref TEXT NOT NULL,
		lab_org_id TEXT NOT NULL,
		test_type TEXT NOT NULL,
		spec_version TEXT NOT NULL,
		result_value TEXT NOT NULL,
		result_unit TEXT,
		pass INTEGER NOT NULL,
		method_ref TEXT,
		artifact_ref TEXT NOT NULL,
		artifact_hash TEXT NOT NULL,
		verifiable_credential_ref TEXT,
		timestamp TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quality_tests_subject
		ON quality_tests(subject_ref);

	CREATE TABLE IF NOT EXISTS custody_events (
		id TEXT PRIMARY KEY,
		from_org_id TEXT NOT NULL,
		to_org_id TEXT NOT NULL,
		subject_refs TEXT NOT NULL,
		weighment_kg TEXT NOT NULL,
		transport_meta TEXT,
		timestamp TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		manufacturer_org_id TEXT NOT NULL,
		lot_code TEXT NOT NULL,
		qa_gates TEXT NOT NULL,
		status TEXT NOT NULL,
		qr_serial TEXT,
		public_slug TEXT,
		recall_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batches_slug
		ON batches(public_slug) WHERE public_slug IS NOT NULL;

	CREATE TABLE IF NOT EXISTS batch_inputs (
		batch_id TEXT NOT NULL REFERENCES batches(id),
		ref_id TEXT NOT NULL,
		weight_kg TEXT NOT NULL,
		PRIMARY KEY (batch_id, ref_id)
	);

	CREATE TABLE IF NOT EXISTS scan_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		slug TEXT NOT NULL,
		scanned_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scan_events_batch
		ON scan_events(batch_id);
	`
	_, err := p.db.Exec(schema)
	return err
}

// =============================================================================
// NOTIFIER IMPLEMENTATION
// =============================================================================

// logErr records a dropped projection. The engine never sees the failure.
func logErr(op string, err error) {
	if err != nil {
		log.Printf("sqlite projection: %s failed: %v", op, err)
	}
}

func (p *Projector) CollectionEventAdmitted(ctx context.Context, ev ledger.CollectionEvent) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO collection_events (
			id, species_code, species_name, part, org_id, collector_id,
			timestamp, lat, lon, geohash, gps_accuracy, harvest_method,
			permits_ref, media_refs, moisture_pct, foreign_matter_pct,
			rules_version, region_id, weight_kg, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SpeciesCode, ev.SpeciesName, string(ev.Part), ev.OrgID, ev.CollectorID,
		ev.Timestamp.UTC().Format(time.RFC3339), ev.Lat, ev.Lon, ev.Geohash,
		ev.GPSAccuracy, string(ev.HarvestMethod),
		nullString(ev.PermitsRef), joinRefs(ev.MediaRefs),
		ev.InitialQuality.MoisturePct, nullFloat(ev.InitialQuality.ForeignMatterPct),
		ev.RulesVersion, ev.RegionID, ev.WeightKg.String(),
		ev.CreatedAt.UTC().Format(time.RFC3339),
	)
	logErr("collection event insert", err)
}

func (p *Projector) ProcessingStepAdmitted(ctx context.Context, step ledger.ProcessingStep) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processing_steps (
			id, input_refs, step_type, timestamp_start, timestamp_end,
			temp_c, humidity_pct, duration_hrs, facility_id, location_geohash,
			operator_id, media_refs, output_weight_kg, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, joinRefs(step.InputRefs), string(step.Type),
		step.TimestampStart.UTC().Format(time.RFC3339),
		step.TimestampEnd.UTC().Format(time.RFC3339),
		nullFloat(step.Conditions.TempC), nullFloat(step.Conditions.HumidityPct),
		nullFloat(step.Conditions.DurationHrs),
		step.FacilityID, nullString(step.LocationGeohash), step.OperatorID,
		joinRefs(step.MediaRefs), step.OutputWeightKg.String(),
		step.CreatedAt.UTC().Format(time.RFC3339),
	)
	logErr("processing step insert", err)
}

func (p *Projector) QualityTestAdmitted(ctx context.Context, test ledger.QualityTest) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO quality_tests (
			id, subject_ref, lab_org_id, test_type, spec_version,
			result_value, result_unit, pass, method_ref,
			artifact_ref, artifact_hash, verifiable_credential_ref,
			timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		test.ID, test.SubjectRef, test.LabOrgID, string(test.TestType), test.SpecVersion,
		test.Result.Value, nullString(test.Result.Unit), boolToInt(test.Result.Pass),
		nullString(test.Result.MethodRef),
		test.ArtifactRef, test.ArtifactHash, nullString(test.VerifiableCredentialRef),
		test.Timestamp.UTC().Format(time.RFC3339),
		test.CreatedAt.UTC().Format(time.RFC3339),
	)
	logErr("quality test insert", err)
}

func (p *Projector) CustodyEventAdmitted(ctx context.Context, custody ledger.CustodyEvent) {
	meta, err := json.Marshal(custody.TransportMeta)
	if err != nil {
		logErr("custody meta marshal", err)
		meta = []byte("{}")
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO custody_events (
			id, from_org_id, to_org_id, subject_refs, weighment_kg,
			transport_meta, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		custody.ID, custody.FromOrgID, custody.ToOrgID, joinRefs(custody.SubjectRefs),
		custody.WeighmentKg.String(), string(meta),
		custody.Timestamp.UTC().Format(time.RFC3339),
		custody.CreatedAt.UTC().Format(time.RFC3339),
	)
	logErr("custody event insert", err)
}

func (p *Projector) BatchCreated(ctx context.Context, batch ledger.Batch) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO batches (
			id, manufacturer_org_id, lot_code, qa_gates, status,
			qr_serial, public_slug, recall_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?)`,
		batch.ID, batch.ManufacturerOrgID, batch.BOM.LotCode,
		strings.Join(batch.QAGates, ","), string(batch.Status),
		batch.CreatedAt.UTC().Format(time.RFC3339),
		batch.UpdatedAt.UTC().Format(time.RFC3339),
	)
	logErr("batch insert", err)

	for _, in := range batch.Inputs {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO batch_inputs (batch_id, ref_id, weight_kg)
			VALUES (?, ?, ?)`,
			batch.ID, in.RefID, in.WeightKg.String(),
		)
		logErr("batch input insert", err)
	}
}

func (p *Projector) BatchMinted(ctx context.Context, batch ledger.Batch) {
	p.updateBatch(ctx, batch)
}

func (p *Projector) BatchReleased(ctx context.Context, batch ledger.Batch) {
	p.updateBatch(ctx, batch)
}

func (p *Projector) BatchRecalled(ctx context.Context, batch ledger.Batch, _ string) {
	p.updateBatch(ctx, batch)
}

func (p *Projector) updateBatch(ctx context.Context, batch ledger.Batch) {
	_, err := p.db.ExecContext(ctx, `
		UPDATE batches
		SET status = ?, qr_serial = ?, public_slug = ?, recall_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(batch.Status), nullString(batch.QRSerial), nullString(batch.PublicSlug),
		nullString(batch.RecallReason),
		batch.UpdatedAt.UTC().Format(time.RFC3339), batch.ID,
	)
	logErr("batch update", err)
}

func (p *Projector) BatchScanned(ctx context.Context, batch ledger.Batch, slug string) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scan_events (batch_id, slug, scanned_at)
		VALUES (?, ?, ?)`,
		batch.ID, slug, time.Now().UTC().Format(time.RFC3339),
	)
	logErr("scan event insert", err)
}

// =============================================================================
// READ-BACK QUERIES - reporting and test verification
// =============================================================================

// CollectionEventCount returns the number of projected collection events.
func (p *Projector) CollectionEventCount(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collection_events`).Scan(&n)
	return n, err
}

// BatchStatus returns the projected status of a batch.
func (p *Projector) BatchStatus(ctx context.Context, batchID string) (string, error) {
	var status string
	err := p.db.QueryRowContext(ctx,
		`SELECT status FROM batches WHERE id = ?`, batchID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("batch %s not projected", batchID)
	}
	return status, err
}

// ScanCount returns how many times a batch's slug has been looked up.
func (p *Projector) ScanCount(ctx context.Context, batchID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_events WHERE batch_id = ?`, batchID).Scan(&n)
	return n, err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinRefs(refs []string) string {
	return strings.Join(refs, ",")
}
