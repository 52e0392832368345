/*
batch.go - Batch lifecycle: DRAFT -> MINTED -> RELEASED, recall terminal

PURPOSE:
  Batches are the only mutable entities in the log. Their status moves
  through a fixed state machine:

      DRAFT --mint--> MINTED --release--> RELEASED
                        \                   /
                         +----- recall ----+
                                  |
                               RECALLED (terminal)

  Mint is gated on quality: every required QA gate needs at least one
  passing test against one of the batch's inputs. A batch that declares
  its own qaGates list is held to that list; a batch that declares none
  is held to the default moisture + pesticide set.

SERIALS AND SLUGS:
  Assigned at mint. Both are generated and re-generated on the off chance
  of a collision with an existing batch, so public lookups stay unique.

SEE ALSO:
  - engine.go:     admission of the upstream events the gates inspect
  - projection.go: provenance bundle and slug lookup
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DefaultQAGates is the fallback gate set for batches that declare none.
var DefaultQAGates = []string{"moisture", "pesticide"}

// CreateBatch stores a new DRAFT batch with a fresh id and fires the
// creation notification.
func (e *Engine) CreateBatch(ctx context.Context, draft BatchDraft) (Batch, error) {
	if draft.ManufacturerOrgID == "" {
		return Batch{}, rejectField(KindInvalidInput, "manufacturer org is required", "manufacturerOrgId")
	}
	if len(draft.Inputs) == 0 {
		return Batch{}, rejectField(KindInvalidInput, "at least one input is required", "inputs")
	}
	for _, in := range draft.Inputs {
		if in.RefID == "" {
			return Batch{}, rejectField(KindInvalidInput, "input reference is required", "inputs.refId")
		}
		if !in.WeightKg.IsPositive() {
			return Batch{}, rejectField(KindInvalidInput,
				fmt.Sprintf("input %s weight must be positive", in.RefID), "inputs.weightKg")
		}
	}
	if draft.BOM.LotCode == "" {
		return Batch{}, rejectField(KindInvalidInput, "lot code is required", "bom.lotCode")
	}

	now := e.now().UTC()
	batch := Batch{
		ID:                "batch_" + uuid.NewString(),
		ManufacturerOrgID: draft.ManufacturerOrgID,
		Inputs:            append([]BatchInput(nil), draft.Inputs...),
		BOM:               draft.BOM,
		QAGates:           append([]string(nil), draft.QAGates...),
		Status:            StatusDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	e.mu.Lock()
	e.batches[batch.ID] = batch
	e.mu.Unlock()

	e.notifier.BatchCreated(ctx, batch)
	return batch, nil
}

// requiredGates returns the authoritative gate set for a batch.
func requiredGates(batch Batch) []string {
	if len(batch.QAGates) > 0 {
		return batch.QAGates
	}
	return DefaultQAGates
}

// hasPassingTestLocked reports whether any admitted test of the given type
// (case-insensitive) passes against one of the batch's inputs. Caller
// holds at least a read lock.
func (e *Engine) hasPassingTestLocked(batch Batch, gate string) bool {
	for _, test := range e.tests {
		if !test.Result.Pass {
			continue
		}
		if !strings.EqualFold(string(test.TestType), gate) {
			continue
		}
		for _, in := range batch.Inputs {
			if in.RefID == test.SubjectRef {
				return true
			}
		}
	}
	return false
}

// MintBatch enforces the QA gates, then assigns a serial and public slug
// and moves the batch to MINTED.
func (e *Engine) MintBatch(ctx context.Context, batchID string) (MintResult, error) {
	e.mu.Lock()

	batch, ok := e.batches[batchID]
	if !ok {
		e.mu.Unlock()
		return MintResult{}, reject(KindNotFound, "batch not found")
	}
	if batch.Status != StatusDraft {
		e.mu.Unlock()
		return MintResult{}, rejectField(KindInvalidState,
			fmt.Sprintf("batch in status %s cannot be minted", batch.Status), "status")
	}

	for _, gate := range requiredGates(batch) {
		if !e.hasPassingTestLocked(batch, gate) {
			e.mu.Unlock()
			return MintResult{}, rejectField(KindQAGateFailed,
				fmt.Sprintf("missing passing %s test", gate), gate)
		}
	}

	batch.QRSerial = e.uniqueSerialLocked()
	batch.PublicSlug = e.uniqueSlugLocked()
	batch.Status = StatusMinted
	batch.UpdatedAt = e.now().UTC()
	e.batches[batchID] = batch
	e.mu.Unlock()

	e.notifier.BatchMinted(ctx, batch)
	return MintResult{QRSerial: batch.QRSerial, Slug: batch.PublicSlug}, nil
}

// uniqueSerialLocked generates a QR serial, re-generating on collision
// with any existing batch. Caller holds the write lock.
func (e *Engine) uniqueSerialLocked() string {
	for {
		serial := fmt.Sprintf("QR%d-%s", e.now().UTC().UnixMilli(), uuid.NewString()[:8])
		if !e.serialTakenLocked(serial) {
			return serial
		}
	}
}

func (e *Engine) serialTakenLocked(serial string) bool {
	for _, b := range e.batches {
		if b.QRSerial == serial {
			return true
		}
	}
	return false
}

// uniqueSlugLocked generates a public slug, re-generating on collision.
func (e *Engine) uniqueSlugLocked() string {
	for {
		slug := "batch_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		if !e.slugTakenLocked(slug) {
			return slug
		}
	}
}

func (e *Engine) slugTakenLocked(slug string) bool {
	for _, b := range e.batches {
		if b.PublicSlug == slug {
			return true
		}
	}
	return false
}

// ReleaseBatch moves a MINTED batch to RELEASED.
func (e *Engine) ReleaseBatch(ctx context.Context, batchID string) error {
	e.mu.Lock()
	batch, ok := e.batches[batchID]
	if !ok {
		e.mu.Unlock()
		return reject(KindNotFound, "batch not found")
	}
	if batch.Status != StatusMinted {
		e.mu.Unlock()
		return rejectField(KindInvalidState,
			fmt.Sprintf("batch in status %s cannot be released", batch.Status), "status")
	}
	batch.Status = StatusReleased
	batch.UpdatedAt = e.now().UTC()
	e.batches[batchID] = batch
	e.mu.Unlock()

	e.notifier.BatchReleased(ctx, batch)
	return nil
}

// RecallBatch moves a MINTED or RELEASED batch to RECALLED with a reason.
// Recalling an already-recalled batch is an explicit INVALID_STATE
// rejection, not a silent no-op.
func (e *Engine) RecallBatch(ctx context.Context, batchID, reason string) error {
	if reason == "" {
		return rejectField(KindInvalidInput, "recall reason is required", "reason")
	}

	e.mu.Lock()
	batch, ok := e.batches[batchID]
	if !ok {
		e.mu.Unlock()
		return reject(KindNotFound, "batch not found")
	}
	if batch.Status != StatusMinted && batch.Status != StatusReleased {
		e.mu.Unlock()
		return rejectField(KindInvalidState,
			fmt.Sprintf("batch in status %s cannot be recalled", batch.Status), "status")
	}
	batch.Status = StatusRecalled
	batch.RecallReason = reason
	batch.UpdatedAt = e.now().UTC()
	e.batches[batchID] = batch
	e.mu.Unlock()

	e.notifier.BatchRecalled(ctx, batch, reason)
	return nil
}

// Batch returns a single batch by id.
func (e *Engine) Batch(batchID string) (Batch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	batch, ok := e.batches[batchID]
	if !ok {
		return Batch{}, reject(KindNotFound, "batch not found")
	}
	return batch, nil
}

// Batches returns batches newest first, optionally filtered by
// manufacturer organization. Capped at 50.
func (e *Engine) Batches(orgID string) []Batch {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []Batch
	for _, b := range e.batches {
		if orgID != "" && b.ManufacturerOrgID != orgID {
			continue
		}
		result = append(result, b)
	}
	// CreatedAt ties happen under a pinned test clock; break them by id.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return capList(result)
}
