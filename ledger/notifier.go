/*
notifier.go - Outbound port for persistence projection

PURPOSE:
  On every successful admission or batch transition the engine calls the
  Notifier synchronously, once, with the full entity payload. Subscribers
  project into durable storage (see store/sqlite). The engine's in-memory
  state is authoritative: a failing subscriber never rolls back an
  admission, so Notifier methods return nothing.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite projection subscriber
  - engine.go, batch.go: call sites
*/
package ledger

import "context"

// Notifier receives one call per admitted entity or batch transition.
// Calls are synchronous fire-and-forget: no retry, no rollback.
type Notifier interface {
	CollectionEventAdmitted(ctx context.Context, event CollectionEvent)
	ProcessingStepAdmitted(ctx context.Context, step ProcessingStep)
	QualityTestAdmitted(ctx context.Context, test QualityTest)
	CustodyEventAdmitted(ctx context.Context, custody CustodyEvent)
	BatchCreated(ctx context.Context, batch Batch)
	BatchMinted(ctx context.Context, batch Batch)
	BatchReleased(ctx context.Context, batch Batch)
	BatchRecalled(ctx context.Context, batch Batch, reason string)
	BatchScanned(ctx context.Context, batch Batch, slug string)
}

// NullNotifier discards all notifications. Default when none is injected.
type NullNotifier struct{}

func (NullNotifier) CollectionEventAdmitted(context.Context, CollectionEvent) {}
func (NullNotifier) ProcessingStepAdmitted(context.Context, ProcessingStep)   {}
func (NullNotifier) QualityTestAdmitted(context.Context, QualityTest)         {}
func (NullNotifier) CustodyEventAdmitted(context.Context, CustodyEvent)       {}
func (NullNotifier) BatchCreated(context.Context, Batch)                      {}
func (NullNotifier) BatchMinted(context.Context, Batch)                       {}
func (NullNotifier) BatchReleased(context.Context, Batch)                     {}
func (NullNotifier) BatchRecalled(context.Context, Batch, string)             {}
func (NullNotifier) BatchScanned(context.Context, Batch, string)              {}
