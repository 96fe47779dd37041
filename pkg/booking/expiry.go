package booking

import (
	"context"
	"fmt"
	"strings"
)

const (
	expiryJobName         = "expire-holds"
	defaultSweepBatchSize = 200
)

// SweepResult summarizes one reconciler run.
type SweepResult struct {
	Scanned  int
	Expired  int
	Failed   int
	Failures []string
}

// Message renders the run summary recorded for operators.
func (result SweepResult) Message() string {
	summary := fmt.Sprintf("scanned=%d expired=%d failed=%d", result.Scanned, result.Expired, result.Failed)
	if len(result.Failures) > 0 {
		summary += " failures: " + strings.Join(result.Failures, "; ")
	}
	return summary
}

// Reconciler sweeps stale holds and drives each through the expire
// transition. It is the only actor allowed to fire expire events.
type Reconciler struct {
	service   *Service
	recorder  CronRunRecorder
	batchSize int
}

// NewReconciler wires a Reconciler. A nil recorder disables run records.
func NewReconciler(service *Service, recorder CronRunRecorder) (*Reconciler, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: service dependency is nil", ErrInvalidServiceConfig)
	}
	return &Reconciler{service: service, recorder: recorder, batchSize: defaultSweepBatchSize}, nil
}

// Sweep expires every booking whose hold has lapsed. Each expiry is
// independent: one failure never aborts the rest. The returned error is
// non-nil only when the sweep itself cannot run (e.g. the query fails);
// per-booking failures are reported through the result. Re-running with
// no new stale holds is a no-op since the query filters on status.
func (reconciler *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	stale, err := reconciler.service.store.ListExpiredHolds(ctx, reconciler.service.nowFn(), reconciler.batchSize)
	if err != nil {
		reconciler.record(ctx, "error", fmt.Sprintf("query stale holds: %v", err))
		return result, WrapError("sweep", "holds", "list", err)
	}
	result.Scanned = len(stale)
	for _, record := range stale {
		if _, err := reconciler.service.Expire(ctx, record.BookingID); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", record.BookingID, err))
			continue
		}
		result.Expired++
	}
	status := "ok"
	if result.Failed > 0 {
		status = "partial"
	}
	reconciler.record(ctx, status, result.Message())
	return result, nil
}

func (reconciler *Reconciler) record(ctx context.Context, status string, message string) {
	if reconciler.recorder == nil {
		return
	}
	// Run records are observability, not correctness.
	_ = reconciler.recorder.RecordCronRun(ctx, expiryJobName, status, message)
}
