package matching

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/phone"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// RunBatch matches up to batchSize calls after the matching cursor.
// batchSize <= 0 uses the configured size.
//
// Per-call failures are logged and reported; the cursor still moves past the
// call. The returned error is non-nil only when the batch could not make
// progress at all (cursor read/write failure or cancellation).
func (m *Matcher) RunBatch(ctx context.Context, batchSize int) (ir.Report, error) {
	report := ir.Report{RunID: m.runIDs.Generate(), Items: []ir.ItemOutcome{}}
	if batchSize <= 0 {
		batchSize = m.cfg.BatchSize
	}
	_, err := m.runBatch(ctx, CursorMatching, batchSize, &report)
	m.logDone("matching batch", report, err)
	return report, err
}

// Backfill re-walks call history on its own cursor until no calls remain.
// A non-nil cursorOverride restarts the walk at that time (inclusive).
func (m *Matcher) Backfill(ctx context.Context, cursorOverride *time.Time) (ir.Report, error) {
	report := ir.Report{RunID: m.runIDs.Generate(), Items: []ir.ItemOutcome{}}
	if cursorOverride != nil {
		// An empty call ID sorts before every real ID at the same instant.
		if err := m.store.WriteCursor(ctx, CursorBackfill, store.Cursor{StartedAt: *cursorOverride}); err != nil {
			return report, fmt.Errorf("backfill: %w", err)
		}
		m.logger.Info("backfill cursor overridden",
			zap.String("run_id", report.RunID),
			zap.Time("cursor", *cursorOverride))
	}

	var err error
	for {
		var n int
		n, err = m.runBatch(ctx, CursorBackfill, m.cfg.BatchSize, &report)
		if err != nil || n < m.cfg.BatchSize {
			break
		}
	}
	m.logDone("matching backfill", report, err)
	return report, err
}

// runBatch processes one page of calls and returns how many were read.
func (m *Matcher) runBatch(ctx context.Context, cursorName string, limit int, report *ir.Report) (int, error) {
	cursor, _, err := m.store.ReadCursor(ctx, cursorName)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	calls, err := m.store.ReadCallsAfter(ctx, cursor, limit)
	if err != nil {
		return 0, fmt.Errorf("read calls: %w", err)
	}

	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		m.processCall(ctx, call, report)

		next := store.Cursor{StartedAt: call.StartedAt, CallID: call.ID}
		if err := m.store.WriteCursor(ctx, cursorName, next); err != nil {
			return i + 1, fmt.Errorf("advance cursor past call %s: %w", call.ID, err)
		}
	}
	return len(calls), nil
}

func (m *Matcher) processCall(ctx context.Context, call ir.RawCall, report *ir.Report) {
	if !phone.IsValid(phone.Normalize(call.ClientNumber())) {
		report.Add(call.ID, ir.OutcomeSkipped, "invalid client phone")
		return
	}
	match, ok, err := m.MatchAndPersist(ctx, call)
	switch {
	case err != nil:
		m.logger.Warn("call match failed",
			zap.String("run_id", report.RunID),
			zap.String("call_id", call.ID),
			zap.Error(err))
		report.Add(call.ID, ir.OutcomeError, err.Error())
	case !ok:
		report.Add(call.ID, ir.OutcomeSkipped, "no candidate order")
	default:
		m.logger.Debug("call matched",
			zap.String("run_id", report.RunID),
			zap.String("call_id", call.ID),
			zap.String("order_id", match.OrderID),
			zap.Float64("score", match.Score))
		report.Add(call.ID, ir.OutcomeSuccess, fmt.Sprintf("order %s (%s, %.4f)", match.OrderID, match.MatchType, match.Score))
	}
}

func (m *Matcher) logDone(msg string, r ir.Report, err error) {
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.Int("processed", r.Processed),
		zap.Int("matched", r.Count(ir.OutcomeSuccess)),
		zap.Int("skipped", r.Count(ir.OutcomeSkipped)),
		zap.Int("errors", r.Count(ir.OutcomeError)),
	}
	if err != nil {
		m.logger.Error(msg+" aborted", append(fields, zap.Error(err))...)
		return
	}
	m.logger.Info(msg+" complete", fields...)
}
