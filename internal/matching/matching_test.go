package matching

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/testutil"
)

var callTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMatcher(s Store) *Matcher {
	return New(s, Config{},
		WithClock(testutil.NewFixedClock(callTime.Add(time.Hour))),
		WithRunIDs(testutil.NewFixedRunIDGenerator("run-1")))
}

func order(id string, created time.Time, phones ...string) ir.Order {
	return ir.Order{
		ID:        id,
		Number:    "N" + id,
		Status:    "new",
		CreatedAt: created,
		UpdatedAt: created,
		Total:     decimal.NewFromInt(100),
		Phones:    phones,
	}
}

func inbound(id, from string, at time.Time) ir.RawCall {
	return ir.RawCall{ID: id, Direction: ir.DirectionInbound, FromNumber: from, ToNumber: "84950000000", StartedAt: at, DurationSec: 60}
}

func TestMatch_ExactCloseBeatsSuffixFar(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertOrder(ctx, order("exact", callTime.Add(-time.Hour), "89161234567")))
	require.NoError(t, s.UpsertOrder(ctx, order("suffix", callTime.Add(-40*time.Hour))))
	require.NoError(t, s.RecordPhoneOccurrence(ctx, "suffix", "+7 999 123 45 67", "comment", callTime.Add(-40*time.Hour)))

	m := newTestMatcher(s)
	cands, err := m.Match(ctx, inbound("c1", "+7 916 123 45 67", callTime))
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, "exact", cands[0].Order.ID)
	assert.Equal(t, ir.MatchExactPhone, cands[0].MatchType)
	assert.InDelta(t, 0.8906, cands[0].Score, 1e-9)
	assert.Equal(t, time.Hour, cands[0].Delta)

	assert.Equal(t, "suffix", cands[1].Order.ID)
	assert.Equal(t, ir.MatchSuffixPhone, cands[1].MatchType)
	assert.InDelta(t, 0.2917, cands[1].Score, 1e-9)
}

func TestMatch_OutboundUsesCallee(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, order("o1", callTime, "9161234567")))

	call := ir.RawCall{ID: "c1", Direction: ir.DirectionOutbound, FromNumber: "84950000000", ToNumber: "89161234567", StartedAt: callTime}
	cands, err := newTestMatcher(s).Match(ctx, call)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "o1", cands[0].Order.ID)
}

func TestMatch_InvalidPhoneIsEmpty(t *testing.T) {
	s := setupTestStore(t)
	cands, err := newTestMatcher(s).Match(context.Background(), inbound("c1", "anonymous", callTime))
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestMatch_OutsideWindowDiscarded(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, order("old", callTime.Add(-49*time.Hour), "9161234567")))

	cands, err := newTestMatcher(s).Match(ctx, inbound("c1", "89161234567", callTime))
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestMatch_UpdatedTimeCountsAsReference(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	o := order("o1", callTime.Add(-100*time.Hour), "9161234567")
	o.UpdatedAt = callTime.Add(-2 * time.Hour)
	require.NoError(t, s.UpsertOrder(ctx, o))

	cands, err := newTestMatcher(s).Match(ctx, inbound("c1", "89161234567", callTime))
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 2*time.Hour, cands[0].Delta)
	assert.Equal(t, "updated", cands[0].Reference)
}

func TestMatch_TieBreakPrefersMostRecentlyCreated(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, order("before", callTime.Add(-2*time.Hour), "9161234567")))
	require.NoError(t, s.UpsertOrder(ctx, order("after", callTime.Add(2*time.Hour), "9161234567")))

	cands, err := newTestMatcher(s).Match(ctx, inbound("c1", "89161234567", callTime))
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, cands[0].Score, cands[1].Score)
	assert.Equal(t, "after", cands[0].Order.ID)
}

func TestMatch_FoundBothWaysIsExact(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, order("o1", callTime, "9161234567")))
	require.NoError(t, s.RecordPhoneOccurrence(ctx, "o1", "9161234567", "event", callTime))

	cands, err := newTestMatcher(s).Match(ctx, inbound("c1", "89161234567", callTime))
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, ir.MatchExactPhone, cands[0].MatchType)
}

func TestMatchAndPersist_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, order("o1", callTime.Add(-time.Hour), "9161234567")))
	call := inbound("c1", "89161234567", callTime)
	require.NoError(t, s.UpsertCall(ctx, call))

	m := newTestMatcher(s)
	first, ok, err := m.MatchAndPersist(ctx, call)
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := m.MatchAndPersist(ctx, call)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, second)

	n, err := s.CountMatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := s.ReadMatch(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "o1", stored.OrderID)
	assert.Contains(t, stored.Explanation, "exact phone 9161234567")
}

// failingStore fails UpsertMatch for selected calls.
type failingStore struct {
	*store.Store
	failCalls map[string]bool
}

func (f *failingStore) UpsertMatch(ctx context.Context, m ir.CallOrderMatch) error {
	if f.failCalls[m.CallID] {
		return errors.New("database is locked")
	}
	return f.Store.UpsertMatch(ctx, m)
}

func seedBatch(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, order("o1", callTime, "9161234567")))
	for _, c := range []ir.RawCall{
		inbound("c1", "89161234567", callTime),
		inbound("c2", "hidden", callTime.Add(time.Minute)),
		inbound("c3", "89039999999", callTime.Add(2*time.Minute)),
		inbound("c4", "89161234567", callTime.Add(3*time.Minute)),
	} {
		require.NoError(t, s.UpsertCall(ctx, c))
	}
}

func TestRunBatch_AdvancesCursorAndReports(t *testing.T) {
	s := setupTestStore(t)
	seedBatch(t, s)
	ctx := context.Background()
	m := newTestMatcher(s)

	report, err := m.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 2, report.Count(ir.OutcomeSuccess))
	assert.Equal(t, 2, report.Count(ir.OutcomeSkipped))
	assert.Empty(t, report.Errors)

	cursor, ok, err := s.ReadCursor(ctx, CursorMatching)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c4", cursor.CallID)

	again, err := m.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
}

func TestRunBatch_RespectsBatchSize(t *testing.T) {
	s := setupTestStore(t)
	seedBatch(t, s)
	ctx := context.Background()
	m := newTestMatcher(s)

	first, err := m.RunBatch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Processed)

	second, err := m.RunBatch(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 1, second.Processed)
	assert.Equal(t, "c4", second.Items[0].Key)
}

func TestRunBatch_PersistenceFailureContinues(t *testing.T) {
	s := setupTestStore(t)
	seedBatch(t, s)
	ctx := context.Background()
	m := newTestMatcher(&failingStore{Store: s, failCalls: map[string]bool{"c1": true}})

	report, err := m.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 1, report.Count(ir.OutcomeError))
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "c1")

	// c4 was still matched after c1 failed.
	_, err = s.ReadMatch(ctx, "c4")
	assert.NoError(t, err)

	cursor, _, err := s.ReadCursor(ctx, CursorMatching)
	require.NoError(t, err)
	assert.Equal(t, "c4", cursor.CallID)
}

func TestRunBatch_Cancelled(t *testing.T) {
	s := setupTestStore(t)
	seedBatch(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestMatcher(s).RunBatch(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Processed)
}

func TestBackfill_OverrideReprocesses(t *testing.T) {
	s := setupTestStore(t)
	seedBatch(t, s)
	ctx := context.Background()
	m := New(s, Config{BatchSize: 2},
		WithClock(testutil.NewFixedClock(callTime)),
		WithRunIDs(testutil.NewFixedRunIDGenerator("bf")))

	report, err := m.Backfill(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Processed)

	from := callTime.Add(2 * time.Minute)
	report, err = m.Backfill(ctx, &from)
	require.NoError(t, err)
	require.Equal(t, 2, report.Processed)
	assert.Equal(t, "c3", report.Items[0].Key)

	n, err := s.CountMatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The regular batch cursor is untouched by backfill.
	_, ok, err := s.ReadCursor(ctx, CursorMatching)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScore(t *testing.T) {
	w := 48 * time.Hour
	assert.Equal(t, 0.9, score(ir.MatchExactPhone, 0, w))
	assert.Equal(t, 0.45, score(ir.MatchExactPhone, w, w))
	assert.Equal(t, 0.25, score(ir.MatchSuffixPhone, w, w))
}
