package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

func TestUpsertCall_TranscriptAttachedLater(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := createTestCall("c1", "+7 916 123 45 67", t0)
	require.NoError(t, s.UpsertCall(ctx, c))

	// Re-ingesting with a transcript fills it in.
	c.Transcript = "hello"
	require.NoError(t, s.UpsertCall(ctx, c))

	// Re-ingesting without one keeps it.
	c.Transcript = ""
	require.NoError(t, s.UpsertCall(ctx, c))

	got, err := s.ReadCall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Transcript)
	assert.True(t, got.StartedAt.Equal(t0))
	assert.Equal(t, ir.DirectionInbound, got.Direction)
}

func TestAttachTranscript(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCall(ctx, createTestCall("c1", "89161234567", t0)))
	require.NoError(t, s.AttachTranscript(ctx, "c1", "text"))

	got, err := s.ReadCall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "text", got.Transcript)

	assert.ErrorIs(t, s.AttachTranscript(ctx, "missing", "x"), ErrNotFound)
}

func TestUpsertOrder_PhonesOnlyGrow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	o := createTestOrder("o1", "+7 916 123 45 67")
	require.NoError(t, s.UpsertOrder(ctx, o))

	o.Phones = []string{"8 903 000 11 22", "garbage"}
	o.Status = "in_work"
	require.NoError(t, s.UpsertOrder(ctx, o))

	got, err := s.ReadOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "in_work", got.Status)
	assert.Equal(t, []string{"9030001122", "9161234567"}, got.Phones)
	assert.Equal(t, "1500.5", got.Total.String())
	assert.Equal(t, ir.Object{"manager_comment": ir.String("")}, got.Payload)
}

func TestAppendEvent_Monotonic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("o1")))

	id1, err := s.AppendEvent(ctx, ir.OrderEvent{OrderID: "o1", Field: "status", NewValue: "new", OccurredAt: t0})
	require.NoError(t, err)
	id2, err := s.AppendEvent(ctx, ir.OrderEvent{OrderID: "o1", Field: "status", OldValue: "new", NewValue: "in_work", OccurredAt: t0})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	_, err = s.AppendEvent(ctx, ir.OrderEvent{OrderID: "o1", Field: "status", OccurredAt: t0.Add(-time.Minute)})
	assert.ErrorIs(t, err, ErrEventOutOfOrder)

	events, err := s.ReadOrderEvents(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "in_work", events[1].NewValue)
}

func TestAppendEvent_Redelivery(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("o1")))

	first := ir.OrderEvent{OrderID: "o1", Field: "status", NewValue: "new", ManagerID: "m1", OccurredAt: t0}
	id1, err := s.AppendEvent(ctx, first)
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, ir.OrderEvent{OrderID: "o1", Field: "status", OldValue: "new", NewValue: "in_work", OccurredAt: t0.Add(time.Hour)})
	require.NoError(t, err)

	// An older but identical event is a redelivery, not an out-of-order append.
	again, err := s.AppendEvent(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, id1, again)

	events, err := s.ReadOrderEvents(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestUpsertMatch_OneRowPerCall(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("o1")))
	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("o2")))
	require.NoError(t, s.UpsertCall(ctx, createTestCall("c1", "89161234567", t0)))

	m := ir.CallOrderMatch{CallID: "c1", OrderID: "o1", Score: 0.8, MatchType: ir.MatchExactPhone, MatchedAt: t0}
	require.NoError(t, s.UpsertMatch(ctx, m))
	require.NoError(t, s.UpsertMatch(ctx, m))

	m.OrderID = "o2"
	m.MatchType = ir.MatchSuffixPhone
	require.NoError(t, s.UpsertMatch(ctx, m))

	n, err := s.CountMatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.ReadMatch(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "o2", got.OrderID)
	assert.Equal(t, ir.MatchSuffixPhone, got.MatchType)
}

func TestUpsertMatch_RejectsScoreOutOfRange(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("o1")))
	require.NoError(t, s.UpsertCall(ctx, createTestCall("c1", "89161234567", t0)))

	err := s.UpsertMatch(ctx, ir.CallOrderMatch{CallID: "c1", OrderID: "o1", Score: 1.5, MatchType: ir.MatchExactPhone, MatchedAt: t0})
	assert.Error(t, err)
}

func TestUpsertRule_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r := ir.Rule{
		Code:       "NO_COMMENT",
		Name:       "No manager comment",
		EntityType: ir.EntityOrder,
		Logic: ir.Logic{
			Trigger: ir.BlockSpec{Block: "status_change", Params: ir.Object{"status": ir.String("new")}},
			Conditions: []ir.BlockSpec{
				{Block: "field_empty", Params: ir.Object{"field": ir.String("manager_comment")}},
			},
		},
		Severity: ir.SeverityHigh,
		Active:   true,
	}
	require.NoError(t, s.UpsertRule(ctx, r))

	inactive := r
	inactive.Code = "OFF"
	inactive.Active = false
	require.NoError(t, s.UpsertRule(ctx, inactive))

	got, err := s.ReadRule(ctx, "NO_COMMENT")
	require.NoError(t, err)
	assert.Equal(t, r.Logic, got.Logic)
	assert.Equal(t, ir.Object{}, got.Params)

	active, err := s.ReadActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "NO_COMMENT", active[0].Code)

	all, err := s.ReadAllRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.ReadRule(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertViolation_KeepsReviewStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v := ir.Violation{
		RuleCode:   "NO_COMMENT",
		SubjectKey: "order:o1",
		EntityType: ir.EntityOrder,
		OrderID:    "o1",
		ManagerID:  "m1",
		Severity:   ir.SeverityMedium,
		Details:    ir.Object{"status": ir.String("new")},
		ViolatedAt: t0,
	}
	created, err := s.UpsertViolation(ctx, v)
	require.NoError(t, err)
	assert.True(t, created)

	stored, err := s.ReadViolation(ctx, "NO_COMMENT", "order:o1")
	require.NoError(t, err)
	assert.Equal(t, ir.ViolationID("NO_COMMENT", "order:o1"), stored.ID)
	assert.Equal(t, ir.ReviewPending, stored.ReviewStatus)

	require.NoError(t, s.SetReviewStatus(ctx, stored.ID, ir.ReviewConfirmed))

	v.Severity = ir.SeverityCritical
	v.ViolatedAt = t0.Add(time.Hour)
	created, err = s.UpsertViolation(ctx, v)
	require.NoError(t, err)
	assert.False(t, created)

	all, err := s.ReadViolations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ir.ReviewConfirmed, all[0].ReviewStatus)
	assert.Equal(t, ir.SeverityCritical, all[0].Severity)
	assert.True(t, all[0].ViolatedAt.Equal(t0.Add(time.Hour)))
}

func TestSetReviewStatus_NotFound(t *testing.T) {
	s := createTestStore(t)
	err := s.SetReviewStatus(context.Background(), "nope", ir.ReviewRejected)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCursor(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.ReadCursor(ctx, "matching")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteCursor(ctx, "matching", Cursor{StartedAt: t0, CallID: "c1"}))
	require.NoError(t, s.WriteCursor(ctx, "matching", Cursor{StartedAt: t0.Add(time.Minute), CallID: "c2"}))

	c, ok, err := s.ReadCursor(ctx, "matching")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c2", c.CallID)
	assert.True(t, c.StartedAt.Equal(t0.Add(time.Minute)))

	require.NoError(t, s.ResetCursor(ctx, "matching"))
	_, ok, err = s.ReadCursor(ctx, "matching")
	require.NoError(t, err)
	assert.False(t, ok)
}
