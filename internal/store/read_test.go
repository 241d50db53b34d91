package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

func TestReadCallsAfter_SameTimestamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCall(ctx, createTestCall("b", "89161234567", t0)))
	require.NoError(t, s.UpsertCall(ctx, createTestCall("a", "89161234567", t0)))
	require.NoError(t, s.UpsertCall(ctx, createTestCall("c", "89161234567", t0.Add(time.Second))))

	first, err := s.ReadCallsAfter(ctx, Cursor{}, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "a", first[0].ID)

	rest, err := s.ReadCallsAfter(ctx, Cursor{StartedAt: t0, CallID: "a"}, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "b", rest[0].ID)
	assert.Equal(t, "c", rest[1].ID)
}

func TestReadCallsInWindow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCall(ctx, createTestCall("early", "89161234567", t0.Add(-time.Hour))))
	require.NoError(t, s.UpsertCall(ctx, createTestCall("in", "89161234567", t0)))

	calls, err := s.ReadCallsInWindow(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "in", calls[0].ID)
}

func TestFindOrdersByPhonesAndSuffix(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("o1", "+7 916 123 45 67")))
	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("o2")))
	require.NoError(t, s.RecordPhoneOccurrence(ctx, "o2", "8 (999) 123-45-67", "event", t0))
	require.NoError(t, s.RecordPhoneOccurrence(ctx, "o2", "bad", "event", t0))

	byPhone, err := s.FindOrdersByPhones(ctx, []string{"9161234567", "79161234567"})
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	assert.Equal(t, "o1", byPhone[0].ID)

	bySuffix, err := s.FindOrdersBySuffix(ctx, "1234567")
	require.NoError(t, err)
	require.Len(t, bySuffix, 1)
	assert.Equal(t, "o2", bySuffix[0].ID)

	none, err := s.FindOrdersByPhones(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReadOrdersInWindow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	old := createTestOrder("old")
	old.CreatedAt = t0.Add(-72 * time.Hour)
	old.UpdatedAt = t0.Add(-72 * time.Hour)
	require.NoError(t, s.UpsertOrder(ctx, old))

	evented := old
	evented.ID = "evented"
	require.NoError(t, s.UpsertOrder(ctx, evented))
	_, err := s.AppendEvent(ctx, ir.OrderEvent{OrderID: "evented", Field: "manager_comment", NewValue: "x", OccurredAt: t0.Add(time.Minute)})
	require.NoError(t, err)

	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("fresh")))

	orders, err := s.ReadOrdersInWindow(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	assert.Equal(t, []string{"evented", "fresh"}, ids)
}

func TestReadStatusHistories(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("o1")))

	for i, status := range []string{"new", "in_work", "done", "archived"} {
		_, err := s.AppendEvent(ctx, ir.OrderEvent{
			OrderID: "o1", Field: ir.StatusField, NewValue: status,
			OccurredAt: t0.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("late")))
	_, err := s.AppendEvent(ctx, ir.OrderEvent{
		OrderID: "late", Field: ir.StatusField, NewValue: "new", OccurredAt: t0.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, ir.OrderEvent{OrderID: "o1", Field: "manager_comment", OccurredAt: t0.Add(3 * time.Hour)})
	require.NoError(t, err)

	// The first change after until is kept so the running interval can close.
	hist, err := s.ReadStatusHistories(ctx, t0.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, hist["o1"], 3)
	assert.Equal(t, "in_work", hist["o1"][1].NewValue)
	assert.Equal(t, "done", hist["o1"][2].NewValue)
	assert.NotContains(t, hist, "late")

	inWindow, err := s.ReadEventsInWindow(ctx, t0.Add(2*time.Hour), t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Len(t, inWindow, 4)
}

func TestReadMatchedCalls(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrder(ctx, createTestOrder("o1")))

	short := createTestCall("short", "89161234567", t0)
	short.DurationSec = 5
	long := createTestCall("long", "89161234567", t0.Add(time.Hour))
	long.Transcript = "client asked for delivery"
	for _, c := range []ir.RawCall{short, long} {
		require.NoError(t, s.UpsertCall(ctx, c))
		require.NoError(t, s.UpsertMatch(ctx, ir.CallOrderMatch{
			CallID: c.ID, OrderID: "o1", Score: 0.9, MatchType: ir.MatchExactPhone, MatchedAt: t0,
		}))
	}

	qualifying, err := s.ReadMatchedCallsInWindow(ctx, t0, t0.Add(2*time.Hour), 20)
	require.NoError(t, err)
	require.Len(t, qualifying, 1)
	assert.Equal(t, "long", qualifying[0].Call.ID)
	assert.Equal(t, "o1", qualifying[0].Match.OrderID)

	latest, ok, err := s.ReadLatestMatchedCall(ctx, "o1", t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "short", latest.Call.ID)

	_, ok, err = s.ReadLatestMatchedCall(ctx, "o1", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}
