package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestOrder creates an order with minimal required fields.
func createTestOrder(id string, phones ...string) ir.Order {
	return ir.Order{
		ID:        id,
		Number:    "N-" + id,
		Status:    "new",
		CreatedAt: t0,
		UpdatedAt: t0,
		ManagerID: "m1",
		Total:     decimal.RequireFromString("1500.50"),
		Phones:    phones,
		Payload:   ir.Object{"manager_comment": ir.String("")},
	}
}

// createTestCall creates an inbound call from the given number.
func createTestCall(id, from string, startedAt time.Time) ir.RawCall {
	return ir.RawCall{
		ID:          id,
		Direction:   ir.DirectionInbound,
		FromNumber:  from,
		ToNumber:    "84950000000",
		StartedAt:   startedAt,
		DurationSec: 60,
	}
}
