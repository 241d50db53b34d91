package timeline

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// Store is the persistence the efficiency report reads. Implemented by *store.Store.
type Store interface {
	ReadStatusHistories(ctx context.Context, until time.Time) (map[string][]ir.OrderEvent, error)
	ReadMatchedCallsInWindow(ctx context.Context, from, to time.Time, minDurationSec int64) ([]store.MatchedCall, error)
}

// Settings are the per-invocation inputs of the efficiency report.
type Settings struct {
	Filter
	MinCallSeconds int64
}

// ManagerEfficiency is one report row.
type ManagerEfficiency struct {
	ManagerID       string   `json:"manager_id"`
	Minutes         float64  `json:"minutes"`
	OrdersTouched   []string `json:"orders_touched"`
	OrdersProcessed []string `json:"orders_processed"`
}

// EfficiencyReport summarizes attributed work over a window.
type EfficiencyReport struct {
	From     time.Time           `json:"from"`
	To       time.Time           `json:"to"`
	Managers []ManagerEfficiency `json:"managers"`
	Note     string              `json:"note,omitempty"`
}

// Efficiency builds the per-manager report for [from, to]. "Processed"
// orders are touched orders that also have a qualifying matched call in the
// window. Without working statuses the report is empty, not an error.
func Efficiency(ctx context.Context, s Store, from, to time.Time, set Settings, logger *zap.Logger) (EfficiencyReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	report := EfficiencyReport{From: from, To: to, Managers: []ManagerEfficiency{}}
	if len(set.WorkingStatuses) == 0 {
		report.Note = "no working statuses configured"
		logger.Info("efficiency report skipped", zap.String("reason", report.Note))
		return report, nil
	}

	events, err := s.ReadStatusHistories(ctx, to)
	if err != nil {
		return report, fmt.Errorf("efficiency: %w", err)
	}
	histories := make(map[string][]Interval, len(events))
	for id, evs := range events {
		histories[id] = Reconstruct(evs)
	}
	attributed := AttributeWindow(histories, from, to, set.Filter)

	calls, err := s.ReadMatchedCallsInWindow(ctx, from, to, set.MinCallSeconds)
	if err != nil {
		return report, fmt.Errorf("efficiency: %w", err)
	}
	evidenced := make(map[string]bool, len(calls))
	for _, mc := range calls {
		evidenced[mc.Match.OrderID] = true
	}

	managers := make([]string, 0, len(attributed))
	for id := range attributed {
		managers = append(managers, id)
	}
	slices.Sort(managers)

	for _, id := range managers {
		mt := attributed[id]
		touched := mt.OrderIDs()
		processed := []string{}
		for _, o := range touched {
			if evidenced[o] {
				processed = append(processed, o)
			}
		}
		report.Managers = append(report.Managers, ManagerEfficiency{
			ManagerID:       id,
			Minutes:         math.Round(mt.Minutes()*100) / 100,
			OrdersTouched:   touched,
			OrdersProcessed: processed,
		})
	}

	logger.Info("efficiency report built",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("managers", len(report.Managers)),
		zap.Int("orders_with_calls", len(evidenced)))
	return report, nil
}
