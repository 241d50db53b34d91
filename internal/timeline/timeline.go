// Package timeline replays an order's status log into intervals attributed to
// the manager who set each status.
package timeline

import (
	"slices"
	"time"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// Interval is [Start, End) spent in Status, attributed to ManagerID.
// The last interval of a sequence is Open and has no End.
type Interval struct {
	OrderID   string
	Status    string
	ManagerID string
	Start     time.Time
	End       time.Time
	Open      bool
}

// Duration returns the closed interval's length. Open intervals have none.
func (iv Interval) Duration() time.Duration {
	if iv.Open {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// Manager returns the attributed manager, or ir.SystemManager.
func (iv Interval) Manager() string {
	if iv.ManagerID == "" {
		return ir.SystemManager
	}
	return iv.ManagerID
}

// Reconstruct turns an order's events into status intervals. Non-status
// events are ignored; events are ordered by time, then ID.
func Reconstruct(events []ir.OrderEvent) []Interval {
	status := make([]ir.OrderEvent, 0, len(events))
	for _, e := range events {
		if e.IsStatusChange() {
			status = append(status, e)
		}
	}
	slices.SortStableFunc(status, func(a, b ir.OrderEvent) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	out := make([]Interval, 0, len(status))
	for i, e := range status {
		iv := Interval{
			OrderID:   e.OrderID,
			Status:    e.NewValue,
			ManagerID: e.ManagerID,
			Start:     e.OccurredAt,
		}
		if i+1 < len(status) {
			iv.End = status[i+1].OccurredAt
		} else {
			iv.Open = true
		}
		out = append(out, iv)
	}
	return out
}

// Clip restricts iv to [from, to]. An open interval is closed at to.
// ok is false when nothing of iv lies inside the window.
func Clip(iv Interval, from, to time.Time) (Interval, bool) {
	end := iv.End
	if iv.Open {
		end = to
	}
	start := iv.Start
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return Interval{}, false
	}
	iv.Start = start
	iv.End = end
	iv.Open = false
	return iv, true
}

// TimeInCurrentStatus returns how long the order has been in its latest
// status as of now, counting the open interval. ok is false when the log
// has no status events.
func TimeInCurrentStatus(events []ir.OrderEvent, now time.Time) (status string, d time.Duration, ok bool) {
	ivs := Reconstruct(events)
	if len(ivs) == 0 {
		return "", 0, false
	}
	last := ivs[len(ivs)-1]
	d = now.Sub(last.Start)
	if d < 0 {
		d = 0
	}
	return last.Status, d, true
}

// CurrentStatusSince returns when the latest status was set.
func CurrentStatusSince(events []ir.OrderEvent) (time.Time, bool) {
	ivs := Reconstruct(events)
	if len(ivs) == 0 {
		return time.Time{}, false
	}
	return ivs[len(ivs)-1].Start, true
}
