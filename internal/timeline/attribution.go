package timeline

import (
	"slices"
	"time"
)

// Filter selects which intervals count. An empty ControlledManagers set
// admits every manager; an empty WorkingStatuses set admits nothing.
type Filter struct {
	WorkingStatuses    []string
	ControlledManagers []string
}

func (f Filter) admits(iv Interval) bool {
	if !slices.Contains(f.WorkingStatuses, iv.Status) {
		return false
	}
	if len(f.ControlledManagers) > 0 && !slices.Contains(f.ControlledManagers, iv.ManagerID) {
		return false
	}
	return true
}

// ManagerTime is one manager's attributed work.
type ManagerTime struct {
	ManagerID string
	Duration  time.Duration
	Orders    map[string]bool
}

// Minutes returns the attributed time in minutes.
func (m ManagerTime) Minutes() float64 {
	return m.Duration.Minutes()
}

// OrderIDs returns the touched orders sorted.
func (m ManagerTime) OrderIDs() []string {
	ids := make([]string, 0, len(m.Orders))
	for id := range m.Orders {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Attribute sums closed intervals admitted by f per manager. Open intervals
// contribute nothing.
func Attribute(intervals []Interval, f Filter) map[string]*ManagerTime {
	out := make(map[string]*ManagerTime)
	for _, iv := range intervals {
		if iv.Open || !f.admits(iv) {
			continue
		}
		mt := out[iv.Manager()]
		if mt == nil {
			mt = &ManagerTime{ManagerID: iv.Manager(), Orders: make(map[string]bool)}
			out[iv.Manager()] = mt
		}
		mt.Duration += iv.Duration()
		mt.Orders[iv.OrderID] = true
	}
	return out
}

// AttributeWindow clips each order's closed intervals to [from, to] and
// attributes what remains. histories maps order ID to its intervals.
func AttributeWindow(histories map[string][]Interval, from, to time.Time, f Filter) map[string]*ManagerTime {
	var clipped []Interval
	orderIDs := make([]string, 0, len(histories))
	for id := range histories {
		orderIDs = append(orderIDs, id)
	}
	slices.Sort(orderIDs)
	for _, id := range orderIDs {
		for _, iv := range histories[id] {
			if iv.Open {
				continue
			}
			if c, ok := Clip(iv, from, to); ok {
				clipped = append(clipped, c)
			}
		}
	}
	return Attribute(clipped, f)
}
