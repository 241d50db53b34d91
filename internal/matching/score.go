package matching

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// Base confidence per match type before the time penalty.
const (
	exactBase  = 0.9
	suffixBase = 0.5
)

// Candidate is a scored order for a call.
type Candidate struct {
	Order     ir.Order
	MatchType ir.MatchType
	Score     float64
	Delta     time.Duration
	Reference string // "created" or "updated"
	Phone     string
}

// Explanation renders the reason shown to reviewers.
func (c Candidate) Explanation() string {
	kind := "exact phone"
	if c.MatchType == ir.MatchSuffixPhone {
		kind = "phone suffix"
	}
	return fmt.Sprintf("%s %s matched order %s; call is %s from order %s time",
		kind, c.Phone, c.Order.Number, c.Delta, c.Reference)
}

// timeDelta returns the distance from the call to the nearer of the order's
// creation and last update.
func timeDelta(start time.Time, o ir.Order) (time.Duration, string) {
	created := absDuration(start.Sub(o.CreatedAt))
	updated := absDuration(start.Sub(o.UpdatedAt))
	if updated < created {
		return updated, "updated"
	}
	return created, "created"
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// score maps a match type and delta within window to a confidence in [0, 1].
// The time penalty removes at most half of the base.
func score(t ir.MatchType, delta, window time.Duration) float64 {
	base := suffixBase
	if t == ir.MatchExactPhone {
		base = exactBase
	}
	ratio := 0.0
	if window > 0 {
		ratio = float64(delta) / float64(window)
	}
	s := base * (1 - 0.5*ratio)
	return math.Round(s*10000) / 10000
}

// rank sorts candidates best first.
func rank(cands []Candidate) {
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Delta, b.Delta); c != 0 {
			return c
		}
		if c := b.Order.CreatedAt.Compare(a.Order.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Order.ID, b.Order.ID)
	})
}
