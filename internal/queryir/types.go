package queryir

import (
	"time"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// Select reads rows of one table.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <stable key> LIMIT <limit>
//
// Columns are supplied by the caller that scans the rows. A zero Limit
// means no limit.
type Select struct {
	From    string
	Columns []string
	Filter  Predicate // nil = no filter
	Limit   int
}

// Predicate is a filter condition.
//
// This is a sealed interface - only types in this package implement it,
// so backends can switch over it exhaustively.
type Predicate interface {
	predicateNode()
}

// Equals matches rows whose field equals a scalar value.
//
// Example:
//
//	Equals{Field: "review_status", Value: ir.String("pending")}
//
// Value must be ir.String, ir.Int or ir.Bool; nulls and containers are
// rejected by Validate.
type Equals struct {
	Field string
	Value ir.Value
}

func (Equals) predicateNode() {}

// In matches rows whose field equals any of Values. An empty list is
// rejected by Validate rather than matching nothing.
type In struct {
	Field  string
	Values []ir.Value
}

func (In) predicateNode() {}

// Between matches rows whose time field lies in [From, To]. A zero bound
// is open.
type Between struct {
	Field    string
	From, To time.Time
}

func (Between) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Conj builds an And from the non-nil predicates. It returns nil when none
// remain, so callers can build filters from optional flags.
func Conj(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return And{Predicates: kept}
}
