package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/queryir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/querysql"
)

// ViolationsTable describes the columns a violations query may filter on.
var ViolationsTable = queryir.Table{
	Name: "violations",
	Columns: map[string]bool{
		"id": true, "rule_code": true, "subject_key": true, "entity_type": true,
		"order_id": true, "call_id": true, "event_id": true, "manager_id": true,
		"severity": true, "details": true, "logic_hash": true, "review_status": true,
		"violated_at": true,
	},
	TimeColumns: map[string]bool{"violated_at": true},
}

// ErrInvalidQuery wraps queryir validation failures.
var ErrInvalidQuery = errors.New("invalid query")

// QueryViolations returns the violations matching filter, oldest first,
// at most limit rows (0 = all). A nil filter matches every violation.
func (s *Store) QueryViolations(ctx context.Context, filter queryir.Predicate, limit int) ([]ir.Violation, error) {
	q := queryir.Select{
		From:    ViolationsTable.Name,
		Columns: splitColumns(violationColumns),
		Filter:  filter,
		Limit:   limit,
	}
	if res := queryir.Validate(q, ViolationsTable); !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, strings.Join(res.Errors, "; "))
	}

	c := querysql.NewSQLCompiler()
	c.FormatTime = formatTime
	c.OrderBy[ViolationsTable.Name] = []string{"violated_at", "id"}
	query, params, err := c.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile violations query: %w", err)
	}
	return s.queryViolations(ctx, query, params...)
}

func splitColumns(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
