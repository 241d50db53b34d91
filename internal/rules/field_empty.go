package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// FieldEmpty is the field_empty condition: satisfied when the named field
// is missing or blank.
//
// Params:
//
//	field: field name (required)
type FieldEmpty struct{}

// Name implements Block.
func (FieldEmpty) Name() string { return "field_empty" }

// Kind implements Block.
func (FieldEmpty) Kind() Kind { return KindCondition }

// Compile implements Block.
func (FieldEmpty) Compile(params ir.Object) (Predicate, error) {
	if err := checkParams(params, "field"); err != nil {
		return nil, err
	}
	field, err := requireString(params, "field")
	if err != nil {
		return nil, err
	}
	return fieldEmpty{field: field}, nil
}

type fieldEmpty struct {
	field string
}

func (p fieldEmpty) Evaluate(_ context.Context, _ Env, ec *EntityContext) Outcome {
	v, ok := ec.Field(p.field)
	if !ok {
		return satisfied(fmt.Sprintf("%s is missing", p.field))
	}
	if strings.TrimSpace(v) == "" {
		return satisfied(fmt.Sprintf("%s is blank", p.field))
	}
	return notSatisfied(fmt.Sprintf("%s is filled", p.field))
}
