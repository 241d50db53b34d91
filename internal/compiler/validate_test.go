package compiler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/rules"
)

func validRule(code string) ir.Rule {
	return ir.Rule{
		Code:       code,
		Name:       "Rule " + code,
		EntityType: ir.EntityOrder,
		Severity:   ir.SeverityMedium,
		Active:     true,
		Logic: ir.Logic{
			Trigger: ir.BlockSpec{Block: "status_change", Params: ir.Object{"status": ir.String("new")}},
			Conditions: []ir.BlockSpec{
				{Block: "field_empty", Params: ir.Object{"field": ir.String("manager_comment")}},
			},
		},
	}
}

func TestValidate_TestdataRules(t *testing.T) {
	result, errs := LoadRules(filepath.Join("testdata", "rules"), LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Empty(t, Validate(result.Rules, rules.DefaultRegistry()))
}

func TestValidate_Valid(t *testing.T) {
	errs := Validate([]ir.Rule{validRule("a"), validRule("b")}, rules.DefaultRegistry())
	assert.Empty(t, errs)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *ir.Rule)
		code   string
		field  string
	}{
		{
			name:   "unknown entity",
			mutate: func(r *ir.Rule) { r.EntityType = "invoice" },
			code:   ErrInvalidEntityType,
			field:  "entity",
		},
		{
			name:   "unknown severity",
			mutate: func(r *ir.Rule) { r.Severity = "urgent" },
			code:   ErrInvalidSeverity,
			field:  "severity",
		},
		{
			name:   "blank name",
			mutate: func(r *ir.Rule) { r.Name = "  " },
			code:   ErrEmptyName,
			field:  "name",
		},
		{
			name:   "code with slash",
			mutate: func(r *ir.Rule) { r.Code = "a/b" },
			code:   ErrInvalidCode,
			field:  "code",
		},
		{
			name:   "unknown block",
			mutate: func(r *ir.Rule) { r.Logic.Conditions[0].Block = "is_vip" },
			code:   ErrInvalidLogic,
			field:  "logic.conditions[0]",
		},
		{
			name: "condition used as trigger",
			mutate: func(r *ir.Rule) {
				r.Logic.Trigger = ir.BlockSpec{Block: "field_empty", Params: ir.Object{"field": ir.String("x")}}
			},
			code:  ErrInvalidLogic,
			field: "logic.trigger",
		},
		{
			name:   "bad params",
			mutate: func(r *ir.Rule) { r.Logic.Trigger.Params = ir.Object{} },
			code:   ErrInvalidLogic,
			field:  "logic.trigger",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule("r")
			tt.mutate(&r)
			errs := Validate([]ir.Rule{r}, rules.DefaultRegistry())
			require.Len(t, errs, 1)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidate_DuplicateCode(t *testing.T) {
	errs := Validate([]ir.Rule{validRule("a"), validRule("a")}, rules.DefaultRegistry())
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateCode, errs[0].Code)
	assert.Equal(t, `[E101] rule a: code: duplicate rule code: "a"`, errs[0].Error())
}

func TestFindDuplicateLogic(t *testing.T) {
	a, b, c := validRule("a"), validRule("b"), validRule("c")
	c.EntityType = ir.EntityEvent
	d := validRule("d")
	d.Logic.Conditions = nil

	warnings := FindDuplicateLogic([]ir.Rule{a, b, c, d})
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a", "b"}, warnings[0].Rules)
	assert.Len(t, warnings[0].LogicHash, 64)
}
