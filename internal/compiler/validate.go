package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/rules"
)

// Validation error codes (E100-E199)
const (
	ErrDuplicateCode     = "E101" // two rules share a code
	ErrInvalidEntityType = "E102" // entity is not order, call or event
	ErrInvalidSeverity   = "E103" // severity is not low, medium, high or critical
	ErrInvalidLogic      = "E104" // unknown block, wrong kind or bad params
	ErrEmptyName         = "E105" // name is blank
	ErrInvalidCode       = "E106" // code contains whitespace or '/'
)

// ValidationError represents a rule-set validation error.
type ValidationError struct {
	RuleCode string `json:"rule_code"`
	Field    string `json:"field"`
	Message  string `json:"message"`
	Code     string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] rule %s: %s: %s", e.Code, e.RuleCode, e.Field, e.Message)
}

// DuplicateLogicWarning reports rules whose logic is identical.
type DuplicateLogicWarning struct {
	LogicHash string   `json:"logic_hash"`
	Rules     []string `json:"rules"`
}

// Validate checks a rule set against the block registry.
// Returns all errors found (does not fail-fast).
func Validate(rs []ir.Rule, reg *rules.Registry) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(rs))

	for _, r := range rs {
		if seen[r.Code] {
			errs = append(errs, ValidationError{
				RuleCode: r.Code,
				Field:    "code",
				Message:  fmt.Sprintf("duplicate rule code: %q", r.Code),
				Code:     ErrDuplicateCode,
			})
		}
		seen[r.Code] = true

		errs = append(errs, validateRule(r, reg)...)
	}
	return errs
}

func validateRule(r ir.Rule, reg *rules.Registry) []ValidationError {
	var errs []ValidationError

	if r.Code == "" || strings.ContainsAny(r.Code, " \t\n/") {
		errs = append(errs, ValidationError{
			RuleCode: r.Code,
			Field:    "code",
			Message:  "code must be non-empty without whitespace or '/'",
			Code:     ErrInvalidCode,
		})
	}

	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, ValidationError{
			RuleCode: r.Code,
			Field:    "name",
			Message:  "name must be non-empty",
			Code:     ErrEmptyName,
		})
	}

	if !ir.ValidEntityTypes[r.EntityType] {
		errs = append(errs, ValidationError{
			RuleCode: r.Code,
			Field:    "entity",
			Message:  fmt.Sprintf("invalid entity %q, must be \"order\", \"call\", or \"event\"", r.EntityType),
			Code:     ErrInvalidEntityType,
		})
	}

	if !ir.ValidSeverities[r.Severity] {
		errs = append(errs, ValidationError{
			RuleCode: r.Code,
			Field:    "severity",
			Message:  fmt.Sprintf("invalid severity %q, must be \"low\", \"medium\", \"high\", or \"critical\"", r.Severity),
			Code:     ErrInvalidSeverity,
		})
	}

	if _, err := reg.Compile(r); err != nil {
		field := "logic"
		var ce *rules.CompileError
		if errors.As(err, &ce) {
			field = "logic." + ce.Position
		}
		errs = append(errs, ValidationError{
			RuleCode: r.Code,
			Field:    field,
			Message:  err.Error(),
			Code:     ErrInvalidLogic,
		})
	}

	return errs
}

// FindDuplicateLogic groups rules of the same entity type whose logic hashes
// are equal. Such rules fire on exactly the same subjects and usually
// indicate a copy-paste error.
func FindDuplicateLogic(rs []ir.Rule) []DuplicateLogicWarning {
	type group struct {
		hash  string
		codes []string
	}
	groups := make(map[string]*group)
	var order []string
	for _, r := range rs {
		h, err := ir.LogicHash(r.Logic)
		if err != nil {
			continue
		}
		key := string(r.EntityType) + ":" + h
		g, ok := groups[key]
		if !ok {
			g = &group{hash: h}
			groups[key] = g
			order = append(order, key)
		}
		g.codes = append(g.codes, r.Code)
	}

	var warnings []DuplicateLogicWarning
	for _, key := range order {
		if g := groups[key]; len(g.codes) > 1 {
			warnings = append(warnings, DuplicateLogicWarning{LogicHash: g.hash, Rules: g.codes})
		}
	}
	return warnings
}
