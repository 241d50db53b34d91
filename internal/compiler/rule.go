package compiler

import (
	stderrors "errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// CompileRule parses a CUE value into a Rule.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: stuck_new: { entity: "order", logic: {...} }`)
//	rule, err := CompileRule(v.LookupPath(cue.ParsePath("rule.stuck_new")))
//
// Omitted fields default to: name = code, severity = medium, active = true.
func CompileRule(v cue.Value) (*ir.Rule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.Rule{
		Severity: ir.SeverityMedium,
		Active:   true,
		Params:   ir.Object{},
	}

	// Rule code comes from the struct label, e.g. `rule: "stuck-new": {...}`.
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.Code = strings.Trim(labels[len(labels)-1].String(), `"`)
	}
	if rule.Code == "" {
		return nil, &CompileError{Field: "code", Message: "rule code is required", Pos: v.Pos()}
	}

	var err error
	if rule.Name, err = optionalString(v, "name", rule.Code); err != nil {
		return nil, err
	}

	entity, err := requiredString(v, "entity")
	if err != nil {
		return nil, err
	}
	rule.EntityType = ir.EntityType(entity)

	severity, err := optionalString(v, "severity", string(ir.SeverityMedium))
	if err != nil {
		return nil, err
	}
	rule.Severity = ir.Severity(severity)

	if activeVal := v.LookupPath(cue.ParsePath("active")); activeVal.Exists() {
		if rule.Active, err = activeVal.Bool(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if paramsVal := v.LookupPath(cue.ParsePath("params")); paramsVal.Exists() {
		if rule.Params, err = decodeObject(paramsVal, "params"); err != nil {
			return nil, err
		}
	}

	rule.Logic, err = parseLogic(v)
	if err != nil {
		return nil, err
	}

	return rule, nil
}

// parseLogic extracts the trigger and ordered condition blocks.
func parseLogic(v cue.Value) (ir.Logic, error) {
	logicVal := v.LookupPath(cue.ParsePath("logic"))
	if !logicVal.Exists() {
		return ir.Logic{}, &CompileError{
			Field:   "logic",
			Message: "logic is required",
			Pos:     v.Pos(),
		}
	}

	triggerVal := logicVal.LookupPath(cue.ParsePath("trigger"))
	if !triggerVal.Exists() {
		return ir.Logic{}, &CompileError{
			Field:   "logic.trigger",
			Message: "logic requires a trigger block",
			Pos:     logicVal.Pos(),
		}
	}
	trigger, err := parseBlock(triggerVal, "logic.trigger")
	if err != nil {
		return ir.Logic{}, err
	}

	logic := ir.Logic{Trigger: trigger, Conditions: []ir.BlockSpec{}}

	condsVal := logicVal.LookupPath(cue.ParsePath("conditions"))
	if !condsVal.Exists() {
		return logic, nil
	}
	iter, err := condsVal.List()
	if err != nil {
		return ir.Logic{}, &CompileError{
			Field:   "logic.conditions",
			Message: "conditions must be a list of blocks",
			Pos:     condsVal.Pos(),
		}
	}
	for i := 0; iter.Next(); i++ {
		b, err := parseBlock(iter.Value(), fmt.Sprintf("logic.conditions[%d]", i))
		if err != nil {
			return ir.Logic{}, err
		}
		logic.Conditions = append(logic.Conditions, b)
	}
	return logic, nil
}

// parseBlock extracts {block: "<name>", params: {...}}.
// Block names are resolved against the registry later, by Validate.
func parseBlock(v cue.Value, field string) (ir.BlockSpec, error) {
	name, err := requiredString(v, "block")
	if err != nil {
		var ce *CompileError
		if stderrors.As(err, &ce) {
			ce.Field = field + "." + ce.Field
		}
		return ir.BlockSpec{}, err
	}

	spec := ir.BlockSpec{Block: name, Params: ir.Object{}}
	if paramsVal := v.LookupPath(cue.ParsePath("params")); paramsVal.Exists() {
		if spec.Params, err = decodeObject(paramsVal, field+".params"); err != nil {
			return ir.BlockSpec{}, err
		}
	}
	return spec, nil
}

// decodeObject decodes a concrete CUE struct into an Object. Fractional
// numbers and nulls are rejected, as everywhere in the value model.
func decodeObject(v cue.Value, field string) (ir.Object, error) {
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	var raw map[string]any
	if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}
	obj, err := ir.ToObject(raw)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return obj, nil
}

func requiredString(v cue.Value, name string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   name,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, name, def string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return def, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents an error during CUE compilation with position info.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError converts CUE errors to CompileError with position info.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
