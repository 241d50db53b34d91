package compiler

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// yamlBlock mirrors ir.BlockSpec with raw YAML params.
type yamlBlock struct {
	Block  string         `yaml:"block"`
	Params map[string]any `yaml:"params"`
}

type yamlLogic struct {
	Trigger    *yamlBlock  `yaml:"trigger"`
	Conditions []yamlBlock `yaml:"conditions"`
}

// ParseLogicYAML decodes ad hoc rule logic, as used by dry runs:
//
//	trigger: {block: status_change, params: {status: new}}
//	conditions:
//	  - {block: time_elapsed, params: {hours: 2}}
//
// Block names are not checked against a registry here.
func ParseLogicYAML(data []byte) (ir.Logic, error) {
	var raw yamlLogic
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ir.Logic{}, &CompileError{Field: "logic", Message: err.Error()}
	}
	if raw.Trigger == nil {
		return ir.Logic{}, &CompileError{Field: "logic.trigger", Message: "required field missing"}
	}

	trigger, err := raw.Trigger.toSpec("logic.trigger")
	if err != nil {
		return ir.Logic{}, err
	}
	logic := ir.Logic{Trigger: trigger, Conditions: make([]ir.BlockSpec, 0, len(raw.Conditions))}
	for i, c := range raw.Conditions {
		spec, err := c.toSpec(fmt.Sprintf("logic.conditions[%d]", i))
		if err != nil {
			return ir.Logic{}, err
		}
		logic.Conditions = append(logic.Conditions, spec)
	}
	return logic, nil
}

func (b yamlBlock) toSpec(field string) (ir.BlockSpec, error) {
	if b.Block == "" {
		return ir.BlockSpec{}, &CompileError{Field: field + ".block", Message: "required field missing"}
	}
	params := ir.Object{}
	if len(b.Params) > 0 {
		obj, err := ir.ToObject(b.Params)
		if err != nil {
			return ir.BlockSpec{}, &CompileError{Field: field + ".params", Message: err.Error()}
		}
		params = obj
	}
	return ir.BlockSpec{Block: b.Block, Params: params}, nil
}
