package rules

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// Kind is the position a block may occupy in rule logic.
type Kind string

const (
	KindTrigger   Kind = "trigger"
	KindCondition Kind = "condition"
)

// Block is a named, parameterized predicate. Compile validates params once
// at load time and returns the predicate used for every subject.
type Block interface {
	Name() string
	Kind() Kind
	Compile(params ir.Object) (Predicate, error)
}

// Predicate evaluates one compiled block against a subject.
type Predicate interface {
	Evaluate(ctx context.Context, env Env, ec *EntityContext) Outcome
}

// JudgeRequest asks the AI judge to decide a natural-language instruction
// over a text.
type JudgeRequest struct {
	Instruction string
	Text        string
	SubjectKey  string
}

// JudgeResult is the judge's verdict plus reasoning.
type JudgeResult struct {
	Verdict   bool
	Reasoning string
}

// Judge is the external AI judge. Implementations must honor ctx deadlines.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (JudgeResult, error)
}

// Env carries per-run collaborators into block evaluation.
type Env struct {
	Judge  Judge
	Logger *zap.Logger
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Registry maps block names to blocks.
type Registry struct {
	blocks map[string]Block
}

// NewRegistry creates a registry holding blocks.
// Panics on duplicate names, which is a programming error.
func NewRegistry(blocks ...Block) *Registry {
	r := &Registry{blocks: make(map[string]Block, len(blocks))}
	for _, b := range blocks {
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
	return r
}

// DefaultRegistry returns a registry with the built-in vocabulary:
// status_change, field_empty, time_elapsed and semantic_check.
func DefaultRegistry() *Registry {
	return NewRegistry(
		StatusChange{},
		FieldEmpty{},
		TimeElapsed{},
		SemanticCheck{},
	)
}

// Register adds a block. Names must be unique.
func (r *Registry) Register(b Block) error {
	if _, dup := r.blocks[b.Name()]; dup {
		return fmt.Errorf("block %q already registered", b.Name())
	}
	r.blocks[b.Name()] = b
	return nil
}

// Lookup returns the block registered under name.
func (r *Registry) Lookup(name string) (Block, bool) {
	b, ok := r.blocks[name]
	return b, ok
}

// Names returns registered block names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.blocks))
	for n := range r.blocks {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// CompileError reports a rule whose logic cannot be compiled.
type CompileError struct {
	RuleCode string
	Position string // "trigger" or "conditions[i]"
	Block    string
	Message  string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Block != "" {
		return fmt.Sprintf("rule %s: %s: block %q: %s", e.RuleCode, e.Position, e.Block, e.Message)
	}
	return fmt.Sprintf("rule %s: %s: %s", e.RuleCode, e.Position, e.Message)
}

// Compile resolves every block of the rule's logic and validates its params.
func (r *Registry) Compile(rule ir.Rule) (*CompiledRule, error) {
	trigger, err := r.compileBlock(rule.Code, "trigger", rule.Logic.Trigger, KindTrigger)
	if err != nil {
		return nil, err
	}

	conds := make([]compiledCondition, len(rule.Logic.Conditions))
	for i, spec := range rule.Logic.Conditions {
		pos := fmt.Sprintf("conditions[%d]", i)
		p, err := r.compileBlock(rule.Code, pos, spec, KindCondition)
		if err != nil {
			return nil, err
		}
		conds[i] = compiledCondition{block: spec.Block, pred: p}
	}

	hash, err := ir.LogicHash(rule.Logic)
	if err != nil {
		return nil, &CompileError{RuleCode: rule.Code, Position: "logic", Message: err.Error()}
	}

	return &CompiledRule{
		Rule:       rule,
		LogicHash:  hash,
		trigger:    trigger,
		triggerBlk: rule.Logic.Trigger.Block,
		conditions: conds,
	}, nil
}

func (r *Registry) compileBlock(code, pos string, spec ir.BlockSpec, want Kind) (Predicate, error) {
	if spec.Block == "" {
		return nil, &CompileError{RuleCode: code, Position: pos, Message: "block name is required"}
	}
	b, ok := r.Lookup(spec.Block)
	if !ok {
		return nil, &CompileError{RuleCode: code, Position: pos, Block: spec.Block,
			Message: fmt.Sprintf("unknown block (registered: %v)", r.Names())}
	}
	if b.Kind() != want {
		return nil, &CompileError{RuleCode: code, Position: pos, Block: spec.Block,
			Message: fmt.Sprintf("is a %s block, cannot be used as %s", b.Kind(), want)}
	}
	params := spec.Params
	if params == nil {
		params = ir.Object{}
	}
	p, err := b.Compile(params)
	if err != nil {
		return nil, &CompileError{RuleCode: code, Position: pos, Block: spec.Block, Message: err.Error()}
	}
	return p, nil
}
