package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// Text sources for semantic_check.
const (
	SourceTranscript = "transcript"
	SourceComment    = "comment"
	SourceAuto       = "auto"
)

// ErrNoJudge is the dependency failure reported when no judge is configured.
var ErrNoJudge = errors.New("no AI judge configured")

// SemanticCheck is the semantic_check condition: the AI judge decides a
// natural-language instruction over the subject's transcript or comment.
// A judge error or timeout yields DependencyFailed, never Satisfied.
//
// Params:
//
//	prompt:        the instruction (required)
//	source:        transcript, comment or auto (default; transcript first)
//	comment_field: payload field read as the comment (default manager_comment)
type SemanticCheck struct{}

// Name implements Block.
func (SemanticCheck) Name() string { return "semantic_check" }

// Kind implements Block.
func (SemanticCheck) Kind() Kind { return KindCondition }

// Compile implements Block.
func (SemanticCheck) Compile(params ir.Object) (Predicate, error) {
	if err := checkParams(params, "prompt", "source", "comment_field"); err != nil {
		return nil, err
	}
	prompt, err := requireString(params, "prompt")
	if err != nil {
		return nil, err
	}
	source, err := optionalString(params, "source", SourceAuto)
	if err != nil {
		return nil, err
	}
	if err := oneOf("source", source, SourceTranscript, SourceComment, SourceAuto); err != nil {
		return nil, err
	}
	field, err := optionalString(params, "comment_field", DefaultCommentField)
	if err != nil {
		return nil, err
	}
	return semanticCheck{prompt: prompt, source: source, commentField: field}, nil
}

type semanticCheck struct {
	prompt       string
	source       string
	commentField string
}

func (p semanticCheck) text(ec *EntityContext) (string, string) {
	switch p.source {
	case SourceTranscript:
		return ec.Transcript(), SourceTranscript
	case SourceComment:
		return ec.Comment(p.commentField), SourceComment
	}
	if t := ec.Transcript(); strings.TrimSpace(t) != "" {
		return t, SourceTranscript
	}
	return ec.Comment(p.commentField), SourceComment
}

func (p semanticCheck) Evaluate(ctx context.Context, env Env, ec *EntityContext) Outcome {
	text, source := p.text(ec)
	if strings.TrimSpace(text) == "" {
		return notSatisfied(fmt.Sprintf("no %s text to judge", source))
	}
	if env.Judge == nil {
		return dependencyFailed(ErrNoJudge)
	}

	res, err := env.Judge.Judge(ctx, JudgeRequest{
		Instruction: p.prompt,
		Text:        text,
		SubjectKey:  ec.SubjectKey,
	})
	if err != nil {
		env.logger().Debug("judge call failed",
			zap.String("subject", ec.SubjectKey),
			zap.Error(err))
		return dependencyFailed(fmt.Errorf("judge: %w", err))
	}

	out := notSatisfied(res.Reasoning)
	if res.Verdict {
		out = satisfied(res.Reasoning)
	}
	out.Details = ir.Object{"source": ir.String(source)}
	return out
}
