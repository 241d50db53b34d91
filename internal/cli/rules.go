package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/compiler"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/engine"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/judge"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/rules"
)

// ValidationResult holds rule validation results.
type ValidationResult struct {
	Valid    bool                             `json:"valid"`
	Rules    int                              `json:"rules"`
	Errors   []compiler.ValidationError       `json:"errors,omitempty"`
	Warnings []compiler.DuplicateLogicWarning `json:"warnings,omitempty"`
}

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate, load and run quality-control rules",
	}
	cmd.AddCommand(newRulesValidateCommand(rootOpts))
	cmd.AddCommand(newRulesLoadCommand(rootOpts))
	cmd.AddCommand(newRulesListCommand(rootOpts))
	cmd.AddCommand(newRulesRunCommand(rootOpts))
	cmd.AddCommand(newRulesDryRunCommand(rootOpts))
	return cmd
}

func newRulesValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Validate CUE rule definitions without touching the database",
		Long: `Compile every rule in the CUE package at <rules-dir> and check it against
the block registry. Rules with identical logic are reported as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			rs, result, err := loadAndValidate(out, args[0])
			if err != nil {
				return err
			}
			out.VerboseLog("validated %d rule(s)", len(rs))
			return outputValidation(out, result)
		},
	}
}

func newRulesLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <rules-dir>",
		Short: "Validate CUE rule definitions and upsert them into the database",
		Long: `Validate the rules at <rules-dir> and, only if all are valid, upsert them
by code. Rules not present in the directory are left untouched.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			rs, result, err := loadAndValidate(out, args[0])
			if err != nil {
				return err
			}
			if !result.Valid {
				return outputValidation(out, result)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.logger)
			defer cancel()

			for _, r := range rs {
				if err := a.store.UpsertRule(ctx, r); err != nil {
					return a.out.Fail(ExitFailure, "failed to store rule", err)
				}
				a.logger.Info("rule loaded",
					zap.String("rule_code", r.Code),
					zap.String("entity", string(r.EntityType)),
					zap.Bool("active", r.Active))
			}
			return a.out.Success(result, func(w io.Writer) {
				fmt.Fprintf(w, "loaded %d rule(s)\n", len(rs))
				writeWarnings(w, result.Warnings)
			})
		},
	}
}

func newRulesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored rules",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rs, err := a.store.ReadAllRules(cmd.Context())
			if err != nil {
				return a.out.Fail(ExitFailure, "failed to read rules", err)
			}
			return a.out.Success(rs, func(w io.Writer) {
				for _, r := range rs {
					state := "active"
					if !r.Active {
						state = "inactive"
					}
					fmt.Fprintf(w, "%-24s %-6s %-8s %-8s %s\n", r.Code, r.EntityType, r.Severity, state, r.Name)
				}
			})
		},
	}
}

func newRulesRunCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to, ruleCode string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate stored rules over a time window",
		Long: `Evaluate active rules (or the one named by --rule, active or not) against
every order, event or call in the window and upsert the resulting violations.
Re-running an overlapping window updates existing violations in place.

Example:
  okkqc rules run --from 2024-03-01T00:00:00Z --to 2024-03-02T00:00:00Z
  okkqc rules run --rule stuck_new --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			window, err := parseWindow(from, to)
			if err != nil {
				return out.Fail(ExitCommandError, "invalid window", err)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.logger)
			defer cancel()

			start, end := window.resolve(time.Now().UTC(), a.cfg.RuleLookbackDuration())
			res, err := a.engine().Run(ctx, engine.RunRequest{
				WindowStart: start,
				WindowEnd:   end,
				RuleCode:    ruleCode,
				DryRun:      dryRun,
			})
			if err != nil {
				return a.out.Fail(exitCodeFor(err), "rule run failed", err)
			}
			return a.out.SuccessRun(res.RunID, res, func(w io.Writer) {
				writeRunResult(w, res, rootOpts.Verbose)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "window start, RFC3339 (default: --to minus OKK_RULE_LOOKBACK)")
	cmd.Flags().StringVar(&to, "to", "", "window end, RFC3339 (default: now)")
	cmd.Flags().StringVar(&ruleCode, "rule", "", "run only this rule code")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report violations without writing them")
	return cmd
}

func newRulesDryRunCommand(rootOpts *RootOptions) *cobra.Command {
	var logicFile, entity string
	var lookbackDays int

	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Evaluate unsaved rule logic without writing anything",
		Long: `Evaluate ad hoc logic from a YAML file over the last --lookback-days days.

Example logic file:
  trigger: {block: status_change, params: {status: new}}
  conditions:
    - {block: time_elapsed, params: {hours: 2}}`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			data, err := os.ReadFile(logicFile)
			if err != nil {
				return out.Fail(ExitCommandError, "failed to read logic", err)
			}
			logic, err := compiler.ParseLogicYAML(data)
			if err != nil {
				return out.Fail(ExitCommandError, "invalid logic", err)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.logger)
			defer cancel()

			res, err := a.engine().DryRun(ctx, logic, ir.EntityType(entity), lookbackDays)
			if err != nil {
				return a.out.Fail(exitCodeFor(err), "dry run failed", err)
			}
			return a.out.SuccessRun(res.RunID, res, func(w io.Writer) {
				writeRunResult(w, res, rootOpts.Verbose)
			})
		},
	}

	cmd.Flags().StringVar(&logicFile, "logic", "", "YAML file with trigger and conditions (required)")
	cmd.Flags().StringVar(&entity, "entity", string(ir.EntityOrder), "subject entity: order, event or call")
	cmd.Flags().IntVar(&lookbackDays, "lookback-days", 1, "days of history to evaluate")
	_ = cmd.MarkFlagRequired("logic")
	return cmd
}

// engine builds a rule engine from configuration. Semantic checks get a
// judge only when OKK_JUDGE_URL is set.
func (a *app) engine() *engine.Engine {
	opts := []engine.EngineOption{
		engine.WithLogger(a.logger),
		engine.WithRunIDs(engine.UUIDv7Generator{}),
		engine.WithJudgeBudget(a.cfg.JudgeBudget),
	}
	if a.cfg.JudgeEnabled() {
		opts = append(opts, engine.WithJudge(judge.NewClient(judge.Config{
			BaseURL:    a.cfg.JudgeURL,
			APIKey:     a.cfg.JudgeAPIKey,
			Model:      a.cfg.JudgeModel,
			Timeout:    a.cfg.JudgeTimeoutDuration(),
			RetryCount: a.cfg.JudgeRetries,
		}, a.logger)))
	} else {
		a.logger.Debug("judge disabled; semantic checks will report dependency failures")
	}
	return engine.New(a.store, opts...)
}

// loadAndValidate compiles and validates the rules at dir. Load failures are
// printed and returned as errors; validation findings are returned in result.
func loadAndValidate(out *OutputFormatter, dir string) ([]ir.Rule, ValidationResult, error) {
	loadResult, loadErrors := compiler.LoadRules(dir, compiler.LoadModeCollectAll)
	if loadResult == nil {
		return nil, ValidationResult{}, out.Fail(ExitCommandError, "failed to load rules", loadErrors[0])
	}
	out.VerboseLog("found %d CUE file(s) in %s", loadResult.FileCount, dir)

	result := ValidationResult{Rules: len(loadResult.Rules)}
	for _, err := range loadErrors {
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) {
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
			})
			continue
		}
		result.Errors = append(result.Errors, compiler.ValidationError{
			Field:   "load",
			Message: err.Error(),
			Code:    compiler.ErrCodeGeneric,
		})
	}
	result.Errors = append(result.Errors, compiler.Validate(loadResult.Rules, rules.DefaultRegistry())...)
	result.Warnings = compiler.FindDuplicateLogic(loadResult.Rules)
	result.Valid = len(result.Errors) == 0
	return loadResult.Rules, result, nil
}

func outputValidation(out *OutputFormatter, result ValidationResult) error {
	if !result.Valid {
		if out.Format == "json" {
			_ = out.Error("VALIDATION_FAILED", fmt.Sprintf("%d validation error(s)", len(result.Errors)), result)
		} else {
			fmt.Fprintf(out.Writer, "Validation failed with %d error(s):\n", len(result.Errors))
			for _, e := range result.Errors {
				fmt.Fprintf(out.Writer, "  %s\n", e.Error())
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed: %d error(s)", len(result.Errors)))
	}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "all %d rule(s) valid\n", result.Rules)
		writeWarnings(w, result.Warnings)
	})
}

func writeWarnings(w io.Writer, warnings []compiler.DuplicateLogicWarning) {
	for _, d := range warnings {
		fmt.Fprintf(w, "warning: rules %v share logic %s\n", d.Rules, d.LogicHash[:12])
	}
}

func writeRunResult(w io.Writer, res engine.Result, verbose bool) {
	title := "rules run"
	if res.DryRun {
		title = "dry run"
	}
	writeReport(w, title, res.Report, verbose)
	if res.Note != "" {
		fmt.Fprintf(w, "  %s\n", res.Note)
	}
	for _, v := range res.Violations {
		fmt.Fprintf(w, "  violation %s %s [%s] manager=%s at %s\n",
			v.RuleCode, v.SubjectKey, v.Severity, v.Manager(), v.ViolatedAt.Format(time.RFC3339))
	}
	if !res.DryRun {
		fmt.Fprintf(w, "  %d violation(s), %d new\n", len(res.Violations), res.Created)
	}
}
