package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/queryir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// NewViolationsCommand creates the violations command group.
func NewViolationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "violations",
		Short: "List violations and record reviewer verdicts",
	}
	cmd.AddCommand(newViolationsListCommand(rootOpts))
	cmd.AddCommand(newViolationsReviewCommand(rootOpts))
	return cmd
}

type violationsListOptions struct {
	rules    []string
	statuses []string
	severity []string
	manager  string
	entity   string
	since    string
	until    string
	limit    int
}

func newViolationsListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &violationsListOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored violations",
		Long: `List violations oldest first. Filters combine with AND; repeated
--rule, --status and --severity values combine with OR. --manager system
selects violations without a responsible manager.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			filter, err := opts.filter()
			if err != nil {
				return out.Fail(ExitCommandError, "invalid filter", err)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			vs, err := a.store.QueryViolations(cmd.Context(), filter, opts.limit)
			if errors.Is(err, store.ErrInvalidQuery) {
				return a.out.Fail(ExitCommandError, "invalid filter", err)
			}
			if err != nil {
				return a.out.Fail(ExitFailure, "failed to read violations", err)
			}
			return a.out.Success(vs, func(w io.Writer) {
				for _, v := range vs {
					fmt.Fprintf(w, "%s  %-20s %-16s %-8s %-9s %-10s %s\n",
						v.ID[:12], v.RuleCode, v.SubjectKey, v.Severity, v.ReviewStatus,
						v.Manager(), v.ViolatedAt.Format(time.RFC3339))
				}
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.rules, "rule", nil, "Rule code (repeatable)")
	cmd.Flags().StringSliceVar(&opts.statuses, "status", nil, "Review status: pending, confirmed or rejected (repeatable)")
	cmd.Flags().StringSliceVar(&opts.severity, "severity", nil, "Severity (repeatable)")
	cmd.Flags().StringVar(&opts.manager, "manager", "", "Responsible manager ID, or \"system\"")
	cmd.Flags().StringVar(&opts.entity, "entity", "", "Entity type: order, call or event")
	cmd.Flags().StringVar(&opts.since, "since", "", "Violated at or after (RFC 3339)")
	cmd.Flags().StringVar(&opts.until, "until", "", "Violated at or before (RFC 3339)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum rows (0 = all)")
	return cmd
}

// filter turns the flags into a violations query predicate. nil means no filter.
func (o *violationsListOptions) filter() (queryir.Predicate, error) {
	if o.limit < 0 {
		return nil, fmt.Errorf("--limit: must not be negative")
	}
	for _, st := range o.statuses {
		switch ir.ReviewStatus(st) {
		case ir.ReviewPending, ir.ReviewConfirmed, ir.ReviewRejected:
		default:
			return nil, fmt.Errorf("--status: %q must be pending, confirmed or rejected", st)
		}
	}
	for _, sev := range o.severity {
		if !ir.ValidSeverities[ir.Severity(sev)] {
			return nil, fmt.Errorf("--severity: unknown severity %q", sev)
		}
	}
	if o.entity != "" && !ir.ValidEntityTypes[ir.EntityType(o.entity)] {
		return nil, fmt.Errorf("--entity: unknown entity type %q", o.entity)
	}

	var window queryir.Predicate
	if o.since != "" || o.until != "" {
		since, err := parseTimeFlag("since", o.since)
		if err != nil {
			return nil, err
		}
		until, err := parseTimeFlag("until", o.until)
		if err != nil {
			return nil, err
		}
		if !since.IsZero() && !until.IsZero() && until.Before(since) {
			return nil, fmt.Errorf("--until is before --since")
		}
		window = queryir.Between{Field: "violated_at", From: since, To: until}
	}

	var manager queryir.Predicate
	if o.manager != "" {
		id := o.manager
		if id == ir.SystemManager {
			id = ""
		}
		manager = queryir.Equals{Field: "manager_id", Value: ir.String(id)}
	}

	var entity queryir.Predicate
	if o.entity != "" {
		entity = queryir.Equals{Field: "entity_type", Value: ir.String(o.entity)}
	}

	return queryir.Conj(
		anyOf("rule_code", o.rules),
		anyOf("review_status", o.statuses),
		anyOf("severity", o.severity),
		manager,
		entity,
		window,
	), nil
}

// anyOf matches field against any of values; nil when values is empty.
func anyOf(field string, values []string) queryir.Predicate {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return queryir.Equals{Field: field, Value: ir.String(values[0])}
	}
	vals := make([]ir.Value, len(values))
	for i, v := range values {
		vals[i] = ir.String(v)
	}
	return queryir.In{Field: field, Values: vals}
}

func newViolationsReviewCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "review <violation-id> <pending|confirmed|rejected>",
		Short: "Record a reviewer verdict on a violation",
		Long: `Set the review status of a violation. The verdict survives later rule
runs over the same window.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			status := ir.ReviewStatus(args[1])
			switch status {
			case ir.ReviewPending, ir.ReviewConfirmed, ir.ReviewRejected:
			default:
				return out.Fail(ExitCommandError, "invalid review status",
					fmt.Errorf("%q: must be pending, confirmed or rejected", args[1]))
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SetReviewStatus(cmd.Context(), args[0], status); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return a.out.Fail(ExitCommandError, "violation not found", err)
				}
				return a.out.Fail(ExitFailure, "failed to record review", err)
			}
			a.logger.Info("violation reviewed",
				zap.String("violation_id", args[0]),
				zap.String("review_status", string(status)))

			return a.out.Success(map[string]string{"id": args[0], "review_status": string(status)}, func(w io.Writer) {
				fmt.Fprintf(w, "violation %s marked %s\n", args[0], status)
			})
		},
	}
}
