package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/findings/lifecycle"
)

// entityArg validates the dimensions|messages positional argument.
func entityArg(arg string) (findings.EntityType, error) {
	e := findings.EntityType(arg)
	if !e.Valid() {
		return "", fmt.Errorf("unknown entity %q (expected dimensions or messages)", arg)
	}
	return e, nil
}

func newPublishCmd(opts *options) *cobra.Command {
	var req lifecycle.PublishRequest
	cmd := &cobra.Command{
		Use:       "publish dimensions|messages",
		Short:     "Publish the latest drafts",
		ValidArgs: []string{string(findings.EntityDimensions), string(findings.EntityMessages)},
		Args:      cobra.ExactArgs(1),
		Example: `  findingsctl publish dimensions --label 2026-10
  findingsctl publish messages --lang fr --ids HR-01,HR-02 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := entityArg(args[0])
			if err != nil {
				return err
			}
			var res lifecycle.PublishResult
			if err := newClient(opts).post(cmd.Context(), "/"+string(entity)+"/publish", req, &res); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, res, func(w io.Writer) {
				verb := "Published"
				if res.DryRun {
					verb = "Would publish"
				}
				fmt.Fprintf(w, "%s %d %s override(s) as %s (batch %s), skipped %d\n",
					verb, res.Published, res.EntityType, orDash(res.VersionText), res.BatchID, res.Skipped)
				printBatchIssues(w, res.Skips, res.Errors)
			})
		},
	}
	cmd.Flags().StringSliceVar(&req.FindingIDs, "ids", nil, "Finding IDs to publish (default: every finding with a draft)")
	cmd.Flags().StringVar(&req.Lang, "lang", "", "Restrict a messages publish to one language")
	cmd.Flags().StringVar(&req.VersionText, "label", "", "Version label stamped on the published rows")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Report what would be published without writing")
	return cmd
}

func newRollbackCmd(opts *options) *cobra.Command {
	var req lifecycle.RollbackRequest
	cmd := &cobra.Command{
		Use:       "rollback dimensions|messages",
		Short:     "Restore the state before a labelled publish",
		ValidArgs: []string{string(findings.EntityDimensions), string(findings.EntityMessages)},
		Args:      cobra.ExactArgs(1),
		Example:   `  findingsctl rollback dimensions --to 2026-10 --ids HR-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := entityArg(args[0])
			if err != nil {
				return err
			}
			var res lifecycle.RollbackResult
			if err := newClient(opts).post(cmd.Context(), "/"+string(entity)+"/rollback", req, &res); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, res, func(w io.Writer) {
				verb := "Rolled back"
				if res.DryRun {
					verb = "Would roll back"
				}
				fmt.Fprintf(w, "%s %d %s override(s) from %s (batch %s), skipped %d\n",
					verb, res.RolledBack, res.EntityType, res.ToVersion, res.BatchID, res.Skipped)
				printBatchIssues(w, res.Skips, res.Errors)
			})
		},
	}
	cmd.Flags().StringVar(&req.ToVersion, "to", "", "Label of the publish to undo")
	cmd.Flags().StringSliceVar(&req.FindingIDs, "ids", nil, "Finding IDs to roll back (default: every finding in that publish)")
	cmd.Flags().StringVar(&req.Lang, "lang", "", "Restrict a messages rollback to one language")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Report what would be rolled back without writing")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func printBatchIssues(w io.Writer, skips []lifecycle.Skip, errs []lifecycle.FindingError) {
	if len(skips) == 0 && len(errs) == 0 {
		return
	}
	rows := make([][]string, 0, len(skips)+len(errs))
	for _, s := range skips {
		rows = append(rows, []string{s.FindingID, orDash(s.Lang), "skipped", s.Reason})
	}
	for _, e := range errs {
		rows = append(rows, []string{e.FindingID, orDash(e.Lang), "error", e.Error})
	}
	fmt.Fprintln(w)
	printTable(w, []string{"Finding", "Lang", "Outcome", "Detail"}, rows)
}
