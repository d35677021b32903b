package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/inspectio/finding-overrides/pkg/findings/api"
	"github.com/inspectio/finding-overrides/pkg/priority"
)

// priorityFlag parses an optional priority flag; empty means unset.
func priorityFlag(name, raw string) (*priority.Priority, error) {
	if raw == "" {
		return nil, nil
	}
	p, ok := priority.Parse(raw)
	if !ok {
		return nil, fmt.Errorf("--%s: unknown priority %q", name, raw)
	}
	return &p, nil
}

func newPriorityCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priority",
		Short: "Work with final finding priorities",
	}

	var findingID, calculated, selected, alreadyFinal, legacy, reason string
	var validate bool
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the final priority of a finding",
		Long: `Resolve the final priority from the calculated value, an inspector's
selection and any stored final value. With --finding the server fills the
calculated and legacy values from the effective dimensions and the seed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.PriorityRequest{FindingID: findingID, OverrideReason: reason, Validate: validate}
			for _, f := range []struct {
				name string
				raw  string
				dst  **priority.Priority
			}{
				{"calculated", calculated, &req.Calculated},
				{"selected", selected, &req.Selected},
				{"already-final", alreadyFinal, &req.AlreadyFinal},
				{"legacy", legacy, &req.Legacy},
			} {
				p, err := priorityFlag(f.name, f.raw)
				if err != nil {
					return err
				}
				*f.dst = p
			}

			var resp api.PriorityResponse
			if err := newClient(opts).post(cmd.Context(), "/priority/resolve", req, &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
				printTable(w, []string{"Priority", "Override Valid", "Calculated", "Legacy"}, [][]string{{
					string(resp.Priority),
					fmt.Sprint(resp.OverrideValid),
					str(resp.Calculated),
					str(resp.Legacy),
				}})
			})
		},
	}
	f := resolveCmd.Flags()
	f.StringVar(&findingID, "finding", "", "Finding whose effective priority is the calculated value")
	f.StringVar(&calculated, "calculated", "", "Calculated priority")
	f.StringVar(&selected, "selected", "", "Priority selected by the inspector")
	f.StringVar(&alreadyFinal, "already-final", "", "Final priority stored earlier")
	f.StringVar(&legacy, "legacy", "", "Legacy priority used when nothing else is set")
	f.StringVar(&reason, "reason", "", "Reason for overriding the calculated priority")
	f.BoolVar(&validate, "validate", false, "Reject an override that has no reason")

	cmd.AddCommand(resolveCmd)
	return cmd
}
