package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server can reach its ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]string
			if err := newClient(opts).get(cmd.Context(), "/healthz", nil, &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
				fmt.Fprintln(w, resp["status"])
			})
		},
	}
}
