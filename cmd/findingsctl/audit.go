package main

import (
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/inspectio/finding-overrides/pkg/findings/api"
)

func newAuditCmd(opts *options) *cobra.Command {
	var entity, finding, action, batch, pageToken string
	var pageSize int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List publish and rollback audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			setIf(q, "entityType", entity)
			setIf(q, "findingId", finding)
			setIf(q, "action", action)
			setIf(q, "batchId", batch)
			setIf(q, "pageToken", pageToken)
			if pageSize > 0 {
				q.Set("pageSize", strconv.Itoa(pageSize))
			}

			var resp api.AuditListResponse
			if err := newClient(opts).get(cmd.Context(), "/audit", q, &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
				rows := make([][]string, 0, len(resp.Items))
				for _, e := range resp.Items {
					rows = append(rows, []string{
						e.CreatedAt.Format("2006-01-02 15:04:05"),
						string(e.EntityType),
						string(e.Action),
						str(e.FindingID),
						str(e.Lang),
						orDash(e.FromVersion) + " -> " + orDash(e.ToVersion),
						e.Actor,
						orDash(e.BatchID),
					})
				}
				printTable(w, []string{"Time", "Entity", "Action", "Finding", "Lang", "Versions", "Actor", "Batch"}, rows)
				printNextPage(w, resp.NextPageToken)
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "Filter by entity type (dimensions or messages)")
	cmd.Flags().StringVar(&finding, "finding", "", "Filter by finding ID")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action (publish or rollback)")
	cmd.Flags().StringVar(&batch, "batch", "", "Filter by batch ID")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Rows per page (server default when 0)")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}
