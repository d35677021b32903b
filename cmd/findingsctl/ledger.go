package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/findings/api"
	"github.com/inspectio/finding-overrides/pkg/findings/ledger"
)

// readValues decodes a YAML or JSON document from path ("-" reads stdin).
func readValues(cmd *cobra.Command, path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func newDraftCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Create an override draft",
		Long: `Create an override draft from a YAML or JSON file. A draft replaces the
whole record: fields left out of the file are stored as unspecified.`,
	}

	var file, note, source string
	dims := &cobra.Command{
		Use:   "dimensions FINDING_ID",
		Short: "Draft new dimensions for a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.DimensionDraftRequest{Note: note, Source: source}
			if err := readValues(cmd, file, &req.Dimensions); err != nil {
				return err
			}
			var resp api.DraftResponse
			if err := newClient(opts).post(cmd.Context(), findingPath(args[0], "dimensions", "drafts"), req, &resp); err != nil {
				return err
			}
			return printDraft(cmd, opts, resp)
		},
	}
	msgs := &cobra.Command{
		Use:   "messages FINDING_ID LANG",
		Short: "Draft new messages for a finding in one language",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.MessageDraftRequest{Note: note, Source: source}
			if err := readValues(cmd, file, &req.Messages); err != nil {
				return err
			}
			var resp api.DraftResponse
			if err := newClient(opts).post(cmd.Context(), findingPath(args[0], "messages", url.PathEscape(args[1]), "drafts"), req, &resp); err != nil {
				return err
			}
			return printDraft(cmd, opts, resp)
		},
	}
	for _, c := range []*cobra.Command{dims, msgs} {
		c.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file with the values (- for stdin)")
		c.Flags().StringVar(&note, "note", "", "Free-text note stored with the draft")
		c.Flags().StringVar(&source, "source", "cli", "Where the draft came from")
		_ = c.MarkFlagRequired("file")
	}
	cmd.AddCommand(dims, msgs)
	return cmd
}

func printDraft(cmd *cobra.Command, opts *options, resp api.DraftResponse) error {
	return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
		fmt.Fprintf(w, "Draft %s v%d stored for %s\n", resp.EntityType, resp.Version,
			findings.Key{FindingID: resp.FindingID, Lang: resp.Lang})
	})
}

func newResetCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Deactivate the published override so the seed applies again",
	}
	run := func(cmd *cobra.Command, path string) error {
		var resp api.ResetResponse
		if err := newClient(opts).delete(cmd.Context(), path, &resp); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
			key := findings.Key{FindingID: resp.FindingID, Lang: resp.Lang}
			if resp.Reset {
				fmt.Fprintf(w, "%s of %s reset to seed\n", resp.EntityType, key)
			} else {
				fmt.Fprintf(w, "%s of %s had no published override\n", resp.EntityType, key)
			}
		})
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "dimensions FINDING_ID",
			Short: "Reset a finding's dimensions",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, findingPath(args[0], "dimensions", "active"))
			},
		},
		&cobra.Command{
			Use:   "messages FINDING_ID LANG",
			Short: "Reset a finding's messages in one language",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, findingPath(args[0], "messages", url.PathEscape(args[1]), "active"))
			},
		},
	)
	return cmd
}

func newVersionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List the override history of a finding",
	}

	var pageSize int
	var pageToken string
	query := func() url.Values {
		q := url.Values{}
		if pageSize > 0 {
			q.Set("pageSize", strconv.Itoa(pageSize))
		}
		setIf(q, "pageToken", pageToken)
		return q
	}

	dims := &cobra.Command{
		Use:   "dimensions FINDING_ID",
		Short: "List dimension versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.VersionListResponse[ledger.DimensionOverrideRecord]
			if err := newClient(opts).get(cmd.Context(), findingPath(args[0], "dimensions", "versions"), query(), &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
				rows := make([][]string, 0, len(resp.Items))
				for _, r := range resp.Items {
					rows = append(rows, headerRow(r.Header, "severity="+str(r.Severity)+" priority="+str(r.Priority)))
				}
				printTable(w, versionHeaders, rows)
				printNextPage(w, resp.NextPageToken)
			})
		},
	}
	msgs := &cobra.Command{
		Use:   "messages FINDING_ID LANG",
		Short: "List message versions in one language",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.VersionListResponse[ledger.MessageOverrideRecord]
			if err := newClient(opts).get(cmd.Context(), findingPath(args[0], "messages", url.PathEscape(args[1]), "versions"), query(), &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
				rows := make([][]string, 0, len(resp.Items))
				for _, r := range resp.Items {
					rows = append(rows, headerRow(r.Header, truncate(r.Title, 40)))
				}
				printTable(w, versionHeaders, rows)
				printNextPage(w, resp.NextPageToken)
			})
		},
	}
	for _, c := range []*cobra.Command{dims, msgs} {
		c.Flags().IntVar(&pageSize, "page-size", 0, "Rows per page (server default when 0)")
		c.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	}
	cmd.AddCommand(dims, msgs)
	return cmd
}

var versionHeaders = []string{"Version", "Status", "Active", "Label", "Updated By", "Created", "Summary"}

func headerRow(h ledger.Header, summary string) []string {
	return []string{
		strconv.Itoa(h.Version),
		string(h.Status),
		strconv.FormatBool(h.Active),
		orDash(h.VersionText),
		h.UpdatedBy,
		h.CreatedAt.Format("2006-01-02 15:04:05"),
		summary,
	}
}

func printNextPage(w io.Writer, token string) {
	if token != "" {
		fmt.Fprintf(w, "\nMore results: --page-token %s\n", token)
	}
}
