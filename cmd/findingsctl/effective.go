package main

import (
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/inspectio/finding-overrides/pkg/findings/api"
	"github.com/inspectio/finding-overrides/pkg/findings/resolve"
)

func newEffectiveCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "effective",
		Short: "Show effective dimensions and messages",
	}

	var mode, lang, kind string
	get := &cobra.Command{
		Use:   "get FINDING_ID",
		Short: "Show the effective view of one finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.EffectiveResponse
			q := url.Values{}
			setIf(q, "mode", mode)
			setIf(q, "lang", lang)
			if err := newClient(opts).get(cmd.Context(), findingPath(args[0], "effective"), q, &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
				printEffective(w, resp)
			})
		},
	}
	get.Flags().StringVar(&mode, "mode", "", "Resolution mode: production or preview")
	get.Flags().StringVar(&lang, "lang", "", "Message language (default: the catalog default)")

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the effective view of every known finding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.EffectiveIndexResponse
			q := url.Values{}
			setIf(q, "mode", mode)
			setIf(q, "lang", lang)
			setIf(q, "kind", kind)
			if err := newClient(opts).get(cmd.Context(), "/effective", q, &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
				printEffectiveIndex(w, resp)
			})
		},
	}
	list.Flags().StringVar(&mode, "mode", "", "Resolution mode: production or preview")
	list.Flags().StringVar(&lang, "lang", "", "Message language (default: the catalog default)")
	list.Flags().StringVar(&kind, "kind", "", "Limit to dimensions or messages")

	cmd.AddCommand(get, list)
	return cmd
}

func printEffective(w io.Writer, resp api.EffectiveResponse) {
	rows := [][]string{}
	if d := resp.Dimensions; d != nil {
		rows = append(rows,
			[]string{"dimensions", string(d.Source), version(d.OverrideVersion), string(d.OverrideStatus), "severity=" + str(d.Dimensions.Severity) + " priority=" + str(d.Dimensions.Priority)},
		)
	}
	if m := resp.Messages; m != nil {
		rows = append(rows,
			[]string{"messages/" + m.Lang, string(m.Source), version(m.OverrideVersion), string(m.OverrideStatus), truncate(m.Messages.Title, 50)},
		)
	}
	printTable(w, []string{"Family", "Source", "Version", "Status", "Summary"}, rows)
}

func printEffectiveIndex(w io.Writer, resp api.EffectiveIndexResponse) {
	msgs := make(map[string]resolve.EffectiveMessages, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs[m.FindingID] = m
	}
	rows := make([][]string, 0, resp.Size)
	seen := make(map[string]bool, len(resp.Dimensions))
	for _, d := range resp.Dimensions {
		seen[d.FindingID] = true
		m, ok := msgs[d.FindingID]
		msgSource, title := "-", "-"
		if ok {
			msgSource, title = string(m.Source), truncate(m.Messages.Title, 40)
		}
		rows = append(rows, []string{d.FindingID, string(d.Source), str(d.Dimensions.Priority), msgSource, title})
	}
	for _, m := range resp.Messages {
		if !seen[m.FindingID] {
			rows = append(rows, []string{m.FindingID, "-", "-", string(m.Source), truncate(m.Messages.Title, 40)})
		}
	}
	printTable(w, []string{"Finding", "Dimensions", "Priority", "Messages", "Title"}, rows)
}

func newStateCmd(opts *options) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "state FINDING_ID",
		Short: "Show the draft and published state of a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.StateResponse
			q := url.Values{}
			setIf(q, "lang", lang)
			if err := newClient(opts).get(cmd.Context(), findingPath(args[0], "state"), q, &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.outputFmt, resp, func(w io.Writer) {
				rows := [][]string{}
				for _, st := range []struct {
					name             string
					draft, published bool
					dv, pv           int
					label            string
				}{
					{"dimensions", resp.Dimensions.HasDraft, resp.Dimensions.HasPublished, resp.Dimensions.DraftVersion, resp.Dimensions.PublishedVersion, resp.Dimensions.PublishedLabel},
					{"messages/" + resp.Messages.Key.Lang, resp.Messages.HasDraft, resp.Messages.HasPublished, resp.Messages.DraftVersion, resp.Messages.PublishedVersion, resp.Messages.PublishedLabel},
				} {
					draft, published := "-", "-"
					if st.draft {
						draft = strconv.Itoa(st.dv)
					}
					if st.published {
						published = strconv.Itoa(st.pv)
					}
					rows = append(rows, []string{st.name, draft, published, orDash(st.label)})
				}
				printTable(w, []string{"Family", "Draft", "Published", "Label"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Message language (default: the catalog default)")
	return cmd
}

func version(v *int) string { return str(v) }

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
