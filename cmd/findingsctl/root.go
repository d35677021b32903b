package main

import (
	"os"

	"github.com/spf13/cobra"
)

// options holds the persistent flags shared by every command.
type options struct {
	serverURL string
	outputFmt string
	actor     string
	role      string
	token     string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "findingsctl",
		Short: "CLI for the finding overrides server",
		Long: `findingsctl drafts, publishes and rolls back finding overrides and shows
the effective dimensions and messages the server resolves.

Writes are attributed to --actor. Set --role operator when the server
restricts writes to operators, or pass a bearer token with --token.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.serverURL, "server", envOrDefault("FINDINGS_SERVER", "http://localhost:8080"), "Findings server URL")
	pf.StringVarP(&opts.outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	pf.StringVar(&opts.actor, "actor", os.Getenv("FINDINGS_ACTOR"), "Principal recorded on writes")
	pf.StringVar(&opts.role, "role", os.Getenv("FINDINGS_ROLE"), "Role sent to the server (viewer or operator)")
	pf.StringVar(&opts.token, "token", os.Getenv("FINDINGS_TOKEN"), "Bearer token for jwt auth mode")

	cmd.AddCommand(
		newEffectiveCmd(opts),
		newStateCmd(opts),
		newDraftCmd(opts),
		newResetCmd(opts),
		newVersionsCmd(opts),
		newPublishCmd(opts),
		newRollbackCmd(opts),
		newAuditCmd(opts),
		newPriorityCmd(opts),
		newHealthCmd(opts),
	)
	return cmd
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
