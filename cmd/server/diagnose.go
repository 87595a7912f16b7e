package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/jrsteele09/go-smart-auth/diagnostics"
	"github.com/jrsteele09/go-smart-auth/discovery"
	"github.com/jrsteele09/go-smart-auth/internal/config"
	"github.com/jrsteele09/go-smart-auth/internal/httpclient"
	"github.com/jrsteele09/go-smart-auth/internal/logging"
	"github.com/spf13/cobra"
)

// errIssuesFound makes the command exit non-zero without printing a second message.
var errIssuesFound = errors.New("diagnostics found issues")

func diagnoseCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check configuration, discovery, key material and JWKS publication, then print a JSON report",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			logging.SetupWriter(os.Stderr, "warn", c.GetLogFormat())

			client := httpclient.New(c.GetHTTPTimeout())
			resolver := discovery.NewResolver(client, discovery.WithAttemptTimeout(c.GetDiscoveryTimeout()))
			report := diagnostics.NewChecker(c, resolver, client).Check(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.OK {
				cmd.SilenceErrors = true
				return errIssuesFound
			}
			return nil
		},
	}
}
