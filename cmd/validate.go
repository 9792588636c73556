package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/github-crawler/internal/orchestrator"
	"github.com/JakeFAU/github-crawler/internal/remote"
)

// newValidateCmd creates the 'validate' subcommand. Config loading already
// enforces the structural rules; this also checks parser methods, task types
// and search methods without contacting the host.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validates the configuration and prints its effective settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg

			host, err := remote.New(cfg.Remote(), rt.logger)
			if err != nil {
				return err
			}
			orch, err := orchestrator.New(orchestrator.Options{Host: host, Logger: rt.logger})
			if err != nil {
				return err
			}
			settings := cfg.CrawlSettings()
			if err := orch.Validate(settings); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			sinks := cfg.Outputs.Enabled()
			if len(sinks) == 0 {
				sinks = []string{"none"}
			}
			url := cfg.Host.URL
			if url == "" {
				url = "default"
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "configuration is valid")
			fmt.Fprintf(w, "host:         %s (%s)\n", cfg.Remote().Type, url)
			fmt.Fprintf(w, "organization: %s\n", settings.Organization)
			fmt.Fprintf(w, "run id:       %s\n", settings.EffectiveRunID())
			fmt.Fprintf(w, "files:        %d\n", len(settings.Files))
			fmt.Fprintf(w, "tasks:        %d\n", len(settings.Tasks))
			fmt.Fprintf(w, "searches:     %d\n", len(settings.Searches))
			fmt.Fprintf(w, "sinks:        %s\n", strings.Join(sinks, ", "))
			return nil
		},
	}
}
