// Package cmd defines and implements the CLI commands of the github-crawler executable.
package cmd

import (
	"fmt"
	"io"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/app"
	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl in the
// foreground and exits.
func newCrawlCmd() *cobra.Command {
	var showProgress bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl of the configured organization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, showProgress)
		},
	}
	cmd.Flags().BoolVar(&showProgress, "progress", false, "draw a progress bar on stderr")
	return cmd
}

func runCrawl(cmd *cobra.Command, showProgress bool) error {
	ctx := cmd.Context()
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}

	var bar *progressBar
	opts := app.Options{}
	if showProgress {
		bar = newProgressBar(cmd.ErrOrStderr())
		opts.Observer = bar
	}

	a, err := app.New(ctx, rt.cfg, rt.logger, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	run, err := a.Orchestrator.Crawl(ctx, rt.cfg.CrawlSettings())
	bar.finish()
	if err != nil {
		return fmt.Errorf("crawl %s: %w", rt.cfg.Host.Organization, err)
	}

	rt.logger.Info("crawl command finished", zap.String("run_id", run.ID))
	printRun(cmd.OutOrStdout(), run)
	return nil
}

func printRun(w io.Writer, run crawler.Run) {
	c := run.Counters
	fmt.Fprintf(w, "run %s %s: enumerated=%d emitted=%d excluded=%d dropped=%d failed=%d\n",
		run.ID, run.Status, c.Enumerated, c.Emitted, c.Excluded, c.Dropped, c.Failed)
}

const progressTemplate = `{{string . "prefix"}} {{counters . }} {{bar . }} {{percent . }} {{etime . }}`

// progressBar draws crawl progress. The total grows as repositories are
// enumerated, so the bar only settles once enumeration is over.
type progressBar struct {
	bar *pb.ProgressBar
}

func newProgressBar(w io.Writer) *progressBar {
	bar := pb.New64(0).
		SetTemplateString(progressTemplate).
		SetWriter(w).
		Set("prefix", "repositories")
	return &progressBar{bar: bar.Start()}
}

func (p *progressBar) RepositoryEnumerated(crawler.RepositorySummary) {
	p.bar.AddTotal(1)
}

func (p *progressBar) RepositoryCompleted(crawler.RepositorySummary, string) {
	p.bar.Increment()
}

func (p *progressBar) finish() {
	if p == nil {
		return
	}
	p.bar.Finish()
}
