// Command duskcrawl runs one worker pool of the frontier engine: a
// deployment starts two processes, one with -t crawler and one with
// -t loader, sharing the same frontier backend.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/duskcrawl/duskcrawl/internal/config"
	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/scheduler"
	"github.com/duskcrawl/duskcrawl/internal/server"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a run failure to the process exit status (§6): 2 for an
// unrecoverable frontier-store error, 1 for everything else (bad flags,
// config validation, build failures).
func exitCode(err error) int {
	if errors.Is(err, frontier.ErrStoreUnavailable) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	var (
		poolFlag string
		seedFile string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:           "duskcrawl [URL ...]",
		Short:         "Run one pool of the duskcrawl frontier engine",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), poolFlag, seedFile, verbose, args)
		},
	}

	cmd.Flags().StringVarP(&poolFlag, "type", "t", "", `pool to run: "crawler" (fetch) or "loader" (render)`)
	cmd.Flags().StringVarP(&seedFile, "file", "f", "", "newline-delimited seed URL file (# comments and blank lines ignored)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/development logging")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func run(ctx context.Context, poolFlag, seedFile string, verbose bool, urlArgs []string) error {
	pool, err := parsePool(poolFlag)
	if err != nil {
		return err
	}

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Development = true
		cfg.Scheduler.Verbose = true
	}

	seeds, err := loadSeeds(seedFile, urlArgs)
	if err != nil {
		return fmt.Errorf("load seeds: %w", err)
	}

	app, err := server.Build(ctx, cfg, pool)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	if err := app.SeedFetch(ctx, seeds); err != nil {
		return fmt.Errorf("seed fetch queue: %w", errors.Join(frontier.ErrStoreUnavailable, err))
	}

	return app.Run(ctx)
}

func parsePool(raw string) (scheduler.PoolKind, error) {
	switch raw {
	case "crawler":
		return scheduler.Crawler, nil
	case "loader":
		return scheduler.Loader, nil
	default:
		return "", fmt.Errorf(`invalid -t %q: must be "crawler" or "loader"`, raw)
	}
}

// loadSeeds combines positional URLs with a seed file's contents (§6: lines
// starting with # or blank are ignored).
func loadSeeds(path string, positional []string) ([]string, error) {
	seeds := append([]string{}, positional...)
	if path == "" {
		return seeds, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return seeds, nil
}
