package replay

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/camerahal/internal/conf"
	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
	"github.com/tphakala/camerahal/internal/observability"
	"github.com/tphakala/camerahal/internal/scenario"
)

// Command creates the replay command, which runs YAML event scripts through
// a capture pipeline and compares the sink transcript with the expected one.
func Command(settings *conf.Settings) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>...",
		Short: "Replay scripted capture scenarios",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return run(ctx, args, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the full transcript of every scenario")

	return cmd
}

func run(ctx context.Context, paths []string, verbose bool) error {
	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	runner := scenario.NewRunner(
		scenario.WithRunnerLogger(logger.Global().Module("replay")),
		scenario.WithRunnerMetrics(m.Capture),
	)

	failed := 0
	for _, path := range paths {
		s, err := scenario.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		res, err := runner.Run(ctx, s)
		if err != nil {
			return err
		}
		report(res, verbose)
		if !res.Passed() {
			failed++
		}
	}

	if failed > 0 {
		return errors.Newf("%d of %d scenarios failed", failed, len(paths)).
			Component("replay").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func report(res *scenario.Result, verbose bool) {
	status := "PASS"
	if !res.Passed() {
		status = "FAIL"
	}
	fmt.Printf("%s %s (%d lines, %d dispatched, %s)\n",
		status, res.Name, len(res.Transcript), len(res.Dispatched), res.Duration)

	for _, f := range res.Failures {
		fmt.Printf("    step: %s\n", f)
	}
	for _, d := range res.Diff {
		fmt.Printf("    %s\n", d)
	}
	if verbose {
		for _, line := range res.Transcript {
			fmt.Printf("    | %s\n", line)
		}
	}
}
