package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kunal/embedserve/pkg/bootstrap"
	"github.com/kunal/embedserve/pkg/config"
	"github.com/kunal/embedserve/pkg/logging"
	"github.com/kunal/embedserve/pkg/offlinebatch"
)

// newBatchCmd runs the offline embedding pipeline (SPEC_FULL.md §C)
// against a freshly bootstrapped worker — the same construction path
// "serve" uses, so the batch job dynamically batches through the one
// scheduler defined by pkg/core rather than its own ad hoc loop.
func newBatchCmd() *cobra.Command {
	var (
		input       string
		output      string
		concurrency int
		pretty      bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run the offline batch embedding pipeline over parquet shards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(input, output, concurrency, pretty)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input dir or s3://bucket/prefix of parquet shards (required)")
	cmd.Flags().StringVar(&output, "output", "", "output dir or s3://bucket/prefix for the embedding table (required)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "fan-out width; 0 selects GOMAXPROCS*4")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "human-readable console logging instead of JSON")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runBatch(input, output string, concurrency int, pretty bool) error {
	cfg := config.Load()
	log := logging.New("embedctl-batch", pretty)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	wk, err := bootstrap.New(ctx, cfg, log)
	cancel()
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	defer bootstrap.Shutdown(cfg, wk)

	log.Info().Str("input", input).Str("output", output).Msg("📦 offline batch job starting")

	summary, err := offlinebatch.Run(context.Background(), offlinebatch.Config{
		InputURI:       input,
		OutputURI:      output,
		Concurrency:    concurrency,
		RequestTimeout: cfg.RequestTimeout(),
	}, wk.Core, log)
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}

	log.Info().Int("shards", summary.Shards).Int64("rows_seen", summary.RowsSeen).
		Int64("rows_embedded", summary.RowsEmbedded).Int64("rows_failed", summary.RowsFailed).
		Dur("elapsed", summary.Elapsed).Msg("🏁 offline batch job complete")
	return nil
}
