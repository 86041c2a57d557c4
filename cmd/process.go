package main

import (
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/receipt-pipeline/internal/model"
)

var (
	processID          string
	processBatch       bool
	processConcurrency int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the pipeline for a receipt or all pending receipts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if processID == "" && !processBatch {
			return eris.New("either --id or --batch is required")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if processID != "" {
			return processOne(cmd, env, processID)
		}
		return processPending(cmd, env)
	},
}

func processOne(cmd *cobra.Command, env *pipelineEnv, id string) error {
	ctx := cmd.Context()

	receipt, err := env.Store.GetReceiptByID(ctx, id)
	if err != nil {
		return err
	}

	fileURL, err := env.Files.GetDownloadURL(ctx, receipt.FileID)
	if err != nil {
		return eris.Wrapf(err, "presign receipt %s", id)
	}

	result, err := env.Runner.Process(ctx, model.UploadCompleted{
		ReceiptID: receipt.ID,
		FileURL:   fileURL,
	})
	if err != nil {
		zap.L().Error("run aborted",
			zap.String("receipt_id", receipt.ID),
			zap.String("reason", result.Reason),
		)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func processPending(cmd *cobra.Command, env *pipelineEnv) error {
	ctx := cmd.Context()

	pending, err := env.Store.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		zap.L().Info("no pending receipts")
		return nil
	}

	concurrency := processConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Pipeline.MaxConcurrentRuns
	}

	zap.L().Info("processing pending receipts",
		zap.Int("count", len(pending)),
		zap.Int("concurrency", concurrency),
	)

	var completed, aborted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, receipt := range pending {
		g.Go(func() error {
			fileURL, err := env.Files.GetDownloadURL(gctx, receipt.FileID)
			if err != nil {
				aborted.Add(1)
				zap.L().Error("presign failed",
					zap.String("receipt_id", receipt.ID),
					zap.Error(err),
				)
				return nil
			}

			result, err := env.Runner.Process(gctx, model.UploadCompleted{
				ReceiptID: receipt.ID,
				FileURL:   fileURL,
			})
			if err != nil {
				aborted.Add(1)
				zap.L().Error("run aborted",
					zap.String("receipt_id", receipt.ID),
					zap.String("reason", result.Reason),
				)
				return nil
			}

			completed.Add(1)
			return nil
		})
	}

	// Individual run failures are logged, not propagated; the group only
	// stops early on context cancellation.
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("completed", completed.Load()),
		zap.Int64("aborted", aborted.Load()),
	)
	return nil
}

func init() {
	processCmd.Flags().StringVar(&processID, "id", "", "receipt id to process")
	processCmd.Flags().BoolVar(&processBatch, "batch", false, "process all pending receipts")
	processCmd.Flags().IntVar(&processConcurrency, "concurrency", 0, "max concurrent runs (default from config)")
	rootCmd.AddCommand(processCmd)
}
