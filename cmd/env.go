package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/receipt-pipeline/internal/extract"
	"github.com/sells-group/receipt-pipeline/internal/filestore"
	"github.com/sells-group/receipt-pipeline/internal/metering"
	"github.com/sells-group/receipt-pipeline/internal/persist"
	"github.com/sells-group/receipt-pipeline/internal/runner"
	"github.com/sells-group/receipt-pipeline/internal/store"
	anthropicpkg "github.com/sells-group/receipt-pipeline/pkg/anthropic"
)

// pipelineEnv holds the initialized store, file store, and runner shared by
// the serve/process commands.
type pipelineEnv struct {
	Store  store.Store
	Files  filestore.FileStore
	Runner *runner.Runner
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "receipts.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, file store, API client, metering sink, and
// runner. Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	files, err := initFileStore(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	extractor := extract.New(anthropicClient, extract.Options{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		RPS:       cfg.Anthropic.RPS,
	})
	persister := persist.New(st)

	var meter runner.Meter
	if cfg.Metering.WebhookURL != "" {
		meter = metering.New(cfg.Metering.WebhookURL, time.Duration(cfg.Metering.TimeoutSecs)*time.Second)
		zap.L().Info("usage metering enabled")
	} else {
		zap.L().Debug("RECEIPTS_METERING_WEBHOOK_URL not set, usage metering disabled")
	}

	exec := runner.NewMemoExecutor(
		cfg.Pipeline.StepMaxAttempts,
		time.Duration(cfg.Pipeline.StepBackoffMs)*time.Millisecond,
	)

	return &pipelineEnv{
		Store:  st,
		Files:  files,
		Runner: runner.New(extractor, persister, meter, exec),
	}, nil
}

func initFileStore(ctx context.Context) (filestore.FileStore, error) {
	return filestore.NewS3(ctx, filestore.S3Config{
		Region:         cfg.Files.Region,
		Bucket:         cfg.Files.Bucket,
		Endpoint:       cfg.Files.Endpoint,
		AccessKey:      cfg.Files.AccessKey,
		SecretKey:      cfg.Files.SecretKey,
		URLTTL:         time.Duration(cfg.Files.URLTTLMinutes) * time.Minute,
		ForcePathStyle: cfg.Files.ForcePathStyle,
	})
}

// deleteReceipt removes the stored file first and the record second. A file
// store failure leaves the record in place so the receipt stays visible and
// the delete can be retried.
func deleteReceipt(ctx context.Context, st store.Store, files filestore.FileStore, id, userID string) error {
	r, err := st.GetReceipt(ctx, id, userID)
	if err != nil {
		return err
	}

	if err := files.Delete(ctx, r.FileID); err != nil {
		return eris.Wrapf(err, "delete file for receipt %s", id)
	}
	return st.DeleteReceipt(ctx, id, userID)
}
