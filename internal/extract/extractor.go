// Package extract implements the first pipeline stage: turning an uploaded
// receipt PDF into a structured draft via the Anthropic document API.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/receipt-pipeline/internal/model"
	"github.com/sells-group/receipt-pipeline/pkg/anthropic"
)

const extractionSystemPrompt = `You are an AI-powered receipt-scanning assistant. Your primary role is to accurately extract and structure relevant information from scanned receipts. You recognize merchant details, transaction dates, itemized purchases, and total amounts, even on low-quality scans. You never guess values that are not on the document.`

const extractionInstructions = `Extract the data from the attached receipt and return ONLY a JSON object with this exact shape, no markdown and no commentary:

{
  "file_display_name": "Short descriptive name for this receipt",
  "merchant": {
    "name": "Store or business name",
    "address": "Full address",
    "contact": "Phone, email or website"
  },
  "transaction": {
    "date": "ISO 8601 date of the transaction",
    "receipt_number": "Receipt or invoice number",
    "payment_method": "How the payment was made"
  },
  "items": [
    {"name": "Item name", "quantity": 1, "unit_price": 0.0, "total_price": 0.0}
  ],
  "totals": {
    "subtotal": 0.0,
    "tax": 0.0,
    "total": 0.0,
    "currency": "ISO 4217 code"
  },
  "summary": "One or two sentences summarizing the purchase"
}

Use an empty string for text fields that are not present on the document and 0 for unknown numeric fields.`

// ExtractionError reports that the model was reached but did not yield a
// usable draft. It is not transient; retrying the same document is unlikely
// to help without operator attention.
type ExtractionError struct {
	ReceiptID string
	Reason    string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: receipt %s: %s", e.ReceiptID, e.Reason)
}

// Extractor calls the document-understanding model for receipt PDFs. It
// performs no database writes; its only output is the returned draft.
type Extractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// Options tunes an Extractor. Zero values fall back to conservative
// defaults.
type Options struct {
	Model     string
	MaxTokens int64
	RPS       float64
}

// New creates an Extractor backed by the given Anthropic client.
func New(client anthropic.Client, opts Options) *Extractor {
	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-5-20250929"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 3094
	}
	if opts.RPS <= 0 {
		opts.RPS = 2.0
	}
	return &Extractor{
		client:    client,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		limiter:   rate.NewLimiter(rate.Limit(opts.RPS), 1),
	}
}

// Extract reads the receipt PDF at fileURL and returns the structured draft.
// Transport failures are returned as-is so the caller's retry policy can
// classify them; an unusable model response comes back as *ExtractionError.
// Extract never fabricates a draft: on failure the error is the only output.
func (e *Extractor) Extract(ctx context.Context, receiptID, fileURL string) (*model.Draft, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: rate limit wait")
	}

	start := time.Now()
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    extractionSystemPrompt,
		Messages: []anthropic.Message{
			{
				Role:        "user",
				Content:     extractionInstructions,
				DocumentURL: fileURL,
			},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: receipt %s", receiptID)
	}

	resp.Usage.LogUsage(e.model, "extract")

	draft, err := parseDraft(resp.Text())
	if err != nil {
		return nil, &ExtractionError{ReceiptID: receiptID, Reason: err.Error()}
	}

	zap.L().Info("extraction complete",
		zap.String("receipt_id", receiptID),
		zap.String("merchant", draft.Merchant.Name),
		zap.Int("items", len(draft.Items)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return draft, nil
}
