package model

import "time"

// ReceiptStatus represents the lifecycle state of a receipt.
type ReceiptStatus string

const (
	// StatusPending is the only legal status at creation. A receipt stays
	// pending until a persistence commit succeeds.
	StatusPending ReceiptStatus = "pending"

	// StatusProcessed is reached exactly once, via SaveExtractedData.
	// There is no transition back to pending.
	StatusProcessed ReceiptStatus = "processed"
)

// LineItem is a single purchased item on a receipt. TotalPrice is taken
// from the extractor as-is and not re-derived from Quantity * UnitPrice.
type LineItem struct {
	Name       string  `json:"name" validate:"required"`
	Quantity   float64 `json:"quantity" validate:"gte=0"`
	UnitPrice  float64 `json:"unit_price" validate:"gte=0"`
	TotalPrice float64 `json:"total_price" validate:"gte=0"`
}

// Receipt is the persisted record for one uploaded document. The extracted
// fields are all empty while Status is pending and all populated once
// processed; partially-populated processed records are never written.
type Receipt struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	FileID     string        `json:"file_id"`
	FileName   string        `json:"file_name"`
	MimeType   string        `json:"mime_type"`
	Size       int64         `json:"size"`
	Status     ReceiptStatus `json:"status"`
	UploadedAt time.Time     `json:"uploaded_at"`

	// Extracted fields, set atomically with the pending -> processed
	// transition.
	FileDisplayName   string     `json:"file_display_name,omitempty"`
	MerchantName      string     `json:"merchant_name,omitempty"`
	MerchantAddress   string     `json:"merchant_address,omitempty"`
	MerchantContact   string     `json:"merchant_contact,omitempty"`
	TransactionDate   string     `json:"transaction_date,omitempty"`
	TransactionAmount float64    `json:"transaction_amount,omitempty"`
	Currency          string     `json:"currency,omitempty"`
	ReceiptSummary    string     `json:"receipt_summary,omitempty"`
	Items             []LineItem `json:"items,omitempty"`
}

// NewReceipt describes a receipt record to be created by the upload path.
type NewReceipt struct {
	UserID   string
	FileID   string
	FileName string
	MimeType string
	Size     int64
}

// ExtractedData is the full set of fields written by a persistence commit.
// It is the validated, flattened form of a Draft plus the display name and
// summary shown in the UI.
type ExtractedData struct {
	FileDisplayName   string     `json:"file_display_name" validate:"required"`
	MerchantName      string     `json:"merchant_name" validate:"required"`
	MerchantAddress   string     `json:"merchant_address"`
	MerchantContact   string     `json:"merchant_contact"`
	TransactionDate   string     `json:"transaction_date" validate:"required"`
	TransactionAmount float64    `json:"transaction_amount" validate:"gte=0"`
	Currency          string     `json:"currency" validate:"required"`
	ReceiptSummary    string     `json:"receipt_summary" validate:"required"`
	Items             []LineItem `json:"items" validate:"dive"`
}
