package model

// Draft is the structured output of the extraction stage, mirroring the
// JSON schema the document-understanding model is instructed to produce.
// It is never persisted directly; the persistence stage validates it and
// flattens it into ExtractedData.
type Draft struct {
	FileDisplayName string           `json:"file_display_name"`
	Merchant        DraftMerchant    `json:"merchant"`
	Transaction     DraftTransaction `json:"transaction"`
	Items           []LineItem       `json:"items"`
	Totals          DraftTotals      `json:"totals"`
	Summary         string           `json:"summary"`
}

// DraftMerchant holds merchant details as read off the document.
type DraftMerchant struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Contact string `json:"contact"`
}

// DraftTransaction holds transaction metadata. Date and payment values are
// best-effort OCR output and are not re-derived or normalized here.
type DraftTransaction struct {
	Date          string `json:"date"`
	ReceiptNumber string `json:"receipt_number"`
	PaymentMethod string `json:"payment_method"`
}

// DraftTotals holds the receipt totals block.
type DraftTotals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// ToExtractedData flattens a draft into the field set written by a
// persistence commit. The transaction amount is the grand total including
// tax.
func (d *Draft) ToExtractedData() ExtractedData {
	return ExtractedData{
		FileDisplayName:   d.FileDisplayName,
		MerchantName:      d.Merchant.Name,
		MerchantAddress:   d.Merchant.Address,
		MerchantContact:   d.Merchant.Contact,
		TransactionDate:   d.Transaction.Date,
		TransactionAmount: d.Totals.Total,
		Currency:          d.Totals.Currency,
		ReceiptSummary:    d.Summary,
		Items:             d.Items,
	}
}
