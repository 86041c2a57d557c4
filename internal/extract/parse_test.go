package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDraftJSON = `{
	"file_display_name": "Hardware Store Run",
	"merchant": {"name": "Ace Hardware", "address": "12 Main St", "contact": "555-0101"},
	"transaction": {"date": "2026-07-03", "receipt_number": "R-4411", "payment_method": "credit card"},
	"items": [{"name": "Screwdriver", "quantity": 1, "unit_price": 8.99, "total_price": 8.99}],
	"totals": {"subtotal": 8.99, "tax": 0.81, "total": 9.80, "currency": "USD"},
	"summary": "One screwdriver from Ace Hardware."
}`

func TestParseDraft_CleanJSON(t *testing.T) {
	draft, err := parseDraft(validDraftJSON)
	require.NoError(t, err)
	assert.Equal(t, "Ace Hardware", draft.Merchant.Name)
	assert.Equal(t, 9.80, draft.Totals.Total)
	assert.Equal(t, "USD", draft.Totals.Currency)
	require.Len(t, draft.Items, 1)
}

func TestParseDraft_MarkdownFence(t *testing.T) {
	draft, err := parseDraft("```json\n" + validDraftJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Ace Hardware", draft.Merchant.Name)
}

func TestParseDraft_SurroundingProse(t *testing.T) {
	text := "Here is the extracted data:\n" + validDraftJSON + "\nLet me know if you need anything else."
	draft, err := parseDraft(text)
	require.NoError(t, err)
	assert.Equal(t, "Hardware Store Run", draft.FileDisplayName)
}

func TestParseDraft_BracesInsideStrings(t *testing.T) {
	text := `{"file_display_name": "Weird {receipt}", "merchant": {"name": "A}B{C"}, "transaction": {}, "items": [], "totals": {"total": 5}, "summary": "ok"}`
	draft, err := parseDraft(text)
	require.NoError(t, err)
	assert.Equal(t, "A}B{C", draft.Merchant.Name)
}

func TestParseDraft_EmptyResponse(t *testing.T) {
	_, err := parseDraft("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestParseDraft_NoJSON(t *testing.T) {
	_, err := parseDraft("I could not read the document, it appears to be blank.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}

func TestParseDraft_MalformedJSON(t *testing.T) {
	_, err := parseDraft(`{"merchant": {"name": "Ace"`)
	require.Error(t, err)
}

func TestParseDraft_EmptyDraftRejected(t *testing.T) {
	// Well-formed but carries nothing; must not become a default record.
	_, err := parseDraft(`{"merchant": {"name": ""}, "items": [], "totals": {"total": 0}, "summary": ""}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no receipt data")
}
