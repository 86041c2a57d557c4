package extract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/sells-group/receipt-pipeline/internal/model"
)

// parseDraft decodes the model's reply into a Draft. Models occasionally
// wrap the JSON in a markdown fence or lead with prose despite the
// instructions, so the object is located by brace matching before decoding.
func parseDraft(text string) (*model.Draft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty response")
	}

	raw := extractJSONObject(text)
	if raw == "" {
		return nil, errors.New("no JSON object in response")
	}

	var draft model.Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, errors.New("malformed JSON in response: " + err.Error())
	}

	if isEmptyDraft(&draft) {
		return nil, errors.New("response carried no receipt data")
	}
	return &draft, nil
}

// extractJSONObject returns the first balanced top-level JSON object in
// text, skipping braces inside string literals.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// isEmptyDraft reports whether the decoded draft carries no usable signal.
// A well-formed object with every field blank is treated as a failed
// extraction, not as a valid result.
func isEmptyDraft(d *model.Draft) bool {
	return d.Merchant.Name == "" &&
		d.Summary == "" &&
		len(d.Items) == 0 &&
		d.Totals.Total == 0
}
