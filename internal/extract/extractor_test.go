package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/receipt-pipeline/pkg/anthropic"
)

// fakeClient returns canned responses and records the requests it saw.
type fakeClient struct {
	resp     *anthropic.MessageResponse
	err      error
	requests []anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func TestExtract_Success(t *testing.T) {
	client := &fakeClient{resp: textResponse(validDraftJSON)}
	e := New(client, Options{Model: "test-model", RPS: 1000})

	draft, err := e.Extract(context.Background(), "rec-1", "https://files.example/rec-1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Ace Hardware", draft.Merchant.Name)

	// The document must ride along as a URL block on the user message.
	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "https://files.example/rec-1.pdf", req.Messages[0].DocumentURL)
	assert.NotEmpty(t, req.System)
}

func TestExtract_TransportErrorPassedThrough(t *testing.T) {
	client := &fakeClient{err: errors.New("api: connection reset by peer")}
	e := New(client, Options{RPS: 1000})

	_, err := e.Extract(context.Background(), "rec-1", "https://files.example/rec-1.pdf")
	require.Error(t, err)

	var extErr *ExtractionError
	assert.False(t, errors.As(err, &extErr), "transport errors must not be wrapped as extraction errors")
}

func TestExtract_UnparseableReply(t *testing.T) {
	client := &fakeClient{resp: textResponse("sorry, I cannot read this document")}
	e := New(client, Options{RPS: 1000})

	_, err := e.Extract(context.Background(), "rec-1", "https://files.example/rec-1.pdf")
	require.Error(t, err)

	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "rec-1", extErr.ReceiptID)
}

func TestExtract_EmptyDraftIsError(t *testing.T) {
	client := &fakeClient{resp: textResponse(`{"merchant":{"name":""},"items":[],"totals":{"total":0},"summary":""}`)}
	e := New(client, Options{RPS: 1000})

	_, err := e.Extract(context.Background(), "rec-1", "https://files.example/rec-1.pdf")
	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
}

func TestExtract_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{resp: textResponse(validDraftJSON)}
	e := New(client, Options{RPS: 0.001}) // force a limiter wait

	_, err := e.Extract(ctx, "rec-1", "https://files.example/rec-1.pdf")
	require.Error(t, err)
	assert.Empty(t, client.requests)
}
