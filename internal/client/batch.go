package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// BatchRequest is one item of a $batch call.
type BatchRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// BatchResult is the outcome of one batched item. Err is set when the
// item's own status falls outside 2xx, classified the same way as a
// direct call. Partial failure inside a batch is normal; the envelope
// succeeding says nothing about its items.
type BatchResult struct {
	ID     string
	Status int
	Body   json.RawMessage
	Err    *APIError
}

type batchEnvelope struct {
	Requests []BatchRequest `json:"requests"`
}

type batchItemResponse struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

type batchResponseEnvelope struct {
	Responses []batchItemResponse `json:"responses"`
}

// Batch submits the requests through the $batch endpoint, splitting into
// as many envelopes as the per-call ceiling requires, and returns one
// result per request in request order. An envelope-level failure (the
// batch call itself did not produce per-item results) aborts and returns
// that error.
func (c *GraphClient) Batch(ctx context.Context, requests []BatchRequest) ([]BatchResult, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	byID := make(map[string]batchItemResponse, len(requests))
	for start := 0; start < len(requests); start += c.batchSize {
		end := start + c.batchSize
		if end > len(requests) {
			end = len(requests)
		}

		status, header, body, err := c.do(ctx, http.MethodPost, "/$batch", batchEnvelope{Requests: requests[start:end]})
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, statusError(status, header, string(body))
		}

		var envelope batchResponseEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, &APIError{Kind: ErrKindDecoding, Message: fmt.Sprintf("failed to unmarshal batch response: %v", err)}
		}
		for _, item := range envelope.Responses {
			byID[item.ID] = item
		}
	}

	results := make([]BatchResult, 0, len(requests))
	for _, req := range requests {
		item, ok := byID[req.ID]
		if !ok {
			results = append(results, BatchResult{
				ID:  req.ID,
				Err: &APIError{Kind: ErrKindDecoding, Message: "batch response missing item " + req.ID},
			})
			continue
		}
		res := BatchResult{ID: item.ID, Status: item.Status, Body: item.Body}
		if item.Status < 200 || item.Status >= 300 {
			res.Err = statusError(item.Status, itemHeader(item.Headers), string(item.Body))
		}
		results = append(results, res)
	}
	return results, nil
}

func itemHeader(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
