// Package queue implements the two-level request queue: a bounded
// instance-local FIFO backed by a shared priority ordered-set for overflow,
// plus a dead-letter list for expired items.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload carries the query parameters through the queue. The queue treats
// it as opaque; only the RAG pipeline interprets it.
type Payload struct {
	Query        string  `json:"query"`
	TopK         int     `json:"top_k,omitempty"`
	BM25Weight   float64 `json:"bm25_weight,omitempty"`
	VectorWeight float64 `json:"vector_weight,omitempty"`
	UseLLM       bool    `json:"use_llm"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// QueuedRequest is the unit of work moving through admission, queue,
// scheduler, and worker pool.
type QueuedRequest struct {
	RequestID    string  `json:"request_id"`
	TenantID     string  `json:"tenant_id"`
	UserID       string  `json:"user_id"`
	TierPriority int     `json:"tier_priority"` // 0..3, lower is higher
	SubmittedAt  int64   `json:"submitted_at"`  // unix seconds
	DeadlineAt   int64   `json:"deadline_at"`   // unix seconds
	Payload      Payload `json:"payload"`
}

// Score is the global-queue ordering key: strict tier priority first,
// submission time second.
func (r *QueuedRequest) Score() float64 {
	return float64(r.TierPriority)*1e9 + float64(r.SubmittedAt)
}

// Expired reports whether the request's deadline has passed.
func (r *QueuedRequest) Expired(now time.Time) bool {
	return now.Unix() >= r.DeadlineAt
}

// Deadline returns the deadline as a time.Time.
func (r *QueuedRequest) Deadline() time.Time {
	return time.Unix(r.DeadlineAt, 0)
}

// Encode serializes the request for queue storage.
func (r *QueuedRequest) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode request %s: %w", r.RequestID, err)
	}
	return string(data), nil
}

// DecodeRequest parses a serialized QueuedRequest.
func DecodeRequest(data string) (*QueuedRequest, error) {
	var r QueuedRequest
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode queued request: %w", err)
	}
	if r.RequestID == "" {
		return nil, fmt.Errorf("decode queued request: missing request_id")
	}
	return &r, nil
}
