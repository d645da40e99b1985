package models

import (
	"sort"
	"time"
)

// ItemStatus tracks a queue item through its lifecycle.
type ItemStatus string

const (
	StatusPending         ItemStatus = "pending"
	StatusRunning         ItemStatus = "running"
	StatusSucceeded       ItemStatus = "succeeded"
	StatusFailed          ItemStatus = "failed"
	StatusPartiallyFailed ItemStatus = "partially_failed"
)

// Terminal reports whether the status permits no further execution without
// an explicit retry.
func (s ItemStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusPartiallyFailed
}

// Retryable reports whether a retry may move the item back to pending.
func (s ItemStatus) Retryable() bool {
	return s == StatusFailed || s == StatusPartiallyFailed
}

// QueueItem is one persisted unit of work: an ordered batch of operations
// executed as a whole, with per-operation success tracked so retries never
// repeat an operation that already landed.
type QueueItem struct {
	ID        string      `json:"id"`
	QueueName string      `json:"queue_name"`
	// Priority orders dequeue, 0 is most urgent.
	Priority uint8       `json:"priority"`
	Payload  []Operation `json:"payload"`
	Status   ItemStatus  `json:"status"`
	// SucceededIndices are payload positions already applied, kept sorted
	// and duplicate-free.
	SucceededIndices []int  `json:"succeeded_indices,omitempty"`
	Attempts         int    `json:"attempts"`
	LastError        string `json:"last_error,omitempty"`

	ConfigName  string `json:"config_name,omitempty"`
	MappingName string `json:"mapping_name,omitempty"`
	Description string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarkSucceeded records a payload index as applied. The index set stays
// sorted and unique.
func (q *QueueItem) MarkSucceeded(idx int) {
	for _, i := range q.SucceededIndices {
		if i == idx {
			return
		}
	}
	q.SucceededIndices = append(q.SucceededIndices, idx)
	sort.Ints(q.SucceededIndices)
}

// Succeeded reports whether the payload index has already been applied.
func (q *QueueItem) Succeeded(idx int) bool {
	for _, i := range q.SucceededIndices {
		if i == idx {
			return true
		}
	}
	return false
}

// Remaining returns payload indices not yet applied, in payload order.
func (q *QueueItem) Remaining() []int {
	var out []int
	for i := range q.Payload {
		if !q.Succeeded(i) {
			out = append(out, i)
		}
	}
	return out
}

// Complete reports whether every payload operation has been applied.
func (q *QueueItem) Complete() bool {
	return len(q.SucceededIndices) == len(q.Payload)
}
