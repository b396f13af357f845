package domain

import (
	"context"
	"encoding/json"
	"time"
)

// BatchRunner defines the interface for running one processing batch over all pending items
type BatchRunner interface {
	// RunBatch processes every pending item and returns once each of them reached
	// a terminal outcome. Per-item failures are reported inside the result; the
	// error is reserved for coordination failures.
	RunBatch(ctx context.Context) (*BatchResult, error)
}

// UnitOfWork transforms a fetched item before it is persisted
type UnitOfWork func(ctx context.Context, item *Item) error

// MarkProcessed is the default UnitOfWork
func MarkProcessed(_ context.Context, item *Item) error {
	item.Status = StatusProcessed
	return nil
}

// OutcomeKind is the terminal state of a single task
type OutcomeKind int

const (
	OutcomeProcessed OutcomeKind = iota
	OutcomeNotFound
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeProcessed:
		return "processed"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is produced exactly once per submitted ID.
// Item is set only for OutcomeProcessed, Err only for OutcomeFailed.
type Outcome struct {
	Kind OutcomeKind
	ID   ItemID
	Item *Item
	Err  error
}

// Processed builds a successful outcome
func Processed(item *Item) Outcome {
	return Outcome{Kind: OutcomeProcessed, ID: item.ID, Item: item}
}

// NotFound builds the outcome of an ID that vanished before it was fetched
func NotFound(id ItemID) Outcome {
	return Outcome{Kind: OutcomeNotFound, ID: id}
}

// Failed builds a failed outcome carrying its cause
func Failed(id ItemID, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, ID: id, Err: err}
}

// Failure records why a single item was left out of a batch result
type Failure struct {
	ID  ItemID
	Err error
}

// MarshalJSON renders the cause as a string
func (f Failure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		ID    ItemID `json:"id"`
		Error string `json:"error"`
	}{f.ID, msg})
}

// BatchResult is the immutable summary of one batch run
type BatchResult struct {
	BatchID    string    `json:"batch_id"`
	Records    []Item    `json:"items"`
	Count      int       `json:"count"`
	NotFound   []ItemID  `json:"not_found"`
	Failures   []Failure `json:"failures"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Submitted returns the number of IDs the batch accounted for
func (r *BatchResult) Submitted() int {
	return r.Count + len(r.NotFound) + len(r.Failures)
}

// Duration returns how long the batch took
func (r *BatchResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// BatchResponse is delivered by asynchronous batch runs
type BatchResponse struct {
	Result *BatchResult
	Err    error
}
