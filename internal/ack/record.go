package ack

import (
	"context"
	"errors"
	"time"
)

// Status is the acknowledgment state of a submission.
type Status string

const (
	StatusSubmitted  Status = "Submitted"
	StatusProcessing Status = "Processing"
	StatusAccepted   Status = "Accepted"
	StatusRejected   Status = "Rejected"
	StatusError      Status = "Error"
)

// Rank orders the forward path. Error sits outside it and ranks 0 along
// with unknown values.
func (s Status) Rank() int {
	switch s {
	case StatusSubmitted:
		return 1
	case StatusProcessing:
		return 2
	case StatusAccepted, StatusRejected:
		return 3
	default:
		return 0
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusProcessing, StatusAccepted, StatusRejected, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further status is expected.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusError
}

// CanAdvance reports whether moving from one status to another is a forward
// step. Error is reachable from anything but itself; Accepted and Rejected
// are final. Equal statuses are not an advance.
func CanAdvance(from, to Status) bool {
	if !to.Valid() || from == to {
		return false
	}
	if to == StatusError {
		return true
	}
	if from.Terminal() {
		return false
	}
	return to.Rank() > from.Rank()
}

// HistoryEntry is one observed status.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail"`
}

// Record is the stored acknowledgment for one confirmation number.
type Record struct {
	ConfirmationNumber string         `json:"confirmation_number"`
	SubmissionID       string         `json:"submission_id"`
	TaxYear            int            `json:"tax_year"`
	EFIN               string         `json:"efin"`
	PTIN               string         `json:"ptin,omitempty"`
	TestMode           bool           `json:"test_mode"`
	Status             Status         `json:"status"`
	SubmittedAt        time.Time      `json:"submitted_at"`
	LastUpdated        time.Time      `json:"last_updated"`
	StatusHistory      []HistoryEntry `json:"status_history"`
}

// Meta is what the submission path knows when a record is created. A zero
// SubmittedAt means the store's clock decides.
type Meta struct {
	SubmissionID string
	TaxYear      int
	EFIN         string
	PTIN         string
	TestMode     bool
	Detail       string
	SubmittedAt  time.Time
}

// NewRecord builds a record in Submitted with its first history entry.
func NewRecord(cn string, meta Meta, now time.Time) Record {
	return newRecord(cn, meta, now)
}

// MetaOf recovers the creation metadata of a record.
func MetaOf(r Record) Meta {
	m := Meta{
		SubmissionID: r.SubmissionID,
		TaxYear:      r.TaxYear,
		EFIN:         r.EFIN,
		PTIN:         r.PTIN,
		TestMode:     r.TestMode,
		SubmittedAt:  r.SubmittedAt,
	}
	if len(r.StatusHistory) > 0 {
		m.Detail = r.StatusHistory[0].Detail
	}
	return m
}

func cloneRecord(r Record) Record {
	out := r
	out.StatusHistory = append([]HistoryEntry(nil), r.StatusHistory...)
	return out
}

func newRecord(cn string, meta Meta, now time.Time) Record {
	detail := meta.Detail
	if detail == "" {
		detail = "submission received"
	}
	if !meta.SubmittedAt.IsZero() {
		now = meta.SubmittedAt.UTC()
	}
	return Record{
		ConfirmationNumber: cn,
		SubmissionID:       meta.SubmissionID,
		TaxYear:            meta.TaxYear,
		EFIN:               meta.EFIN,
		PTIN:               meta.PTIN,
		TestMode:           meta.TestMode,
		Status:             StatusSubmitted,
		SubmittedAt:        now,
		LastUpdated:        now,
		StatusHistory:      []HistoryEntry{{Status: StatusSubmitted, Timestamp: now, Detail: detail}},
	}
}

func applyStatus(r *Record, status Status, detail string, now time.Time) {
	r.Status = status
	r.LastUpdated = now
	r.StatusHistory = append(r.StatusHistory, HistoryEntry{Status: status, Timestamp: now, Detail: detail})
}

var (
	ErrNotFound      = errors.New("confirmation number not found")
	ErrDuplicate     = errors.New("confirmation number already recorded")
	ErrInvalidStatus = errors.New("invalid status")
)

// Store persists acknowledgment records. UpdateStatus does not enforce
// forward-only ordering; callers check CanAdvance.
type Store interface {
	RecordSubmission(ctx context.Context, confirmationNumber string, meta Meta) (Record, error)
	UpdateStatus(ctx context.Context, confirmationNumber string, status Status, detail string) (Record, error)
	Get(ctx context.Context, confirmationNumber string) (Record, error)
	GetAll(ctx context.Context) (map[string]Record, error)
}
