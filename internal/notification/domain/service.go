package domain

import (
	"context"

	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
)

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Delivery is a single reservation-guarded send.
type Delivery struct {
	UserID      string
	Kind        Kind
	Channel     string
	Day         string
	Dimension   string
	Destination string
	Send        func(ctx context.Context) error
}

// DispatchResult summarizes one dispatch pass. Errors carries per-slot
// diagnostics; dispatch never fails the caller.
type DispatchResult struct {
	Considered int      `json:"considered"`
	Eligible   int      `json:"eligible"`
	Sent       int      `json:"sent"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

// Record adds outcome to the matching counter.
func (r *DispatchResult) Record(outcome Outcome) {
	switch outcome {
	case OutcomeSent:
		r.Sent++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
}

type Dispatcher interface {
	// Dispatch delivers every eligible anomaly on every enabled channel at most once.
	Dispatch(ctx context.Context, userID string, anomalies []anomalydomain.Anomaly) DispatchResult
	// Deliver runs one send under the reservation protocol. The error is only
	// non-nil when reservation storage failed.
	Deliver(ctx context.Context, d Delivery) (Outcome, error)
}

const (
	MessageNotOptedIn = "recipient not opted in"
)
