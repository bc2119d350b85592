package sync

import (
	"fmt"
	"time"
)

// Outcome summarises a drain pass for clients that signal success or failure.
type Outcome string

const (
	// OutcomeSkipped means no pass ran: offline, or another pass was in flight.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeNothing means the pass found nothing to send.
	OutcomeNothing  Outcome = "nothing"
	OutcomeSuccess  Outcome = "success"
	OutcomeFailures Outcome = "failures"
	// OutcomeAborted means the pass stopped on a storage error outside any single item.
	OutcomeAborted Outcome = "aborted"
)

type Report struct {
	Outcome     Outcome   `json:"outcome"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Error       string    `json:"error,omitempty"`
}

func (r *Report) settle() {
	switch {
	case r.Error != "":
		r.Outcome = OutcomeAborted
	case r.Failed > 0:
		r.Outcome = OutcomeFailures
	case r.Succeeded > 0:
		r.Outcome = OutcomeSuccess
	default:
		r.Outcome = OutcomeNothing
	}
}

func (r Report) String() string {
	return fmt.Sprintf("[%s] %d succeeded, %d failed", r.Outcome, r.Succeeded, r.Failed)
}
