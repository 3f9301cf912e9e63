package entity

import "time"

// SubmissionStatus is the submission lifecycle state machine (§4.9).
type SubmissionStatus string

const (
	SubmissionPending    SubmissionStatus = "PENDING"
	SubmissionSubmitted  SubmissionStatus = "SUBMITTED"
	SubmissionProcessing SubmissionStatus = "PROCESSING"
	SubmissionAccepted   SubmissionStatus = "ACCEPTED" // terminal
	SubmissionRejected   SubmissionStatus = "REJECTED" // terminal
	SubmissionError      SubmissionStatus = "ERROR"    // terminal unless retried
)

// IsTerminal reports whether status never mutates further (§3 S2).
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case SubmissionAccepted, SubmissionRejected, SubmissionError:
		return true
	default:
		return false
	}
}

// statusRank gives the §4.9 lattice a total order for monotonicity checks
// (P8). ERROR shares the terminal rank, so moving to it from any
// non-terminal state counts as an advance; monotonicity is only asserted
// between successive polls of the *same* non-error path.
var statusRank = map[SubmissionStatus]int{
	SubmissionPending:    0,
	SubmissionSubmitted:  1,
	SubmissionProcessing: 2,
	SubmissionAccepted:   3,
	SubmissionRejected:   3,
	SubmissionError:      3,
}

// AdvancesFrom reports whether moving from prev to next never moves
// backward in the lattice (P8), treating same-rank terminal moves and
// idempotent PROCESSING->PROCESSING as both allowed.
func (next SubmissionStatus) AdvancesFrom(prev SubmissionStatus) bool {
	if prev == next {
		return true
	}
	return statusRank[next] >= statusRank[prev]
}

// Submission is one attempt to deliver an invoice to DIAN (§3 Submission).
type Submission struct {
	ID            string
	InvoiceID     string
	EnvironmentID string

	TrackID string // absent until SUBMITTED
	Status  SubmissionStatus

	EncryptedRequestZipBlob string
	EncryptedResponseBlob   string

	ErrorCode    string
	ErrorMessage string

	SubmittedAt *time.Time
	ProcessedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
