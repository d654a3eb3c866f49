package upload

import "fmt"

// Status represents the lifecycle state of an upload item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusUploading   Status = "uploading"
	StatusSuccess     Status = "success"
	StatusParseError  Status = "parse_error"
	StatusDuplicate   Status = "duplicate"
	StatusNeedsReview Status = "needs_review"
	StatusSkipped     Status = "skipped"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further automatic transition can occur from s
// without new user input.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending, StatusUploading:
		return false
	}

	return true
}

// transitions is the full state machine. Anything not listed is invalid and
// rejected by the orchestrator before any mutation happens.
var transitions = map[Status][]Status{
	StatusPending:     {StatusUploading},
	StatusUploading:   {StatusSuccess, StatusParseError, StatusDuplicate, StatusNeedsReview, StatusFailed},
	StatusDuplicate:   {StatusSkipped, StatusUploading},
	StatusNeedsReview: {StatusSuccess, StatusFailed, StatusSkipped},
	// Failed -> Success covers a retried review commit: the item failed on
	// finalize but its draft is retained, and a later commit may land.
	StatusFailed:      {StatusPending, StatusSuccess},
	StatusParseError:  {StatusPending},
}

func canTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}

	return false
}

// Item is one file in the batch together with its lifecycle state. Items are
// mutated only by the Orchestrator; callers receive copies.
type Item struct {
	ID       string
	Filename string
	MIMEType string
	Size     int64

	Status   Status
	Progress int // 0-100, meaningful only while uploading

	// TransactionNumber and Message are populated on terminal statuses:
	// the backend-assigned id on success, the error text otherwise.
	TransactionNumber string
	Message           string

	// content is retained so a duplicate overwrite can resend the same
	// payload without re-reading the file.
	content []byte
}

// newItemID derives a stable identity from the filename, size and a
// per-orchestrator sequence number, so two same-named files added
// independently remain distinct items.
func newItemID(name string, size int64, seq int) string {
	return fmt.Sprintf("%s-%d-%d", name, size, seq)
}
