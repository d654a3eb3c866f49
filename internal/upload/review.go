package upload

import (
	"github.com/google/uuid"

	"github.com/mleary/receiptdrop/internal/receipt"
)

// ReviewDraft is a provisionally parsed receipt the backend flagged for
// human correction. The draft survives a failed commit so the user never
// re-keys their edits.
type ReviewDraft struct {
	ID       uuid.UUID
	ItemID   string
	Filename string
	Reason   string
	Receipt  receipt.Parsed
}
