package upload

import "github.com/google/uuid"

// Action is the user's decision on a duplicate conflict.
type Action string

const (
	// ActionSkip discards the submission; no further network call is made.
	ActionSkip Action = "skip"
	// ActionOverwrite resubmits the same payload with the force flag set.
	ActionOverwrite Action = "overwrite"
)

// Conflict records that the backend rejected an item as a duplicate of an
// already-stored receipt and is awaiting the user's skip/overwrite decision.
type Conflict struct {
	ID       uuid.UUID
	ItemID   string
	Filename string

	// ExistingTransaction is the transaction number of the stored receipt
	// the submission collided with, when the backend reports it.
	ExistingTransaction string
}
