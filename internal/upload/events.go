package upload

// EventKind discriminates the notifications published by the orchestrator.
type EventKind string

const (
	EventItemAdded     EventKind = "item_added"
	EventItemRejected  EventKind = "item_rejected"
	EventItemRemoved   EventKind = "item_removed"
	EventProgress      EventKind = "progress"
	EventStatusChanged EventKind = "status_changed"
	EventConflictOpen  EventKind = "conflict_open"
	EventDraftOpen     EventKind = "draft_open"
)

// Event is an item-keyed notification. Delivery is best-effort: the channel
// is buffered and a slow consumer drops events rather than blocking an
// upload. Items() is always the authoritative state.
type Event struct {
	Kind     EventKind
	ItemID   string
	Filename string
	Status   Status
	Progress int
	Message  string
}

func (o *Orchestrator) publish(e Event) {
	select {
	case o.events <- e:
	default:
	}
}

// Events returns the orchestrator's notification stream. The channel is
// never closed; it lives as long as the orchestrator.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}
