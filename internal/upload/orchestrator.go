package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mleary/receiptdrop/internal/filetype"
	"github.com/mleary/receiptdrop/internal/receipt"
)

var (
	ErrItemNotFound     = errors.New("item not found")
	ErrItemUploading    = errors.New("item is uploading")
	ErrNotRetryable     = errors.New("item is not retryable")
	ErrConflictNotFound = errors.New("conflict not found")
	ErrDraftNotFound    = errors.New("draft not found")
)

const eventBuffer = 256

// Orchestrator owns one upload batch: it creates items from accepted files,
// dispatches their uploads concurrently, routes each backend outcome, and
// queues duplicate conflicts and review drafts for user resolution.
//
// All state mutation funnels through the mutex, one event at a time; upload
// goroutines only ever report back through that single point. Item failures
// are absorbed per item — nothing a single file does can abort the batch.
type Orchestrator struct {
	transport   Transport
	maxInFlight int
	events      chan Event

	mu        sync.Mutex
	seq       int
	items     []*Item
	conflicts []*Conflict
	drafts    []*ReviewDraft
}

type Option func(*Orchestrator)

// WithMaxInFlight caps the number of concurrent uploads. Zero (the default)
// dispatches the whole pending set at once.
func WithMaxInFlight(n int) Option {
	return func(o *Orchestrator) { o.maxInFlight = n }
}

func New(t Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: t,
		events:    make(chan Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// File is a candidate for the batch: a local file's name and raw content.
type File struct {
	Name    string
	Content []byte
}

// Rejection reports one file that never entered the batch.
type Rejection struct {
	Name string
	Err  error
}

// AddFiles filters the input through the filetype gate and appends one
// pending item per accepted file. Rejected files are reported individually
// and never crash the batch. A name colliding with an existing item still
// yields a new, independent item: the backend is authoritative for
// domain-level duplication, not the filename.
func (o *Orchestrator) AddFiles(files ...File) []Rejection {
	o.mu.Lock()
	defer o.mu.Unlock()

	var rejected []Rejection

	for _, f := range files {
		mime, err := filetype.Detect(f.Name, f.Content)
		if err != nil {
			rejected = append(rejected, Rejection{Name: f.Name, Err: err})
			o.publish(Event{Kind: EventItemRejected, Filename: f.Name, Message: err.Error()})

			continue
		}

		o.seq++
		item := &Item{
			ID:       newItemID(f.Name, int64(len(f.Content)), o.seq),
			Filename: f.Name,
			MIMEType: mime,
			Size:     int64(len(f.Content)),
			Status:   StatusPending,
			content:  f.Content,
		}
		o.items = append(o.items, item)
		o.publish(Event{Kind: EventItemAdded, ItemID: item.ID, Filename: item.Filename, Status: item.Status})
	}

	return rejected
}

// StartBatch moves every pending item to uploading and dispatches one upload
// task per item concurrently. It returns once every dispatched item has
// reached a terminal status; duplicate and review resolution may still be
// outstanding (StartBatch settles the upload phase, not the whole batch).
func (o *Orchestrator) StartBatch(ctx context.Context) error {
	o.mu.Lock()

	var batch []string

	for _, it := range o.items {
		if it.Status != StatusPending {
			continue
		}

		o.setStatus(it, StatusUploading)
		batch = append(batch, it.ID)
	}
	o.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	if o.maxInFlight > 0 {
		g.SetLimit(o.maxInFlight)
	}

	for _, id := range batch {
		g.Go(func() error {
			// Item faults are routed into the item's own state; a task never
			// surfaces an error that could cancel its siblings.
			o.uploadOne(ctx, id, false)
			return nil
		})
	}

	return g.Wait()
}

func (o *Orchestrator) uploadOne(ctx context.Context, id string, force bool) {
	o.mu.Lock()
	it := o.findItem(id)

	if it == nil || it.Status != StatusUploading {
		o.mu.Unlock()
		return
	}

	req := UploadRequest{
		Filename: it.Filename,
		MIMEType: it.MIMEType,
		Content:  it.content,
		Force:    force,
		Progress: func(pct int) { o.reportProgress(id, pct) },
	}
	o.mu.Unlock()

	res, err := o.transport.Upload(ctx, req)
	o.applyOutcome(id, res, err)
}

// reportProgress applies a progress sample. Progress only ever moves forward
// while the item uploads; stale or out-of-order samples are dropped.
func (o *Orchestrator) reportProgress(id string, pct int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	it := o.findItem(id)
	if it == nil || it.Status != StatusUploading {
		return
	}

	if pct > 100 {
		pct = 100
	}

	if pct <= it.Progress {
		return
	}

	it.Progress = pct
	o.publish(Event{Kind: EventProgress, ItemID: it.ID, Filename: it.Filename, Status: it.Status, Progress: pct})
}

// applyOutcome is the single routing point for a completed upload task.
func (o *Orchestrator) applyOutcome(id string, res *UploadResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	it := o.findItem(id)
	if it == nil || it.Status != StatusUploading {
		// The item was dismissed while its response was in flight; the
		// completed-but-unwanted response is simply ignored.
		return
	}

	if err != nil {
		o.setStatus(it, StatusFailed)
		it.Message = fmt.Sprintf("upload failed: %v", err)

		return
	}

	// The request body made it to the backend in full.
	it.Progress = 100

	switch {
	case res.IsDuplicate:
		o.setStatus(it, StatusDuplicate)
		it.Message = "duplicate of an existing receipt"

		c := &Conflict{
			ID:                  uuid.New(),
			ItemID:              it.ID,
			Filename:            it.Filename,
			ExistingTransaction: res.TransactionNumber,
		}
		o.conflicts = append(o.conflicts, c)
		o.publish(Event{Kind: EventConflictOpen, ItemID: it.ID, Filename: it.Filename, Status: it.Status})

	case res.NeedsReview:
		it.TransactionNumber = res.TransactionNumber
		o.setStatus(it, StatusNeedsReview)
		it.Message = res.ReviewReason

		var provisional receipt.Parsed
		if res.Receipt != nil {
			provisional = res.Receipt.Clone()
		}

		provisional.TransactionNumber = res.TransactionNumber

		d := &ReviewDraft{
			ID:       uuid.New(),
			ItemID:   it.ID,
			Filename: it.Filename,
			Reason:   res.ReviewReason,
			Receipt:  provisional,
		}
		o.drafts = append(o.drafts, d)
		o.publish(Event{Kind: EventDraftOpen, ItemID: it.ID, Filename: it.Filename, Status: it.Status, Message: d.Reason})

	case !res.ParsedSuccessfully:
		// Backend-confirmed parse problem; the file was still stored
		// server-side, so a retry is cleanup, not correctness.
		it.TransactionNumber = res.TransactionNumber
		o.setStatus(it, StatusParseError)
		it.Message = res.ParseError

	default:
		it.TransactionNumber = res.TransactionNumber
		o.setStatus(it, StatusSuccess)
		o.removeLocked(it.ID)
	}
}

// RemoveItem discards an item from the batch, along with any conflict or
// draft opened for it. Uploading items cannot be removed.
func (o *Orchestrator) RemoveItem(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	it := o.findItem(id)
	if it == nil {
		return ErrItemNotFound
	}

	if it.Status == StatusUploading {
		return ErrItemUploading
	}

	o.removeLocked(id)

	return nil
}

// Retry re-queues a parse-error or failed item for the next StartBatch call.
// Anything still queued for the item, such as a draft retained from a failed
// finalize, is discarded: the re-upload will produce a fresh outcome, and a
// stale draft committing against a pending item would destroy it off-machine.
func (o *Orchestrator) Retry(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	it := o.findItem(id)
	if it == nil {
		return ErrItemNotFound
	}

	if it.Status != StatusParseError && it.Status != StatusFailed {
		return fmt.Errorf("%w: status %s", ErrNotRetryable, it.Status)
	}

	o.purgeQueuesLocked(id)

	o.setStatus(it, StatusPending)
	it.Progress = 0
	it.Message = ""
	it.TransactionNumber = ""

	return nil
}

// NextConflict returns the oldest unresolved duplicate conflict, or nil.
// Conflicts are presented strictly one at a time; later ones queue behind it.
func (o *Orchestrator) NextConflict() *Conflict {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.conflicts) == 0 {
		return nil
	}

	c := *o.conflicts[0]

	return &c
}

// ResolveConflict applies the user's decision. Skip discards the item with
// no further network call; overwrite issues exactly one forced re-upload and
// blocks until it completes. The overwrite path is the only way a duplicate
// item re-enters uploading — batch dispatch only ever picks pending items.
func (o *Orchestrator) ResolveConflict(ctx context.Context, conflictID uuid.UUID, action Action) error {
	o.mu.Lock()

	idx := -1

	for i, c := range o.conflicts {
		if c.ID == conflictID {
			idx = i
			break
		}
	}

	if idx == -1 {
		o.mu.Unlock()
		return ErrConflictNotFound
	}

	c := o.conflicts[idx]
	o.conflicts = append(o.conflicts[:idx], o.conflicts[idx+1:]...)

	it := o.findItem(c.ItemID)
	if it == nil || it.Status != StatusDuplicate {
		o.mu.Unlock()
		return ErrItemNotFound
	}

	switch action {
	case ActionSkip:
		o.setStatus(it, StatusSkipped)
		o.removeLocked(it.ID)
		o.mu.Unlock()

		return nil

	case ActionOverwrite:
		o.setStatus(it, StatusUploading)
		it.Progress = 0
		it.Message = ""
		o.mu.Unlock()

		o.uploadOne(ctx, c.ItemID, true)

		return nil

	default:
		// Leave the conflict resolvable rather than stranding the item.
		o.conflicts = append([]*Conflict{c}, o.conflicts...)
		o.mu.Unlock()

		return fmt.Errorf("unknown action %q", action)
	}
}

// NextDraft returns the oldest open review draft, or nil.
func (o *Orchestrator) NextDraft() *ReviewDraft {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.drafts) == 0 {
		return nil
	}

	return o.copyDraft(o.drafts[0])
}

// OpenDrafts returns copies of every draft still awaiting the editor.
func (o *Orchestrator) OpenDrafts() []*ReviewDraft {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*ReviewDraft, 0, len(o.drafts))
	for _, d := range o.drafts {
		out = append(out, o.copyDraft(d))
	}

	return out
}

// CommitDraft finalizes a corrected receipt. On success the item completes
// and leaves the batch. On failure the item is marked failed but the draft —
// updated with the user's corrections — stays open, so committing again with
// the same content is a pure retry.
func (o *Orchestrator) CommitDraft(ctx context.Context, draftID uuid.UUID, corrected receipt.Parsed) error {
	o.mu.Lock()

	d := o.findDraft(draftID)
	if d == nil {
		o.mu.Unlock()
		return ErrDraftNotFound
	}

	it := o.findItem(d.ItemID)
	if it == nil {
		o.mu.Unlock()
		return ErrItemNotFound
	}

	txNumber := d.Receipt.TransactionNumber
	o.mu.Unlock()

	committed, err := o.transport.Finalize(ctx, txNumber, corrected)

	o.mu.Lock()
	defer o.mu.Unlock()

	// Re-resolve: the draft may have been cancelled while the request was
	// in flight, in which case the outcome is ignored.
	d = o.findDraft(draftID)
	if d == nil {
		return nil
	}

	it = o.findItem(d.ItemID)
	if it == nil {
		return nil
	}

	if err != nil {
		d.Receipt = corrected.Clone()

		if it.Status != StatusFailed {
			o.setStatus(it, StatusFailed)
		}

		it.Message = fmt.Sprintf("finalize failed: %v", err)

		return fmt.Errorf("finalize %s: %w", txNumber, err)
	}

	if committed != nil && committed.TransactionNumber != "" {
		it.TransactionNumber = committed.TransactionNumber
	} else {
		it.TransactionNumber = txNumber
	}

	o.setStatus(it, StatusSuccess)
	o.removeDraftLocked(draftID)
	o.removeLocked(it.ID)

	return nil
}

// CancelDraft abandons a review draft without committing anything.
func (o *Orchestrator) CancelDraft(draftID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	d := o.findDraft(draftID)
	if d == nil {
		return ErrDraftNotFound
	}

	it := o.findItem(d.ItemID)
	o.removeDraftLocked(draftID)

	if it == nil {
		return nil
	}

	if it.Status == StatusNeedsReview {
		o.setStatus(it, StatusSkipped)
	}

	o.removeLocked(it.ID)

	return nil
}

// Items returns a snapshot of the batch in insertion order.
func (o *Orchestrator) Items() []Item {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Item, 0, len(o.items))
	for _, it := range o.items {
		snap := *it
		snap.content = nil
		out = append(out, snap)
	}

	return out
}

// Settled reports whether the batch is safe to walk away from: nothing is
// pending or uploading, and no conflict or draft awaits user input. Items
// sitting in parse-error or failed are terminal and do not hold the batch.
func (o *Orchestrator) Settled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.conflicts) > 0 || len(o.drafts) > 0 {
		return false
	}

	for _, it := range o.items {
		if !it.Status.Terminal() {
			return false
		}
	}

	return true
}

// setStatus applies a transition and publishes it. Callers validate the
// source state; an off-machine transition here is a programming error and
// is dropped rather than corrupting the item.
func (o *Orchestrator) setStatus(it *Item, to Status) {
	if !canTransition(it.Status, to) {
		return
	}

	it.Status = to
	o.publish(Event{Kind: EventStatusChanged, ItemID: it.ID, Filename: it.Filename, Status: to, Progress: it.Progress, Message: it.Message})
}

func (o *Orchestrator) findItem(id string) *Item {
	for _, it := range o.items {
		if it.ID == id {
			return it
		}
	}

	return nil
}

func (o *Orchestrator) findDraft(id uuid.UUID) *ReviewDraft {
	for _, d := range o.drafts {
		if d.ID == id {
			return d
		}
	}

	return nil
}

func (o *Orchestrator) removeDraftLocked(id uuid.UUID) {
	for i, d := range o.drafts {
		if d.ID == id {
			o.drafts = append(o.drafts[:i], o.drafts[i+1:]...)
			return
		}
	}
}

// purgeQueuesLocked drops every conflict and draft queued for the item.
func (o *Orchestrator) purgeQueuesLocked(id string) {
	for i := len(o.conflicts) - 1; i >= 0; i-- {
		if o.conflicts[i].ItemID == id {
			o.conflicts = append(o.conflicts[:i], o.conflicts[i+1:]...)
		}
	}

	for i := len(o.drafts) - 1; i >= 0; i-- {
		if o.drafts[i].ItemID == id {
			o.drafts = append(o.drafts[:i], o.drafts[i+1:]...)
		}
	}
}

// removeLocked drops the item and anything queued on its behalf.
func (o *Orchestrator) removeLocked(id string) {
	o.purgeQueuesLocked(id)

	for i, it := range o.items {
		if it.ID == id {
			o.items = append(o.items[:i], o.items[i+1:]...)
			o.publish(Event{Kind: EventItemRemoved, ItemID: it.ID, Filename: it.Filename, Status: it.Status})

			return
		}
	}
}

func (o *Orchestrator) copyDraft(d *ReviewDraft) *ReviewDraft {
	out := *d
	out.Receipt = d.Receipt.Clone()

	return &out
}
