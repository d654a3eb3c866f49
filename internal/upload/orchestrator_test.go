package upload_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mleary/receiptdrop/internal/receipt"
	"github.com/mleary/receiptdrop/internal/upload"
)

// pdfFile builds an accepted batch candidate: the magic prefix is all the
// filetype gate sniffs.
func pdfFile(name string) upload.File {
	return upload.File{Name: name, Content: []byte("%PDF-1.4\nfake receipt body\n%%EOF")}
}

func jpegFile(name string) upload.File {
	return upload.File{Name: name, Content: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}}
}

func findItem(t *testing.T, o *upload.Orchestrator, filename string) upload.Item {
	t.Helper()

	for _, it := range o.Items() {
		if it.Filename == filename {
			return it
		}
	}

	t.Fatalf("item %s not in batch", filename)

	return upload.Item{}
}

func TestOrchestrator_AddFiles(t *testing.T) {
	type args struct {
		files []upload.File
	}

	type testCase struct {
		name         string
		args         args
		wantItems    int
		wantRejected int
	}

	tests := []testCase{
		{
			name:      "AcceptsPDFAndImages",
			args:      args{files: []upload.File{pdfFile("a.pdf"), jpegFile("b.jpg")}},
			wantItems: 2,
		},
		{
			name:         "RejectsUnsupportedType",
			args:         args{files: []upload.File{{Name: "notes.txt", Content: []byte("just some text, no receipt")}}},
			wantItems:    0,
			wantRejected: 1,
		},
		{
			name:         "RejectsEmptyFile",
			args:         args{files: []upload.File{{Name: "empty.pdf"}}},
			wantItems:    0,
			wantRejected: 1,
		},
		{
			name:      "SameNameFilesStayIndependent",
			args:      args{files: []upload.File{pdfFile("receipt.pdf"), pdfFile("receipt.pdf")}},
			wantItems: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			// No transport expectations: rejection must never reach the backend.
			orch := upload.New(upload.NewMockTransport(ctrl))

			rejected := orch.AddFiles(tt.args.files...)

			assert.Len(t, rejected, tt.wantRejected)
			assert.Len(t, orch.Items(), tt.wantItems)

			if tt.name == "SameNameFilesStayIndependent" {
				items := orch.Items()
				assert.NotEqual(t, items[0].ID, items[1].ID)
			}
		})
	}
}

func TestOrchestrator_StartBatch_MixedOutcomes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req upload.UploadRequest) (*upload.UploadResult, error) {
			switch req.Filename {
			case "clean.pdf":
				return &upload.UploadResult{TransactionNumber: "TX-1", ParsedSuccessfully: true}, nil
			case "twice.pdf":
				return &upload.UploadResult{TransactionNumber: "TX-OLD", IsDuplicate: true}, nil
			case "smudged.pdf":
				return &upload.UploadResult{
					TransactionNumber:  "TX-3",
					ParsedSuccessfully: true,
					NeedsReview:        true,
					ReviewReason:       "ambiguous quantity on line 1",
					Receipt: &receipt.Parsed{
						Store: "Corner Grocery",
						Date:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
						Total: 1338,
						Items: []receipt.LineItem{{Name: "Apples", Quantity: 0, UnitPrice: 500, Total: 1000}},
					},
				}, nil
			}

			return nil, errors.New("unexpected file")
		}).
		Times(3)

	orch := upload.New(transport)
	require.Empty(t, orch.AddFiles(pdfFile("clean.pdf"), pdfFile("twice.pdf"), pdfFile("smudged.pdf")))

	require.NoError(t, orch.StartBatch(context.Background()))

	// The clean item completed and left the batch.
	items := orch.Items()
	require.Len(t, items, 2)

	dup := findItem(t, orch, "twice.pdf")
	assert.Equal(t, upload.StatusDuplicate, dup.Status)

	review := findItem(t, orch, "smudged.pdf")
	assert.Equal(t, upload.StatusNeedsReview, review.Status)
	assert.Equal(t, "TX-3", review.TransactionNumber)
	assert.Equal(t, 100, review.Progress)

	conflict := orch.NextConflict()
	require.NotNil(t, conflict)
	assert.Equal(t, dup.ID, conflict.ItemID)
	assert.Equal(t, "TX-OLD", conflict.ExistingTransaction)

	drafts := orch.OpenDrafts()
	require.Len(t, drafts, 1)
	assert.Equal(t, review.ID, drafts[0].ItemID)
	assert.Equal(t, "ambiguous quantity on line 1", drafts[0].Reason)
	assert.Equal(t, "TX-3", drafts[0].Receipt.TransactionNumber)

	assert.False(t, orch.Settled())
}

func TestOrchestrator_ResolveConflict_Skip(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)
	// Exactly one upload: skipping must not issue a second request.
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		Return(&upload.UploadResult{TransactionNumber: "TX-OLD", IsDuplicate: true}, nil).
		Times(1)

	orch := upload.New(transport)
	orch.AddFiles(pdfFile("twice.pdf"))
	require.NoError(t, orch.StartBatch(context.Background()))

	conflict := orch.NextConflict()
	require.NotNil(t, conflict)

	require.NoError(t, orch.ResolveConflict(context.Background(), conflict.ID, upload.ActionSkip))

	assert.Empty(t, orch.Items())
	assert.Nil(t, orch.NextConflict())
	assert.True(t, orch.Settled())
}

func TestOrchestrator_ResolveConflict_Overwrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)

	first := transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req upload.UploadRequest) (*upload.UploadResult, error) {
			assert.False(t, req.Force)
			return &upload.UploadResult{TransactionNumber: "TX-OLD", IsDuplicate: true}, nil
		})

	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		After(first).
		DoAndReturn(func(_ context.Context, req upload.UploadRequest) (*upload.UploadResult, error) {
			assert.True(t, req.Force, "overwrite must carry the force flag")
			return &upload.UploadResult{TransactionNumber: "TX-NEW", ParsedSuccessfully: true}, nil
		})

	orch := upload.New(transport)
	orch.AddFiles(pdfFile("twice.pdf"))
	require.NoError(t, orch.StartBatch(context.Background()))

	conflict := orch.NextConflict()
	require.NotNil(t, conflict)

	require.NoError(t, orch.ResolveConflict(context.Background(), conflict.ID, upload.ActionOverwrite))

	assert.Empty(t, orch.Items())
	assert.True(t, orch.Settled())
}

func TestOrchestrator_ResolveConflict_OverwriteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)

	gomock.InOrder(
		transport.EXPECT().
			Upload(gomock.Any(), gomock.Any()).
			Return(&upload.UploadResult{TransactionNumber: "TX-OLD", IsDuplicate: true}, nil),
		transport.EXPECT().
			Upload(gomock.Any(), gomock.Any()).
			Return(nil, errors.New("connection reset")),
	)

	orch := upload.New(transport)
	orch.AddFiles(pdfFile("twice.pdf"))
	require.NoError(t, orch.StartBatch(context.Background()))

	conflict := orch.NextConflict()
	require.NotNil(t, conflict)
	require.NoError(t, orch.ResolveConflict(context.Background(), conflict.ID, upload.ActionOverwrite))

	item := findItem(t, orch, "twice.pdf")
	assert.Equal(t, upload.StatusFailed, item.Status)
	assert.Contains(t, item.Message, "upload failed")
	assert.True(t, orch.Settled(), "failed is terminal; nothing awaits user input")
}

func TestOrchestrator_CommitDraft_FailureRetainsDraft(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		Return(&upload.UploadResult{
			TransactionNumber:  "TX-3",
			ParsedSuccessfully: true,
			NeedsReview:        true,
			ReviewReason:       "illegible total",
			Receipt:            &receipt.Parsed{Store: "Corner Grocery", Total: 900},
		}, nil)

	corrected := receipt.Parsed{
		TransactionNumber: "TX-3",
		Store:             "Corner Grocery",
		Date:              time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Total:             1000,
		Items:             []receipt.LineItem{{Name: "Apples", Quantity: 2, UnitPrice: 500, Total: 1000}},
	}

	gomock.InOrder(
		transport.EXPECT().
			Finalize(gomock.Any(), "TX-3", corrected).
			Return(nil, errors.New("gateway timeout")),
		transport.EXPECT().
			Finalize(gomock.Any(), "TX-3", corrected).
			Return(&corrected, nil),
	)

	orch := upload.New(transport)
	orch.AddFiles(pdfFile("smudged.pdf"))
	require.NoError(t, orch.StartBatch(context.Background()))

	draft := orch.NextDraft()
	require.NotNil(t, draft)

	// First commit fails: the item degrades to failed but the draft stays
	// open, updated with the corrections.
	err := orch.CommitDraft(context.Background(), draft.ID, corrected)
	require.Error(t, err)

	item := findItem(t, orch, "smudged.pdf")
	assert.Equal(t, upload.StatusFailed, item.Status)
	assert.False(t, orch.Settled(), "open draft holds the batch")

	retained := orch.NextDraft()
	require.NotNil(t, retained)
	assert.Equal(t, draft.ID, retained.ID)
	assert.Equal(t, corrected, retained.Receipt)

	// Second commit with the same content is a pure retry and lands.
	require.NoError(t, orch.CommitDraft(context.Background(), retained.ID, corrected))

	assert.Empty(t, orch.Items())
	assert.Nil(t, orch.NextDraft())
	assert.True(t, orch.Settled())
}

func TestOrchestrator_CancelDraft(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)
	// No Finalize expectation: cancelling must not commit anything.
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		Return(&upload.UploadResult{
			TransactionNumber:  "TX-3",
			ParsedSuccessfully: true,
			NeedsReview:        true,
			ReviewReason:       "illegible total",
		}, nil)

	orch := upload.New(transport)
	orch.AddFiles(pdfFile("smudged.pdf"))
	require.NoError(t, orch.StartBatch(context.Background()))

	draft := orch.NextDraft()
	require.NotNil(t, draft)

	require.NoError(t, orch.CancelDraft(draft.ID))

	assert.Empty(t, orch.Items())
	assert.True(t, orch.Settled())
}

func TestOrchestrator_RemoveItem(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	orch := upload.New(upload.NewMockTransport(ctrl))
	orch.AddFiles(pdfFile("a.pdf"), pdfFile("b.pdf"))

	items := orch.Items()
	require.Len(t, items, 2)

	require.NoError(t, orch.RemoveItem(items[0].ID))

	remaining := orch.Items()
	require.Len(t, remaining, 1)
	assert.Equal(t, items[1].ID, remaining[0].ID)
	assert.Equal(t, upload.StatusPending, remaining[0].Status)

	assert.ErrorIs(t, orch.RemoveItem("nope"), upload.ErrItemNotFound)
}

func TestOrchestrator_Retry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)

	gomock.InOrder(
		transport.EXPECT().
			Upload(gomock.Any(), gomock.Any()).
			Return(nil, errors.New("dial tcp: connection refused")),
		transport.EXPECT().
			Upload(gomock.Any(), gomock.Any()).
			Return(&upload.UploadResult{TransactionNumber: "TX-1", ParsedSuccessfully: true}, nil),
	)

	orch := upload.New(transport)
	orch.AddFiles(pdfFile("flaky.pdf"))
	require.NoError(t, orch.StartBatch(context.Background()))

	item := findItem(t, orch, "flaky.pdf")
	assert.Equal(t, upload.StatusFailed, item.Status)
	assert.Contains(t, item.Message, "upload failed")

	require.NoError(t, orch.Retry(item.ID))

	item = findItem(t, orch, "flaky.pdf")
	assert.Equal(t, upload.StatusPending, item.Status)
	assert.Zero(t, item.Progress)

	require.NoError(t, orch.StartBatch(context.Background()))
	assert.Empty(t, orch.Items())

	assert.ErrorIs(t, orch.Retry("nope"), upload.ErrItemNotFound)
}

func TestOrchestrator_Retry_DiscardsRetainedDraft(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)

	corrected := receipt.Parsed{
		TransactionNumber: "TX-3",
		Store:             "Corner Grocery",
		Total:             1000,
	}

	gomock.InOrder(
		transport.EXPECT().
			Upload(gomock.Any(), gomock.Any()).
			Return(&upload.UploadResult{
				TransactionNumber:  "TX-3",
				ParsedSuccessfully: true,
				NeedsReview:        true,
				ReviewReason:       "illegible total",
			}, nil),
		transport.EXPECT().
			Finalize(gomock.Any(), "TX-3", corrected).
			Return(nil, errors.New("gateway timeout")),
		// The retry re-uploads the file; no second Finalize may happen.
		transport.EXPECT().
			Upload(gomock.Any(), gomock.Any()).
			Return(&upload.UploadResult{TransactionNumber: "TX-4", ParsedSuccessfully: true}, nil),
	)

	orch := upload.New(transport)
	orch.AddFiles(pdfFile("smudged.pdf"))
	require.NoError(t, orch.StartBatch(context.Background()))

	draft := orch.NextDraft()
	require.NotNil(t, draft)
	require.Error(t, orch.CommitDraft(context.Background(), draft.ID, corrected))

	item := findItem(t, orch, "smudged.pdf")
	require.Equal(t, upload.StatusFailed, item.Status)

	// Retrying abandons the retained draft along with the failed outcome.
	require.NoError(t, orch.Retry(item.ID))
	assert.Nil(t, orch.NextDraft())

	item = findItem(t, orch, "smudged.pdf")
	assert.Equal(t, upload.StatusPending, item.Status)

	// A commit against the discarded draft cannot touch the pending item.
	assert.ErrorIs(t, orch.CommitDraft(context.Background(), draft.ID, corrected), upload.ErrDraftNotFound)
	item = findItem(t, orch, "smudged.pdf")
	assert.Equal(t, upload.StatusPending, item.Status)

	require.NoError(t, orch.StartBatch(context.Background()))
	assert.Empty(t, orch.Items())
	assert.True(t, orch.Settled())
}

func TestOrchestrator_Retry_OnlyTerminalFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	orch := upload.New(upload.NewMockTransport(ctrl))
	orch.AddFiles(pdfFile("a.pdf"))

	item := orch.Items()[0]
	assert.ErrorIs(t, orch.Retry(item.ID), upload.ErrNotRetryable)
}

func TestOrchestrator_ParseError_StaysVisible(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		Return(&upload.UploadResult{
			TransactionNumber: "TX-9",
			ParseError:        "could not locate a totals block",
		}, nil)

	orch := upload.New(transport)
	orch.AddFiles(pdfFile("garbled.pdf"))
	require.NoError(t, orch.StartBatch(context.Background()))

	item := findItem(t, orch, "garbled.pdf")
	assert.Equal(t, upload.StatusParseError, item.Status)
	assert.Equal(t, "could not locate a totals block", item.Message)
	assert.Equal(t, "TX-9", item.TransactionNumber, "file was stored server-side despite the parse error")

	// Parse errors are terminal; they do not hold the batch open.
	assert.True(t, orch.Settled())
}

func TestOrchestrator_TransportFailureNeverBlocksSiblings(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req upload.UploadRequest) (*upload.UploadResult, error) {
			if req.Filename == "doomed.pdf" {
				return nil, errors.New("network is unreachable")
			}

			return &upload.UploadResult{TransactionNumber: "TX-1", ParsedSuccessfully: true}, nil
		}).
		Times(2)

	orch := upload.New(transport)
	orch.AddFiles(pdfFile("doomed.pdf"), pdfFile("fine.pdf"))

	require.NoError(t, orch.StartBatch(context.Background()))

	// The healthy sibling completed and left; the failure stayed behind.
	items := orch.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "doomed.pdf", items[0].Filename)
	assert.Equal(t, upload.StatusFailed, items[0].Status)
}

func TestOrchestrator_ProgressIsMonotonic(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := upload.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req upload.UploadRequest) (*upload.UploadResult, error) {
			req.Progress(40)
			req.Progress(10) // out of order, must be dropped
			req.Progress(80)

			return &upload.UploadResult{
				TransactionNumber: "TX-9",
				ParseError:        "bad scan",
			}, nil
		})

	orch := upload.New(transport)
	events := orch.Events()

	orch.AddFiles(pdfFile("a.pdf"))
	require.NoError(t, orch.StartBatch(context.Background()))

	var seen []int

	for {
		select {
		case e := <-events:
			if e.Kind == upload.EventProgress {
				seen = append(seen, e.Progress)
			}

			continue
		default:
		}

		break
	}

	assert.Equal(t, []int{40, 80}, seen)

	item := findItem(t, orch, "a.pdf")
	assert.Equal(t, 100, item.Progress, "progress lands on 100 once the backend answered")
}

func TestOrchestrator_MaxInFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var (
		mu      = make(chan struct{}, 1)
		active  int
		maxSeen int
	)

	transport := upload.NewMockTransport(ctrl)
	transport.EXPECT().
		Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ upload.UploadRequest) (*upload.UploadResult, error) {
			mu <- struct{}{}
			active++
			if active > maxSeen {
				maxSeen = active
			}
			<-mu

			time.Sleep(10 * time.Millisecond)

			mu <- struct{}{}
			active--
			<-mu

			return &upload.UploadResult{TransactionNumber: "TX", ParsedSuccessfully: true}, nil
		}).
		Times(4)

	orch := upload.New(transport, upload.WithMaxInFlight(2))
	orch.AddFiles(pdfFile("a.pdf"), pdfFile("b.pdf"), pdfFile("c.pdf"), pdfFile("d.pdf"))

	require.NoError(t, orch.StartBatch(context.Background()))

	assert.LessOrEqual(t, maxSeen, 2)
	assert.Empty(t, orch.Items())
}

func TestOrchestrator_SettledOnEmptyBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	orch := upload.New(upload.NewMockTransport(ctrl))
	require.NoError(t, orch.StartBatch(context.Background()))
	assert.True(t, orch.Settled())
}
