package upload

import (
	"context"

	"github.com/mleary/receiptdrop/internal/receipt"
)

//go:generate mockgen -source=transport.go -destination=transport_mock.go -package=upload

// Transport performs the actual backend calls for the orchestrator. The HTTP
// implementation lives in internal/transport; tests use the generated mock.
type Transport interface {
	// Upload submits one file to the parsing endpoint. A non-nil error means
	// a transport-level fault (network, timeout, non-2xx); backend-reported
	// outcomes (parse error, duplicate, needs review) come back in the result.
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)

	// Finalize commits a user-corrected receipt. There is no partial commit:
	// a non-nil error means nothing was persisted.
	Finalize(ctx context.Context, transactionNumber string, corrected receipt.Parsed) (*receipt.Parsed, error)
}

// UploadRequest carries one file to the backend.
type UploadRequest struct {
	Filename string
	MIMEType string
	Content  []byte

	// Force resubmits over an existing receipt (duplicate overwrite).
	Force bool

	// Progress, if set, receives upload percentages in [0,100]. It may be
	// called from the transport's goroutine; the orchestrator's handler is
	// safe for that.
	Progress func(percent int)
}

// UploadResult is the backend's verdict on one file. The transport maps the
// wire response into this shape; Receipt is populated when NeedsReview is set.
type UploadResult struct {
	TransactionNumber  string
	ParsedSuccessfully bool
	ParseError         string
	IsDuplicate        bool
	NeedsReview        bool
	ReviewReason       string
	Receipt            *receipt.Parsed
}
