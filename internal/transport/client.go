// Package transport implements the HTTP boundary to the receipt-parsing
// backend: one multipart upload per file and a finalize call for corrected
// receipts.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/mleary/receiptdrop/internal/receipt"
	"github.com/mleary/receiptdrop/internal/upload"
)

const defaultTimeout = 2 * time.Minute

// Client talks to the receipt backend. It implements upload.Transport.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// uploadResponse is the wire shape of the parsing endpoint. The provisional
// receipt rides inline next to the outcome flags.
type uploadResponse struct {
	TransactionNumber  string             `json:"transaction_number"`
	ParsedSuccessfully bool               `json:"parsed_successfully"`
	ParseError         string             `json:"parse_error"`
	IsDuplicate        bool               `json:"is_duplicate"`
	NeedsReview        bool               `json:"needs_review"`
	ReviewReason       string             `json:"review_reason"`
	Store              string             `json:"store"`
	Date               time.Time          `json:"date"`
	Subtotal           int64              `json:"subtotal"`
	Tax                int64              `json:"tax"`
	Total              int64              `json:"total"`
	Items              []receipt.LineItem `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Upload submits one file as multipart form data to /api/receipts/upload/.
// Progress is reported from the request body as it is consumed by the HTTP
// transport, so the final percent lands when the last byte leaves.
func (c *Client) Upload(ctx context.Context, req upload.UploadRequest) (*upload.UploadResult, error) {
	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscape(req.Filename)))
	header.Set("Content-Type", req.MIMEType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("creating multipart file part: %w", err)
	}

	if _, err := part.Write(req.Content); err != nil {
		return nil, fmt.Errorf("writing file content: %w", err)
	}

	if req.Force {
		if err := writer.WriteField("force_update", "true"); err != nil {
			return nil, fmt.Errorf("writing force_update field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	total := int64(body.Len())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/receipts/upload/", &progressReader{
		r:      &body,
		total:  total,
		report: req.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("building upload request: %w", err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.ContentLength = total
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backendError(resp.StatusCode, raw)
	}

	var decoded uploadResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}

	return toResult(decoded), nil
}

// Finalize commits a corrected receipt via /api/receipts/{tx}/update/.
func (c *Client) Finalize(ctx context.Context, transactionNumber string, corrected receipt.Parsed) (*receipt.Parsed, error) {
	payload, err := json.Marshal(corrected)
	if err != nil {
		return nil, fmt.Errorf("encoding corrected receipt: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/receipts/%s/update/", c.baseURL, url.PathEscape(transactionNumber))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building finalize request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("finalize request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading finalize response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backendError(resp.StatusCode, raw)
	}

	var committed receipt.Parsed
	if err := json.Unmarshal(raw, &committed); err != nil {
		return nil, fmt.Errorf("decoding finalize response: %w", err)
	}

	return &committed, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// backendError maps a non-2xx response to an error, preferring the backend's
// structured message when one is present.
func backendError(status int, raw []byte) error {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		return fmt.Errorf("backend returned %d: %s", status, e.Error)
	}

	return fmt.Errorf("backend returned %d", status)
}

func toResult(r uploadResponse) *upload.UploadResult {
	out := &upload.UploadResult{
		TransactionNumber:  r.TransactionNumber,
		ParsedSuccessfully: r.ParsedSuccessfully,
		ParseError:         r.ParseError,
		IsDuplicate:        r.IsDuplicate,
		NeedsReview:        r.NeedsReview,
		ReviewReason:       r.ReviewReason,
	}

	if r.NeedsReview {
		out.Receipt = &receipt.Parsed{
			TransactionNumber: r.TransactionNumber,
			Store:             r.Store,
			Date:              r.Date,
			Subtotal:          r.Subtotal,
			Tax:               r.Tax,
			Total:             r.Total,
			Items:             r.Items,
		}
	}

	return out
}

func quoteEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// progressReader reports how much of the request body has been consumed as
// an integer percentage, each value at most once.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)

	if p.report == nil || p.total <= 0 {
		return n, err
	}

	pct := int(p.read * 100 / p.total)
	if pct > 100 {
		pct = 100
	}

	if pct > p.last {
		p.last = pct
		p.report(pct)
	}

	return n, err
}
