package receipt

import "time"

// Parsed is a receipt as extracted by the backend parser, and — after a
// review pass — as corrected by the user. The same shape travels both ways:
// it arrives in an upload response when the backend flags a low-confidence
// parse, and it is sent back on the finalize endpoint once corrected.
type Parsed struct {
	TransactionNumber string     `json:"transaction_number"`
	Store             string     `json:"store"`
	Date              time.Time  `json:"date"`
	Subtotal          int64      `json:"subtotal"` // Amount in cents
	Tax               int64      `json:"tax"`
	Total             int64      `json:"total"`
	Items             []LineItem `json:"items"`
}

// LineItem is a single purchased item on a receipt.
type LineItem struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice int64   `json:"unit_price"` // Amount in cents
	Total     int64   `json:"total"`
}

// Clone returns a deep copy. Review drafts hand copies to the editor so a
// cancelled edit never leaks into the draft kept for retry.
func (p Parsed) Clone() Parsed {
	out := p
	out.Items = make([]LineItem, len(p.Items))
	copy(out.Items, p.Items)

	return out
}
