package view

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/mleary/receiptdrop/internal/receipt"
	"github.com/mleary/receiptdrop/internal/upload"
)

// reviewForm binds a review draft to editable string fields and builds the
// huh form over them. The form edits a copy; nothing touches the draft until
// the corrected receipt is committed.
type reviewForm struct {
	draft *upload.ReviewDraft

	store    string
	date     string
	subtotal string
	tax      string
	total    string
	items    []lineItemFields

	form *huh.Form
}

type lineItemFields struct {
	name      string
	quantity  string
	unitPrice string
	total     string
}

func newReviewForm(draft *upload.ReviewDraft) *reviewForm {
	f := &reviewForm{
		draft:    draft,
		store:    draft.Receipt.Store,
		date:     FormatDate(draft.Receipt.Date),
		subtotal: FormatAmount(draft.Receipt.Subtotal),
		tax:      FormatAmount(draft.Receipt.Tax),
		total:    FormatAmount(draft.Receipt.Total),
	}

	for _, it := range draft.Receipt.Items {
		f.items = append(f.items, lineItemFields{
			name:      it.Name,
			quantity:  strconv.FormatFloat(it.Quantity, 'f', -1, 64),
			unitPrice: FormatAmount(it.UnitPrice),
			total:     FormatAmount(it.Total),
		})
	}

	groups := []*huh.Group{
		huh.NewGroup(
			huh.NewInput().
				Key("store").
				Title("Store").
				Value(&f.store).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("store cannot be empty")
					}
					return nil
				}),

			huh.NewInput().
				Key("date").
				Title("Date").
				Placeholder("YYYY-MM-DD").
				Value(&f.date).
				Validate(validateDate),

			huh.NewInput().
				Key("subtotal").
				Title("Subtotal").
				Value(&f.subtotal).
				Validate(validateAmount),

			huh.NewInput().
				Key("tax").
				Title("Tax").
				Value(&f.tax).
				Validate(validateAmount),

			huh.NewInput().
				Key("total").
				Title("Total").
				Value(&f.total).
				Validate(validateAmount),
		).Title(fmt.Sprintf("Receipt %s", draft.Receipt.TransactionNumber)).
			Description(fmt.Sprintf("Review reason: %s", draft.Reason)),
	}

	for i := range f.items {
		item := &f.items[i]

		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Key(fmt.Sprintf("item_%d_name", i)).
				Title("Name").
				Value(&item.name),

			huh.NewInput().
				Key(fmt.Sprintf("item_%d_qty", i)).
				Title("Quantity").
				Value(&item.quantity).
				Validate(validateQuantity),

			huh.NewInput().
				Key(fmt.Sprintf("item_%d_unit", i)).
				Title("Unit Price").
				Value(&item.unitPrice).
				Validate(validateAmount),

			huh.NewInput().
				Key(fmt.Sprintf("item_%d_total", i)).
				Title("Line Total").
				Value(&item.total).
				Validate(validateAmount),
		).Title(fmt.Sprintf("Line item %d of %d", i+1, len(f.items))))
	}

	f.form = huh.NewForm(groups...).WithWidth(50).WithShowHelp(false)

	return f
}

// corrected assembles the edited fields back into a receipt. Validation has
// already run per field, so parse errors here are unreachable in practice
// but still surfaced rather than swallowed.
func (f *reviewForm) corrected() (receipt.Parsed, error) {
	date, err := time.Parse("2006-01-02", strings.TrimSpace(f.date))
	if err != nil {
		return receipt.Parsed{}, fmt.Errorf("parsing date: %w", err)
	}

	out := receipt.Parsed{
		TransactionNumber: f.draft.Receipt.TransactionNumber,
		Store:             strings.TrimSpace(f.store),
		Date:              date,
	}

	if out.Subtotal, err = parseAmount(f.subtotal); err != nil {
		return receipt.Parsed{}, err
	}

	if out.Tax, err = parseAmount(f.tax); err != nil {
		return receipt.Parsed{}, err
	}

	if out.Total, err = parseAmount(f.total); err != nil {
		return receipt.Parsed{}, err
	}

	for i, fields := range f.items {
		item := receipt.LineItem{Name: strings.TrimSpace(fields.name)}

		if item.Quantity, err = strconv.ParseFloat(strings.TrimSpace(fields.quantity), 64); err != nil {
			return receipt.Parsed{}, fmt.Errorf("parsing quantity of line %d: %w", i+1, err)
		}

		if item.UnitPrice, err = parseAmount(fields.unitPrice); err != nil {
			return receipt.Parsed{}, err
		}

		if item.Total, err = parseAmount(fields.total); err != nil {
			return receipt.Parsed{}, err
		}

		out.Items = append(out.Items, item)
	}

	return out, nil
}

func parseAmount(s string) (int64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	return int64(math.Round(v * 100)), nil
}

func validateAmount(s string) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
		return fmt.Errorf("enter an amount like 12.50")
	}

	return nil
}

func validateQuantity(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return fmt.Errorf("enter a positive quantity")
	}

	return nil
}

func validateDate(s string) error {
	if _, err := time.Parse("2006-01-02", strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("use YYYY-MM-DD")
	}

	return nil
}
