package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage and wire format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date. It marshals as DateLayout.
type Date struct {
	time.Time
}

// NewDate returns the calendar day of t in UTC.
func NewDate(t time.Time) *Date {
	y, m, d := t.Date()
	return &Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses s in DateLayout.
func ParseDate(s string) (*Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, err
	}
	return &Date{t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("date must be a string formatted as %s", DateLayout)
	}
	t, err := time.Parse(DateLayout, string(b[1:len(b)-1]))
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// Receipt is one inbound payment notification. Fields the notification did
// not yield are left empty (strings), invalid (Amount) or nil (Date).
type Receipt struct {
	ID               string              `json:"id"`
	ExternalID       string              `json:"-"`
	SenderName       string              `json:"sender_name,omitempty"`
	Amount           decimal.NullDecimal `json:"amount"`
	Date             *Date               `json:"date,omitempty"`
	ConfirmationCode string              `json:"confirmation,omitempty"`
	Commission       decimal.Decimal     `json:"commission"`
	Memo             string              `json:"memo,omitempty"`
	IsDeleted        bool                `json:"-"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Reconcilable reports whether the receipt carries a code that can match a
// confirmation.
func (r *Receipt) Reconcilable() bool {
	return r.ConfirmationCode != ""
}

// Validate checks the amount and commission invariants.
func (r *Receipt) Validate() error {
	if r.Amount.Valid && r.Amount.Decimal.IsNegative() {
		return NewValidationError("amount", "must not be negative")
	}
	return ValidateCommission(r.Commission)
}

var hundred = decimal.NewFromInt(100)

// ValidateCommission checks that a commission percentage is within [0,100].
func ValidateCommission(c decimal.Decimal) error {
	if c.IsNegative() || c.GreaterThan(hundred) {
		return NewValidationError("commission", "must be between 0 and 100")
	}
	return nil
}

// ReceiptPatch carries an administrative update. Nil fields are left
// unchanged.
type ReceiptPatch struct {
	SenderName       *string          `json:"sender_name"`
	Amount           *decimal.Decimal `json:"amount"`
	Date             *string          `json:"date"`
	ConfirmationCode *string          `json:"confirmation"`
	Commission       *decimal.Decimal `json:"commission"`
	Memo             *string          `json:"memo"`
}

// Apply validates the patch and applies it to r.
func (p ReceiptPatch) Apply(r *Receipt) error {
	if p.Amount != nil {
		if p.Amount.IsNegative() {
			return NewValidationError("amount", "must not be negative")
		}
		r.Amount = decimal.NewNullDecimal(*p.Amount)
	}
	if p.Commission != nil {
		if err := ValidateCommission(*p.Commission); err != nil {
			return err
		}
		r.Commission = *p.Commission
	}
	if p.Date != nil {
		if *p.Date == "" {
			r.Date = nil
		} else {
			d, err := ParseDate(*p.Date)
			if err != nil {
				return NewValidationError("date", "must be formatted as YYYY-MM-DD")
			}
			r.Date = d
		}
	}
	if p.SenderName != nil {
		r.SenderName = *p.SenderName
	}
	if p.ConfirmationCode != nil {
		r.ConfirmationCode = *p.ConfirmationCode
	}
	if p.Memo != nil {
		r.Memo = *p.Memo
	}
	return nil
}

// OwnerSummary is the public part of a user shown next to reconciled records.
type OwnerSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// ReceiptAssociation is the confirmation a receipt reconciles to.
type ReceiptAssociation struct {
	ConfirmationID string        `json:"id"`
	Code           string        `json:"code"`
	Owner          *OwnerSummary `json:"user,omitempty"`
}

// ReceiptView is a receipt annotated with its reconciled confirmation, if
// the caller is allowed to see it.
type ReceiptView struct {
	Receipt
	Association *ReceiptAssociation `json:"associated_recipient"`
}
