package domain

import (
	"regexp"
	"strings"
	"time"
)

// Confirmation is a user's claim that a payment was made, keyed by the code
// they expect to find on a receipt.
type Confirmation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	IsDeleted bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfirmationView is a confirmation annotated with its owner and the id of
// the receipt it reconciles to.
type ConfirmationView struct {
	Confirmation
	Owner             *OwnerSummary `json:"user,omitempty"`
	AssociatedReceipt string        `json:"associated_receipt"`
}

// codePattern matches the confirmation codes the bank prints.
var codePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// NormalizeCode trims a user-supplied code and validates it.
func NormalizeCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", NewValidationError("code", "is required")
	}
	if len(code) > 64 {
		return "", NewValidationError("code", "must be at most 64 characters")
	}
	if !codePattern.MatchString(code) {
		return "", NewValidationError("code", "must contain only letters and digits")
	}
	return code, nil
}
