package repository

import "fmt"

// Stable identifiers attached to persistence failures. Clients quote them
// in bug reports, so existing values must not change.
const (
	ErrIDReceiptCreate = "0x000A01"
	ErrIDReceiptList   = "0x000A03"
	ErrIDReceiptGet    = "0x000A05"
	ErrIDReceiptUpdate = "0x000A07"
	ErrIDReceiptDelete = "0x000A09"
	ErrIDReceiptCount  = "0x000A10"
	ErrIDReceiptKnown  = "0x000A11"

	ErrIDStatsSeries  = "0x000B01"
	ErrIDStatsWindows = "0x000B02"

	ErrIDConfirmationCreate = "0x000C01"
	ErrIDConfirmationList   = "0x000C03"
	ErrIDConfirmationGet    = "0x000C05"
	ErrIDConfirmationUpdate = "0x000C07"
	ErrIDConfirmationDelete = "0x000C09"
	ErrIDConfirmationCount  = "0x000C0A"
	ErrIDConfirmationExists = "0x000C0B"

	ErrIDUserCreate = "0x000D01"
	ErrIDUserGet    = "0x000D02"
	ErrIDUserCount  = "0x000D03"
)

// StoreError is a persistence failure tagged with a stable identifier.
type StoreError struct {
	ID  string
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(id, op string, err error) error {
	return &StoreError{ID: id, Op: op, Err: err}
}
