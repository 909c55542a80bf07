package reconciliation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/repository"
)

// Service answers receipt and confirmation queries with their reconciled
// counterpart attached, and enforces who may change what.
//
// Receipts and confirmations are never linked in storage. The association
// is the equi-join on confirmation code, recomputed by every read.
type Service struct {
	receipts      *repository.ReceiptRepo
	confirmations *repository.ConfirmationRepo
	log           zerolog.Logger
}

// NewService creates a new reconciliation service.
func NewService(
	receipts *repository.ReceiptRepo,
	confirmations *repository.ConfirmationRepo,
	log zerolog.Logger,
) *Service {
	return &Service{
		receipts:      receipts,
		confirmations: confirmations,
		log:           log,
	}
}

// --- receipts ---

// ListReceipts returns a page of receipts. Non-admin callers only see the
// association when the matching confirmation is their own.
func (s *Service) ListReceipts(ctx context.Context, caller domain.Caller, f repository.ReceiptFilter) ([]domain.ReceiptView, int, error) {
	f.Scope = caller.Scope()
	return s.receipts.List(ctx, f)
}

func (s *Service) GetReceipt(ctx context.Context, caller domain.Caller, id string) (*domain.ReceiptView, error) {
	return s.receipts.GetView(ctx, id, caller.Scope())
}

// CreateReceipt records a manually entered receipt.
func (s *Service) CreateReceipt(ctx context.Context, caller domain.Caller, rec *domain.Receipt) (*domain.ReceiptView, error) {
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("create receipt: %w", domain.ErrForbidden)
	}
	rec.ID = ""
	rec.ExternalID = ""
	rec.ConfirmationCode = strings.TrimSpace(rec.ConfirmationCode)
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := s.receipts.Insert(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info().Str("receipt_id", rec.ID).Str("by", caller.UserID).Msg("receipt created")
	return s.receipts.GetView(ctx, rec.ID, caller.Scope())
}

// UpdateReceipt applies an administrative correction. Last writer wins.
func (s *Service) UpdateReceipt(ctx context.Context, caller domain.Caller, id string, patch domain.ReceiptPatch) (*domain.ReceiptView, error) {
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("update receipt: %w", domain.ErrForbidden)
	}
	rec, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := patch.Apply(rec); err != nil {
		return nil, err
	}
	rec.ConfirmationCode = strings.TrimSpace(rec.ConfirmationCode)
	if err := s.receipts.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info().Str("receipt_id", id).Str("by", caller.UserID).Msg("receipt updated")
	return s.receipts.GetView(ctx, id, caller.Scope())
}

func (s *Service) DeleteReceipt(ctx context.Context, caller domain.Caller, id string) error {
	if !caller.IsAdmin() {
		return fmt.Errorf("delete receipt: %w", domain.ErrForbidden)
	}
	if err := s.receipts.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("receipt_id", id).Str("by", caller.UserID).Msg("receipt deleted")
	return nil
}

// --- confirmations ---

// ListConfirmations returns a page of confirmations. Non-admin callers only
// ever see their own.
func (s *Service) ListConfirmations(ctx context.Context, caller domain.Caller, f repository.ConfirmationFilter) ([]domain.ConfirmationView, int, error) {
	if !caller.IsAdmin() {
		f.Owner = caller.UserID
	}
	return s.confirmations.List(ctx, f)
}

func (s *Service) GetConfirmation(ctx context.Context, caller domain.Caller, id string) (*domain.ConfirmationView, error) {
	return s.confirmations.GetView(ctx, id, caller.Scope())
}

// CreateConfirmation records the caller's claim of a payment under code.
func (s *Service) CreateConfirmation(ctx context.Context, caller domain.Caller, code string) (*domain.ConfirmationView, error) {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCodeFree(ctx, code, ""); err != nil {
		return nil, err
	}

	c := &domain.Confirmation{UserID: caller.UserID, Code: code}
	if err := s.confirmations.Insert(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info().Str("confirmation_id", c.ID).Str("user_id", caller.UserID).Msg("confirmation created")
	return s.confirmations.GetView(ctx, c.ID, "")
}

// UpdateConfirmation changes the code of a confirmation the caller owns, or
// any confirmation for an admin. Ownership never changes.
func (s *Service) UpdateConfirmation(ctx context.Context, caller domain.Caller, id, code string) (*domain.ConfirmationView, error) {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	c, err := s.ownedConfirmation(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if c.Code == code {
		return s.confirmations.GetView(ctx, id, "")
	}
	if err := s.ensureCodeFree(ctx, code, id); err != nil {
		return nil, err
	}

	c.Code = code
	if err := s.confirmations.Update(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info().Str("confirmation_id", id).Str("by", caller.UserID).Msg("confirmation updated")
	return s.confirmations.GetView(ctx, id, "")
}

func (s *Service) DeleteConfirmation(ctx context.Context, caller domain.Caller, id string) error {
	if _, err := s.ownedConfirmation(ctx, caller, id); err != nil {
		return err
	}
	if err := s.confirmations.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("confirmation_id", id).Str("by", caller.UserID).Msg("confirmation deleted")
	return nil
}

// ownedConfirmation loads id, reporting someone else's confirmation as not
// found to non-admin callers.
func (s *Service) ownedConfirmation(ctx context.Context, caller domain.Caller, id string) (*domain.Confirmation, error) {
	c, err := s.confirmations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && c.UserID != caller.UserID {
		return nil, fmt.Errorf("confirmation %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (s *Service) ensureCodeFree(ctx context.Context, code, excludeID string) error {
	taken, err := s.confirmations.ActiveCodeExists(ctx, code, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("confirmation code %q already in use: %w", code, domain.ErrConflict)
	}
	return nil
}
