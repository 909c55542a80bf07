package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/receiptmatch/reconciler/internal/domain"
)

type ConfirmationRepo struct {
	db *sql.DB
}

func NewConfirmationRepo(db *sql.DB) *ConfirmationRepo {
	return &ConfirmationRepo{db: db}
}

// Insert stores a new confirmation. A code already held by an active
// confirmation yields domain.ErrConflict.
func (r *ConfirmationRepo) Insert(ctx context.Context, c *domain.Confirmation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO confirmations (id, user_id, code, is_deleted, created_at, updated_at)
		VALUES (?,?,?,0,?,?)`,
		c.ID, c.UserID, c.Code, formatTS(c.CreatedAt), formatTS(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("confirmation code %q: %w", c.Code, domain.ErrConflict)
		}
		return storeErr(ErrIDConfirmationCreate, "insert confirmation", err)
	}
	return nil
}

// BulkInsert stores confirmations in one transaction, skipping codes that
// are already active. It returns the number inserted.
func (r *ConfirmationRepo) BulkInsert(ctx context.Context, confs []domain.Confirmation) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(ErrIDConfirmationCreate, "begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO confirmations (id, user_id, code, is_deleted, created_at, updated_at)
		VALUES (?,?,?,0,?,?)`)
	if err != nil {
		return 0, storeErr(ErrIDConfirmationCreate, "prepare", err)
	}
	defer stmt.Close()

	inserted := 0
	now := time.Now().UTC()
	for i := range confs {
		c := &confs[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		res, err := stmt.ExecContext(ctx, c.ID, c.UserID, c.Code, formatTS(c.CreatedAt), formatTS(c.UpdatedAt))
		if err != nil {
			return 0, storeErr(ErrIDConfirmationCreate, fmt.Sprintf("insert row %d", i), err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr(ErrIDConfirmationCreate, "commit", err)
	}
	return inserted, nil
}

// ActiveCodeExists reports whether an active confirmation other than
// excludeID holds code.
func (r *ConfirmationRepo) ActiveCodeExists(ctx context.Context, code, excludeID string) (bool, error) {
	q := active("c").where("c.code = ?", code)
	if excludeID != "" {
		q.where("c.id <> ?", excludeID)
	}
	where, args := q.build()

	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM confirmations c"+where, args...).Scan(&n); err != nil {
		return false, storeErr(ErrIDConfirmationExists, "check code", err)
	}
	return n > 0, nil
}

func (r *ConfirmationRepo) GetByID(ctx context.Context, id string) (*domain.Confirmation, error) {
	where, args := active("c").where("c.id = ?", id).build()
	row := r.db.QueryRowContext(ctx,
		"SELECT c.id, c.user_id, c.code, c.created_at, c.updated_at FROM confirmations c"+where, args...)
	c, err := scanConfirmation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("confirmation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr(ErrIDConfirmationGet, "get confirmation", err)
	}
	return c, nil
}

// Update rewrites the code of an active confirmation.
func (r *ConfirmationRepo) Update(ctx context.Context, c *domain.Confirmation) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		"UPDATE confirmations SET code = ?, updated_at = ? WHERE id = ? AND is_deleted = 0",
		c.Code, formatTS(c.UpdatedAt), c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("confirmation code %q: %w", c.Code, domain.ErrConflict)
		}
		return storeErr(ErrIDConfirmationUpdate, "update confirmation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("confirmation %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *ConfirmationRepo) SoftDelete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE confirmations SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0",
		formatTS(time.Now()), id,
	)
	if err != nil {
		return storeErr(ErrIDConfirmationDelete, "delete confirmation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("confirmation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type ConfirmationFilter struct {
	// Owner restricts results to one user's confirmations. Empty means all.
	Owner string
	Code  string
	Page  int
	Limit int
}

// The earliest active receipt carrying the code is the associated one.
var confirmationViewSelect = `SELECT c.id, c.user_id, c.code, c.created_at, c.updated_at,
	u.id, u.username, u.name, u.email, u.phone,
	(` + earliestReceiptFor("c.code") + `)
	FROM confirmations c
	LEFT JOIN users u ON u.id = c.user_id AND u.is_deleted = 0`

func buildConfirmationWhere(f ConfirmationFilter) (string, []any) {
	q := active("c")
	if f.Owner != "" {
		q.where("c.user_id = ?", f.Owner)
	}
	if f.Code != "" {
		q.where("c.code = ?", f.Code)
	}
	return q.build()
}

// List returns a page of active confirmations annotated with their owner
// and associated receipt id, plus the total number of matches.
func (r *ConfirmationRepo) List(ctx context.Context, f ConfirmationFilter) ([]domain.ConfirmationView, int, error) {
	where, args := buildConfirmationWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM confirmations c"+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr(ErrIDConfirmationCount, "count confirmations", err)
	}

	_, limit, offset := pageBounds(f.Page, f.Limit)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx,
		confirmationViewSelect+where+" ORDER BY c.created_at DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, storeErr(ErrIDConfirmationList, "list confirmations", err)
	}
	defer rows.Close()

	views := []domain.ConfirmationView{}
	for rows.Next() {
		v, err := scanConfirmationView(rows)
		if err != nil {
			return nil, 0, storeErr(ErrIDConfirmationList, "scan confirmation", err)
		}
		views = append(views, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr(ErrIDConfirmationList, "list confirmations", err)
	}
	return views, total, nil
}

// GetView returns one active confirmation with its annotations. A non-empty
// owner hides confirmations belonging to anyone else.
func (r *ConfirmationRepo) GetView(ctx context.Context, id, owner string) (*domain.ConfirmationView, error) {
	q := active("c").where("c.id = ?", id)
	if owner != "" {
		q.where("c.user_id = ?", owner)
	}
	where, args := q.build()

	v, err := scanConfirmationView(r.db.QueryRowContext(ctx, confirmationViewSelect+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("confirmation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr(ErrIDConfirmationGet, "get confirmation", err)
	}
	return v, nil
}

func scanConfirmation(s scanner, extra ...any) (*domain.Confirmation, error) {
	var (
		c                    domain.Confirmation
		createdAt, updatedAt string
	)
	dest := append([]any{&c.ID, &c.UserID, &c.Code, &createdAt, &updatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTS(createdAt)
	c.UpdatedAt = parseTS(updatedAt)
	return &c, nil
}

func scanConfirmationView(s scanner) (*domain.ConfirmationView, error) {
	var (
		o         ownerColumns
		receiptID sql.NullString
	)
	c, err := scanConfirmation(s, append(o.dest(), &receiptID)...)
	if err != nil {
		return nil, err
	}

	return &domain.ConfirmationView{
		Confirmation:      *c,
		Owner:             o.summary(),
		AssociatedReceipt: receiptID.String,
	}, nil
}
