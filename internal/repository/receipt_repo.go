package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/receiptmatch/reconciler/internal/domain"
)

type ReceiptRepo struct {
	db *sql.DB
}

func NewReceiptRepo(db *sql.DB) *ReceiptRepo {
	return &ReceiptRepo{db: db}
}

const receiptColumns = `r.id, r.external_id, r.sender_name, r.amount, r.date,
	r.confirmation_code, r.commission, r.memo, r.created_at, r.updated_at`

// Insert stores a new receipt, assigning an id and timestamps when unset.
// A receipt whose external id is already stored yields domain.ErrConflict.
func (r *ReceiptRepo) Insert(ctx context.Context, rec *domain.Receipt) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO receipts
		(id, external_id, sender_name, amount, date, confirmation_code,
		 commission, memo, is_deleted, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,0,?,?)`,
		rec.ID, nullString(rec.ExternalID), nullString(rec.SenderName),
		nullAmount(rec.Amount), formatDate(rec.Date), nullString(rec.ConfirmationCode),
		rec.Commission.InexactFloat64(), nullString(rec.Memo),
		formatTS(rec.CreatedAt), formatTS(rec.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("receipt %q: %w", rec.ExternalID, domain.ErrConflict)
		}
		return storeErr(ErrIDReceiptCreate, "insert receipt", err)
	}
	return nil
}

// knownIDsChunk keeps batched lookups well below SQLite's variable limit.
const knownIDsChunk = 500

// ExistingExternalIDs reports which of ids are already stored. Deleted
// receipts count as known so they are never re-ingested.
func (r *ReceiptRepo) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	known := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += knownIDsChunk {
		end := min(start+knownIDsChunk, len(ids))
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := r.db.QueryContext(ctx,
			"SELECT external_id FROM receipts WHERE external_id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, storeErr(ErrIDReceiptKnown, "lookup external ids", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, storeErr(ErrIDReceiptKnown, "scan external id", err)
			}
			known[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, storeErr(ErrIDReceiptKnown, "lookup external ids", err)
		}
	}
	return known, nil
}

func (r *ReceiptRepo) GetByID(ctx context.Context, id string) (*domain.Receipt, error) {
	where, args := active("r").where("r.id = ?", id).build()
	row := r.db.QueryRowContext(ctx, "SELECT "+receiptColumns+" FROM receipts r"+where, args...)
	rec, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr(ErrIDReceiptGet, "get receipt", err)
	}
	return rec, nil
}

// Update overwrites the mutable fields of an active receipt.
func (r *ReceiptRepo) Update(ctx context.Context, rec *domain.Receipt) error {
	rec.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE receipts SET sender_name = ?, amount = ?, date = ?,
		 confirmation_code = ?, commission = ?, memo = ?, updated_at = ?
		 WHERE id = ? AND is_deleted = 0`,
		nullString(rec.SenderName), nullAmount(rec.Amount), formatDate(rec.Date),
		nullString(rec.ConfirmationCode), rec.Commission.InexactFloat64(),
		nullString(rec.Memo), formatTS(rec.UpdatedAt), rec.ID,
	)
	if err != nil {
		return storeErr(ErrIDReceiptUpdate, "update receipt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("receipt %s: %w", rec.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *ReceiptRepo) SoftDelete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE receipts SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0",
		formatTS(time.Now()), id,
	)
	if err != nil {
		return storeErr(ErrIDReceiptDelete, "delete receipt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("receipt %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type ReceiptFilter struct {
	SenderName string // case-insensitive substring
	Code       string
	From       *time.Time
	To         *time.Time
	Associated *bool
	// Scope limits the association annotation to confirmations owned by
	// this user. Empty means any owner.
	Scope string
	Page  int
	Limit int
}

// receiptJoin returns the FROM clause that annotates receipts with their
// active confirmation and its owner. Only the earliest active receipt with
// a given code carries the association, the same one confirmationViewSelect
// points back to.
func receiptJoin(scope string) (string, []any) {
	join := ` FROM receipts r
		LEFT JOIN confirmations c ON c.code = r.confirmation_code AND ` + notDeleted("c") + `
			AND r.id = (` + earliestReceiptFor("r.confirmation_code") + `)`
	var args []any
	if scope != "" {
		join += " AND c.user_id = ?"
		args = append(args, scope)
	}
	join += ` LEFT JOIN users u ON u.id = c.user_id AND ` + notDeleted("u")
	return join, args
}

const receiptViewColumns = receiptColumns + `,
	c.id, c.code, u.id, u.username, u.name, u.email, u.phone`

func buildReceiptWhere(f ReceiptFilter) (string, []any) {
	q := active("r")
	if f.SenderName != "" {
		q.where("LOWER(r.sender_name) LIKE ?", "%"+strings.ToLower(f.SenderName)+"%")
	}
	if f.Code != "" {
		q.where("r.confirmation_code = ?", f.Code)
	}
	if f.From != nil {
		q.where("r.date >= ?", f.From.Format(domain.DateLayout))
	}
	if f.To != nil {
		q.where("r.date <= ?", f.To.Format(domain.DateLayout))
	}
	if f.Associated != nil {
		if *f.Associated {
			q.where("c.id IS NOT NULL")
		} else {
			q.where("c.id IS NULL")
		}
	}
	return q.build()
}

// List returns a page of active receipts annotated with their reconciled
// confirmation, plus the total number of matches.
func (r *ReceiptRepo) List(ctx context.Context, f ReceiptFilter) ([]domain.ReceiptView, int, error) {
	from, joinArgs := receiptJoin(f.Scope)
	where, whereArgs := buildReceiptWhere(f)
	args := append(joinArgs, whereArgs...)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*)"+from+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr(ErrIDReceiptCount, "count receipts", err)
	}

	_, limit, offset := pageBounds(f.Page, f.Limit)
	querySQL := "SELECT " + receiptViewColumns + from + where +
		" ORDER BY r.date IS NULL, r.date DESC, r.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, storeErr(ErrIDReceiptList, "list receipts", err)
	}
	defer rows.Close()

	views := []domain.ReceiptView{}
	for rows.Next() {
		v, err := scanReceiptView(rows)
		if err != nil {
			return nil, 0, storeErr(ErrIDReceiptList, "scan receipt", err)
		}
		views = append(views, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr(ErrIDReceiptList, "list receipts", err)
	}
	return views, total, nil
}

// GetView returns one active receipt with its association, scoped like List.
func (r *ReceiptRepo) GetView(ctx context.Context, id, scope string) (*domain.ReceiptView, error) {
	from, args := receiptJoin(scope)
	where, whereArgs := active("r").where("r.id = ?", id).build()
	args = append(args, whereArgs...)

	row := r.db.QueryRowContext(ctx, "SELECT "+receiptViewColumns+from+where, args...)
	v, err := scanReceiptView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr(ErrIDReceiptGet, "get receipt", err)
	}
	return v, nil
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(s scanner, extra ...any) (*domain.Receipt, error) {
	var (
		rec                                  domain.Receipt
		externalID, sender, date, code, memo sql.NullString
		createdAt, updatedAt                 string
	)
	dest := append([]any{
		&rec.ID, &externalID, &sender, &rec.Amount, &date,
		&code, &rec.Commission, &memo, &createdAt, &updatedAt,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	rec.ExternalID = externalID.String
	rec.SenderName = sender.String
	rec.ConfirmationCode = code.String
	rec.Memo = memo.String
	if date.Valid {
		rec.Date = parseDate(date.String)
	}
	rec.CreatedAt = parseTS(createdAt)
	rec.UpdatedAt = parseTS(updatedAt)
	return &rec, nil
}

func scanReceiptView(s scanner) (*domain.ReceiptView, error) {
	var (
		confID, confCode sql.NullString
		o                ownerColumns
	)
	rec, err := scanReceipt(s, append([]any{&confID, &confCode}, o.dest()...)...)
	if err != nil {
		return nil, err
	}

	v := &domain.ReceiptView{Receipt: *rec}
	if confID.Valid {
		v.Association = &domain.ReceiptAssociation{
			ConfirmationID: confID.String,
			Code:           confCode.String,
		}
		v.Association.Owner = o.summary()
	}
	return v, nil
}

func nullAmount(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}
