package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/receiptmatch/reconciler/internal/domain"
)

// tsLayout is fixed-width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000Z07:00"

const defaultLimit = 20

// activeQuery accumulates WHERE clauses for a table alias. It always starts
// with the alias's soft-delete predicate, so no query built through it can
// return deleted rows.
type activeQuery struct {
	clauses []string
	args    []any
}

func active(alias string) *activeQuery {
	return &activeQuery{clauses: []string{notDeleted(alias)}}
}

// notDeleted is the soft-delete predicate, also used inside JOIN ... ON.
func notDeleted(alias string) string {
	return alias + ".is_deleted = 0"
}

func (q *activeQuery) where(clause string, args ...any) *activeQuery {
	q.clauses = append(q.clauses, clause)
	q.args = append(q.args, args...)
	return q
}

func (q *activeQuery) build() (string, []any) {
	return " WHERE " + strings.Join(q.clauses, " AND "), q.args
}

// ownedByClause restricts receipts aliased r to those reconciling to an
// active confirmation owned by the bound user.
const ownedByClause = `EXISTS (SELECT 1 FROM confirmations oc
	WHERE oc.code = r.confirmation_code AND oc.is_deleted = 0 AND oc.user_id = ?)`

func pageBounds(page, limit int) (int, int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if page <= 0 {
		page = 1
	}
	return page, limit, (page - 1) * limit
}

// --- value helpers ---

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatDate(d *domain.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(tsLayout, s)
	return t
}

func parseDate(s string) *domain.Date {
	d, err := domain.ParseDate(s)
	if err != nil {
		return nil
	}
	return d
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

// earliestReceiptFor selects the id of the earliest active receipt carrying
// the code in codeExpr. Both directions of the join resolve a shared code
// to this receipt.
func earliestReceiptFor(codeExpr string) string {
	return `SELECT er.id FROM receipts er
		WHERE er.confirmation_code = ` + codeExpr + ` AND ` + notDeleted("er") + `
		ORDER BY er.created_at, er.id LIMIT 1`
}

// ownerColumns receives the nullable users columns of a LEFT JOIN.
type ownerColumns struct {
	id, username, name, email, phone sql.NullString
}

func (o *ownerColumns) dest() []any {
	return []any{&o.id, &o.username, &o.name, &o.email, &o.phone}
}

func (o *ownerColumns) summary() *domain.OwnerSummary {
	if !o.id.Valid {
		return nil
	}
	u := domain.User{
		ID:       o.id.String,
		Username: o.username.String,
		Name:     o.name.String,
		Email:    o.email.String,
		Phone:    o.phone.String,
	}
	return u.Summary()
}
