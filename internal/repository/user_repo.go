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

// UserRepo is the read side of the externally managed user directory plus
// the inserts needed to seed it.
type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userInsert = `INSERT OR IGNORE INTO users
	(id, username, name, email, phone, role, is_deleted, created_at)
	VALUES (?,?,?,?,?,?,0,?)`

func (r *UserRepo) Insert(ctx context.Context, u *domain.User) error {
	prepareUser(u)
	_, err := r.db.ExecContext(ctx, userInsert,
		u.ID, u.Username, u.Name, u.Email, u.Phone, string(u.Role), formatTS(u.CreatedAt))
	if err != nil {
		return storeErr(ErrIDUserCreate, "insert user", err)
	}
	return nil
}

func (r *UserRepo) BulkInsert(ctx context.Context, users []domain.User) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(ErrIDUserCreate, "begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, userInsert)
	if err != nil {
		return 0, storeErr(ErrIDUserCreate, "prepare", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range users {
		u := &users[i]
		prepareUser(u)
		res, err := stmt.ExecContext(ctx,
			u.ID, u.Username, u.Name, u.Email, u.Phone, string(u.Role), formatTS(u.CreatedAt))
		if err != nil {
			return 0, storeErr(ErrIDUserCreate, fmt.Sprintf("insert row %d", i), err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr(ErrIDUserCreate, "commit", err)
	}
	return inserted, nil
}

func prepareUser(u *domain.User) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, storeErr(ErrIDUserCount, "count users", err)
	}
	return n, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	where, args := active("u").where("u.id = ?", id).build()
	row := r.db.QueryRowContext(ctx,
		"SELECT u.id, u.username, u.name, u.email, u.phone, u.role, u.created_at FROM users u"+where, args...)

	var (
		u         domain.User
		role      string
		createdAt string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Phone, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr(ErrIDUserGet, "get user", err)
	}
	u.Role = domain.Role(role)
	u.CreatedAt = parseTS(createdAt)
	return &u, nil
}
