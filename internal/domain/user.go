package domain

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Role      Role      `json:"role"`
	IsDeleted bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) Summary() *OwnerSummary {
	return &OwnerSummary{
		ID:       u.ID,
		Username: u.Username,
		Name:     u.Name,
		Email:    u.Email,
		Phone:    u.Phone,
	}
}

// Caller is the identity a query runs under.
type Caller struct {
	UserID string
	Role   Role
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Scope returns the user id that ownership-scoped queries must be restricted
// to, or "" for administrators.
func (c Caller) Scope() string {
	if c.IsAdmin() {
		return ""
	}
	return c.UserID
}
