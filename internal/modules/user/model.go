// README: User aggregate (manager and delivery partner accounts).
package user

import (
	"time"

	"dispatch/internal/apperr"
	"dispatch/internal/auth"
	"dispatch/internal/types"
)

type User struct {
	ID             types.ID  `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           auth.Role `json:"role"`
	PasswordHash   string    `json:"-"`
	IsAvailable    bool      `json:"isAvailable"`
	CurrentOrderID *string   `json:"currentOrderId"`
	Version        int       `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (u *User) IsPartner() bool { return u.Role == auth.RolePartner }

func (u *User) Principal() auth.Principal {
	return auth.Principal{ID: u.ID, Name: u.Name, Role: u.Role}
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (u *User) Clone() *User {
	c := *u
	if u.CurrentOrderID != nil {
		id := *u.CurrentOrderID
		c.CurrentOrderID = &id
	}
	return &c
}

// Bind marks the partner as carrying orderID.
func (u *User) Bind(orderID string) {
	u.IsAvailable = false
	u.CurrentOrderID = &orderID
}

// Release frees the partner for new assignments.
func (u *User) Release() {
	u.IsAvailable = true
	u.CurrentOrderID = nil
}

var (
	ErrNotFound           = apperr.New(apperr.NotFound, "user not found")
	ErrEmailExists        = apperr.New(apperr.Conflict, "user already exists")
	ErrInvalidCredentials = apperr.New(apperr.Unauthenticated, "invalid credentials")
	ErrHasActiveOrder     = apperr.New(apperr.HasActiveOrder, "cannot change availability while having an active order")
	ErrConflict           = apperr.New(apperr.Conflict, "user was modified concurrently")
	ErrBadRequest         = apperr.New(apperr.InvalidInput, "bad request")
)
