package users

import (
	"context"
	"database/sql"
	"errors"
)

var ErrUserNotFound = errors.New("user not found")

// Account is a user's wallet row. Held funds are earmarked by open
// stakes and stay part of Balance until debited or released.
type Account struct {
	UserID      int64
	DisplayName string
	Balance     int64
	Held        int64
}

// Available is what a new hold may draw on.
func (a Account) Available() int64 {
	return a.Balance - a.Held
}

type Users interface {
	Ensure(ctx context.Context, tx *sql.Tx, userID int64, displayName string) error
	Get(ctx context.Context, userID int64) (Account, error)
	LockFunds(ctx context.Context, tx *sql.Tx, userID int64) (Account, error)
	AdjustBalance(ctx context.Context, tx *sql.Tx, userID int64, delta int64) error
	AdjustHeld(ctx context.Context, tx *sql.Tx, userID int64, delta int64) error
}
