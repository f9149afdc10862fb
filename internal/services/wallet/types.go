package wallet

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fastprodman/gamezone/internal/repos/transactions"
	"github.com/fastprodman/gamezone/internal/repos/users"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateTransaction is benign: the reference was already applied.
	ErrDuplicateTransaction = transactions.ErrDuplicateTransaction
	// ErrInvariantViolation wraps a CHECK constraint rejection. The
	// mutation is rolled back, never coerced.
	ErrInvariantViolation = errors.New("ledger invariant violation")
	ErrUserNotFound       = users.ErrUserNotFound
	ErrHoldNotFound       = errors.New("hold not found")
	ErrNotFound           = transactions.ErrNotFound
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidOutcome     = errors.New("winner is not a participant")
	// ErrTransactionClosed means the reference already ended as failed.
	ErrTransactionClosed = errors.New("transaction already failed")
)

type (
	Account     = users.Account
	Transaction = transactions.Transaction
)

type CreditRequest struct {
	UserID int64
	// Amount is what lands on the balance, after the gateway fee.
	Amount      int64
	Fee         int64
	ExternalRef string
}

type CreditResult struct {
	Transaction Transaction
	// Duplicate is set when ExternalRef was already completed. Nothing
	// was mutated.
	Duplicate bool
}

// PayoutRequest settles a completed lobby. Holds pairs each participant
// with the hold placed for their stake.
type PayoutRequest struct {
	LobbyID        uuid.UUID
	Holds          map[int64]uuid.UUID
	WinnerID       *int64
	Draw           bool
	Pot            int64
	CommissionRate decimal.Decimal
}

type PayoutResult struct {
	WinnerCredit int64
	Commission   int64
	// Applied is false when the lobby was already paid out.
	Applied bool
}

// Commission is pot × rate rounded half-up to whole minor units.
func Commission(pot int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(pot).Mul(rate).Round(0).IntPart()
}

func releaseKey(holdID uuid.UUID) string { return "release:" + holdID.String() }

func debitKey(holdID uuid.UUID) string { return "debit:" + holdID.String() }

func payoutKey(lobbyID uuid.UUID) string { return "payout:" + lobbyID.String() }

func commissionKey(lobbyID uuid.UUID) string { return "commission:" + lobbyID.String() }
