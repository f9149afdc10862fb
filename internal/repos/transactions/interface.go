package transactions

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrNotFound             = errors.New("transaction not found")
)

type Type string

const (
	TypeDeposit     Type = "deposit"
	TypeWithdrawal  Type = "withdrawal"
	TypeStakeHold   Type = "stake_hold"
	TypeRelease     Type = "stake_release"
	TypeStakeDebit  Type = "stake_debit"
	TypeStakePayout Type = "stake_payout"
	TypeCommission  Type = "commission"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction is one ledger row. ExternalRef doubles as the idempotency
// key: gateway tx_refs and internal keys such as "release:<hold id>".
type Transaction struct {
	ID          uuid.UUID
	UserID      int64
	Type        Type
	Amount      int64
	Fee         int64
	Status      Status
	ExternalRef string
	LobbyID     uuid.NullUUID
	HoldID      uuid.NullUUID
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Hold is a stake_hold row plus whatever already settled it.
type Hold struct {
	Transaction
	Released bool
	Debited  bool
}

// Open reports whether the hold still earmarks funds.
func (h Hold) Open() bool {
	return !h.Released && !h.Debited
}

type Transactions interface {
	// Insert fails with ErrDuplicateTransaction when ExternalRef is taken.
	Insert(ctx context.Context, tx *sql.Tx, t Transaction) error
	// InsertOnce skips the row when ExternalRef is taken, leaving tx usable.
	InsertOnce(ctx context.Context, tx *sql.Tx, t Transaction) (bool, error)
	LockByExternalRef(ctx context.Context, tx *sql.Tx, ref string) (Transaction, error)
	GetByExternalRef(ctx context.Context, ref string) (Transaction, error)
	LockHold(ctx context.Context, tx *sql.Tx, holdID uuid.UUID) (Hold, error)
	Complete(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount, fee int64) error
	MarkFailed(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]Transaction, error)
}
