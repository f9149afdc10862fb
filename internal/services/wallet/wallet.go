// Package wallet is the ledger of user funds. Every mutation locks the
// affected user rows (SELECT ... FOR UPDATE) inside a short transaction
// and appends a wallet_transactions row; idempotency keys live in the
// external_ref column.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/fastprodman/gamezone/internal/infra/metrics"
	"github.com/fastprodman/gamezone/internal/infra/pgutils"
	"github.com/fastprodman/gamezone/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/gamezone/internal/repos/transactions/postgres"
	"github.com/fastprodman/gamezone/internal/repos/users"
	pgusers "github.com/fastprodman/gamezone/internal/repos/users/postgres"
)

type Service struct {
	db          *sql.DB
	users       users.Users
	txns        transactions.Transactions
	houseUserID int64
	metrics     *metrics.Metrics
}

func New(db *sql.DB, houseUserID int64, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Discard()
	}

	return &Service{
		db:          db,
		users:       pgusers.New(db),
		txns:        pgtransactions.New(db),
		houseUserID: houseUserID,
		metrics:     m,
	}
}

func (s *Service) EnsureUser(ctx context.Context, userID int64, displayName string) error {
	return pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.EnsureUserInTx(ctx, tx, userID, displayName)
	})
}

func (s *Service) EnsureUserInTx(ctx context.Context, tx *sql.Tx, userID int64, displayName string) error {
	err := s.users.Ensure(ctx, tx, userID, displayName)
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", userID, err)
	}

	return nil
}

// GetAccount reads balance and held without locking.
func (s *Service) GetAccount(ctx context.Context, userID int64) (Account, error) {
	acc, err := s.users.Get(ctx, userID)
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}

	return acc, nil
}

func (s *Service) History(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	list, err := s.txns.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	return list, nil
}

func (s *Service) FindByExternalRef(ctx context.Context, ref string) (Transaction, error) {
	t, err := s.txns.GetByExternalRef(ctx, ref)
	if err != nil {
		return Transaction{}, fmt.Errorf("find %q: %w", ref, err)
	}

	return t, nil
}

// Hold earmarks amount of the user's available funds for lobbyID.
func (s *Service) Hold(ctx context.Context, userID, amount int64, lobbyID uuid.UUID) (uuid.UUID, error) {
	holdID := uuid.New()

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.HoldInTx(ctx, tx, userID, amount, lobbyID, holdID)
	})
	if err != nil {
		return uuid.Nil, err
	}

	return holdID, nil
}

// HoldInTx places a hold under a caller-chosen id so the caller can store
// it before the hold exists.
func (s *Service) HoldInTx(ctx context.Context, tx *sql.Tx, userID, amount int64, lobbyID, holdID uuid.UUID) (err error) {
	defer func() { s.observe("hold", err) }()

	if amount <= 0 {
		return ErrInvalidAmount
	}

	acc, err := s.users.LockFunds(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("hold: %w", err)
	}

	if acc.Available() < amount {
		return fmt.Errorf("hold %d for user %d (available %d): %w", amount, userID, acc.Available(), ErrInsufficientFunds)
	}

	err = s.users.AdjustHeld(ctx, tx, userID, amount)
	if err != nil {
		return s.classify("hold", err)
	}

	err = s.txns.Insert(ctx, tx, transactions.Transaction{
		ID:      holdID,
		UserID:  userID,
		Type:    transactions.TypeStakeHold,
		Amount:  amount,
		Status:  transactions.StatusCompleted,
		LobbyID: uuid.NullUUID{UUID: lobbyID, Valid: true},
		HoldID:  uuid.NullUUID{UUID: holdID, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("record hold: %w", err)
	}

	return nil
}

// Release returns a hold's funds to the available balance. Releasing a
// hold that was already released or debited is a no-op.
func (s *Service) Release(ctx context.Context, holdID uuid.UUID) (bool, error) {
	var released bool

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		released, err = s.ReleaseInTx(ctx, tx, holdID)
		return err
	})

	return released, err
}

func (s *Service) ReleaseInTx(ctx context.Context, tx *sql.Tx, holdID uuid.UUID) (released bool, err error) {
	defer func() { s.observe("release", err) }()

	return s.settleHold(ctx, tx, holdID, transactions.TypeRelease)
}

// DebitInTx consumes a hold: the stake leaves both held and balance.
func (s *Service) DebitInTx(ctx context.Context, tx *sql.Tx, holdID uuid.UUID) (debited bool, err error) {
	defer func() { s.observe("debit", err) }()

	return s.settleHold(ctx, tx, holdID, transactions.TypeStakeDebit)
}

// settleHold closes a hold exactly once, either by release or by debit.
func (s *Service) settleHold(ctx context.Context, tx *sql.Tx, holdID uuid.UUID, kind transactions.Type) (bool, error) {
	hold, err := s.txns.LockHold(ctx, tx, holdID)
	if err != nil {
		if errors.Is(err, transactions.ErrNotFound) {
			return false, fmt.Errorf("hold %s: %w", holdID, ErrHoldNotFound)
		}

		return false, fmt.Errorf("lock hold: %w", err)
	}

	if !hold.Open() {
		return false, nil
	}

	_, err = s.users.LockFunds(ctx, tx, hold.UserID)
	if err != nil {
		return false, fmt.Errorf("lock hold owner: %w", err)
	}

	key := releaseKey(holdID)
	if kind == transactions.TypeStakeDebit {
		key = debitKey(holdID)
	}

	inserted, err := s.txns.InsertOnce(ctx, tx, transactions.Transaction{
		ID:          uuid.New(),
		UserID:      hold.UserID,
		Type:        kind,
		Amount:      hold.Amount,
		Status:      transactions.StatusCompleted,
		ExternalRef: key,
		LobbyID:     hold.LobbyID,
		HoldID:      uuid.NullUUID{UUID: holdID, Valid: true},
	})
	if err != nil {
		return false, fmt.Errorf("record %s: %w", kind, err)
	}

	if !inserted {
		return false, nil
	}

	err = s.users.AdjustHeld(ctx, tx, hold.UserID, -hold.Amount)
	if err != nil {
		return false, s.classify(string(kind), err)
	}

	if kind == transactions.TypeStakeDebit {
		err = s.users.AdjustBalance(ctx, tx, hold.UserID, -hold.Amount)
		if err != nil {
			return false, s.classify(string(kind), err)
		}
	}

	return true, nil
}

// Credit applies a gateway deposit once per ExternalRef. A completed row
// is reported as a duplicate; a pending row is completed; otherwise a
// completed deposit is inserted.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	var res CreditResult

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.CreditInTx(ctx, tx, req)
		return err
	})

	return res, err
}

func (s *Service) CreditInTx(ctx context.Context, tx *sql.Tx, req CreditRequest) (res CreditResult, err error) {
	defer func() { s.observe("credit", err) }()

	if req.Amount <= 0 || req.Fee < 0 {
		return CreditResult{}, ErrInvalidAmount
	}

	if req.ExternalRef == "" {
		return CreditResult{}, errors.New("credit requires an external reference")
	}

	_, err = s.users.LockFunds(ctx, tx, req.UserID)
	if err != nil {
		return CreditResult{}, fmt.Errorf("credit: %w", err)
	}

	existing, err := s.txns.LockByExternalRef(ctx, tx, req.ExternalRef)

	switch {
	case err == nil && existing.UserID != req.UserID:
		return CreditResult{}, fmt.Errorf("reference %q belongs to user %d: %w",
			req.ExternalRef, existing.UserID, ErrDuplicateTransaction)

	case err == nil && existing.Status == transactions.StatusCompleted:
		return CreditResult{Transaction: existing, Duplicate: true}, nil

	case err == nil && existing.Status == transactions.StatusFailed:
		return CreditResult{Transaction: existing}, fmt.Errorf("credit %q: %w", req.ExternalRef, ErrTransactionClosed)

	case err == nil:
		err = s.txns.Complete(ctx, tx, existing.ID, req.Amount, req.Fee)
		if err != nil {
			return CreditResult{}, fmt.Errorf("complete deposit: %w", err)
		}

		existing.Status = transactions.StatusCompleted
		existing.Amount = req.Amount
		existing.Fee = req.Fee
		res.Transaction = existing

	case errors.Is(err, transactions.ErrNotFound):
		t := transactions.Transaction{
			ID:          uuid.New(),
			UserID:      req.UserID,
			Type:        transactions.TypeDeposit,
			Amount:      req.Amount,
			Fee:         req.Fee,
			Status:      transactions.StatusCompleted,
			ExternalRef: req.ExternalRef,
		}

		err = s.txns.Insert(ctx, tx, t)
		if err != nil {
			return CreditResult{}, fmt.Errorf("record deposit: %w", err)
		}

		res.Transaction = t

	default:
		return CreditResult{}, fmt.Errorf("lookup %q: %w", req.ExternalRef, err)
	}

	err = s.users.AdjustBalance(ctx, tx, req.UserID, req.Amount)
	if err != nil {
		return CreditResult{}, s.classify("credit", err)
	}

	return res, nil
}

// CreatePendingDeposit records a checkout before the gateway confirms it.
func (s *Service) CreatePendingDeposit(ctx context.Context, userID, amount int64, txRef string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	t := transactions.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        transactions.TypeDeposit,
		Amount:      amount,
		Status:      transactions.StatusPending,
		ExternalRef: txRef,
	}

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.txns.Insert(ctx, tx, t)
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("pending deposit: %w", err)
	}

	return t, nil
}

// MarkFailed closes a pending reference as failed. Rows already settled
// are returned unchanged with changed set to false.
func (s *Service) MarkFailed(ctx context.Context, txRef string) (out Transaction, changed bool, err error) {
	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.txns.LockByExternalRef(ctx, tx, txRef)
		if err != nil {
			return fmt.Errorf("lookup %q: %w", txRef, err)
		}

		out = t
		if t.Status != transactions.StatusPending {
			return nil
		}

		err = s.txns.MarkFailed(ctx, tx, t.ID)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}

		out.Status = transactions.StatusFailed
		changed = true

		return nil
	})
	if err != nil {
		return Transaction{}, false, err
	}

	return out, changed, nil
}

// Payout settles a completed lobby in its own transaction. Callers that
// also flip the lobby status use PayoutInTx.
func (s *Service) Payout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	var res PayoutResult

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.PayoutInTx(ctx, tx, req)
		return err
	})

	return res, err
}

// PayoutInTx debits both stakes and credits the winner the pot minus
// commission, or releases both holds on a draw. User rows are locked in
// ascending id order so concurrent payouts sharing players cannot deadlock.
func (s *Service) PayoutInTx(ctx context.Context, tx *sql.Tx, req PayoutRequest) (res PayoutResult, err error) {
	defer func() { s.observe("payout", err) }()

	participants := make([]int64, 0, len(req.Holds))
	for id := range req.Holds {
		participants = append(participants, id)
	}

	slices.Sort(participants)

	if !req.Draw && (req.WinnerID == nil || !slices.Contains(participants, *req.WinnerID)) {
		return PayoutResult{}, ErrInvalidOutcome
	}

	lockOrder := participants
	if !req.Draw && !slices.Contains(lockOrder, s.houseUserID) {
		lockOrder = append([]int64{s.houseUserID}, participants...)
		slices.Sort(lockOrder)
	}

	for _, id := range lockOrder {
		_, err = s.users.LockFunds(ctx, tx, id)
		if err != nil {
			return PayoutResult{}, fmt.Errorf("lock user %d: %w", id, err)
		}
	}

	if req.Draw {
		for _, id := range participants {
			released, err := s.settleHold(ctx, tx, req.Holds[id], transactions.TypeRelease)
			if err != nil {
				return PayoutResult{}, fmt.Errorf("release stake of %d: %w", id, err)
			}

			res.Applied = res.Applied || released
		}

		return res, nil
	}

	commission := Commission(req.Pot, req.CommissionRate)
	winnings := req.Pot - commission

	// each leg applies only when its keyed row is new, so a repeated call
	// is a no-op even when one of the amounts is zero
	paid, err := s.appendCredit(ctx, tx, *req.WinnerID, winnings, transactions.TypeStakePayout, payoutKey(req.LobbyID), req.LobbyID)
	if err != nil {
		return PayoutResult{}, err
	}

	debited := false

	for _, id := range participants {
		d, err := s.settleHold(ctx, tx, req.Holds[id], transactions.TypeStakeDebit)
		if err != nil {
			return PayoutResult{}, fmt.Errorf("debit stake of %d: %w", id, err)
		}

		debited = debited || d
	}

	if paid {
		err = s.applyCredit(ctx, tx, *req.WinnerID, winnings)
		if err != nil {
			return PayoutResult{}, err
		}
	}

	charged, err := s.appendCredit(ctx, tx, s.houseUserID, commission, transactions.TypeCommission, commissionKey(req.LobbyID), req.LobbyID)
	if err != nil {
		return PayoutResult{}, err
	}

	if charged {
		err = s.applyCredit(ctx, tx, s.houseUserID, commission)
		if err != nil {
			return PayoutResult{}, err
		}
	}

	if !paid && !debited && !charged {
		return PayoutResult{}, nil
	}

	return PayoutResult{WinnerCredit: winnings, Commission: commission, Applied: true}, nil
}

// appendCredit records a credit row under an idempotency key. Zero
// amounts record nothing.
func (s *Service) appendCredit(
	ctx context.Context, tx *sql.Tx, userID, amount int64, kind transactions.Type, key string, lobbyID uuid.UUID,
) (bool, error) {
	if amount <= 0 {
		return false, nil
	}

	inserted, err := s.txns.InsertOnce(ctx, tx, transactions.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        kind,
		Amount:      amount,
		Status:      transactions.StatusCompleted,
		ExternalRef: key,
		LobbyID:     uuid.NullUUID{UUID: lobbyID, Valid: true},
	})
	if err != nil {
		return false, fmt.Errorf("record %s: %w", kind, err)
	}

	return inserted, nil
}

func (s *Service) applyCredit(ctx context.Context, tx *sql.Tx, userID, amount int64) error {
	if amount <= 0 {
		return nil
	}

	err := s.users.AdjustBalance(ctx, tx, userID, amount)
	if err != nil {
		return s.classify("payout", err)
	}

	return nil
}

// classify turns CHECK violations into ErrInvariantViolation.
func (s *Service) classify(op string, err error) error {
	if pgutils.IsCheckViolation(err) {
		slog.Error("ledger invariant violation",
			"op", op,
			"constraint", pgutils.ConstraintName(err),
			"error", err,
		)

		return fmt.Errorf("%s: %w: %s", op, ErrInvariantViolation, pgutils.ConstraintName(err))
	}

	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) observe(op string, err error) {
	s.metrics.LedgerOps.WithLabelValues(op, metrics.Result(err)).Inc()
}
