// Package payments reconciles gateway callbacks with the wallet ledger.
// Callbacks arrive at least once and in any order; the ledger's reference
// uniqueness turns them into exactly-once credits.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fastprodman/gamezone/internal/config"
	"github.com/fastprodman/gamezone/internal/gateway/chapa"
	"github.com/fastprodman/gamezone/internal/infra/metrics"
	"github.com/fastprodman/gamezone/internal/repos/transactions"
	"github.com/fastprodman/gamezone/internal/services/wallet"
)

var (
	// ErrTransientDelivery asks the provider to deliver again later.
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrGatewayVerificationFailed means the gateway reports the payment
	// as not completed. The callback is acknowledged.
	ErrGatewayVerificationFailed = errors.New("gateway verification failed")
)

// Callback is the provider's notification. Status is informational: the
// gateway is always asked before money moves.
type Callback struct {
	TxRef  string
	Status string
}

type Gateway interface {
	Initialize(ctx context.Context, req chapa.InitializeRequest) (string, error)
	Verify(ctx context.Context, txRef string) (chapa.Verification, error)
}

type Notifier interface {
	NotifyText(ctx context.Context, userID int64, text string)
}

type Reconciler struct {
	wallet   *wallet.Service
	gateway  Gateway
	notifier Notifier
	metrics  *metrics.Metrics
}

type Option func(*Reconciler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New wires the reconciler. A nil gateway leaves deposits unconfigured.
func New(w *wallet.Service, gw Gateway, n Notifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		wallet:   w,
		gateway:  gw,
		notifier: n,
		metrics:  metrics.Discard(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// SetNotifier binds the chat side after construction; the engine and the
// reconciler depend on each other.
func (r *Reconciler) SetNotifier(n Notifier) {
	r.notifier = n
}

// HandleCallback is safe to call any number of times for one reference.
func (r *Reconciler) HandleCallback(ctx context.Context, cb Callback) (err error) {
	outcome := "error"
	defer func() { r.metrics.Callbacks.WithLabelValues(outcome).Inc() }()

	log := slog.With("tx_ref", cb.TxRef, "reported_status", cb.Status)

	if cb.TxRef == "" {
		outcome = "unknown"
		return nil
	}

	t, err := r.wallet.FindByExternalRef(ctx, cb.TxRef)

	switch {
	case errors.Is(err, wallet.ErrNotFound):
		log.Warn("callback for unknown reference")
		outcome = "unknown"

		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", ErrTransientDelivery, err)
	case t.Type != transactions.TypeDeposit:
		log.Warn("callback for non-deposit reference", "type", t.Type)
		outcome = "unknown"

		return nil
	case t.Status != transactions.StatusPending:
		outcome = "duplicate"
		return nil
	}

	if r.gateway == nil {
		return config.ErrUnconfigured
	}

	v, err := r.gateway.Verify(ctx, cb.TxRef)

	switch {
	case errors.Is(err, chapa.ErrRejected):
		log.Warn("gateway rejected verification", "error", err)
		v = chapa.Verification{TxRef: cb.TxRef, Status: chapa.StatusFailed}
	case err != nil:
		return fmt.Errorf("%w: %w", ErrTransientDelivery, err)
	}

	switch v.Status {
	case chapa.StatusSuccess:
	case chapa.StatusPending:
		outcome = "pending"
		return fmt.Errorf("%w: payment %s still pending", ErrTransientDelivery, cb.TxRef)
	default:
		outcome = "failed"
		return r.fail(ctx, t, v)
	}

	if v.Amount != t.Amount {
		log.Warn("verified amount differs from requested", "requested", t.Amount, "verified", v.Amount)
	}

	net := v.Amount - v.Fee
	if net <= 0 {
		log.Error("verified deposit has no net amount", "amount", v.Amount, "fee", v.Fee)
		outcome = "failed"

		return r.fail(ctx, t, v)
	}

	res, err := r.wallet.Credit(ctx, wallet.CreditRequest{
		UserID:      t.UserID,
		Amount:      net,
		Fee:         v.Fee,
		ExternalRef: cb.TxRef,
	})

	switch {
	case errors.Is(err, wallet.ErrTransactionClosed):
		outcome = "duplicate"
		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", ErrTransientDelivery, err)
	case res.Duplicate:
		outcome = "duplicate"
		return nil
	}

	outcome = "credited"
	log.Info("deposit credited", "user_id", t.UserID, "amount", net, "fee", v.Fee)

	r.notify(ctx, t.UserID, fmt.Sprintf("Deposit received: %d credited to your balance.", net))

	return nil
}

func (r *Reconciler) fail(ctx context.Context, t wallet.Transaction, v chapa.Verification) error {
	_, changed, err := r.wallet.MarkFailed(ctx, t.ExternalRef)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransientDelivery, err)
	}

	if changed {
		r.notify(ctx, t.UserID, fmt.Sprintf("Your deposit of %d did not go through.", t.Amount))
	}

	return fmt.Errorf("%s is %q: %w", t.ExternalRef, v.Status, ErrGatewayVerificationFailed)
}

func (r *Reconciler) notify(ctx context.Context, userID int64, text string) {
	if r.notifier == nil {
		return
	}

	r.notifier.NotifyText(ctx, userID, text)
}

// StartDeposit records a pending deposit under a fresh reference and opens
// a hosted checkout for it.
func (r *Reconciler) StartDeposit(ctx context.Context, userID, amount int64) (string, error) {
	if r.gateway == nil {
		return "", config.ErrUnconfigured
	}

	ref := "gz-" + uuid.NewString()

	_, err := r.wallet.CreatePendingDeposit(ctx, userID, amount, ref)
	if err != nil {
		return "", err
	}

	url, err := r.gateway.Initialize(ctx, chapa.InitializeRequest{TxRef: ref, Amount: amount, Title: "Wallet top-up"})
	if err != nil {
		_, _, ferr := r.wallet.MarkFailed(ctx, ref)
		if ferr != nil {
			slog.Error("close abandoned deposit", "tx_ref", ref, "error", ferr)
		}

		return "", fmt.Errorf("open checkout: %w", err)
	}

	return url, nil
}
