package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LedgerOps.WithLabelValues("hold", Result(nil)).Inc()
	m.LedgerOps.WithLabelValues("hold", Result(errors.New("boom"))).Inc()
	m.LedgerOps.WithLabelValues("hold", Result(nil)).Inc()

	if got := testutil.ToFloat64(m.LedgerOps.WithLabelValues("hold", "ok")); got != 2 {
		t.Fatalf("ok counter: want 2, got %v", got)
	}

	if got := testutil.ToFloat64(m.LedgerOps.WithLabelValues("hold", "error")); got != 1 {
		t.Fatalf("error counter: want 1, got %v", got)
	}

	n, err := testutil.GatherAndCount(reg, "gamezone_wallet_operations_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Fatalf("series count: want 2, got %d", n)
	}

	// a second set on its own registry must not collide
	_ = Discard()
	_ = Discard()
}
