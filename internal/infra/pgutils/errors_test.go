package pgutils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	unique := &pgconn.PgError{Code: "23505", ConstraintName: "wallet_transactions_external_ref_uq"}
	check := &pgconn.PgError{Code: "23514", ConstraintName: "users_held_within_balance"}

	tests := []struct {
		name       string
		err        error
		wantUnique bool
		wantCheck  bool
		wantName   string
	}{
		{name: "wrapped_unique", err: fmt.Errorf("insert: %w", unique), wantUnique: true, wantName: unique.ConstraintName},
		{name: "wrapped_check", err: fmt.Errorf("update: %w", check), wantCheck: true, wantName: check.ConstraintName},
		{name: "plain_error", err: errors.New("boom")},
		{name: "nil_error", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsUniqueViolation(tt.err); got != tt.wantUnique {
				t.Fatalf("IsUniqueViolation: want %v, got %v", tt.wantUnique, got)
			}
			if got := IsCheckViolation(tt.err); got != tt.wantCheck {
				t.Fatalf("IsCheckViolation: want %v, got %v", tt.wantCheck, got)
			}
			if got := ConstraintName(tt.err); got != tt.wantName {
				t.Fatalf("ConstraintName: want %q, got %q", tt.wantName, got)
			}
		})
	}
}
