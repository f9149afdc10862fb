package conversations

import (
	"database/sql"
	"testing"
	"time"

	"github.com/fastprodman/gamezone/internal/infra/pgtestutil"
	"github.com/fastprodman/gamezone/internal/infra/pgutils"
	"github.com/fastprodman/gamezone/internal/repos/conversations"
)

func TestConversations_LockOrCreateAndSave(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	pgtestutil.SeedUser(t, db, 1, 0, 0)

	repo := New(db)
	ctx := t.Context()
	now := time.Now().UTC().Truncate(time.Microsecond)

	var first conversations.Record

	err := pgutils.WithTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		first, err = repo.LockOrCreate(ctx, tx, 1)
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if first.State != conversations.StateIdle || first.Stake != nil || first.ExpiresAt != nil {
		t.Fatalf("new conversation should be idle and empty: %+v", first)
	}

	stake := int64(50)
	msgID := int64(77)
	expires := now.Add(time.Minute)

	err = pgutils.WithTx(ctx, db, func(tx *sql.Tx) error {
		rec, err := repo.LockOrCreate(ctx, tx, 1)
		if err != nil {
			return err
		}

		rec.State = conversations.StateAwaitingWinCondition
		rec.Stake = &stake
		rec.MessageID = &msgID
		rec.UpdatedAt = now
		rec.ExpiresAt = &expires

		return repo.Save(ctx, tx, rec)
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var got conversations.Record

	err = pgutils.WithTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		got, err = repo.LockOrCreate(ctx, tx, 1)
		return err
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if got.State != conversations.StateAwaitingWinCondition || got.Stake == nil || *got.Stake != stake {
		t.Fatalf("reloaded: %+v", got)
	}
	if got.MessageID == nil || *got.MessageID != msgID || got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Fatalf("reloaded metadata: %+v", got)
	}
	if got.Expired(now) || !got.Expired(expires) {
		t.Fatalf("expiry boundary wrong for %+v", got)
	}
}

func TestConversations_ResetExpired(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	ctx := t.Context()
	now := time.Now().UTC()

	seed := []struct {
		userID  int64
		state   conversations.State
		expires time.Time
	}{
		{userID: 1, state: conversations.StateAwaitingStake, expires: now.Add(-time.Minute)},
		{userID: 2, state: conversations.StateAwaitingWinCondition, expires: now.Add(time.Minute)},
		{userID: 3, state: conversations.StateIdle, expires: now.Add(-time.Minute)},
	}

	for _, s := range seed {
		pgtestutil.SeedUser(t, db, s.userID, 0, 0)

		_, err := db.Exec(`
			INSERT INTO conversation_states (user_id, state, stake, expires_at) VALUES ($1, $2, 50, $3)
		`, s.userID, s.state, s.expires)
		if err != nil {
			t.Fatalf("seed conversation %d: %v", s.userID, err)
		}
	}

	reset, err := repo.ResetExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}

	if len(reset) != 1 || reset[0].UserID != 1 || reset[0].State != conversations.StateAwaitingStake {
		t.Fatalf("reset records: %+v", reset)
	}

	var (
		state string
		stake sql.NullInt64
	)

	err = db.QueryRow(`SELECT state, stake FROM conversation_states WHERE user_id = 1`).Scan(&state, &stake)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if state != string(conversations.StateIdle) || stake.Valid {
		t.Fatalf("timed out conversation should be idle without stake, got %s/%v", state, stake)
	}

	again, err := repo.ResetExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second sweep should be empty: %+v", again)
	}
}
