package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func TestDo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		attempts  int
		failFirst int
		permanent bool
		wantCalls int
		wantErr   error
	}{
		{name: "first_try", attempts: 3, failFirst: 0, wantCalls: 1},
		{name: "recovers", attempts: 3, failFirst: 2, wantCalls: 3},
		{name: "exhausted", attempts: 3, failFirst: 5, wantCalls: 3, wantErr: errFlaky},
		{name: "permanent_stops", attempts: 5, failFirst: 5, permanent: true, wantCalls: 1, wantErr: errFlaky},
		{name: "zero_attempts_means_one", attempts: 0, failFirst: 5, wantCalls: 1, wantErr: errFlaky},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0

			err := Do(t.Context(), Policy{Attempts: tt.attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
				func(context.Context) error {
					calls++
					if calls <= tt.failFirst {
						if tt.permanent {
							return Permanent(errFlaky)
						}

						return errFlaky
					}

					return nil
				})

			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
			if calls != tt.wantCalls {
				t.Fatalf("want %d calls, got %d", tt.wantCalls, calls)
			}
		})
	}
}

func TestDo_AfterHintDelaysNextCall(t *testing.T) {
	t.Parallel()

	var stamps []time.Time

	err := Do(t.Context(), Policy{Attempts: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		stamps = append(stamps, time.Now())
		if len(stamps) == 1 {
			return After(50*time.Millisecond, errFlaky)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	if gap := stamps[1].Sub(stamps[0]); gap < 50*time.Millisecond {
		t.Fatalf("retry came after %s, want at least 50ms", gap)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	calls := 0

	err := Do(ctx, Policy{Attempts: 10, BaseDelay: 10 * time.Millisecond}, func(context.Context) error {
		calls++
		cancel()

		return errFlaky
	})

	if !errors.Is(err, context.Canceled) || !errors.Is(err, errFlaky) {
		t.Fatalf("want canceled and flaky, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("want 1 call, got %d", calls)
	}
}
