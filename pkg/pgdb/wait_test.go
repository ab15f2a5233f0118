package pgdb

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func countProbes(stmts []string) int {
	n := 0
	for _, s := range stmts {
		if s == "SELECT 1;" {
			n++
		}
	}
	return n
}

func TestHandle_WaitUntilServerReady_NeverReady(t *testing.T) {
	fake := &fakeDatabase{scanValue: func(sql string) (int, error) { return 0, errConnRefused }}
	h, _ := newTestHandle(t, fake, nil)
	clock := clockwork.NewFakeClock()
	h.clock = clock

	done := make(chan error, 1)
	go func() {
		done <- h.WaitUntilServerReady(context.Background(), 6*time.Second, 2*time.Second)
	}()

	// Three failed attempts, each followed by a period-long sleep.
	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(2 * time.Second)
	}

	// Returns without error even though the server never answered.
	require.NoError(t, <-done)
	require.Equal(t, 3, countProbes(fake.recorded()))
}

func TestHandle_WaitUntilServerReady_SettlesAfterQuickSuccess(t *testing.T) {
	fake := &fakeDatabase{scanValue: func(sql string) (int, error) { return 1, nil }}
	h, _ := newTestHandle(t, fake, nil)
	clock := clockwork.NewFakeClock()
	h.clock = clock

	done := make(chan error, 1)
	go func() {
		done <- h.WaitUntilServerReady(context.Background(), 6*time.Second, 2*time.Second)
	}()

	// The first probe succeeds, but the full timeout is still slept
	// off before returning.
	clock.BlockUntil(1)
	select {
	case err := <-done:
		t.Fatalf("returned before the deadline: %v", err)
	default:
	}
	clock.Advance(6 * time.Second)

	require.NoError(t, <-done)
	require.Equal(t, 1, countProbes(fake.recorded()))
}

func TestHandle_WaitUntilServerReady_ReadyOnThirdAttempt(t *testing.T) {
	attempts := 0
	fake := &fakeDatabase{scanValue: func(sql string) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errConnRefused
		}
		return 1, nil
	}}
	h, _ := newTestHandle(t, fake, nil)
	clock := clockwork.NewFakeClock()
	h.clock = clock

	done := make(chan error, 1)
	go func() {
		done <- h.WaitUntilServerReady(context.Background(), 6*time.Second, 2*time.Second)
	}()

	// Two failed attempts sleep a period each; the third succeeds at
	// t=4s and the remaining 2s are slept off.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	require.NoError(t, <-done)
	require.Equal(t, 3, countProbes(fake.recorded()))
}

func TestHandle_WaitUntilServerReady_StatementErrorPropagates(t *testing.T) {
	fake := &fakeDatabase{scanValue: func(sql string) (int, error) { return 0, errStatementFailed }}
	h, _ := newTestHandle(t, fake, nil)

	err := h.WaitUntilServerReady(context.Background(), 6*time.Second, 2*time.Second)
	require.Error(t, err)
	require.Equal(t, 1, countProbes(fake.recorded()))
}

func TestHandle_WaitUntilServerReady_ContextCancelled(t *testing.T) {
	fake := &fakeDatabase{scanValue: func(sql string) (int, error) { return 0, errConnRefused }}
	h, _ := newTestHandle(t, fake, nil)
	clock := clockwork.NewFakeClock()
	h.clock = clock

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.WaitUntilServerReady(ctx, 6*time.Second, 2*time.Second)
	}()

	clock.BlockUntil(1)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
