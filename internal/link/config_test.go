package link

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/binlink/internal/testutil/testlog"
)

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	testlog.Start(t)
	cfg := Config{AlivePeriod: -1, Workers: 3}.WithDefaults()
	def := DefaultConfig()

	require.Equal(t, "link", cfg.BaseName)
	require.Equal(t, time.Duration(-1), cfg.AlivePeriod)
	require.Equal(t, 3, cfg.Workers)
	require.Equal(t, def.QueueCapacity, cfg.QueueCapacity)
	require.Equal(t, HandlerPolicyClose, cfg.HandlerPolicy)
	require.Equal(t, def.Backoff, cfg.Backoff)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsReadTimeoutInsideAlivePeriod(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.ReadTimeout = cfg.AlivePeriod
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.HandlerPolicy = "retry"
	require.Error(t, cfg.Validate())
}

func TestParseHandlerPolicy(t *testing.T) {
	testlog.Start(t)
	for raw, want := range map[string]HandlerPolicy{
		"":      HandlerPolicyClose,
		"close": HandlerPolicyClose,
		" LOG ": HandlerPolicyLog,
		"log":   HandlerPolicyLog,
	} {
		got, err := ParseHandlerPolicy(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	_, err := ParseHandlerPolicy("ignore")
	require.Error(t, err)
}

func TestNextBackoffDelayGrowsToCap(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 250 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, time.Second, time.Second}
	for i, w := range want {
		require.Equal(t, w, NextBackoffDelay(cfg, i+1, nil), "attempt %d", i+1)
	}
	require.Zero(t, NextBackoffDelay(BackoffConfig{}, 3, nil))
}

func TestNextBackoffDelayJitterStaysInBand(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	require.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 1, rng))
	for i := 0; i < 50; i++ {
		d := NextBackoffDelay(cfg, 3, rng)
		require.GreaterOrEqual(t, d, 200*time.Millisecond)
		require.Less(t, d, 600*time.Millisecond)
	}
}

func TestBackoffWaitCountsAttemptsAndHonoursContext(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1})
	require.NoError(t, b.Wait(context.Background()))
	require.NoError(t, b.Wait(context.Background()))
	require.Equal(t, 2, b.Attempt())
	b.Reset()
	require.Zero(t, b.Attempt())

	slow := NewBackoff(BackoffConfig{InitialDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, slow.Wait(ctx), context.Canceled)
}
