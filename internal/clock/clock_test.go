package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/domain"
)

func TestManualOverrideWinsOverWindows(t *testing.T) {
	now := time.Now().UTC()
	market := domain.MarketConfig{
		Windows: []domain.Window{{StartMs: now.Add(-time.Hour).UnixMilli(), EndMs: now.Add(time.Hour).UnixMilli()}},
	}
	c := New(market, DefaultConfig(), nil)
	require.True(t, c.IsOpen()) // within window

	c.ManualClose()
	require.False(t, c.IsOpen()) // override wins even though window says open

	c.ClearManualOverride()
	require.True(t, c.IsOpen())
}

func TestOutsideWindowIsClosed(t *testing.T) {
	now := time.Now().UTC()
	market := domain.MarketConfig{
		Windows: []domain.Window{{StartMs: now.Add(time.Hour).UnixMilli(), EndMs: now.Add(2 * time.Hour).UnixMilli()}},
	}
	c := New(market, DefaultConfig(), nil)
	require.False(t, c.IsOpen())
}

func TestTransitionHooksFire(t *testing.T) {
	now := time.Now().UTC()
	market := domain.MarketConfig{ForceClose: true}
	c := New(market, Config{PollInterval: 5 * time.Millisecond}, nil)
	_ = now

	opened := make(chan struct{}, 1)
	c.OnOpen(func(ctx context.Context) { opened <- struct{}{} })

	ctx := context.Background()
	c.Start(ctx)
	defer c.Stop()

	c.ManualOpen()
	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("expected OnOpen hook to fire")
	}
}
