package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDispatchesToHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	b := New(cfg, nil)
	b.Start()
	defer b.Stop()

	var got int32
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(TopicOrderMatched, func(ctx context.Context, ev Event) error {
		atomic.StoreInt32(&got, 1)
		wg.Done()
		return nil
	})

	b.Publish(TopicOrderMatched, "u1", "payload", "")
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&got))
}

func TestHandlerRetriesThenGivesUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBase = time.Millisecond
	b := New(cfg, nil)
	b.Start()
	defer b.Stop()

	var calls int32
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(TopicOrderFailed, func(ctx context.Context, ev Event) error {
		n := atomic.AddInt32(&calls, 1)
		if n == int32(cfg.MaxRetries+1) {
			wg.Done()
		}
		return errors.New("boom")
	})

	b.Publish(TopicOrderFailed, "", nil, "")
	wg.Wait()
	require.Equal(t, int32(cfg.MaxRetries+1), atomic.LoadInt32(&calls))
}

func TestReplayByUID(t *testing.T) {
	b := New(DefaultConfig(), nil)
	b.Start()
	defer b.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	b.Subscribe(TopicUserPointsUpdated, func(ctx context.Context, ev Event) error {
		wg.Done()
		return nil
	})
	b.Publish(TopicUserPointsUpdated, "u1", 100, "")
	b.Publish(TopicUserPointsUpdated, "u2", 200, "")
	wg.Wait()
	time.Sleep(10 * time.Millisecond)

	events := b.Replay(ReplayFilter{UID: "u1"})
	require.Len(t, events, 1)
	require.Equal(t, "u1", events[0].UID)
}
