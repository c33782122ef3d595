package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/xerr"
)

func TestSameUIDAlwaysSameShard(t *testing.T) {
	r := New(DefaultConfig(), nil)
	first := r.ShardOf("camper-42")
	for i := 0; i < 100; i++ {
		require.Equal(t, first, r.ShardOf("camper-42"))
	}
}

func TestDispatchRunsJobsInOrderPerUID(t *testing.T) {
	r := New(Config{Shards: 4, QueueDepth: 32, MaxLoad: 32, Policy: PolicyReject}, nil)
	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		err := r.Dispatch(Job{UID: "same-user", Run: func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}})
		require.NoError(t, err)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestShardBusyRejectsWhenQueueFull(t *testing.T) {
	r := New(Config{Shards: 1, QueueDepth: 1, MaxLoad: 100, Policy: PolicyReject}, nil)
	// worker not started: the first job fills the sole queue slot, the
	// second must be rejected since nothing drains it.
	err := r.Dispatch(Job{UID: "u1", Run: func(ctx context.Context) {}})
	require.NoError(t, err)

	err = r.Dispatch(Job{UID: "u1", Run: func(ctx context.Context) {}})
	require.ErrorIs(t, err, xerr.ErrShardBusy)
}

func TestRedirectPolicyUsesLeastLoadedShard(t *testing.T) {
	r := New(Config{Shards: 2, QueueDepth: 10, MaxLoad: 0, Policy: PolicyRedirect}, nil)
	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	err := r.Dispatch(Job{UID: "u1", Run: func(ctx context.Context) {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
	}})
	require.NoError(t, err)
	wg.Wait()
}
