// Package router is the Sharded Router (spec.md §4.H): N independent
// single-threaded workers, each owning a FIFO queue, with uid-stable
// hashing so two operations from the same user always serialize on
// the same shard while operations from distinct users run fully in
// parallel. This is the concurrency backbone that lets the Ledger's
// CAS retry loop stay cheap: same-uid contention is rare because the
// router already serializes it.
package router

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/camppoints/exchanged/internal/xerr"
)

// Job is a unit of work dispatched to a uid's shard.
type Job struct {
	UID string
	Run func(ctx context.Context)
}

// OverloadPolicy decides what happens when a shard's queue is full.
type OverloadPolicy int

const (
	// PolicyReject returns ErrShardBusy immediately.
	PolicyReject OverloadPolicy = iota
	// PolicyRedirect dispatches to the least-loaded shard instead.
	PolicyRedirect
)

// Config tunes the router.
type Config struct {
	Shards      int
	QueueDepth  int
	MaxLoad     int
	Policy      OverloadPolicy
}

// DefaultConfig returns the spec's default shard count.
func DefaultConfig() Config {
	return Config{Shards: 16, QueueDepth: 256, MaxLoad: 256, Policy: PolicyReject}
}

type shard struct {
	queue chan Job
	load  int64
}

// Router dispatches uid-scoped work to one of N shard workers.
type Router struct {
	cfg    Config
	shards []*shard
	wg     sync.WaitGroup
	stopCh chan struct{}
	logger *slog.Logger
}

// New builds a Router with cfg.Shards independent worker queues.
func New(cfg Config, logger *slog.Logger) *Router {
	if cfg.Shards <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{cfg: cfg, stopCh: make(chan struct{}), logger: logger}
	r.shards = make([]*shard, cfg.Shards)
	for i := range r.shards {
		r.shards[i] = &shard{queue: make(chan Job, cfg.QueueDepth)}
	}
	return r
}

// ShardOf computes the stable shard index for uid.
func (r *Router) ShardOf(uid string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uid))
	return int(h.Sum32()) % len(r.shards)
}

// Start spawns one worker goroutine per shard.
func (r *Router) Start(ctx context.Context) {
	for i, sh := range r.shards {
		r.wg.Add(1)
		go r.worker(ctx, i, sh)
	}
}

// Stop signals every worker to drain its queue and exit, then waits.
func (r *Router) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Router) worker(ctx context.Context, idx int, sh *shard) {
	defer r.wg.Done()
	for {
		select {
		case job := <-sh.queue:
			r.run(ctx, sh, job)
		case <-r.stopCh:
			// drain remaining queued jobs before exiting, new
			// submissions are already being rejected by Dispatch.
			for {
				select {
				case job := <-sh.queue:
					r.run(ctx, sh, job)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) run(ctx context.Context, sh *shard, job Job) {
	job.Run(ctx)
	atomic.AddInt64(&sh.load, -1)
}

// Dispatch enqueues job onto uid's shard, applying the overload
// policy if that shard's queue is saturated.
func (r *Router) Dispatch(job Job) error {
	select {
	case <-r.stopCh:
		return xerr.ErrShardBusy
	default:
	}
	idx := r.ShardOf(job.UID)
	sh := r.shards[idx]

	if int(atomic.LoadInt64(&sh.load)) >= r.cfg.MaxLoad {
		if r.cfg.Policy == PolicyReject {
			return xerr.ErrShardBusy
		}
		idx = r.leastLoaded()
		sh = r.shards[idx]
	}

	select {
	case sh.queue <- job:
		atomic.AddInt64(&sh.load, 1)
		return nil
	default:
		return xerr.ErrShardBusy
	}
}

func (r *Router) leastLoaded() int {
	best := 0
	bestLoad := atomic.LoadInt64(&r.shards[0].load)
	for i, sh := range r.shards[1:] {
		l := atomic.LoadInt64(&sh.load)
		if l < bestLoad {
			best = i + 1
			bestLoad = l
		}
	}
	return best
}

// Load reports the current queued+running job count for uid's shard.
func (r *Router) Load(uid string) int64 {
	return atomic.LoadInt64(&r.shards[r.ShardOf(uid)].load)
}

// ShardCount returns the configured number of shards.
func (r *Router) ShardCount() int { return len(r.shards) }
