// Package eventbus is the in-process topic pub/sub used for decoupled
// post-trade notifications (spec.md §4.I). Publish is a non-blocking
// enqueue; a dedicated dispatcher goroutine drains the buffer and fans
// each event out to its topic's handlers concurrently, retrying a
// failing handler with exponential backoff before giving up on it.
// This mirrors the teacher's "construct with explicit lifecycle,
// start()/stop() owns the background goroutine" shape used throughout
// its service layer, generalized from ledger events to trading events.
package eventbus

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/camppoints/exchanged/internal/codecutil"
)

// Topic is one of the closed set of event topics the kernel can publish.
type Topic string

const (
	TopicOrderCreated        Topic = "ORDER_CREATED"
	TopicOrderMatched        Topic = "ORDER_MATCHED"
	TopicOrderCancelled      Topic = "ORDER_CANCELLED"
	TopicOrderFailed         Topic = "ORDER_FAILED"
	TopicUserPointsUpdated   Topic = "USER_POINTS_UPDATED"
	TopicUserPortfolioUpdate Topic = "USER_PORTFOLIO_UPDATED"
	TopicMarketOpened        Topic = "MARKET_OPENED"
	TopicMarketClosed        Topic = "MARKET_CLOSED"
	TopicPriceUpdated        Topic = "PRICE_UPDATED"
	TopicTransferInitiated   Topic = "TRANSFER_INITIATED"
	TopicTransferCompleted   Topic = "TRANSFER_COMPLETED"
	TopicTransferFailed      Topic = "TRANSFER_FAILED"
	TopicShardRebalanced     Topic = "SHARD_REBALANCED"
	TopicQueueOverflow       Topic = "QUEUE_OVERFLOW"
	TopicSystemMaintenance   Topic = "SYSTEM_MAINTENANCE"
)

// Event is a single published occurrence.
type Event struct {
	ID            uint64
	Topic         Topic
	Ts            time.Time
	UID           string
	Payload       interface{}
	CorrelationID string
}

// Handler processes one event for one topic. A returned error triggers
// the bus's retry-with-backoff policy for that handler invocation only.
type Handler func(ctx context.Context, ev Event) error

// Config tunes the bus's buffering, retry, and replay behavior.
type Config struct {
	BufferSize  int
	RingSize    int
	MaxRetries  int
	RetryBase   time.Duration
}

// DefaultConfig returns the spec's defaults: max_retries=3, ring=10000.
func DefaultConfig() Config {
	return Config{BufferSize: 4096, RingSize: 10_000, MaxRetries: 3, RetryBase: 50 * time.Millisecond}
}

// Bus is the event dispatcher.
type Bus struct {
	cfg Config

	mu       sync.RWMutex
	handlers map[Topic][]Handler

	buffer chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	ringMu  sync.RWMutex
	ring    []Event
	ringPos int
	ringLen int
	nextID  uint64

	uidIndex *lru.Cache[string, []uint64]

	failedCount uint64
	droppedCount uint64

	logger *slog.Logger
}

// New builds a Bus. Call Start to begin dispatching.
func New(cfg Config, logger *slog.Logger) *Bus {
	if cfg.BufferSize <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	idx, _ := lru.New[string, []uint64](4096)
	return &Bus{
		cfg:      cfg,
		handlers: make(map[Topic][]Handler),
		buffer:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		ring:     make([]Event, cfg.RingSize),
		uidIndex: idx,
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic. Must be called before Start
// for handlers that need to observe every event from the beginning.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Start spawns the dispatcher goroutine.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.dispatchLoop()
}

// Stop signals the dispatcher to drain and exit, then waits for it.
func (b *Bus) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

// Publish enqueues an event without blocking the caller. If the buffer
// is full the event is dropped and counted; a best-effort QUEUE_OVERFLOW
// event is appended directly to the ring (bypassing the buffer, so it
// can never itself overflow-drop).
func (b *Bus) Publish(topic Topic, uid string, payload interface{}, correlationID string) {
	ev := Event{Topic: topic, Ts: time.Now().UTC(), UID: uid, Payload: payload, CorrelationID: correlationID}
	select {
	case b.buffer <- ev:
	default:
		b.mu.Lock()
		b.droppedCount++
		b.mu.Unlock()
		b.logger.Warn("eventbus: buffer full, dropping event", "topic", topic)
		b.appendRing(Event{Topic: TopicQueueOverflow, Ts: time.Now().UTC(), Payload: string(topic)})
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.buffer:
			b.dispatch(ev)
		case <-b.stopCh:
			// drain whatever is already queued before exiting
			for {
				select {
				case ev := <-b.buffer:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	ev.ID = b.appendRing(ev)

	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.Topic]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range hs {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			b.invokeWithRetry(h, ev)
		}(h)
	}
	wg.Wait()
}

func (b *Bus) invokeWithRetry(h Handler, ev Event) {
	delay := b.cfg.RetryBase
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := h(ctx, ev)
		cancel()
		if err == nil {
			return
		}
		if attempt == b.cfg.MaxRetries {
			b.mu.Lock()
			b.failedCount++
			b.mu.Unlock()
			b.logger.Error("eventbus: handler permanently failed", "topic", ev.Topic, "err", err)
			return
		}
		jitter := time.Duration(rand.Int63n(int64(delay) + 1))
		time.Sleep(delay + jitter)
		delay *= 2
	}
}

func (b *Bus) appendRing(ev Event) uint64 {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	b.nextID++
	ev.ID = b.nextID
	b.ring[b.ringPos] = ev
	b.ringPos = (b.ringPos + 1) % len(b.ring)
	if b.ringLen < len(b.ring) {
		b.ringLen++
	}

	if ev.UID != "" {
		ids, _ := b.uidIndex.Get(ev.UID)
		ids = append(ids, ev.ID)
		b.uidIndex.Add(ev.UID, ids)
	}
	return ev.ID
}

// ReplayFilter narrows a replay query; zero-value fields are wildcards.
type ReplayFilter struct {
	Topic Topic
	UID   string
	Since time.Time
	Until time.Time
}

// Replay returns ring-buffered events matching filter, oldest first.
func (b *Bus) Replay(filter ReplayFilter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	out := make([]Event, 0, b.ringLen)
	start := (b.ringPos - b.ringLen + len(b.ring)) % len(b.ring)
	for i := 0; i < b.ringLen; i++ {
		ev := b.ring[(start+i)%len(b.ring)]
		if filter.Topic != "" && ev.Topic != filter.Topic {
			continue
		}
		if filter.UID != "" && ev.UID != filter.UID {
			continue
		}
		if !filter.Since.IsZero() && ev.Ts.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && ev.Ts.After(filter.Until) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Stats reports dispatcher-wide counters for observability.
type Stats struct {
	Dropped uint64
	Failed  uint64
}

// Stats returns a snapshot of the bus's failure/drop counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{Dropped: b.droppedCount, Failed: b.failedCount}
}

// ExportSnapshot serializes the current ring buffer, lz4-compressed.
// Nothing in the kernel calls it; the auditor does not export snapshots.
func (b *Bus) ExportSnapshot() ([]byte, error) {
	events := b.Replay(ReplayFilter{})
	return codecutil.EncodeCompressed(events)
}
