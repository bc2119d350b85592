// Package status computes the aggregate queue status shown to clients and
// fans it out to subscribers.
package status

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/store"
)

// Status is recomputed from storage on every read; nothing here is cached.
type Status struct {
	IsOnline           bool `json:"isOnline"`
	PendingCount       int  `json:"pendingCount"`
	OfflineOrdersCount int  `json:"offlineOrdersCount"`
	TotalPending       int  `json:"totalPending"`
	SyncInProgress     bool `json:"syncInProgress"`
	// FailedCount is FAILED operations plus SYNC_FAILED orders. Not part of TotalPending.
	FailedCount int `json:"failedCount"`
}

// Counter is the slice of the queue store the broadcaster reads.
type Counter interface {
	CountPending(ctx context.Context) (int, error)
	CountFailed(ctx context.Context) (int, error)
	CountOfflineOrders(ctx context.Context, status store.OrderStatus) (int, error)
}

// Flags carries the in-memory state owned by the connectivity monitor and sync engine.
type Flags struct {
	Online         bool
	SyncInProgress bool
}

type subscriber struct {
	id uint64
	fn func(Status)
}

type Broadcaster struct {
	counter Counter

	mu     sync.Mutex
	nextID uint64
	subs   []subscriber
}

func NewBroadcaster(counter Counter) *Broadcaster {
	return &Broadcaster{counter: counter}
}

// Snapshot re-queries storage and combines the counts with flags.
func (b *Broadcaster) Snapshot(ctx context.Context, flags Flags) (Status, error) {
	pending, err := b.counter.CountPending(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count pending operations: %w", err)
	}
	orders, err := b.counter.CountOfflineOrders(ctx, store.OrderPendingSync)
	if err != nil {
		return Status{}, fmt.Errorf("count offline orders: %w", err)
	}
	failedOps, err := b.counter.CountFailed(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count failed operations: %w", err)
	}
	failedOrders, err := b.counter.CountOfflineOrders(ctx, store.OrderSyncFailed)
	if err != nil {
		return Status{}, fmt.Errorf("count failed orders: %w", err)
	}

	return Status{
		IsOnline:           flags.Online,
		PendingCount:       pending,
		OfflineOrdersCount: orders,
		TotalPending:       pending + orders,
		SyncInProgress:     flags.SyncInProgress,
		FailedCount:        failedOps + failedOrders,
	}, nil
}

// Subscribe registers fn and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (b *Broadcaster) Subscribe(fn func(Status)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Notify recomputes the status and hands it to every subscriber synchronously,
// in subscription order. A panicking subscriber is logged and skipped.
func (b *Broadcaster) Notify(ctx context.Context, flags Flags) (Status, error) {
	st, err := b.Snapshot(ctx, flags)
	if err != nil {
		logger.Log.Error("Failed to compute queue status", zap.Error(err))
		return Status{}, err
	}

	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		deliver(s, st)
	}
	return st, nil
}

func deliver(s subscriber, st Status) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Status subscriber panicked",
				zap.Uint64("subscriber", s.id),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(st)
}
