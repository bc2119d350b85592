package store

import (
	"context"
	"errors"

	"offline-sync-service/internal/order"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrInvalidOperation = errors.New("invalid pending operation")
	ErrInvalidOrder     = errors.New("invalid offline order")
)

type Store interface {
	// Pending operations
	EnqueueOperation(ctx context.Context, op NewOperation) (int64, error)
	ListPending(ctx context.Context) ([]*PendingOperation, error)
	ListOperations(ctx context.Context) ([]*PendingOperation, error)
	CompleteOperation(ctx context.Context, id int64) error
	FailOperation(ctx context.Context, id int64, errorMessage string) (*PendingOperation, error)
	PurgeFailed(ctx context.Context) (int64, error)
	CountPending(ctx context.Context) (int, error)
	CountFailed(ctx context.Context) (int, error)

	// Offline orders
	SaveOfflineOrder(ctx context.Context, payload order.Order, opts SaveOptions) (*OfflineOrder, error)
	GetOfflineOrder(ctx context.Context, tempID string) (*OfflineOrder, error)
	ListOfflineOrders(ctx context.Context) ([]*OfflineOrder, error)
	UpdateOfflineOrder(ctx context.Context, tempID string, patch OfflineOrderPatch) (*OfflineOrder, error)
	DeleteOfflineOrder(ctx context.Context, tempID string) error
	CountOfflineOrders(ctx context.Context, status OrderStatus) (int, error)

	// History
	RecordSyncRun(ctx context.Context, run *SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error)

	// General
	Close() error
}
