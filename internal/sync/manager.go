// Package sync owns the offline manager: it queues mutations while the
// backend is unreachable and drains them once connectivity returns.
package sync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/connectivity"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/order"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/status"
	"offline-sync-service/internal/store"
)

type Manager struct {
	cfg         config.SyncConfig
	store       store.Store
	remote      remote.Client
	monitor     *connectivity.Monitor
	broadcaster *status.Broadcaster
	now         func() time.Time

	mu      sync.Mutex
	syncing bool
	started bool
	detach  []func()

	listenersMu sync.Mutex
	nextID      uint64
	listeners   map[uint64]func(Report)

	wg sync.WaitGroup
}

func NewManager(cfg config.SyncConfig, st store.Store, client remote.Client, monitor *connectivity.Monitor, broadcaster *status.Broadcaster) *Manager {
	if cfg.OrdersPath == "" {
		cfg.OrdersPath = "/orders"
	}
	return &Manager{
		cfg:         cfg,
		store:       st,
		remote:      client,
		monitor:     monitor,
		broadcaster: broadcaster,
		now:         time.Now,
		listeners:   make(map[uint64]func(Report)),
	}
}

// Start attaches the connectivity handlers. Going online broadcasts the new
// status and kicks off a drain; going offline only broadcasts.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already started")
	}
	m.started = true
	m.detach = append(m.detach,
		m.monitor.OnOnline(func() {
			m.broadcast(context.Background())
			m.ManualSync()
		}),
		m.monitor.OnOffline(func() {
			m.broadcast(context.Background())
		}),
	)
	m.mu.Unlock()

	logger.Log.Info("Starting sync manager",
		zap.Bool("online", m.monitor.IsOnline()),
		zap.String("ordersPath", m.cfg.OrdersPath),
	)

	if m.cfg.SyncOnStart {
		m.ManualSync()
	}
	return nil
}

// Close detaches from the monitor and waits for a background drain to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	detach := m.detach
	m.detach = nil
	m.started = false
	m.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	m.wg.Wait()
	logger.Log.Info("Stopped sync manager")
}

func (m *Manager) IsSyncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

// SetOnline forwards an externally observed connectivity change to the monitor.
func (m *Manager) SetOnline(online bool) bool {
	return m.monitor.Set(online)
}

// ManualSync starts a drain in the background when online and idle.
// It reports whether a pass was started.
func (m *Manager) ManualSync() bool {
	if !m.monitor.IsOnline() {
		logger.Log.Debug("Skipping sync while offline")
		return false
	}
	if !m.begin() {
		logger.Log.Debug("Sync already running, skipping trigger")
		return false
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.drain(context.Background()); err != nil {
			logger.Log.Error("Sync pass aborted", zap.Error(err))
		}
	}()
	return true
}

// SyncPendingOperations runs one drain pass on the calling goroutine. It is a
// no-op returning OutcomeSkipped when offline or when a pass is already running.
func (m *Manager) SyncPendingOperations(ctx context.Context) (*Report, error) {
	if !m.monitor.IsOnline() || !m.begin() {
		return &Report{Outcome: OutcomeSkipped}, nil
	}
	return m.drain(ctx)
}

func (m *Manager) begin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncing {
		return false
	}
	m.syncing = true
	return true
}

func (m *Manager) end() {
	m.mu.Lock()
	m.syncing = false
	m.mu.Unlock()
}

// drain expects the syncing flag to be held and always releases it.
func (m *Manager) drain(ctx context.Context) (*Report, error) {
	defer func() {
		m.end()
		m.broadcast(context.WithoutCancel(ctx))
	}()
	m.broadcast(ctx)

	report := &Report{StartedAt: m.now()}
	logger.Log.Info("Sync pass started")

	err := m.drainOrders(ctx, report)
	if err == nil {
		err = m.drainOperations(ctx, report)
	}
	if err != nil {
		report.Error = err.Error()
	}
	report.CompletedAt = m.now()
	report.settle()

	m.record(context.WithoutCancel(ctx), report)
	if report.Outcome != OutcomeNothing {
		logger.Log.Info("Sync pass finished",
			zap.Stringer("report", report),
			zap.Duration("took", report.CompletedAt.Sub(report.StartedAt)),
		)
	}
	m.emit(*report)
	return report, err
}

// drainOrders pushes every stored offline order in stored order. A failed
// order is marked SYNC_FAILED and picked up again by the next pass. Status is
// broadcast after each order settles.
func (m *Manager) drainOrders(ctx context.Context, report *Report) error {
	orders, err := m.store.ListOfflineOrders(ctx)
	if err != nil {
		return fmt.Errorf("list offline orders: %w", err)
	}

	for _, o := range orders {
		err := m.pushOrder(ctx, o)
		if err == nil {
			err = m.store.DeleteOfflineOrder(ctx, o.TempID)
		}
		if err != nil {
			report.Failed++
			m.markOrderFailed(ctx, o, err)
		} else {
			report.Succeeded++
			logger.Log.Debug("Synced offline order", zap.String("tempId", o.TempID))
		}
		m.broadcast(ctx)
	}
	return nil
}

// pushOrder sends only the business payload; bookkeeping never leaves the device.
func (m *Manager) pushOrder(ctx context.Context, o *store.OfflineOrder) error {
	if o.IsEdit && o.OriginalID != "" {
		return m.remote.Replace(ctx, m.orderPath(o.OriginalID), o.Order)
	}
	return m.remote.Create(ctx, m.cfg.OrdersPath, o.Order)
}

func (m *Manager) orderPath(id string) string {
	return strings.TrimSuffix(m.cfg.OrdersPath, "/") + "/" + id
}

func (m *Manager) markOrderFailed(ctx context.Context, o *store.OfflineOrder, cause error) {
	logger.Log.Warn("Failed to sync offline order",
		zap.String("tempId", o.TempID),
		zap.Bool("isEdit", o.IsEdit),
		zap.Error(cause),
	)
	failed := store.OrderSyncFailed
	msg := cause.Error()
	if _, err := m.store.UpdateOfflineOrder(ctx, o.TempID, store.OfflineOrderPatch{Status: &failed, SyncError: &msg}); err != nil {
		logger.Log.Error("Failed to mark offline order as failed", zap.String("tempId", o.TempID), zap.Error(err))
	}
}

// drainOperations replays PENDING operations oldest first, one at a time.
func (m *Manager) drainOperations(ctx context.Context, report *Report) error {
	ops, err := m.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending operations: %w", err)
	}
	store.SortForReplay(ops)

	for _, op := range ops {
		err := m.execute(ctx, op)
		if err == nil {
			err = m.store.CompleteOperation(ctx, op.ID)
		}
		if err != nil {
			report.Failed++
			m.markOperationFailed(ctx, op, err)
		} else {
			report.Succeeded++
			logger.Log.Debug("Synced pending operation", zap.Int64("id", op.ID), zap.String("path", op.Path))
		}
		m.broadcast(ctx)
	}
	return nil
}

func (m *Manager) execute(ctx context.Context, op *store.PendingOperation) error {
	switch op.Method {
	case store.MethodCreate:
		return m.remote.Create(ctx, op.Path, op.Payload)
	case store.MethodReplace:
		return m.remote.Replace(ctx, op.Path, op.Payload)
	case store.MethodDelete:
		return m.remote.Delete(ctx, op.Path)
	default:
		return fmt.Errorf("%w: %q", remote.ErrUnsupportedMethod, op.Method)
	}
}

func (m *Manager) markOperationFailed(ctx context.Context, op *store.PendingOperation, cause error) {
	updated, err := m.store.FailOperation(ctx, op.ID, cause.Error())
	if err != nil {
		logger.Log.Error("Failed to record operation failure", zap.Int64("id", op.ID), zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.Int64("id", op.ID),
		zap.String("method", string(op.Method)),
		zap.String("path", op.Path),
		zap.Int("retryCount", updated.RetryCount),
		zap.Error(cause),
	}
	if updated.Status == store.OperationFailed {
		logger.Log.Warn("Pending operation exhausted its retries", fields...)
		return
	}
	logger.Log.Warn("Failed to sync pending operation", fields...)
}

func (m *Manager) record(ctx context.Context, report *Report) {
	run := &store.SyncRun{
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
		Succeeded:   report.Succeeded,
		Failed:      report.Failed,
		Outcome:     string(report.Outcome),
		Error:       report.Error,
	}
	if err := m.store.RecordSyncRun(ctx, run); err != nil {
		logger.Log.Error("Failed to record sync run", zap.Error(err))
	}
}

// OnSyncComplete registers fn to receive the report of every finished pass.
func (m *Manager) OnSyncComplete(fn func(Report)) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) emit(r Report) {
	m.listenersMu.Lock()
	fns := make([]func(Report), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(r)
	}
}

func (m *Manager) flags() status.Flags {
	return status.Flags{Online: m.monitor.IsOnline(), SyncInProgress: m.IsSyncing()}
}

func (m *Manager) broadcast(ctx context.Context) {
	// Notify logs its own errors.
	_, _ = m.broadcaster.Notify(ctx, m.flags())
}

// ---- status ----

func (m *Manager) GetStatus(ctx context.Context) (status.Status, error) {
	return m.broadcaster.Snapshot(ctx, m.flags())
}

func (m *Manager) Subscribe(fn func(status.Status)) func() {
	return m.broadcaster.Subscribe(fn)
}

func (m *Manager) SyncHistory(ctx context.Context) ([]*store.SyncRun, error) {
	return m.store.ListSyncRuns(ctx, m.cfg.HistoryLimit)
}

// ---- pending operations ----

// QueueOperation defers a mutation until the next drain pass. Failures are
// logged and returned; the caller decides whether they block its own work.
func (m *Manager) QueueOperation(ctx context.Context, op store.NewOperation) (int64, error) {
	id, err := m.store.EnqueueOperation(ctx, op)
	if err != nil {
		logger.Log.Error("Failed to queue operation",
			zap.String("type", op.Type),
			zap.String("method", string(op.Method)),
			zap.String("path", op.Path),
			zap.Error(err),
		)
		return 0, err
	}
	logger.Log.Debug("Queued operation", zap.Int64("id", id), zap.String("path", op.Path))
	m.broadcast(ctx)
	return id, nil
}

func (m *Manager) ListOperations(ctx context.Context) ([]*store.PendingOperation, error) {
	return m.store.ListOperations(ctx)
}

// PurgeFailed drops operations that exhausted their retries.
func (m *Manager) PurgeFailed(ctx context.Context) (int64, error) {
	n, err := m.store.PurgeFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Log.Info("Purged failed operations", zap.Int64("count", n))
	}
	m.broadcast(ctx)
	return n, nil
}

// ---- offline orders ----

func (m *Manager) SaveOfflineOrder(ctx context.Context, payload order.Order, opts store.SaveOptions) (*store.OfflineOrder, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidOrder, err)
	}
	o, err := m.store.SaveOfflineOrder(ctx, payload, opts)
	if err != nil {
		logger.Log.Error("Failed to save offline order", zap.Bool("isEdit", opts.IsEdit), zap.Error(err))
		return nil, err
	}
	logger.Log.Info("Saved offline order", zap.String("tempId", o.TempID), zap.Bool("isEdit", o.IsEdit))
	m.broadcast(ctx)
	return o, nil
}

func (m *Manager) GetOfflineOrder(ctx context.Context, tempID string) (*store.OfflineOrder, error) {
	return m.store.GetOfflineOrder(ctx, tempID)
}

func (m *Manager) ListOfflineOrders(ctx context.Context) ([]*store.OfflineOrder, error) {
	return m.store.ListOfflineOrders(ctx)
}

// UpdateOfflineOrder merges patch onto a stored order. Editing the payload of
// an order without touching its status re-arms it for the next drain.
func (m *Manager) UpdateOfflineOrder(ctx context.Context, tempID string, patch store.OfflineOrderPatch) (*store.OfflineOrder, error) {
	if patch.Order != nil {
		if err := patch.Order.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidOrder, err)
		}
		if patch.Status == nil {
			pending, cleared := store.OrderPendingSync, ""
			patch.Status = &pending
			patch.SyncError = &cleared
		}
	}
	o, err := m.store.UpdateOfflineOrder(ctx, tempID, patch)
	if err != nil {
		return nil, err
	}
	m.broadcast(ctx)
	return o, nil
}

func (m *Manager) DeleteOfflineOrder(ctx context.Context, tempID string) error {
	if err := m.store.DeleteOfflineOrder(ctx, tempID); err != nil {
		return err
	}
	m.broadcast(ctx)
	return nil
}
