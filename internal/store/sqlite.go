package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offline-sync-service/internal/database"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/order"
)

const DefaultMaxRetries = 3

type SQLiteStore struct {
	db         *database.Database
	maxRetries int
	now        func() time.Time
}

type Option func(*SQLiteStore)

// WithMaxRetries sets how many failed attempts flip an operation to FAILED.
func WithMaxRetries(n int) Option {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// Open opens the queue database at path and applies pending schema migrations.
// Reopening an existing file keeps every stored record.
func Open(path string, busyTimeout time.Duration, opts ...Option) (*SQLiteStore, error) {
	db, err := database.OpenSQLite(path, busyTimeout)
	if err != nil {
		return nil, err
	}
	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate queue store: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger.Log.Debug("Opened queue store", zap.String("path", path), zap.Int("schemaVersion", currentSchemaVersion))
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db.DB
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

// ---- pending operations ----

func (s *SQLiteStore) EnqueueOperation(ctx context.Context, op NewOperation) (int64, error) {
	if err := validateOperation(op); err != nil {
		return 0, err
	}

	ts := op.Timestamp
	if ts == 0 {
		ts = s.nowMillis()
	}

	var payload sql.NullString
	if op.Method.HasPayload() {
		payload = sql.NullString{String: string(op.Payload), Valid: true}
	}

	res, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO pending_operations (type, method, path, payload, timestamp, status, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		op.Type, string(op.Method), op.Path, payload, ts, string(OperationPending),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue operation: %w", err)
	}
	return id, nil
}

func validateOperation(op NewOperation) error {
	if !op.Method.Valid() {
		return fmt.Errorf("%w: unknown method %q", ErrInvalidOperation, op.Method)
	}
	if strings.TrimSpace(op.Path) == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidOperation)
	}
	if op.Method.HasPayload() {
		if len(op.Payload) == 0 {
			return fmt.Errorf("%w: %s requires a payload", ErrInvalidOperation, op.Method)
		}
		if !json.Valid(op.Payload) {
			return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidOperation)
		}
	} else if len(op.Payload) != 0 {
		return fmt.Errorf("%w: %s takes no payload", ErrInvalidOperation, op.Method)
	}
	return nil
}

const operationColumns = `id, type, method, path, payload, timestamp, status, retry_count, last_error`

// ListPending returns PENDING operations in no particular order.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*PendingOperation, error) {
	return s.queryOperations(ctx, `SELECT `+operationColumns+` FROM pending_operations WHERE status = ?`, string(OperationPending))
}

// ListOperations returns every stored operation, FAILED included, oldest first.
func (s *SQLiteStore) ListOperations(ctx context.Context) ([]*PendingOperation, error) {
	return s.queryOperations(ctx, `SELECT `+operationColumns+` FROM pending_operations ORDER BY timestamp, id`)
}

func (s *SQLiteStore) queryOperations(ctx context.Context, query string, args ...any) ([]*PendingOperation, error) {
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("list operations: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*PendingOperation, error) {
	var (
		op      PendingOperation
		method  string
		status  string
		payload sql.NullString
	)
	if err := row.Scan(&op.ID, &op.Type, &method, &op.Path, &payload, &op.Timestamp, &status, &op.RetryCount, &op.LastError); err != nil {
		return nil, err
	}
	op.Method = Method(method)
	op.Status = OperationStatus(status)
	if payload.Valid {
		op.Payload = json.RawMessage(payload.String)
	}
	return &op, nil
}

// CompleteOperation deletes the operation. Deleting an absent id is not an error.
func (s *SQLiteStore) CompleteOperation(ctx context.Context, id int64) error {
	if _, err := s.db.DB.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("complete operation %d: %w", id, err)
	}
	return nil
}

// FailOperation records a failed attempt. Once RetryCount reaches the retry
// ceiling the operation becomes FAILED and is no longer listed as pending.
func (s *SQLiteStore) FailOperation(ctx context.Context, id int64, errorMessage string) (*PendingOperation, error) {
	var op *PendingOperation
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM pending_operations WHERE id = ?`, id)
		loaded, err := scanOperation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		loaded.RetryCount++
		loaded.LastError = errorMessage
		if loaded.RetryCount >= s.maxRetries {
			loaded.Status = OperationFailed
		} else {
			loaded.Status = OperationPending
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE pending_operations SET retry_count = ?, last_error = ?, status = ? WHERE id = ?`,
			loaded.RetryCount, loaded.LastError, string(loaded.Status), id,
		)
		op = loaded
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fail operation %d: %w", id, err)
	}
	return op, nil
}

// PurgeFailed deletes every FAILED operation and reports how many went.
func (s *SQLiteStore) PurgeFailed(ctx context.Context) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM pending_operations WHERE status = ?`, string(OperationFailed))
	if err != nil {
		return 0, fmt.Errorf("purge failed operations: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CountPending(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM pending_operations WHERE status = ?`, string(OperationPending))
}

func (s *SQLiteStore) CountFailed(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM pending_operations WHERE status = ?`, string(OperationFailed))
}

func (s *SQLiteStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// ---- offline orders ----

// NewTempID returns an identifier of the form offline_<unix-millis>_<random>,
// never confused with a server-assigned id.
func NewTempID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("offline_%d_%s", now.UnixMilli(), random)
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, "offline_")
}

func (s *SQLiteStore) SaveOfflineOrder(ctx context.Context, payload order.Order, opts SaveOptions) (*OfflineOrder, error) {
	if opts.IsEdit && opts.OriginalID == "" {
		return nil, fmt.Errorf("%w: edit without originalId", ErrInvalidOrder)
	}

	now := time.UnixMilli(s.nowMillis())
	o := &OfflineOrder{
		TempID:     NewTempID(now),
		Offline:    true,
		Status:     OrderPendingSync,
		IsEdit:     opts.IsEdit,
		OriginalID: opts.OriginalID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Order:      payload,
	}

	body, err := json.Marshal(o.Order)
	if err != nil {
		return nil, fmt.Errorf("save offline order: %w", err)
	}

	_, err = s.db.DB.ExecContext(ctx, `
		INSERT INTO offline_orders (temp_id, payload, status, is_edit, original_id, sync_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		o.TempID, string(body), string(o.Status), o.IsEdit, o.OriginalID, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("save offline order: %w", err)
	}
	return o, nil
}

const orderColumns = `temp_id, payload, status, is_edit, original_id, sync_error, created_at, updated_at`

func scanOrder(row scanner) (*OfflineOrder, error) {
	var (
		o                    OfflineOrder
		payload, status      string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&o.TempID, &payload, &status, &o.IsEdit, &o.OriginalID, &o.SyncError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &o.Order); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", o.TempID, err)
	}
	o.Offline = true
	o.Status = OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt)
	o.UpdatedAt = time.UnixMilli(updatedAt)
	return &o, nil
}

// GetOfflineOrder returns ErrNotFound when tempID is unknown.
func (s *SQLiteStore) GetOfflineOrder(ctx context.Context, tempID string) (*OfflineOrder, error) {
	return getOrder(ctx, s.db.DB, tempID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getOrder(ctx context.Context, q queryRower, tempID string) (*OfflineOrder, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM offline_orders WHERE temp_id = ?`, tempID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("offline order %s: %w", tempID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get offline order %s: %w", tempID, err)
	}
	return o, nil
}

// ListOfflineOrders returns every offline order in the order they were saved.
func (s *SQLiteStore) ListOfflineOrders(ctx context.Context) ([]*OfflineOrder, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM offline_orders ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list offline orders: %w", err)
	}
	defer rows.Close()

	var orders []*OfflineOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("list offline orders: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list offline orders: %w", err)
	}
	return orders, nil
}

// UpdateOfflineOrder merges patch onto the stored order and stamps UpdatedAt.
func (s *SQLiteStore) UpdateOfflineOrder(ctx context.Context, tempID string, patch OfflineOrderPatch) (*OfflineOrder, error) {
	var updated *OfflineOrder
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		o, err := getOrder(ctx, tx, tempID)
		if err != nil {
			return err
		}

		if patch.Order != nil {
			o.Order = *patch.Order
		}
		if patch.Status != nil {
			o.Status = *patch.Status
		}
		if patch.SyncError != nil {
			o.SyncError = *patch.SyncError
		}
		if patch.IsEdit != nil {
			o.IsEdit = *patch.IsEdit
		}
		if patch.OriginalID != nil {
			o.OriginalID = *patch.OriginalID
		}
		if o.IsEdit && o.OriginalID == "" {
			return fmt.Errorf("%w: edit without originalId", ErrInvalidOrder)
		}
		o.UpdatedAt = time.UnixMilli(s.nowMillis())

		body, err := json.Marshal(o.Order)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE offline_orders
			SET payload = ?, status = ?, is_edit = ?, original_id = ?, sync_error = ?, updated_at = ?
			WHERE temp_id = ?`,
			string(body), string(o.Status), o.IsEdit, o.OriginalID, o.SyncError, o.UpdatedAt.UnixMilli(), tempID,
		)
		updated = o
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update offline order: %w", err)
	}
	return updated, nil
}

func (s *SQLiteStore) DeleteOfflineOrder(ctx context.Context, tempID string) error {
	if _, err := s.db.DB.ExecContext(ctx, `DELETE FROM offline_orders WHERE temp_id = ?`, tempID); err != nil {
		return fmt.Errorf("delete offline order %s: %w", tempID, err)
	}
	return nil
}

func (s *SQLiteStore) CountOfflineOrders(ctx context.Context, status OrderStatus) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM offline_orders WHERE status = ?`, string(status))
}

// ---- history ----

func (s *SQLiteStore) RecordSyncRun(ctx context.Context, run *SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, completed_at, succeeded, failed, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.CompletedAt.UnixMilli(), run.Succeeded, run.Failed, run.Outcome, run.Error,
	)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent drain passes, newest first.
func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT id, started_at, completed_at, succeeded, failed, outcome, error
		FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var (
			r                      SyncRun
			startedAt, completedAt int64
		)
		if err := rows.Scan(&r.ID, &startedAt, &completedAt, &r.Succeeded, &r.Failed, &r.Outcome, &r.Error); err != nil {
			return nil, fmt.Errorf("list sync runs: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedAt)
		r.CompletedAt = time.UnixMilli(completedAt)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
