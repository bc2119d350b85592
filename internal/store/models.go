package store

import (
	"encoding/json"
	"sort"
	"time"

	"offline-sync-service/internal/order"
)

// Method is the remote verb a pending operation replays with.
type Method string

const (
	MethodCreate  Method = "CREATE"
	MethodReplace Method = "REPLACE"
	MethodDelete  Method = "DELETE"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCreate, MethodReplace, MethodDelete:
		return true
	}
	return false
}

// HasPayload reports whether operations with this method carry a body.
func (m Method) HasPayload() bool {
	return m == MethodCreate || m == MethodReplace
}

type OperationStatus string

const (
	OperationPending OperationStatus = "PENDING"
	OperationFailed  OperationStatus = "FAILED"
)

// PendingOperation is a generic deferred mutation against a non-order resource.
type PendingOperation struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Method     Method          `json:"method"`
	Path       string          `json:"path"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp"` // enqueue time, unix millis
	Status     OperationStatus `json:"status"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
}

// SortForReplay orders ops oldest first. Equal timestamps keep enqueue order.
func SortForReplay(ops []*PendingOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Timestamp != ops[j].Timestamp {
			return ops[i].Timestamp < ops[j].Timestamp
		}
		return ops[i].ID < ops[j].ID
	})
}

// NewOperation is what callers hand to EnqueueOperation.
// A zero Timestamp is replaced with the current time.
type NewOperation struct {
	Type      string          `json:"type"`
	Method    Method          `json:"method"`
	Path      string          `json:"path"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type OrderStatus string

const (
	OrderPendingSync OrderStatus = "PENDING_SYNC"
	OrderSyncFailed  OrderStatus = "SYNC_FAILED"
)

// OfflineOrder wraps an order payload with local bookkeeping. Only Order is
// ever sent to the remote backend.
type OfflineOrder struct {
	TempID     string      `json:"tempId"`
	Offline    bool        `json:"_offline"`
	Status     OrderStatus `json:"status"`
	IsEdit     bool        `json:"isEdit,omitempty"`
	OriginalID string      `json:"originalId,omitempty"`
	SyncError  string      `json:"syncError,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	Order      order.Order `json:"order"`
}

// SaveOptions marks a saved order as a pending edit of a server-side order.
type SaveOptions struct {
	IsEdit     bool
	OriginalID string
}

// OfflineOrderPatch lists the fields UpdateOfflineOrder overwrites; nil fields are kept.
type OfflineOrderPatch struct {
	Order      *order.Order `json:"order,omitempty"`
	Status     *OrderStatus `json:"status,omitempty"`
	SyncError  *string      `json:"syncError,omitempty"`
	IsEdit     *bool        `json:"isEdit,omitempty"`
	OriginalID *string      `json:"originalId,omitempty"`
}

// SyncRun is the recorded outcome of one drain pass.
type SyncRun struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
}
