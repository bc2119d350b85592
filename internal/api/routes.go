package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/order"
	"offline-sync-service/internal/status"
	"offline-sync-service/internal/store"
	"offline-sync-service/internal/sync"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	syncManager *sync.Manager
	corsOrigins []string
	hub         *streamHub
	detach      []func()
}

func NewHandler(manager *sync.Manager, corsOrigins []string) *Handler {
	h := &Handler{
		syncManager: manager,
		corsOrigins: corsOrigins,
		hub:         newStreamHub(),
	}
	h.detach = append(h.detach,
		manager.Subscribe(func(s status.Status) {
			h.hub.publish(EventStatus, s)
		}),
		manager.OnSyncComplete(func(r sync.Report) {
			h.hub.publish(EventSyncCompleted, r)
		}),
	)
	return h
}

// Close stops forwarding events and disconnects stream clients.
func (h *Handler) Close() {
	for _, fn := range h.detach {
		fn()
	}
	h.detach = nil
	h.hub.closeAll()
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/status/stream", h.StreamStatus)
		r.Put("/connectivity", h.SetConnectivity)

		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/history", h.GetSyncHistory)

		r.Route("/operations", func(r chi.Router) {
			r.Get("/", h.ListOperations)
			r.Post("/", h.QueueOperation)
			r.Delete("/failed", h.PurgeFailed)
		})

		r.Route("/offline-orders", func(r chi.Router) {
			r.Get("/", h.ListOfflineOrders)
			r.Post("/", h.SaveOfflineOrder)
			r.Get("/{tempID}", h.GetOfflineOrder)
			r.Patch("/{tempID}", h.UpdateOfflineOrder)
			r.Delete("/{tempID}", h.DeleteOfflineOrder)
		})
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.syncManager.GetStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Online == nil {
		writeErrorMessage(w, http.StatusBadRequest, "online is required")
		return
	}
	changed := h.syncManager.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *req.Online, "changed": changed})
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	started := h.syncManager.ManualSync()
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := h.syncManager.SyncHistory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*store.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.syncManager.ListOperations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ops == nil {
		ops = []*store.PendingOperation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *Handler) QueueOperation(w http.ResponseWriter, r *http.Request) {
	var op store.NewOperation
	if !decode(w, r, &op) {
		return
	}
	id, err := h.syncManager.QueueOperation(r.Context(), op)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) PurgeFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.syncManager.PurgeFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

func (h *Handler) ListOfflineOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.syncManager.ListOfflineOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []*store.OfflineOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// saveOrderRequest is the order payload plus the optional edit marker.
type saveOrderRequest struct {
	order.Order
	IsEdit     bool   `json:"isEdit"`
	OriginalID string `json:"originalId"`
}

func (h *Handler) SaveOfflineOrder(w http.ResponseWriter, r *http.Request) {
	var req saveOrderRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	o, err := h.syncManager.SaveOfflineOrder(r.Context(), req.Order, store.SaveOptions{
		IsEdit:     req.IsEdit,
		OriginalID: req.OriginalID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) GetOfflineOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.syncManager.GetOfflineOrder(r.Context(), chi.URLParam(r, "tempID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) UpdateOfflineOrder(w http.ResponseWriter, r *http.Request) {
	var patch store.OfflineOrderPatch
	if !decodeStrict(w, r, &patch) {
		return
	}
	o, err := h.syncManager.UpdateOfflineOrder(r.Context(), chi.URLParam(r, "tempID"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) DeleteOfflineOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.syncManager.DeleteOfflineOrder(r.Context(), chi.URLParam(r, "tempID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, false)
}

// decodeStrict rejects fields the target type does not declare. Order bodies
// are stored and replayed verbatim, so a misspelled field would otherwise be
// lost without the caller noticing.
func decodeStrict(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, strict bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidOperation), errors.Is(err, store.ErrInvalidOrder):
		code = http.StatusBadRequest
	default:
		logger.Log.Error("Request failed", zap.Error(err))
	}
	writeErrorMessage(w, code, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *Handler) allowedOrigin(origin string) string {
	for _, o := range h.corsOrigins {
		if o == "*" {
			return "*"
		}
		if o == origin {
			return origin
		}
	}
	return ""
}

func (h *Handler) CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := h.allowedOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-Id")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
