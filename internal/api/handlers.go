package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"urlwatch/internal/models"
	"urlwatch/internal/storage"
	"urlwatch/internal/watchlist"
)

const healthzTimeout = 2 * time.Second

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	watches *watchlist.Service
	store   Pinger
	logger  *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(watches *watchlist.Service, store Pinger, logger *slog.Logger) *Handlers {
	return &Handlers{watches: watches, store: store, logger: logger}
}

// ListWatches handles listing every watch item.
func (h *Handlers) ListWatches(w http.ResponseWriter, r *http.Request) {
	items, err := h.watches.List(r.Context())
	if err != nil {
		h.logger.Error("list watch items failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.WatchItem{}
	}

	writeJSON(w, http.StatusOK, struct {
		Items []models.WatchItem `json:"items"`
	}{Items: items})
}

// GetWatch handles fetching a single watch item.
func (h *Handlers) GetWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := watchID(w, r)
	if !ok {
		return
	}

	item, err := h.watches.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ListChecks handles listing the check log of a watch item, newest first.
func (h *Handlers) ListChecks(w http.ResponseWriter, r *http.Request) {
	id, ok := watchID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := storage.DefaultCheckLogLimit
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	var sincePtr *time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "since must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		utc := t.UTC()
		sincePtr = &utc
	}

	entries, err := h.watches.Checks(r.Context(), id, limit, sincePtr)
	if err != nil {
		h.storeError(w, id, err)
		return
	}
	if entries == nil {
		entries = []models.CheckLogEntry{}
	}

	writeJSON(w, http.StatusOK, struct {
		Items []models.CheckLogEntry `json:"items"`
	}{Items: entries})
}

// Healthz reports whether the store is reachable.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthzTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", "err", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) storeError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "watch item not found", http.StatusNotFound)
		return
	}
	h.logger.Error("watch item lookup failed", "watch_id", id, "err", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func watchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid watch id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
