package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"rental-crawler/models"
	"rental-crawler/storage"
	"rental-crawler/utils"
)

// Store is the read side the API serves from, plus match lifecycle events.
type Store interface {
	Get(ctx context.Context, key models.ListingKey) (*models.ListingRecord, error)
	List(ctx context.Context, q storage.ListingQuery) ([]models.ListingRecord, error)
	ListMatches(ctx context.Context, userID string) ([]models.MatchRecord, error)
	RecordEvent(ctx context.Context, userID string, listingID int64, event models.MatchEvent, at time.Time) (*models.MatchRecord, error)
	LatestRun(ctx context.Context, platform models.Platform, search string) (*models.RunSummary, error)
}

const defaultListLimit = 200

type handler struct {
	store  Store
	logger *utils.Logger
	now    func() time.Time
}

// NewRouter returns the HTTP routes for listings, matches and runs.
func NewRouter(store Store, logger *utils.Logger) *mux.Router {
	h := &handler{store: store, logger: logger, now: time.Now}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/listings", h.listListings).Methods(http.MethodGet)
	r.HandleFunc("/listings/{platform}/{externalID}", h.getListing).Methods(http.MethodGet)
	r.HandleFunc("/users/{userID}/matches", h.listMatches).Methods(http.MethodGet)
	r.HandleFunc("/users/{userID}/matches/{listingID:[0-9]+}/{event}", h.recordEvent).Methods(http.MethodPost)
	r.HandleFunc("/runs/latest", h.latestRun).Methods(http.MethodGet)
	r.Use(h.logRequests)
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("[api] %s %s (%s)", r.Method, r.URL.Path, time.Since(started).Round(time.Millisecond))
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getListing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := models.ListingKey{Platform: models.Platform(vars["platform"]), ExternalID: vars["externalID"]}
	if !key.Platform.Valid() {
		writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	l, err := h.store.Get(r.Context(), key)
	if err != nil {
		h.fail(w, "get listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) listListings(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := storage.ListingQuery{
		Platform: models.Platform(v.Get("platform")),
		District: v.Get("district"),
		Limit:    defaultListLimit,
	}
	if q.Platform != "" && !q.Platform.Valid() {
		writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	if s := v.Get("active"); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		q.ActiveOnly = active
	}
	if s := v.Get("max_rent"); s != "" {
		rent, err := strconv.ParseFloat(s, 64)
		if err != nil || rent < 0 {
			writeError(w, http.StatusBadRequest, "max_rent must be a non-negative number")
			return
		}
		q.MaxRent = &rent
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}

	listings, err := h.store.List(r.Context(), q)
	if err != nil {
		h.fail(w, "list listings", err)
		return
	}
	if listings == nil {
		listings = []models.ListingRecord{}
	}
	writeJSON(w, http.StatusOK, listings)
}

func (h *handler) listMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.store.ListMatches(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		h.fail(w, "list matches", err)
		return
	}
	if matches == nil {
		matches = []models.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// recordEvent sets a lifecycle timestamp. Repeating an event is a no-op that
// returns the stored record.
func (h *handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	event := models.MatchEvent(vars["event"])
	if !event.Valid() {
		writeError(w, http.StatusBadRequest, "event must be one of notified, viewed, dismissed, saved")
		return
	}
	listingID, err := strconv.ParseInt(vars["listingID"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	m, err := h.store.RecordEvent(r.Context(), vars["userID"], listingID, event, h.now().UTC())
	if err != nil {
		h.fail(w, "record event", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) latestRun(w http.ResponseWriter, r *http.Request) {
	platform := models.Platform(r.URL.Query().Get("platform"))
	if platform == "" {
		platform = models.PlatformWGGesucht
	}
	run, err := h.store.LatestRun(r.Context(), platform, r.URL.Query().Get("search"))
	if err != nil {
		h.fail(w, "latest run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.logger.Error("[api] %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
