package server

import (
	"context"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/chrisvdg/metacache/cache"
)

// clearConfirmValue is the exact confirm query value the destructive
// clear-all endpoint requires
const clearConfirmValue = "yes-delete-everything"

func newHandlers(c *cache.Cache) *handlers {
	return &handlers{cache: c}
}

type handlers struct {
	cache *cache.Cache
}

// Metadata serves the read-through lookup: cached metadata when present,
// otherwise extract and store
func (h *handlers) Metadata(res http.ResponseWriter, req *http.Request) {
	url := req.URL.Query().Get("url")
	if url == "" {
		writeError(res, http.StatusBadRequest, errors.New("missing url parameter"))
		return
	}

	meta, err := h.cache.FetchOrExtract(req.Context(), url)
	if err != nil {
		writeError(res, statusFor(err), err)
		return
	}

	writeJSON(res, http.StatusOK, meta)
}

// ListEntries serves a filtered, sorted entry listing
func (h *handlers) ListEntries(res http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	f := cache.ListFilter{
		Platform:    q.Get("platform"),
		PopularOnly: q.Get("popular") == "true",
		ExpiredOnly: q.Get("expired") == "true",
		Sort:        q.Get("sort"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(res, http.StatusBadRequest, errors.Errorf("invalid limit %q", limit))
			return
		}
		f.Limit = n
	}

	entries, err := h.cache.List(f)
	if err != nil {
		writeError(res, statusFor(err), err)
		return
	}
	if entries == nil {
		entries = []*cache.Entry{}
	}

	writeJSON(res, http.StatusOK, entries)
}

// GetEntry serves one entry with its full decoded metadata
func (h *handlers) GetEntry(res http.ResponseWriter, req *http.Request) {
	e, err := h.cache.Entry(mux.Vars(req)["hash"])
	if err != nil {
		writeError(res, statusFor(err), err)
		return
	}

	writeJSON(res, http.StatusOK, e)
}

// DeleteEntry removes one entry
func (h *handlers) DeleteEntry(res http.ResponseWriter, req *http.Request) {
	if err := h.cache.Delete(mux.Vars(req)["hash"]); err != nil {
		writeError(res, statusFor(err), err)
		return
	}

	res.WriteHeader(http.StatusNoContent)
}

// RefreshEntry force re-extracts the URL behind one entry
func (h *handlers) RefreshEntry(res http.ResponseWriter, req *http.Request) {
	e, err := h.cache.Entry(mux.Vars(req)["hash"])
	if err != nil {
		writeError(res, statusFor(err), err)
		return
	}

	refreshed, err := h.cache.Refresh(req.Context(), e.URL)
	if err != nil {
		writeError(res, statusFor(err), err)
		return
	}

	writeJSON(res, http.StatusOK, refreshed)
}

// Cleanup runs an eviction sweep now
func (h *handlers) Cleanup(res http.ResponseWriter, req *http.Request) {
	expired, evicted, err := h.cache.Cleanup()
	if err != nil {
		writeError(res, statusFor(err), err)
		return
	}

	writeJSON(res, http.StatusOK, map[string]int{
		"expired_deleted": expired,
		"cap_evicted":     evicted,
	})
}

// Warm triggers a popular-cache warming pass. The pass keeps running on a
// background context so a dropped admin connection does not abort it.
func (h *handlers) Warm(res http.ResponseWriter, req *http.Request) {
	warmed, err := h.cache.WarmPopularExpired(context.Background())
	if err != nil {
		writeError(res, statusFor(err), err)
		return
	}

	writeJSON(res, http.StatusOK, map[string]int{"warmed": warmed})
}

// ClearEntries removes every entry, refused without explicit confirmation
func (h *handlers) ClearEntries(res http.ResponseWriter, req *http.Request) {
	confirmed := req.URL.Query().Get("confirm") == clearConfirmValue
	removed, err := h.cache.Clear(confirmed)
	if err != nil {
		writeError(res, statusFor(err), err)
		return
	}

	writeJSON(res, http.StatusOK, map[string]int{"removed": removed})
}

// Statistics serves the aggregate cache report
func (h *handlers) Statistics(res http.ResponseWriter, req *http.Request) {
	stats, err := h.cache.Statistics()
	if err != nil {
		writeError(res, statusFor(err), err)
		return
	}

	writeJSON(res, http.StatusOK, stats)
}

func statusFor(err error) int {
	switch errors.Cause(err) {
	case cache.ErrEntryNotFound:
		return http.StatusNotFound
	case cache.ErrNotConfirmed:
		return http.StatusConflict
	case cache.ErrValidation:
		return http.StatusBadRequest
	case cache.ErrNoExtractor:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(res http.ResponseWriter, status int, body interface{}) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	if err := json.NewEncoder(res).Encode(body); err != nil {
		log.Errorf("failed to write response: %s", err)
	}
}

func writeError(res http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error(err)
	}
	writeJSON(res, status, map[string]string{"error": err.Error()})
}
