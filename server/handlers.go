package server

import (
	"errors"
	"net/http"
	"strconv"

	"radiotiker/core/events"
	"radiotiker/core/identity"
	"radiotiker/logger"
	"radiotiker/metrics"
	"radiotiker/model"
	"radiotiker/repository"

	"github.com/gorilla/mux"
)

// APIHandler serves the catalog and agent endpoints.
type APIHandler struct {
	catalog repository.CatalogRepository
	agents  repository.AgentRegistry
	hub     *events.Hub
}

func NewAPIHandler(catalog repository.CatalogRepository, agents repository.AgentRegistry, hub *events.Hub) *APIHandler {
	return &APIHandler{catalog: catalog, agents: agents, hub: hub}
}

type submitScanResponse struct {
	OK           bool          `json:"ok"`
	UserID       string        `json:"user_id"`
	Count        int           `json:"count"`
	Version      int64         `json:"version"`
	AgentBaseURL string        `json:"agent_base_url"`
	Preview      []model.Track `json:"preview"`
}

type announceResponse struct {
	OK        bool   `json:"ok"`
	BaseURL   string `json:"base_url"`
	Persisted bool   `json:"persisted"`
}

type agentStatusResponse struct {
	Online   bool   `json:"online"`
	BaseURL  string `json:"base_url"`
	LastSeen *int64 `json:"last_seen"`
}

type libraryResponse struct {
	Version int64         `json:"version"`
	Count   int           `json:"count"`
	Tracks  []model.Track `json:"tracks"`
}

type clearResponse struct {
	OK      bool  `json:"ok"`
	Cleared bool  `json:"cleared"`
	Version int64 `json:"version"`
}

// userFromPath validates the {user_id} route variable, answering 400 itself
// when it is unusable.
func userFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := mux.Vars(r)["user_id"]
	if !model.ValidUserID(userID) {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return "", false
	}
	return userID, true
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SubmitScanHandler handles POST /submit-scan.
func (h *APIHandler) SubmitScanHandler(w http.ResponseWriter, r *http.Request) {
	var payload model.ScanPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		badBody(w, err)
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for i := range payload.Library {
		payload.Library[i].RelPath = identity.NormalizeRelPath(payload.Library[i].RelPath)
		payload.Library[i].ApplyPlaceholders()
	}
	var version int64
	if payload.LibraryVersion != nil {
		version = *payload.LibraryVersion
	}

	ctx := r.Context()
	result, err := h.catalog.UpsertBatch(ctx, payload.UserID, payload.Library, version, payload.Replace)
	if err != nil {
		logger.Error("failed to store scan batch",
			logger.String("user", payload.UserID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to store library")
		return
	}
	metrics.CatalogUpserts.WithLabelValues(strconv.FormatBool(payload.Replace)).Inc()
	h.hub.PublishLibrary(payload.UserID, result.Version, result.Count)

	baseURL, err := h.agents.BaseURL(ctx, payload.UserID)
	if err != nil {
		logger.Warn("failed to read agent base url", logger.String("user", payload.UserID), logger.ErrorField(err))
	}

	logger.Info("scan batch stored",
		logger.String("user", payload.UserID),
		logger.Int("batch", len(payload.Library)),
		logger.Int("count", result.Count),
		logger.Int64("version", result.Version),
		logger.Bool("replace", payload.Replace),
		logger.Bool("cleared", result.Cleared))

	writeJSON(w, http.StatusOK, submitScanResponse{
		OK:           true,
		UserID:       payload.UserID,
		Count:        result.Count,
		Version:      result.Version,
		AgentBaseURL: baseURL,
		Preview:      result.Preview,
	})
}

// AnnounceHandler handles POST /agent/announce.
func (h *APIHandler) AnnounceHandler(w http.ResponseWriter, r *http.Request) {
	var payload model.AnnouncePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		badBody(w, err)
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	baseURL, persisted, err := h.agents.Announce(r.Context(), payload.UserID, payload.BaseURL)
	if err != nil {
		logger.Error("failed to record announce",
			logger.String("user", payload.UserID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to record agent")
		return
	}
	h.hub.PublishAgent(payload.UserID, baseURL, true)

	writeJSON(w, http.StatusOK, announceResponse{OK: true, BaseURL: baseURL, Persisted: persisted})
}

// AgentStatusHandler handles GET /agent/{user_id}/status.
func (h *APIHandler) AgentStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}
	status, err := h.agents.Status(r.Context(), userID)
	if err != nil {
		logger.Error("failed to read agent status", logger.String("user", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to read agent status")
		return
	}

	resp := agentStatusResponse{Online: status.Online, BaseURL: status.BaseURL}
	if ts := status.LastSeenUnix(); ts != 0 {
		resp.LastSeen = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

// LibraryHandler handles GET /library/{user_id}.
func (h *APIHandler) LibraryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}
	snap, err := h.catalog.Get(r.Context(), userID)
	if err != nil {
		logger.Error("failed to load library", logger.String("user", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load library")
		return
	}
	writeJSON(w, http.StatusOK, libraryResponse{Version: snap.Version, Count: len(snap.Tracks), Tracks: snap.Tracks})
}

// ClearLibraryHandler handles POST /library/{user_id}/clear.
func (h *APIHandler) ClearLibraryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}
	version, err := h.catalog.Clear(r.Context(), userID)
	if err != nil {
		logger.Error("failed to clear library", logger.String("user", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to clear library")
		return
	}
	h.hub.PublishLibrary(userID, version, 0)
	writeJSON(w, http.StatusOK, clearResponse{OK: true, Cleared: true, Version: version})
}

func badBody(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
