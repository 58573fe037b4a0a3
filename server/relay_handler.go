package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"radiotiker/core/audio"
	"radiotiker/core/relay"
	"radiotiker/logger"
	"radiotiker/metrics"
	"radiotiker/model"

	"github.com/gorilla/mux"
)

// RelayHandler streams tracks from agents to clients.
type RelayHandler struct {
	engine  *relay.Engine
	encoder *audio.LiveEncoder
}

func NewRelayHandler(engine *relay.Engine, encoder *audio.LiveEncoder) *RelayHandler {
	return &RelayHandler{engine: engine, encoder: encoder}
}

func relayVars(w http.ResponseWriter, r *http.Request) (userID, trackID string, ok bool) {
	vars := mux.Vars(r)
	userID, trackID = vars["user_id"], vars["track_id"]
	if !model.ValidUserID(userID) || trackID == "" {
		writeError(w, http.StatusBadRequest, "invalid user_id or track_id")
		return "", "", false
	}
	return userID, trackID, true
}

// transcodeLocation rewrites /relay/ to /relay-transcode/ in the request
// path, keeping any mount prefix and the query string.
func transcodeLocation(r *http.Request) string {
	path := r.URL.EscapedPath()
	if i := strings.LastIndex(path, "/relay/"); i >= 0 {
		path = path[:i] + "/relay-transcode/" + path[i+len("/relay/"):]
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	return path
}

// ServeRelay handles GET|HEAD /relay/{user_id}/{track_id}.
func (h *RelayHandler) ServeRelay(w http.ResponseWriter, r *http.Request) {
	userID, trackID, ok := relayVars(w, r)
	if !ok {
		return
	}

	resp, err := h.engine.Open(r.Context(), relay.Request{
		Method:  r.Method,
		UserID:  userID,
		TrackID: trackID,
		Range:   r.Header.Get("Range"),
		IfRange: r.Header.Get("If-Range"),
		Accept:  r.Header.Get("Accept"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer resp.Close()
	metrics.RelayRequests.WithLabelValues(resp.Delivery.String()).Inc()

	if resp.Delivery == relay.DeliverTranscode {
		logger.Debug("redirecting to transcoder",
			logger.String("user", userID),
			logger.String("track", trackID))
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, transcodeLocation(r), http.StatusFound)
		return
	}

	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.Status)
	if resp.Body == nil {
		return
	}

	n, err := relay.Copy(w, resp.Body, relay.ChunkSize)
	metrics.RelayBytes.Add(float64(n))
	h.streamEnded(r, userID, trackID, n, err)
}

// ServeTranscode handles GET|HEAD /relay-transcode/{user_id}/{track_id}.
// Range is ignored; a live encode cannot seek.
func (h *RelayHandler) ServeTranscode(w http.ResponseWriter, r *http.Request) {
	userID, trackID, ok := relayVars(w, r)
	if !ok {
		return
	}

	target, err := h.engine.Resolve(r.Context(), userID, trackID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Accept-Ranges", "none")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		return
	}

	session, err := h.encoder.Start(r.Context(), target.URL)
	if err != nil {
		h.fail(w, r, relay.NewError(relay.KindTranscodeUnavailable, err))
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("encoder exited with error",
				logger.String("user", userID),
				logger.String("track", trackID),
				logger.ErrorField(err))
		}
	}()
	metrics.RelayRequests.WithLabelValues("transcode").Inc()

	w.WriteHeader(http.StatusOK)
	n, err := relay.Copy(w, session, audio.ChunkSize)
	metrics.RelayBytes.Add(float64(n))
	h.streamEnded(r, userID, trackID, n, err)
}

func (h *RelayHandler) streamEnded(r *http.Request, userID, trackID string, n int64, err error) {
	fields := []logger.Field{
		logger.String("user", userID),
		logger.String("track", trackID),
		logger.Int64("bytes", n),
	}
	switch {
	case err == nil:
		logger.Debug("stream completed", fields...)
	case relay.IsDisconnect(err) || r.Context().Err() != nil:
		logger.Debug("client disconnected", fields...)
	default:
		logger.Warn("stream aborted", append(fields, logger.ErrorField(err))...)
	}
}

func (h *RelayHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		logger.Debug("client went away before streaming", logger.String("path", r.URL.Path))
		return
	}

	status, kind, msg := http.StatusInternalServerError, "internal", "internal error"
	if re, ok := relay.AsError(err); ok {
		status, kind, msg = re.Status, re.Kind.String(), re.Kind.String()
		switch re.Kind {
		case relay.KindNotFound, relay.KindServiceUnavailable, relay.KindInvalidRange:
			msg = err.Error()
		}
	}
	metrics.RelayErrors.WithLabelValues(kind).Inc()

	fields := []logger.Field{
		logger.String("path", r.URL.Path),
		logger.String("kind", kind),
		logger.Int("status", status),
		logger.ErrorField(err),
	}
	if status >= 500 && kind != relay.KindServiceUnavailable.String() {
		logger.Error("relay request failed", fields...)
	} else {
		logger.Info("relay request rejected", fields...)
	}
	writeError(w, status, msg)
}
