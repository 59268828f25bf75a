package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/controller"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
	"codeberg.org/dirmirror/dirmirror/pkg/mirror"
	"codeberg.org/dirmirror/dirmirror/pkg/notify"
)

type handler struct {
	mirror   *mirror.Mirror
	dir      directory.Reader
	manager  *controller.Manager
	notifier *notify.Notifier
	logger   *zap.Logger
}

func SetupRoutes(mux *http.ServeMux, m *mirror.Mirror, dir directory.Reader, mgr *controller.Manager, notifier *notify.Notifier, logger *zap.Logger) {
	h := &handler{
		mirror:   m,
		dir:      dir,
		manager:  mgr,
		notifier: notifier,
		logger:   logger,
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/users", h.handleUsers)
	mux.HandleFunc("/users/", h.handleUserSubtree)
	mux.HandleFunc("/groups", h.handleGroups)
	mux.HandleFunc("/groups/", h.handleGroupSubtree)

	mux.HandleFunc("/memberships/sync", func(w http.ResponseWriter, r *http.Request) {
		h.triggerStages(w, r, controller.StageMembershipsByUser, controller.StageMembershipsByGroup)
	})
	mux.HandleFunc("/sync/run", h.handleSyncRun)
	mux.HandleFunc("/sync/status", h.handleSyncStatus)
	mux.HandleFunc("/sync/notification", h.handleNotification)
	mux.HandleFunc("/sync/notification/clear", h.handleNotificationClear)
}

func (h *handler) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Info("Full sync pass triggered", zap.String("remote_addr", r.RemoteAddr))

	results, err := h.manager.RunAll(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

// triggerStages runs the named stages in order and returns their
// results: one object for a single stage, an array otherwise.
func (h *handler) triggerStages(w http.ResponseWriter, r *http.Request, stages ...controller.Stage) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Info("Manual sync triggered",
		zap.Int("stages", len(stages)),
		zap.String("remote_addr", r.RemoteAddr))

	results := make([]controller.StageResult, 0, len(stages))
	for _, stage := range stages {
		result, err := h.manager.RunStage(r.Context(), stage)
		if err != nil {
			h.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
			return
		}
		results = append(results, result)
	}

	if len(results) == 1 {
		h.writeJSON(w, http.StatusOK, results[0])
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

func (h *handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.manager.Status())
}

func (h *handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.notifier.Consume())
}

func (h *handler) handleNotificationClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.notifier.Clear()
	w.WriteHeader(http.StatusOK)
}

// writer exposes the directory's write surface. Read-only drivers get a
// 501 before any state is touched.
func (h *handler) writer(w http.ResponseWriter) (directory.Writer, bool) {
	wd, ok := h.dir.(directory.Writer)
	if !ok {
		h.writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error":     "directory is read-only",
			"directory": h.dir.Name(),
		})
		return nil, false
	}
	return wd, true
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *handler) directoryError(w http.ResponseWriter, action string, err error) {
	h.logger.Error("Directory write failed", zap.String("action", action), zap.Error(err))

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, directory.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, directory.ErrReadOnly):
		status = http.StatusNotImplemented
	}
	h.writeJSON(w, status, map[string]any{
		"error":   "Failed to " + action,
		"message": err.Error(),
	})
}

func (h *handler) mirrorError(w http.ResponseWriter, action string, err error) {
	h.logger.Error("Mirror write failed", zap.String("action", action), zap.Error(err))
	h.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":   "Failed to " + action,
		"message": err.Error(),
	})
}

func decodeBody(r *http.Request) (map[string]any, error) {
	defer r.Body.Close()
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// stringField extracts a trimmed string value; missing keys and
// non-string values come back empty.
func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// stringSlice extracts a JSON string array. The bool reports whether
// the key held an array at all.
func stringSlice(data map[string]any, key string) ([]string, bool) {
	items, ok := data[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func intParam(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
