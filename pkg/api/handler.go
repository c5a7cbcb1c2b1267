// Package api serves the task tracker over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskboard/pkg/auth"
	"github.com/harrisonrobin/taskboard/pkg/cache"
	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
	"github.com/harrisonrobin/taskboard/pkg/tracker"
	"github.com/harrisonrobin/taskboard/pkg/view"
)

// Tracker is the part of *tracker.Tracker the handlers use.
type Tracker interface {
	View(q tracker.Query) tracker.View
	Render(snap cache.Snapshot, q tracker.Query) tracker.View
	Wait(ctx context.Context) (cache.Snapshot, error)
	Refresh()
	Available() bool
	Create(ctx context.Context, d model.Draft) (model.Task, error)
	Update(ctx context.Context, id string, p model.Patch) (model.Task, error)
	Delete(ctx context.Context, id string) error
}

type TaskHandler struct {
	tracker Tracker
	log     *logrus.Entry
}

func NewTaskHandler(t Tracker) *TaskHandler {
	return &TaskHandler{tracker: t, log: logging.Logger.WithField("component", "api")}
}

// NewRouter registers the task routes.
func NewRouter(h *TaskHandler) http.Handler {
	r := mux.NewRouter()
	r.Use(bearerToken)
	r.HandleFunc("/api/tasks", h.ListTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks", h.CreateTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/refresh", h.RefreshTasks).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{taskID}", h.ReplaceTask).Methods(http.MethodPut)
	r.HandleFunc("/api/tasks/{taskID}", h.PatchTask).Methods(http.MethodPatch)
	r.HandleFunc("/api/tasks/{taskID}", h.DeleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken hands the request's access token to the record backend's principal.
func bearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && tok != "" {
			r = r.WithContext(auth.WithToken(r.Context(), tok))
		}
		next.ServeHTTP(w, r)
	})
}

// ListTasks returns the current view. ?filter= selects a category,
// ?sort=asc|desc orders by completion date and ?wait=true blocks until the
// first load finishes.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := tracker.Query{Filter: view.ParseFilter(r.URL.Query().Get("filter"))}
	switch strings.ToLower(r.URL.Query().Get("sort")) {
	case "asc":
		q.Sort, q.Ascending = true, true
	case "desc":
		q.Sort = true
	}

	if r.URL.Query().Get("wait") == "true" {
		snap, err := h.tracker.Wait(r.Context())
		if err != nil {
			writeJSON(w, http.StatusGatewayTimeout, h.tracker.Render(snap, q))
			return
		}
		writeJSON(w, http.StatusOK, h.tracker.Render(snap, q))
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.View(q))
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var d model.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		h.writeError(w, &taskerr.ValidationError{Msg: "malformed JSON: " + err.Error()})
		return
	}
	task, err := h.tracker.Create(r.Context(), d)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// ReplaceTask overwrites every field of the task.
func (h *TaskHandler) ReplaceTask(w http.ResponseWriter, r *http.Request) {
	var d model.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		h.writeError(w, &taskerr.ValidationError{Msg: "malformed JSON: " + err.Error()})
		return
	}
	h.update(w, r, model.PatchFromDraft(d))
}

// PatchTask changes only the fields present in the body.
func (h *TaskHandler) PatchTask(w http.ResponseWriter, r *http.Request) {
	var p model.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(w, &taskerr.ValidationError{Msg: "malformed JSON: " + err.Error()})
		return
	}
	h.update(w, r, p)
}

func (h *TaskHandler) update(w http.ResponseWriter, r *http.Request, p model.Patch) {
	task, err := h.tracker.Update(r.Context(), mux.Vars(r)["taskID"], p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Delete(r.Context(), mux.Vars(r)["taskID"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) RefreshTasks(w http.ResponseWriter, r *http.Request) {
	h.tracker.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	available := h.tracker.Available()
	code := http.StatusOK
	if !available {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"available": available})
}

// statusFor maps a mutation failure to an HTTP status.
func statusFor(err error) int {
	var rw *taskerr.RemoteWriteError
	switch {
	case taskerr.IsValidation(err):
		return http.StatusBadRequest
	case taskerr.IsAuth(err):
		return http.StatusUnauthorized
	case taskerr.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, taskerr.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &rw):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *TaskHandler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.WithError(err).Warn("request failed")
	}
	writeJSON(w, code, map[string]string{"error": taskerr.Message(err)})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
