package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rzpsarthak13/entity-creator/pkg/entitycreator"
)

// maxEventBytes bounds a single event body.
const maxEventBytes = 1 << 20

type server struct {
	client entitycreator.Client
	logger *slog.Logger
}

func newServer(client entitycreator.Client, logger *slog.Logger) *server {
	return &server{
		client: client,
		logger: logger.With("component", "http"),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /sessions", s.openSession)
	mux.HandleFunc("GET /sessions", s.listSessions)
	mux.HandleFunc("GET /sessions/{id}", s.getSession)
	mux.HandleFunc("POST /sessions/{id}/events", s.dispatch)
	mux.HandleFunc("DELETE /sessions/{id}", s.closeSession)
	mux.HandleFunc("GET /entities", s.listEntities)
	mux.HandleFunc("GET /entities/{name}", s.getEntity)
	mux.HandleFunc("DELETE /entities/{name}", s.deleteEntity)
	mux.HandleFunc("GET /changes", s.watchChanges)
	return mux
}

type sessionResponse struct {
	ID    string              `json:"id"`
	State entitycreator.State `json:"state"`
	Error string              `json:"error,omitempty"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"sessions":  len(s.client.Sessions()),
		"entities":  len(s.client.Entities()),
		"drainer": map[string]interface{}{
			"running": s.client.IsRunning(),
			"stats":   s.client.Stats(),
		},
	})
}

func (s *server) openSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	sess, err := s.client.OpenSession(r.Context(), req.ID)
	if err != nil {
		s.logger.Error("failed to open session", "session", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID(), State: sess.State()})
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.client.Sessions()})
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.client.Session(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, State: sess.State()})
}

func (s *server) dispatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := entitycreator.DecodeEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := s.client.Dispatch(r.Context(), id, ev)
	if errors.Is(err, entitycreator.ErrNotPersisted) {
		// Applied in memory; the caller still needs the new state.
		s.logger.Error("dispatch not persisted", "session", id, "kind", ev.Kind(), "error", err)
		writeJSON(w, http.StatusInternalServerError, sessionResponse{ID: id, State: state, Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.Warn("dispatch failed", "session", id, "kind", ev.Kind(), "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, State: state})
}

// closeSession closes a session. With ?purge=true its stored snapshot and
// journal are deleted too, and it need not be open.
func (s *server) closeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var err error
	if r.URL.Query().Get("purge") == "true" {
		err = s.client.PurgeSession(r.Context(), id)
	} else {
		err = s.client.CloseSession(id)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]*entitycreator.Entity{"entities": s.client.Entities()})
}

func (s *server) getEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := s.client.Entity(r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (s *server) deleteEntity(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.client.DeleteEntity(r.Context(), name); err != nil {
		s.logger.Warn("delete entity failed", "table", name, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// watchChanges streams entity changes as server-sent events. ?entity=name
// limits the stream to one table.
func (s *server) watchChanges(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	changes, cancel := s.client.Watch(r.URL.Query().Get("entity"))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				s.logger.Error("failed to marshal change", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", change.Kind, data)
			flusher.Flush()
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entitycreator.ErrInvalidEvent), errors.Is(err, entitycreator.ErrInvalidSchema):
		return http.StatusBadRequest
	case errors.Is(err, entitycreator.ErrSessionNotFound), errors.Is(err, entitycreator.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, entitycreator.ErrSessionClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
