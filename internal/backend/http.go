package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/search"
	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthz" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/readyz" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleList(w, r, parts[0])
	case len(parts) == 1 && r.Method == http.MethodPost:
		s.handleCreate(w, r, parts[0])
	case len(parts) == 2 && r.Method == http.MethodGet:
		s.handleGet(w, r, parts[0], parts[1])
	case len(parts) == 2 && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		s.handleSaveTitle(w, r, parts[0], parts[1])
	case len(parts) == 3 && parts[2] == "yjs-update" && r.Method == http.MethodPatch:
		s.handleSaveSnapshot(w, r, parts[0], parts[1])
	case len(parts) == 3 && parts[2] == "history" && r.Method == http.MethodGet:
		s.handleHistory(w, r, parts[0], parts[1])
	case len(parts) == 4 && parts[2] == "history" && r.Method == http.MethodGet:
		s.handleSnapshotAt(w, r, parts[0], parts[1], parts[3])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request, collection string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entities, err := s.service.ListEntities(r.Context(), collection, limit)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request, collection string) {
	var input CreateEntityInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	entity, err := s.service.CreateEntity(r.Context(), collection, input)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entity)
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request, collection, id string) {
	entity, err := s.service.GetEntity(r.Context(), collection, id)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (s *HTTPServer) handleSaveTitle(w http.ResponseWriter, r *http.Request, collection, id string) {
	var input struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.SaveTitle(r.Context(), collection, id, input.Title); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSaveSnapshot(w http.ResponseWriter, r *http.Request, collection, id string) {
	var input struct {
		YjsUpdate string `json:"yjsUpdate"`
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.SaveSnapshot(r.Context(), collection, id, input.YjsUpdate); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, collection, id string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	versions, err := s.service.History(r.Context(), collection, id, limit)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *HTTPServer) handleSnapshotAt(w http.ResponseWriter, r *http.Request, collection, id, hash string) {
	encoded, err := s.service.SnapshotAt(r.Context(), collection, id, hash)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"yjsUpdate": encoded})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	resp := s.service.Search(r.Context(), search.Query{
		Text:  query.Get("q"),
		Kind:  query.Get("kind"),
		Limit: limit,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("backend: %v", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
