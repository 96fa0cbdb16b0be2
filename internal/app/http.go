package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"telar/api/internal/connectivity"
	"telar/api/internal/export"
	"telar/api/internal/record"
	"telar/api/internal/view"
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

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/api/health":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && path == "/api/ready":
		s.handleReady(w, r)

	case r.Method == http.MethodGet && path == "/api/records":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		writeJSON(w, http.StatusOK, s.service.ListRecords(filterFromQuery(r), page))

	case r.Method == http.MethodGet && path == "/api/records/stream":
		s.handleRecordStream(w, r)

	case r.Method == http.MethodPost && path == "/api/records/clear":
		s.handleClearAll(w, r)

	case r.Method == http.MethodPost && path == "/api/records":
		s.handleSaveRecord(w, r, "")

	case r.Method == http.MethodPut && strings.HasPrefix(path, "/api/records/"):
		s.handleSaveRecord(w, r, strings.TrimPrefix(path, "/api/records/"))

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/api/records/"):
		id := strings.TrimPrefix(path, "/api/records/")
		if err := s.service.DeleteRecord(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && path == "/api/vocabulary":
		comments, operators := s.service.Vocabulary()
		writeJSON(w, http.StatusOK, map[string]any{"comments": comments, "operators": operators})

	case r.Method == http.MethodGet && path == "/api/vocabulary/stream":
		s.handleVocabularyStream(w, r)

	case r.Method == http.MethodPost && strings.HasPrefix(path, "/api/vocabulary/") && strings.HasSuffix(path, "/rename"):
		kind := strings.TrimSuffix(strings.TrimPrefix(path, "/api/vocabulary/"), "/rename")
		s.handleRename(w, r, kind)

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/api/vocabulary/"):
		s.handleRemoveVocabulary(w, r, strings.TrimPrefix(path, "/api/vocabulary/"))

	case r.Method == http.MethodGet && path == "/api/stats":
		writeJSON(w, http.StatusOK, s.service.Stats(filterFromQuery(r)))

	case r.Method == http.MethodGet && path == "/api/export":
		s.handleExport(w, r)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route", path)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, 5*time.Second)
	defer cancel()

	state := s.service.Connectivity()
	checks := map[string]any{
		"connectivity": state,
		"blocked":      state.Blocked(),
	}
	status := http.StatusOK
	ok := true
	if err := s.service.Ping(ctx); err != nil {
		ok = false
		status = http.StatusServiceUnavailable
		checks["backend"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["backend"] = map[string]any{"status": "ok"}
	}
	writeJSON(w, status, map[string]any{"ok": ok, "checks": checks})
}

func (s *HTTPServer) handleSaveRecord(w http.ResponseWriter, r *http.Request, id string) {
	var in RecordInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body", err.Error())
		return
	}
	if id != "" {
		in.ID = id
	}
	saved, err := s.service.SaveRecord(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleClearAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if err := s.service.ClearAll(r.Context(), body.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRename(w http.ResponseWriter, r *http.Request, kind string) {
	var body struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body", err.Error())
		return
	}
	if err := s.service.RenameVocabularyEntry(r.Context(), kind, body.Old, body.New); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRemoveVocabulary(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		writeError(w, http.StatusBadRequest, "BAD_PATH", "expected /api/vocabulary/{kind}/{value}", rest)
		return
	}
	value, err := url.PathUnescape(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_PATH", "invalid value encoding", parts[1])
		return
	}
	if err := s.service.RemoveVocabularyEntry(r.Context(), parts[0], value); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatCSV
	}
	result, err := s.service.ExportRecords(filterFromQuery(r), format)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

type sseEvent struct {
	name string
	data any
}

// pushEvent enqueues without ever losing the newest event: when the buffer
// is full the oldest pending event is discarded to make room. A slow client
// skips intermediate snapshots but always receives the latest one.
func pushEvent(events chan sseEvent, ev sseEvent) {
	for {
		select {
		case events <- ev:
			return
		default:
			select {
			case <-events:
			default:
			}
		}
	}
}

// handleRecordStream pushes every record snapshot to the client as a
// server-sent event. Subscription errors ride the same stream as "error"
// events (an empty message meaning restored), connectivity transitions as
// "connectivity" events.
func (s *HTTPServer) handleRecordStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "NO_STREAM", "streaming unsupported", nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	events := make(chan sseEvent, 8)
	unsub := s.service.SubscribeRecords(
		func(records []record.Record) {
			pushEvent(events, sseEvent{name: "records", data: records})
		},
		func(msg string) {
			pushEvent(events, sseEvent{name: "error", data: map[string]string{"message": msg}})
		},
	)
	defer unsub()
	unsubConn := s.service.SubscribeConnectivity(func(state connectivity.State) {
		pushEvent(events, sseEvent{name: "connectivity", data: state})
	})
	defer unsubConn()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := writeSSE(w, ev.name, ev.data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) handleVocabularyStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "NO_STREAM", "streaming unsupported", nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	type both struct {
		Comments  []string `json:"comments"`
		Operators []string `json:"operators"`
	}
	events := make(chan sseEvent, 8)
	unsub := s.service.SubscribeVocabulary(func(comments, operators []string) {
		pushEvent(events, sseEvent{name: "vocabulary", data: both{Comments: comments, Operators: operators}})
	})
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := writeSSE(w, ev.name, ev.data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func filterFromQuery(r *http.Request) view.FilterState {
	q := r.URL.Query()
	return view.FilterState{
		From:     q.Get("from"),
		To:       q.Get("to"),
		Machine:  q.Get("machine"),
		Boss:     q.Get("boss"),
		Operator: q.Get("operator"),
	}
}

func writeSSE(w http.ResponseWriter, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("app: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message, "details": details},
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var derr *DomainError
	if errors.As(err, &derr) {
		writeError(w, derr.Status, derr.Code, derr.Message, derr.Details)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}

func contextWithTimeout(r *http.Request, d time.Duration) (ctx context.Context, cancel func()) {
	return context.WithTimeout(r.Context(), d)
}
