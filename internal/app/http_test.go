package app

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telar/api/internal/backend"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	m := backend.NewMemory()
	t.Cleanup(func() { m.Close() })
	svc := New(testConfig(), m, nil)
	svc.Start()
	t.Cleanup(svc.Stop)

	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode %s %s response: %v", method, url, err)
	}
	return resp, payload
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/api/ready", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %v", resp.StatusCode, payload)
	}
	checks, _ := payload["checks"].(map[string]any)
	if checks == nil || checks["backend"] == nil {
		t.Errorf("missing backend check: %v", payload)
	}
	if checks["blocked"] != false {
		t.Errorf("healthy service must report blocked=false: %v", checks)
	}
}

func TestCreateListDeleteRecord(t *testing.T) {
	srv := newTestServer(t)

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/api/records",
		`{"date":"2024-01-05","machine":"WH1","shift":"morning","boss":"Garcia","operator":"Marta","meters":120}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create failed with %d: %v", resp.StatusCode, created)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("no identifier in response: %v", created)
	}

	waitFor(t, "record listed", func() bool {
		_, page := doJSON(t, http.MethodGet, srv.URL+"/api/records", "")
		records, _ := page["records"].([]any)
		return len(records) == 1
	})

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/records/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete failed with %d", resp.StatusCode)
	}
	waitFor(t, "record gone", func() bool {
		_, page := doJSON(t, http.MethodGet, srv.URL+"/api/records", "")
		records, _ := page["records"].([]any)
		return len(records) == 0
	})
}

func TestUpdateRecordByPath(t *testing.T) {
	srv := newTestServer(t)

	resp, updated := doJSON(t, http.MethodPut, srv.URL+"/api/records/rec_fixed",
		`{"date":"2024-01-05","machine":"WH2","shift":"night","boss":"Lopez","meters":50}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update failed with %d: %v", resp.StatusCode, updated)
	}
	if updated["id"] != "rec_fixed" {
		t.Errorf("path identifier not applied: %v", updated)
	}
}

func TestCreateRecordValidationError(t *testing.T) {
	srv := newTestServer(t)

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/api/records",
		`{"date":"2024-01-05","machine":"WH9","shift":"morning","boss":"Garcia"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, payload)
	}
	errObj, _ := payload["error"].(map[string]any)
	if errObj == nil || errObj["code"] != "INVALID_MACHINE" {
		t.Errorf("unexpected error payload: %v", payload)
	}
}

func TestCreateRecordBadJSON(t *testing.T) {
	srv := newTestServer(t)

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/api/records", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, payload)
	}
}

func TestVocabularyEndpoints(t *testing.T) {
	srv := newTestServer(t)

	_, payload := doJSON(t, http.MethodGet, srv.URL+"/api/vocabulary", "")
	comments, _ := payload["comments"].([]any)
	if len(comments) != 5 {
		t.Fatalf("expected 5 default comments, got %v", payload)
	}

	// Deleting a default reports the conflict.
	resp, payload := doJSON(t, http.MethodDelete, srv.URL+"/api/vocabulary/comments/Rotura", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %v", resp.StatusCode, payload)
	}

	// Grow the operator vocabulary through a record, then rename it.
	doJSON(t, http.MethodPost, srv.URL+"/api/records",
		`{"date":"2024-01-05","machine":"WH1","shift":"morning","boss":"Garcia","operator":"Marta","meters":10}`)
	waitFor(t, "operator present", func() bool {
		_, p := doJSON(t, http.MethodGet, srv.URL+"/api/vocabulary", "")
		ops, _ := p["operators"].([]any)
		return len(ops) == 1
	})

	resp, payload = doJSON(t, http.MethodPost, srv.URL+"/api/vocabulary/operators/rename",
		`{"old":"Marta","new":"Marta G."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename failed with %d: %v", resp.StatusCode, payload)
	}
	waitFor(t, "operator renamed", func() bool {
		_, p := doJSON(t, http.MethodGet, srv.URL+"/api/vocabulary", "")
		ops, _ := p["operators"].([]any)
		return len(ops) == 1 && ops[0] == "Marta G."
	})
}

func TestVocabularyDeleteEscapedValue(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/records",
		`{"date":"2024-01-05","machine":"WH1","shift":"morning","boss":"Garcia","operator":"Marta G.","meters":10}`)
	waitFor(t, "operator present", func() bool {
		_, p := doJSON(t, http.MethodGet, srv.URL+"/api/vocabulary", "")
		ops, _ := p["operators"].([]any)
		return len(ops) == 1
	})

	resp, payload := doJSON(t, http.MethodDelete, srv.URL+"/api/vocabulary/operators/Marta%20G.", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete failed with %d: %v", resp.StatusCode, payload)
	}
	waitFor(t, "operator removed", func() bool {
		_, p := doJSON(t, http.MethodGet, srv.URL+"/api/vocabulary", "")
		ops, _ := p["operators"].([]any)
		return len(ops) == 0
	})
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/records",
		`{"date":"2024-01-05","machine":"WH1","shift":"morning","boss":"Garcia","meters":100,"changes":2}`)
	waitFor(t, "record cached", func() bool {
		_, p := doJSON(t, http.MethodGet, srv.URL+"/api/records", "")
		records, _ := p["records"].([]any)
		return len(records) == 1
	})

	_, stats := doJSON(t, http.MethodGet, srv.URL+"/api/stats", "")
	if stats["totalMeters"] != float64(100) || stats["totalChanges"] != float64(2) {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestExportEndpointCSV(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/export?format=csv")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("unexpected content type %s", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".csv") {
		t.Errorf("unexpected disposition %s", cd)
	}
}

func TestClearEndpoint(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/records",
		`{"date":"2024-01-05","machine":"WH1","shift":"morning","boss":"Garcia","meters":10}`)
	waitFor(t, "record cached", func() bool {
		_, p := doJSON(t, http.MethodGet, srv.URL+"/api/records", "")
		records, _ := p["records"].([]any)
		return len(records) == 1
	})

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/api/records/clear", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear failed with %d: %v", resp.StatusCode, payload)
	}
	waitFor(t, "records cleared", func() bool {
		_, p := doJSON(t, http.MethodGet, srv.URL+"/api/records", "")
		records, _ := p["records"].([]any)
		return len(records) == 0
	})
}

func TestPushEventKeepsNewestWhenFull(t *testing.T) {
	// A slow client whose buffer fills must still end up with the latest
	// snapshot pending; older events are the ones discarded.
	events := make(chan sseEvent, 2)
	for i := 0; i < 5; i++ {
		pushEvent(events, sseEvent{name: "records", data: i})
	}

	var last any
	drained := 0
	for done := false; !done; {
		select {
		case ev := <-events:
			last = ev.data
			drained++
		default:
			done = true
		}
	}
	if drained != 2 {
		t.Fatalf("expected a full buffer of 2 events, drained %d", drained)
	}
	if last != 4 {
		t.Errorf("newest event was dropped: last pending is %v", last)
	}
}

func TestRecordStreamDeliversInitialEvents(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/records/stream", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %s", ct)
	}

	// Both subscriptions fire immediately, so the records snapshot and
	// the connectivity state arrive without any mutation.
	seen := map[string]bool{}
	reader := bufio.NewReader(resp.Body)
	for len(seen) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before initial events (saw %v): %v", seen, err)
		}
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			seen[name] = true
		}
	}
	if !seen["records"] || !seen["connectivity"] {
		t.Errorf("missing initial events: %v", seen)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/api/nothing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %v", resp.StatusCode, payload)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/records", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("unexpected allow-origin %s", origin)
	}
}
