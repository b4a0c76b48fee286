package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// draftsServer is an in-memory drafts service speaking the REST contract.
type draftsServer struct {
	mu     sync.Mutex
	drafts map[string]map[string]any
	order  []string
}

func (s *draftsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/drafts/")
	switch {
	case r.Method == http.MethodPost && path == "create":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		id := fmt.Sprintf("d%d", len(s.order)+1)
		body["id"] = id
		body["status"] = "unvalidated"
		s.drafts[id] = body
		s.order = append(s.order, id)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": body})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "user/"):
		ids := []string{}
		for _, id := range s.order {
			if _, ok := s.drafts[id]; ok {
				ids = append(ids, id)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"drafts": ids})
	case r.Method == http.MethodGet:
		d, ok := s.drafts[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": "Draft not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"draft": d})
	case r.Method == http.MethodDelete:
		if _, ok := s.drafts[path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": "Draft not found"})
			return
		}
		delete(s.drafts, path)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	full := append([]string{"draftcal", "--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...)
	err := app.Run(full)
	return out.String(), err
}

func setupServer(t *testing.T) {
	t.Helper()
	server := httptest.NewServer(&draftsServer{drafts: make(map[string]map[string]any)})
	t.Cleanup(server.Close)
	t.Setenv("DRAFTS_API_URL", server.URL)
	t.Setenv("DRAFTS_USER_ID", "u1")
	t.Setenv("LOG_LEVEL", "error")
}

func TestCreateListDelete(t *testing.T) {
	setupServer(t)

	out, err := runApp(t, "create", "--title", "Standup", "--start", "2026-03-02T09:00:00Z",
		"--end", "2026-03-02T09:15:00Z", "--location", "Room A", "--attendee", "u2", "--tag", "work")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, `"_id": "d1"`) {
		t.Errorf("create output missing id:\n%s", out)
	}

	out, err = runApp(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "d1") || !strings.Contains(out, "Standup") {
		t.Errorf("list output:\n%s", out)
	}

	if _, err := runApp(t, "delete", "nope"); err == nil || !strings.Contains(err.Error(), "Draft not found") {
		t.Errorf("delete missing: err = %v", err)
	}
	if _, err := runApp(t, "delete", "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	out, err = runApp(t, "list", "--json")
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected empty list, got:\n%s", out)
	}
}

func TestExport(t *testing.T) {
	setupServer(t)

	if _, err := runApp(t, "create", "--title", "Review", "--start", "2026-03-02T14:00:00Z", "--end", "2026-03-02T15:00:00Z"); err != nil {
		t.Fatalf("create: %v", err)
	}
	out, err := runApp(t, "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "BEGIN:VEVENT") || !strings.Contains(out, "SUMMARY:Review") {
		t.Errorf("export output:\n%s", out)
	}
}

func TestShowAndMissingID(t *testing.T) {
	setupServer(t)

	if _, err := runApp(t, "show"); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := runApp(t, "show", "nope"); err == nil {
		t.Error("expected error for unknown draft")
	}
}

func TestUpdateRequiresFields(t *testing.T) {
	setupServer(t)

	if _, err := runApp(t, "update", "d1"); err == nil || !strings.Contains(err.Error(), "nothing to update") {
		t.Errorf("err = %v", err)
	}
}

func TestIntervalsMustBePositive(t *testing.T) {
	setupServer(t)

	tests := []struct {
		name string
		args []string
		flag string
	}{
		{"publish watch zero", []string{"publish", "--watch", "0"}, "--watch"},
		{"publish watch negative", []string{"publish", "--watch=-5"}, "--watch"},
		{"serve refresh zero", []string{"serve", "--addr", "127.0.0.1:0", "--refresh", "0"}, "--refresh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.flag) {
				t.Errorf("err = %v, want %s usage error", err, tt.flag)
			}
		})
	}
}
