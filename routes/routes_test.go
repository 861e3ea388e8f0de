package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/quii/vue-fast-sub001/handlers"
	"github.com/quii/vue-fast-sub001/models"
	"github.com/quii/vue-fast-sub001/realtime"
	"github.com/quii/vue-fast-sub001/repositories"
	"github.com/quii/vue-fast-sub001/services"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)
	svc := services.NewShootService(repositories.NewMemoryShootRepository(nil), hub, logger)

	router := chi.NewRouter()
	SetupRoutes(router, logger, []string{"*"},
		handlers.NewShootHandler(svc),
		handlers.NewWebSocketHandler(hub, realtime.NewDispatcher(svc, hub, logger), nil, logger),
	)
	return router
}

type apiResponse struct {
	Success bool          `json:"success"`
	Code    string        `json:"code"`
	Shoot   *models.Shoot `json:"shoot"`
	Error   string        `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, resp
}

func TestShootLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	status, created := do(t, router, http.MethodPost, "/shoots", `{"creatorName":"Alice"}`)
	if status != http.StatusCreated || !created.Success || len(created.Code) != 4 {
		t.Fatalf("create: status %d, body %+v", status, created)
	}
	base := "/shoots/" + created.Code

	status, got := do(t, router, http.MethodGet, base, "")
	if status != http.StatusOK || got.Shoot.CreatorName != "Alice" || len(got.Shoot.Participants) != 0 {
		t.Fatalf("get: status %d, body %+v", status, got)
	}

	if status, _ := do(t, router, http.MethodPost, base+"/join", `{"archerName":"Bob","roundName":"Windsor"}`); status != http.StatusOK {
		t.Fatalf("join Bob: status %d", status)
	}
	if status, _ := do(t, router, http.MethodPost, base+"/join", `{"archerName":"Carl","roundName":"Windsor"}`); status != http.StatusOK {
		t.Fatalf("join Carl: status %d", status)
	}

	status, scored := do(t, router, http.MethodPut, base+"/score", `{"archerName":"Bob","totalScore":"42","roundName":"Windsor","arrowsShot":12}`)
	if status != http.StatusOK {
		t.Fatalf("score: status %d, body %+v", status, scored)
	}
	if p := scored.Shoot.FindParticipant("Bob"); p.TotalScore != 42 || p.CurrentPosition != 1 {
		t.Fatalf("unexpected Bob %+v", p)
	}

	status, finished := do(t, router, http.MethodPut, base+"/finish", `{"archerName":"Carl","totalScore":50,"roundName":"Windsor","arrowsShot":18}`)
	if status != http.StatusOK || !finished.Shoot.FindParticipant("Carl").Finished {
		t.Fatalf("finish: status %d, body %+v", status, finished)
	}
	if p := finished.Shoot.FindParticipant("Carl"); p.CurrentPosition != 1 {
		t.Fatalf("expected Carl to lead, got %d", p.CurrentPosition)
	}

	status, left := do(t, router, http.MethodDelete, base+"/archer/Bob", "")
	if status != http.StatusOK || !left.Success {
		t.Fatalf("leave: status %d, body %+v", status, left)
	}
	_, got = do(t, router, http.MethodGet, base, "")
	if len(got.Shoot.Participants) != 1 || got.Shoot.Participants[0].CurrentPosition != 1 {
		t.Fatalf("expected only Carl at 1, got %+v", got.Shoot.Participants)
	}
}

func TestHTTPErrorStatuses(t *testing.T) {
	router := newTestRouter(t)
	_, created := do(t, router, http.MethodPost, "/shoots", `{"creatorName":"Alice"}`)
	base := "/shoots/" + created.Code
	do(t, router, http.MethodPost, base+"/join", `{"archerName":"Bob","roundName":"Windsor"}`)
	do(t, router, http.MethodPost, base+"/join", `{"archerName":"Dana","roundName":"Windsor"}`)
	do(t, router, http.MethodPut, base+"/finish", `{"archerName":"Dana","totalScore":10,"arrowsShot":6}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"create without creator", http.MethodPost, "/shoots", `{"creatorName":""}`, http.StatusBadRequest},
		{"create with unknown field", http.MethodPost, "/shoots", `{"creator":"Alice"}`, http.StatusBadRequest},
		{"get unknown", http.MethodGet, "/shoots/0000", "", http.StatusNotFound},
		{"join unknown", http.MethodPost, "/shoots/0000/join", `{"archerName":"Bob"}`, http.StatusNotFound},
		{"join duplicate", http.MethodPost, base + "/join", `{"archerName":"Bob"}`, http.StatusConflict},
		{"join without name", http.MethodPost, base + "/join", `{"archerName":" "}`, http.StatusBadRequest},
		{"score missing arrows", http.MethodPut, base + "/score", `{"archerName":"Bob","totalScore":10}`, http.StatusBadRequest},
		{"score negative arrows", http.MethodPut, base + "/score", `{"archerName":"Bob","totalScore":10,"arrowsShot":-1}`, http.StatusBadRequest},
		{"score non-numeric arrows", http.MethodPut, base + "/score", `{"archerName":"Bob","totalScore":10,"arrowsShot":"six"}`, http.StatusBadRequest},
		{"score unknown archer", http.MethodPut, base + "/score", `{"archerName":"Zed","totalScore":10,"arrowsShot":6}`, http.StatusNotFound},
		{"score finished archer", http.MethodPut, base + "/score", `{"archerName":"Dana","totalScore":20,"arrowsShot":12}`, http.StatusConflict},
		{"leave unknown archer", http.MethodDelete, base + "/archer/Zed", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := do(t, router, tt.method, tt.path, tt.body)
			if status != tt.want {
				t.Fatalf("expected %d, got %d (%+v)", tt.want, status, resp)
			}
			if resp.Success || resp.Error == "" {
				t.Fatalf("expected error body, got %+v", resp)
			}
		})
	}
}

func TestHealthAndDocs(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("doc.json: %d", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("doc.json is not JSON: %v", err)
	}
	if _, ok := doc["paths"].(map[string]any)["/shoots/{code}/score"]; !ok {
		t.Fatal("expected score route in API document")
	}
}
