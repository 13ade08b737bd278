package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/OFFIS-RIT/batchgraph/internal/metrics"
	mid "github.com/OFFIS-RIT/batchgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/batchgraph/pkg/common"
	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"
	"github.com/OFFIS-RIT/batchgraph/pkg/store/memory"
)

const masterKey = "master-key"

var jwtSecret = []byte("secret")

func testApp(t *testing.T) (*mid.App, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	runner, err := pipeline.NewRunner(pipeline.Params{Repo: repo, Config: pipeline.DefaultConfig()})
	if err != nil {
		t.Fatal(err)
	}
	app := &mid.App{
		Repo:         repo,
		Runner:       runner,
		MasterAPIKey: masterKey,
		Keyfunc: func(*jwt.Token) (any, error) {
			return jwtSecret, nil
		},
	}
	return app, repo
}

func seedEvents(t *testing.T, repo *memory.Repository) {
	t.Helper()
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	events := []common.Event{
		{ID: "e1", ResourceID: "w1", KitID: "k1", Activity: "A", Timestamp: t0},
		{ID: "e2", ResourceID: "w1", KitID: "k2", Activity: "A", Timestamp: t0.Add(time.Minute)},
		{ID: "e3", ResourceID: "w1", KitID: "k1", Activity: "B", Timestamp: t0.Add(10 * time.Minute)},
		{ID: "e4", ResourceID: "w1", KitID: "k2", Activity: "A", Timestamp: t0.Add(20 * time.Minute)},
	}
	if err := repo.SaveEvents(context.Background(), events); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestHealth(t *testing.T) {
	app, _ := testApp(t)
	rec := do(t, New(app, nil), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	app, _ := testApp(t)
	e := New(app, nil)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "no token", want: http.StatusUnauthorized},
		{name: "garbage", token: "nope", want: http.StatusUnauthorized},
		{name: "master key", token: masterKey, want: http.StatusOK},
		{name: "jwt viewer", token: signed(t, jwt.MapClaims{"sub": "u1"}), want: http.StatusOK},
		{name: "jwt without subject", token: signed(t, jwt.MapClaims{"role": "admin"}), want: http.StatusUnauthorized},
		{name: "jwt without view permission", token: signed(t, jwt.MapClaims{"sub": "u1", "permissions": []string{"run.create"}}), want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, e, http.MethodGet, "/api/resources", tt.token, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRunInlineAndRead(t *testing.T) {
	app, repo := testApp(t)
	seedEvents(t, repo)
	e := New(app, nil)

	viewer := signed(t, jwt.MapClaims{"sub": "u1"})
	if rec := do(t, e, http.MethodPost, "/api/runs", viewer, `{}`); rec.Code != http.StatusForbidden {
		t.Fatalf("viewer must not start runs, got %d", rec.Code)
	}

	rec := do(t, e, http.MethodPost, "/api/runs", masterKey, `{"inline":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run failed: %d %s", rec.Code, rec.Body.String())
	}
	var run struct {
		RunID     string             `json:"run_id"`
		Summaries []pipeline.Summary `json:"summaries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if run.RunID == "" || len(run.Summaries) != len(pipeline.Phases) {
		t.Fatalf("unexpected run response %+v", run)
	}

	rec = do(t, e, http.MethodGet, "/api/resources/w1/batches?date=2024-03-01", viewer, "")
	var batches struct {
		Batches []common.Batch `json:"batches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &batches); err != nil {
		t.Fatal(err)
	}
	// A(e1,e2) B(e3) A(e4)
	if len(batches.Batches) != 3 {
		t.Fatalf("expected 3 batches, got %+v", batches.Batches)
	}

	rec = do(t, e, http.MethodGet, "/api/resources/w1/batches?date=2024-03-02", viewer, "")
	_ = json.Unmarshal(rec.Body.Bytes(), &batches)
	if len(batches.Batches) != 0 {
		t.Fatalf("expected no batches on another day, got %d", len(batches.Batches))
	}

	rec = do(t, e, http.MethodGet, "/api/resources/w1/high-level-batches", viewer, "")
	var nodes struct {
		Nodes []common.HighLevelBatch `json:"high_level_batches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &nodes); err != nil {
		t.Fatal(err)
	}
	if len(nodes.Nodes) == 0 {
		t.Fatalf("expected high level batches, got none")
	}
}

func TestBadParameters(t *testing.T) {
	app, _ := testApp(t)
	e := New(app, nil)

	tests := []struct {
		method, target, body string
	}{
		{method: http.MethodGet, target: "/api/resources/w1/batches?date=01.03.2024"},
		{method: http.MethodGet, target: "/api/batches/abc/kit-edges"},
		{method: http.MethodPost, target: "/api/runs", body: `{"phase":"index"}`},
	}
	for _, tt := range tests {
		rec := do(t, e, tt.method, tt.target, masterKey, tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: status = %d, want 400", tt.method, tt.target, rec.Code)
		}
	}
}

func TestSnapshotWithoutExporter(t *testing.T) {
	app, _ := testApp(t)
	rec := do(t, New(app, nil), http.MethodPost, "/api/resources/w1/snapshots", masterKey, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	app, _ := testApp(t)
	e := New(app, metrics.New())

	do(t, e, http.MethodGet, "/health", "", "")
	rec := do(t, e, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := `batchgraph_http_requests_total{method="GET",route="/health",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics output misses %q", want)
	}
}
