package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/PushRelay/internal/dedup"
	"github.com/BTreeMap/PushRelay/internal/detect"
	"github.com/BTreeMap/PushRelay/internal/messaging"
	"github.com/BTreeMap/PushRelay/internal/models"
	"github.com/BTreeMap/PushRelay/internal/monitor"
	"github.com/BTreeMap/PushRelay/internal/store"
	"github.com/BTreeMap/PushRelay/internal/testutil"
)

// newTestServer assembles a server over a mock platform with one forwardable
// message already relayed.
func newTestServer(t *testing.T, opts ...Option) (*Server, *messaging.MockService) {
	t.Helper()
	svc := messaging.NewMockService()
	svc.AddConversation(models.Conversation{ID: "conv-1", Kind: models.KindOneOnOne})
	svc.AddMessage("conv-1", models.Message{
		ID:        "m1",
		Sender:    "Alice",
		Content:   "push job-42",
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	})

	det, err := detect.NewPatternDetector([]string{detect.DefaultPattern})
	if err != nil {
		t.Fatalf("NewPatternDetector failed: %v", err)
	}
	guard := dedup.NewGuard(nil)
	mon, err := monitor.NewMonitor(svc, det, guard, store.NewInMemoryStore(),
		monitor.WithTarget("target-conv"), monitor.WithDisplayName("Push Bot"))
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	if err := mon.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	base := []Option{WithPatternDetector(det)}
	return NewServer(mon, guard, append(base, opts...)...), svc
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	var health map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", health["status"])
	}
	if health["forwarded_jobs"] != float64(1) {
		t.Errorf("forwarded_jobs = %v, want 1", health["forwarded_jobs"])
	}
}

func TestHealthHandlerMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "health POST")
}

func TestStatusHandler(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "status")
	response := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("result is %T, want object", response["result"])
	}
	if result["target"] != "target-conv" {
		t.Errorf("target = %v, want target-conv", result["target"])
	}
	monStatus, ok := result["monitor"].(map[string]interface{})
	if !ok {
		t.Fatalf("monitor is %T, want object", result["monitor"])
	}
	if monStatus["cycles"] != float64(1) {
		t.Errorf("cycles = %v, want 1", monStatus["cycles"])
	}
	if monStatus["messages_forwarded"] != float64(1) {
		t.Errorf("messages_forwarded = %v, want 1", monStatus["messages_forwarded"])
	}
}

func TestPatternsHandlerList(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/patterns", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "patterns list")
	response := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	patterns, ok := response["result"].([]interface{})
	if !ok {
		t.Fatalf("result is %T, want array", response["result"])
	}
	if len(patterns) != 1 || patterns[0] != detect.DefaultPattern {
		t.Errorf("patterns = %v, want the default pattern", patterns)
	}
}

func TestPatternsHandlerAdd(t *testing.T) {
	s, _ := newTestServer(t)

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/patterns", models.PatternRequest{Pattern: `(?i)deploy\s+(\S+)`})
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "patterns add")
	if got := len(s.patterns.Patterns()); got != 2 {
		t.Errorf("pattern count = %d, want 2", got)
	}
}

func TestPatternsHandlerRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"empty pattern", `{"pattern":""}`},
		{"invalid regex", `{"pattern":"push [unclosed"}`},
		{"no capturing group", `{"pattern":"push \\S+"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/patterns", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, req)
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
		})
	}
}

func TestPatternsHandlerWithoutDetector(t *testing.T) {
	svc := messaging.NewMockService()
	det, err := detect.NewPatternDetector([]string{detect.DefaultPattern})
	if err != nil {
		t.Fatalf("NewPatternDetector failed: %v", err)
	}
	guard := dedup.NewGuard(nil)
	mon, err := monitor.NewMonitor(svc, det, guard, store.NewInMemoryStore(), monitor.WithTarget("target-conv"))
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	s := NewServer(mon, guard)

	req := httptest.NewRequest(http.MethodGet, "/patterns", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "patterns without detector")
}

func TestForwardedHandler(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/forwarded", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "forwarded")
	response := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	records, ok := response["result"].([]interface{})
	if !ok {
		t.Fatalf("result is %T, want array", response["result"])
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 forward record, got %d", len(records))
	}
	rec, ok := records[0].(map[string]interface{})
	if !ok {
		t.Fatalf("record is %T, want object", records[0])
	}
	if rec["message_id"] != "m1" || rec["job_id"] != "job-42" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestServerStartAndStop(t *testing.T) {
	s, _ := newTestServer(t, WithAddr("127.0.0.1:0"))

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
