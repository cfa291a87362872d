package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/api/project/12":                       "/api/project/:id",
		"/api/project/12/participants":          "/api/project/:id/participants",
		"/api/project/12/participants/7":        "/api/project/:id/participants/:id",
		"/api/project/abc/participants":         "/api/project/abc/participants",
		"/api/administrative-activities?type=1": "/api/administrative-activities",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestObserveDecisionCountsOutcome(t *testing.T) {
	Init()
	before := testutil.ToFloat64(authzDecisions.WithLabelValues(OutcomeDenied))
	ObserveDecision(OutcomeDenied)
	after := testutil.ToFloat64(authzDecisions.WithLabelValues(OutcomeDenied))
	if after-before != 1 {
		t.Fatalf("expected denied counter to grow by 1, got %v", after-before)
	}
}

func TestInstrumentPassesStatusThrough(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/project/3", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestLoggerEmitsJSON(t *testing.T) {
	logger := Logger()
	original := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	LogRequest("request_complete", map[string]any{"status": 200})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "status"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
}
