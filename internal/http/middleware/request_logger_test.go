package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":"declined"}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/create-payment-intent", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	var entry map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		_ = json.Unmarshal(scanner.Bytes(), &entry)
	}
	if entry["msg"] != "request completed" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["status"] != float64(http.StatusPaymentRequired) {
		t.Fatalf("expected status 402 in log, got %v", entry["status"])
	}
	if entry["request_id"] != "req-42" {
		t.Fatalf("expected request id in log, got %v", entry["request_id"])
	}
}
