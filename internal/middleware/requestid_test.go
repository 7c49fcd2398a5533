package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Strob0t/OpsPilot/internal/logger"
)

func TestRequestID(t *testing.T) {
	long := strings.Repeat("a", maxIDLength+1)
	tests := []struct {
		name          string
		requestID     string
		correlationID string
		wantRequestID string // empty means a generated uuid
		wantCID       string
	}{
		{name: "generated"},
		{name: "propagated", requestID: "req-123", wantRequestID: "req-123"},
		{name: "oversized request id replaced", requestID: long},
		{name: "correlation id attached", correlationID: "c-42", wantCID: "c-42"},
		{name: "oversized correlation id ignored", correlationID: long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotRID, gotCID string
			h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				gotRID = logger.RequestID(r.Context())
				gotCID = logger.CorrelationID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.requestID != "" {
				req.Header.Set(headerRequestID, tt.requestID)
			}
			if tt.correlationID != "" {
				req.Header.Set(headerCorrelationID, tt.correlationID)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if hdr := rec.Header().Get(headerRequestID); hdr != gotRID {
				t.Errorf("response header %q != context id %q", hdr, gotRID)
			}
			if tt.wantRequestID != "" {
				if gotRID != tt.wantRequestID {
					t.Errorf("request id = %q, want %q", gotRID, tt.wantRequestID)
				}
			} else if _, err := uuid.Parse(gotRID); err != nil {
				t.Errorf("request id %q is not a uuid: %v", gotRID, err)
			}
			if gotCID != tt.wantCID {
				t.Errorf("correlation id = %q, want %q", gotCID, tt.wantCID)
			}
		})
	}
}
