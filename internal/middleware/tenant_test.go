package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/OpsPilot/internal/middleware"
)

func TestTenantID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"from header", "ops-team", "ops-team"},
		{"trimmed", "  ops-team ", "ops-team"},
		{"missing", "", middleware.DefaultTenantID},
		{"blank", "   ", middleware.DefaultTenantID},
		{"oversized", strings.Repeat("x", 200), middleware.DefaultTenantID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := middleware.TenantID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = middleware.TenantIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Fatalf("tenant = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTenantIDFromContextMissing(t *testing.T) {
	if got := middleware.TenantIDFromContext(context.Background()); got != middleware.DefaultTenantID {
		t.Fatalf("expected default tenant, got %s", got)
	}
	ctx := middleware.WithTenantID(context.Background(), "acme")
	if got := middleware.TenantIDFromContext(ctx); got != "acme" {
		t.Fatalf("tenant = %s, want acme", got)
	}
}
