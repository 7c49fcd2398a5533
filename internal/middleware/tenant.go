package middleware

import (
	"context"
	"net/http"
	"strings"
)

// DefaultTenantID is used when a request carries no usable X-Tenant-ID
// header. Policy falls back to the default profile for it.
const DefaultTenantID = "default"

type tenantCtxKey struct{}

// TenantID stores the X-Tenant-ID header in the request context. Blank or
// oversized values fall back to DefaultTenantID. Tenant resolution itself is
// done upstream; the value only selects a policy profile.
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := strings.TrimSpace(r.Header.Get(headerTenant))
		if tid == "" || len(tid) > maxIDLength {
			tid = DefaultTenantID
		}
		ctx := WithTenantID(r.Context(), tid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithTenantID returns a context carrying tid.
func WithTenantID(ctx context.Context, tid string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tid)
}

// TenantIDFromContext returns the tenant ID stored in ctx, or DefaultTenantID if absent.
func TenantIDFromContext(ctx context.Context) string {
	if tid, ok := ctx.Value(tenantCtxKey{}).(string); ok {
		return tid
	}
	return DefaultTenantID
}
