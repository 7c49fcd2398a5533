// Package middleware provides HTTP middleware for OpsPilot.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/OpsPilot/internal/logger"
)

const (
	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
	maxIDLength         = 128
)

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. The ID is stored in the context and set
// on the response header. An X-Correlation-ID header, when present, is
// attached to the context so pipeline logs for the request carry it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxIDLength {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		if cid := r.Header.Get(headerCorrelationID); cid != "" && len(cid) <= maxIDLength {
			ctx = logger.WithCorrelationID(ctx, cid)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
