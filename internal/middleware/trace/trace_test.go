package trace

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"finpulse/internal/log"
)

func TestMiddleware_RequestID(t *testing.T) {
	fixed := uuid.NewString()
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when missing", "", false},
		{"kept when valid", fixed, true},
		{"replaced when not a uuid", "<script>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			var ctxLogger *log.Logger
			m := NewMiddleware(log.Discard(), func(*http.Request) string { return "1.2.3.4" })
			h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
				ctxLogger = log.FromContext(r.Context())
				w.WriteHeader(http.StatusTeapot)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("request id %q is not a uuid", seen)
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("request id = %q, want %q", seen, tt.incoming)
			}
			if rec.Header().Get(HeaderRequestID) != seen {
				t.Errorf("response header = %q, want %q", rec.Header().Get(HeaderRequestID), seen)
			}
			if ctxLogger == nil || ctxLogger.Component() != log.ComponentTrace {
				t.Errorf("request logger missing from context")
			}
			if rec.Code != http.StatusTeapot {
				t.Errorf("status = %d", rec.Code)
			}
			if m.GetMetrics().TotalRequests != 1 {
				t.Errorf("TotalRequests = %d", m.GetMetrics().TotalRequests)
			}
		})
	}
}

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	if err := http.NewResponseController(rw).Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}
