package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	t.Run("valid inbound id is kept", func(t *testing.T) {
		inbound := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", inbound)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got != inbound {
			t.Fatalf("context id = %q, want %q", got, inbound)
		}
		if echoed := rec.Header().Get("X-Request-ID"); echoed != inbound {
			t.Fatalf("echoed id = %q, want %q", echoed, inbound)
		}
	})

	t.Run("non-uuid inbound id is replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "../../etc/passwd")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got == "../../etc/passwd" || got == "" {
			t.Fatalf("context id = %q, want a generated uuid", got)
		}
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("context id %q is not a uuid: %v", got, err)
		}
	})
}
