package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOwnerScope_Success(t *testing.T) {
	var capturedOwnerID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedOwnerID = GetOwnerID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OwnerHeader, "  owner-789 ")
	w := httptest.NewRecorder()

	OwnerScope(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner-789", capturedOwnerID)
}

func TestOwnerScope_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing", "", "missing owner"},
		{"blank", "   ", "missing owner"},
		{"path separator", "owner/../other", "invalid owner"},
		{"too long", strings.Repeat("a", maxOwnerIDLength+1), "invalid owner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(OwnerHeader, tt.header)
			}
			w := httptest.NewRecorder()

			OwnerScope(handler).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.message)
		})
	}
}

func TestGetOwnerID(t *testing.T) {
	assert.Equal(t, "owner-123", GetOwnerID(WithOwnerID(context.Background(), "owner-123")))
	assert.Equal(t, "", GetOwnerID(context.Background()))
}
