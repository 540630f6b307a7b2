package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloo-solutions/closerbrain/internal/api"
)

type contextKey string

const OwnerIDKey contextKey = "owner_id"

// OwnerHeader carries the authenticated owner as resolved by the gateway in front of
// this service.
const OwnerHeader = "X-Owner-ID"

const maxOwnerIDLength = 128

// OwnerScope rejects requests without an owner and stores the owner in the context.
// Every repository lookup downstream is scoped to this value.
func OwnerScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if ownerID == "" {
			api.Error(w, http.StatusUnauthorized, "missing owner")
			return
		}
		if len(ownerID) > maxOwnerIDLength || strings.ContainsAny(ownerID, "/\\") {
			api.Error(w, http.StatusUnauthorized, "invalid owner")
			return
		}

		ctx := context.WithValue(r.Context(), OwnerIDKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetOwnerID(ctx context.Context) string {
	ownerID, _ := ctx.Value(OwnerIDKey).(string)
	return ownerID
}

// WithOwnerID returns a copy of ctx scoped to ownerID.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, OwnerIDKey, ownerID)
}
