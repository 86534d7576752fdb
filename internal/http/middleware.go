package http

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const (
	clientSessionKey ctxKey = "client_session"

	ClientSessionHeader = "X-Client-Session"
)

// ClientSessionMiddleware requires every request to name its client session
// (one browser tab or terminal client).
func ClientSessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ClientSessionHeader))
		if id == "" {
			respondError(w, http.StatusBadRequest, "missing_client_session", ClientSessionHeader+" header is required")
			return
		}
		ctx := context.WithValue(r.Context(), clientSessionKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getClientSession(ctx context.Context) string {
	if id, ok := ctx.Value(clientSessionKey).(string); ok {
		return id
	}
	return ""
}

// bearerToken returns the raw token from the Authorization header. It is only a
// claims hint for storage namespacing; the issuing server does the real checks.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
