package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/wirechat/internal/server/auth"
)

type ctxKey int

const ctxKeyOwnerID ctxKey = iota

// ownerID returns the authenticated principal stored by withAuth.
func ownerID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyOwnerID).(string)
	return id
}

// withAuth resolves the bearer token to an owner id and stores it in the
// request context. Websocket clients that cannot set headers may pass the
// token as a query parameter instead.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		userID, err := auth.GetUserIDFromToken(token, s.jwtSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyOwnerID, userID)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
