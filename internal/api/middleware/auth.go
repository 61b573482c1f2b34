package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/manga-api/internal/api/shared"
	"github.com/phrazzld/manga-api/internal/service/auth"
)

// AdminAuth restricts routes to holders of an admin token.
type AdminAuth struct {
	jwtService auth.JWTService
}

// NewAdminAuth creates an AdminAuth validating tokens with jwtService.
func NewAdminAuth(jwtService auth.JWTService) *AdminAuth {
	return &AdminAuth{jwtService: jwtService}
}

// BearerToken returns the token from an "Authorization: Bearer" header, or
// from the token query parameter when no header is sent.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// RequireAdmin rejects requests without a valid admin token and records the
// token subject on the request context.
func (m *AdminAuth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.jwtService.ValidateAdminToken(r.Context(), BearerToken(r))
		if err != nil {
			status, msg := http.StatusUnauthorized, "Invalid token"
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				msg = "Admin token required"
			case errors.Is(err, auth.ErrExpiredToken):
				msg = "Token expired"
			case errors.Is(err, auth.ErrNotAdmin):
				status, msg = http.StatusForbidden, "Admin role required"
			}
			shared.RespondWithErrorAndLog(w, r, status, msg, err, shared.WithElevatedLogLevel())
			return
		}

		ctx := shared.SetAdminSubject(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
