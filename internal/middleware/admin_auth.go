package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/teslaelectricidad/teslabot/internal/audit"
)

// AdminAuth checks "Authorization: Bearer <token>" against a bcrypt hash of
// the admin token. An empty hash rejects every request.
type AdminAuth struct {
	tokenHash []byte
	audit     *audit.Logger
	logger    *zap.Logger
}

// NewAdminAuth creates an AdminAuth for the given bcrypt hash.
func NewAdminAuth(tokenHash string, logger *zap.Logger) *AdminAuth {
	return &AdminAuth{
		tokenHash: []byte(tokenHash),
		audit:     audit.NewLogger(logger),
		logger:    logger,
	}
}

// Check reports whether token matches the configured hash.
func (a *AdminAuth) Check(token string) bool {
	if len(a.tokenHash) == 0 || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)) == nil
}

// Middleware rejects requests without a valid admin token with 401.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := bearerToken(r)
		if a.Check(token) {
			a.audit.AdminAccessGranted(ctx, getClientIP(r), r.UserAgent(), GetRequestID(ctx), r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		reason := "invalid token"
		if token == "" {
			reason = "missing token"
		}
		a.audit.AdminAccessDenied(ctx, getClientIP(r), r.UserAgent(), GetRequestID(ctx), r.Method, r.URL.Path, reason)
		w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"authentication required"}}`))
	})
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
