package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	WalletID string
	DeviceID string
	JTI      string
}

type contextKeyWalletID struct{}
type contextKeyDeviceID struct{}

var (
	ContextKeyWalletID = contextKeyWalletID{}
	ContextKeyDeviceID = contextKeyDeviceID{}
)

// GetWalletID retrieves the authenticated wallet ID from the context
func GetWalletID(ctx context.Context) string {
	walletID, ok := ctx.Value(ContextKeyWalletID).(string)
	if !ok {
		return ""
	}
	return walletID
}

func GetDeviceID(ctx context.Context) string {
	deviceID, ok := ctx.Value(ContextKeyDeviceID).(string)
	if !ok {
		return ""
	}
	return deviceID
}

// WithClaims returns a context carrying the authenticated identity. Used by
// RequireAuth and by handler tests.
func WithClaims(ctx context.Context, claims *JWTClaims) context.Context {
	ctx = context.WithValue(ctx, ContextKeyWalletID, claims.WalletID)
	return context.WithValue(ctx, ContextKeyDeviceID, claims.DeviceID)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := middleware.GetReqID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
		})
	}
}
