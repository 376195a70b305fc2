package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mtlprog/pms/internal/auth"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/handler/dto"
)

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Authenticate validates the Bearer token and adds the principal to the request context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				RespondError(w, r, err)
				return
			}

			principal, err := verifier.Verify(token)
			if err != nil {
				slog.Debug("rejected bearer token", "error", err, "path", r.URL.Path)
				RespondError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole lets through only principals holding role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.FromContext(r.Context())
			if !ok {
				RespondError(w, r, domain.ErrUnauthenticated)
				return
			}
			if !principal.HasRole(role) {
				slog.Warn("role check failed",
					"user", principal.Name(),
					"required_role", role,
					"path", r.URL.Path,
				)
				RespondError(w, r, fmt.Errorf("%w: %s role required", domain.ErrForbidden, role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", domain.ErrUnauthenticated)
	}

	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "bearer") {
		return "", fmt.Errorf("%w: invalid authorization header format", domain.ErrUnauthenticated)
	}
	return fields[1], nil
}

// RespondError writes err as the standard JSON error body.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := dto.MapDomainError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(dto.NewErrorResponse(code, message, TraceID(r.Context()))); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
