package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"bugtracker.org/internal/audit"
	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/ids"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	authCookie = "authToken"
)

// Authenticate attaches the identity carried by a bearer header or the authToken
// cookie. It never rejects; routes decide through guards. A verified cookie is
// re-set so its max-age slides.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, fromCookie, err := tokenFromRequest(r)
		if err != nil {
			a.log.Debug("credentials ignored",
				zap.String("request_id", audit.RequestIDFromContext(r.Context())),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.tokens.Verify(token)
		if err != nil {
			a.log.Debug("token rejected",
				zap.String("request_id", audit.RequestIDFromContext(r.Context())),
				zap.Bool("cookie", fromCookie),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if fromCookie {
			a.setAuthCookie(w, token)
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	})
}

// tokenFromRequest prefers the Authorization header. A header that is present but
// not a bearer token is an error and the cookie is not consulted.
func tokenFromRequest(r *http.Request) (token string, fromCookie bool, err error) {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		token, err := extractBearerToken(header)
		return token, false, err
	}
	c, err := r.Cookie(authCookie)
	if err != nil {
		return "", false, nil
	}
	return strings.TrimSpace(c.Value), true, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func (a *API) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.cookieMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// caller returns the claims attached by Authenticate together with the decoded
// user id. Routes reaching it are behind a guard, so a miss is an internal fault.
func caller(r *http.Request) (*auth.Claims, primitive.ObjectID, error) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return nil, primitive.NilObjectID, errors.New("no identity on guarded route")
	}
	id, err := ids.ParseObjectID(claims.UserID)
	if err != nil {
		return nil, primitive.NilObjectID, fmt.Errorf("token subject: %w", err)
	}
	return claims, id, nil
}
