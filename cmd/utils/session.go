package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const SessionCookie = "session"

// UserLookup resolves the subject of a session token.
type UserLookup interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

// Sessions issues and verifies JWT session tokens carried in the session cookie
// or an Authorization: Bearer header.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	secure bool
	users  UserLookup
	log    *logrus.Logger
	now    func() time.Time
}

func NewSessions(secret string, ttl time.Duration, secure bool, users UserLookup, log *logrus.Logger) *Sessions {
	return &Sessions{
		secret: []byte(secret),
		ttl:    ttl,
		secure: secure,
		users:  users,
		log:    log,
		now:    time.Now,
	}
}

// Issue signs a session token for the user.
func (s *Sessions) Issue(u *models.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(u.ID), 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, expires, nil
}

// Parse verifies the token and returns the user ID it was issued for.
func (s *Sessions) Parse(tokenString string) (uint, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("invalid token")
	}
	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("invalid user ID in token")
	}
	return uint(userID), nil
}

func (s *Sessions) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Authenticate loads the session user into the request context or answers 401.
func (s *Sessions) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return s.authenticate(next, false)
}

// AuthenticateWebSocket also accepts the token as a "token" query parameter, since
// browsers cannot set headers on websocket upgrades. Use it on upgrade routes only.
func (s *Sessions) AuthenticateWebSocket(next http.HandlerFunc) http.HandlerFunc {
	return s.authenticate(next, true)
}

func (s *Sessions) authenticate(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := tokenFromRequest(r)
		if tokenString == "" && allowQuery {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			WriteError(w, Unauthorized("Authentication required"))
			return
		}
		userID, err := s.Parse(tokenString)
		if err != nil {
			WriteError(w, Unauthorized("Invalid or expired session"))
			return
		}
		user, err := s.users.GetUser(r.Context(), userID)
		if err != nil {
			s.log.Warnf("session for unknown user %d: %v", userID, err)
			WriteError(w, Unauthorized("Invalid or expired session"))
			return
		}
		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := CurrentUser(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		if !user.IsAdministrator() {
			WriteError(w, Forbidden("Administrator access required"))
			return
		}
		next(w, r)
	}
}

// RequireTier answers 403 with the required tier when the user's tier is too low.
func RequireTier(tier models.Tier, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := CurrentUser(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		if !user.CanAccess(tier) {
			WriteError(w, TierRequired(tier))
			return
		}
		next(w, r)
	}
}

func TierRequired(tier models.Tier) *APIError {
	return NewAPIError("ERR_TIER_REQUIRED", "", fmt.Sprintf("A %s membership is required", tier), http.StatusForbidden).
		WithParam("required_tier", tier)
}
