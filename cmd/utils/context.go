package utils

import (
	"context"
	"errors"
	"net/http"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"
	userKey   contextKey = "user"
)

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, u *models.User) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, u.ID)
	return context.WithValue(ctx, userKey, u)
}

func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey).(*models.User)
	return u, ok && u != nil
}

func GetUserIDFromContext(r *http.Request) (uint, error) {
	userID, ok := r.Context().Value(UserIDKey).(uint)
	if !ok {
		return 0, errors.New("user ID not found in context")
	}
	return userID, nil
}

// CurrentUser returns the authenticated user or a 401 *APIError.
func CurrentUser(r *http.Request) (*models.User, error) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		return nil, Unauthorized("Authentication required")
	}
	return u, nil
}
