package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubUsers map[uint]*models.User

func (s stubUsers) GetUser(ctx context.Context, id uint) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %d: %w", id, db.ErrNotFound)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body struct {
		Error APIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestWriteErrorMapsStorageErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("user 1: %w", db.ErrNotFound), http.StatusNotFound},
		{"already sold", fmt.Errorf("item 1: %w", db.ErrAlreadySold), http.StatusConflict},
		{"duplicate", db.ErrDuplicate, http.StatusConflict},
		{"api error", BadRequest("nope"), http.StatusBadRequest},
		{"unknown", fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)
			body := decodeError(t, rec)
			assert.NotEmpty(t, body.Message)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "Something went wrong", body.Message)
			}
		})
	}
}

type alertRequest struct {
	Symbol     string  `json:"symbol" validate:"required,max=20"`
	BuyZoneMin float64 `json:"buy_zone_min" validate:"gt=0"`
	BuyZoneMax float64 `json:"buy_zone_max" validate:"gtfield=BuyZoneMin"`
	Status     string  `json:"status" default:"active" validate:"oneof=active closed"`
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid with defaults", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"symbol":"AAPL","buy_zone_min":1,"buy_zone_max":2}`))
		var req alertRequest
		require.NoError(t, DecodeJSON(r, &req))
		assert.Equal(t, "active", req.Status)
	})

	t.Run("validation details use json names", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"buy_zone_min":5,"buy_zone_max":2}`))
		var req alertRequest
		err := DecodeJSON(r, &req)
		require.Error(t, err)

		apiErr, ok := err.(*APIError)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		require.Len(t, apiErr.Details, 2)
		assert.Equal(t, "symbol", apiErr.Details[0].Field)
		assert.Equal(t, "buy_zone_max", apiErr.Details[1].Field)
		assert.Equal(t, "buy_zone_max must be greater than buy_zone_min", apiErr.Details[1].Message)
	})

	t.Run("malformed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		var req alertRequest
		err := DecodeJSON(r, &req)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	})
}

func newTestSessions() (*Sessions, stubUsers) {
	users := stubUsers{
		1: {Model: gorm.Model{ID: 1}, Username: "free", Tier: models.TierFree},
		2: {Model: gorm.Model{ID: 2}, Username: "admin", Tier: models.TierFree, IsAdmin: true},
		3: {Model: gorm.Model{ID: 3}, Username: "paid", Tier: models.TierPaid},
	}
	return NewSessions("test-secret", time.Hour, false, users, logrus.New()), users
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	WriteJSON(w, http.StatusOK, map[string]string{"username": u.Username})
}

func TestAuthenticate(t *testing.T) {
	sessions, users := newTestSessions()
	token, _, err := sessions.Issue(users[1])
	require.NoError(t, err)

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		rec := httptest.NewRecorder()
		sessions.Authenticate(okHandler)(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "free")
	})

	t.Run("bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		sessions.Authenticate(okHandler)(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		sessions.Authenticate(okHandler)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("query token only on websocket routes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		sessions.Authenticate(okHandler)(rec, httptest.NewRequest(http.MethodGet, "/?token="+token, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = httptest.NewRecorder()
		sessions.AuthenticateWebSocket(okHandler)(rec, httptest.NewRequest(http.MethodGet, "/?token="+token, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewSessions("other-secret", time.Hour, false, users, logrus.New())
		forged, _, err := other.Issue(users[2])
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+forged)
		rec := httptest.NewRecorder()
		sessions.Authenticate(okHandler)(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		expiredSessions := NewSessions("test-secret", time.Hour, false, users, logrus.New())
		expiredSessions.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		old, _, err := expiredSessions.Issue(users[1])
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+old)
		rec := httptest.NewRecorder()
		sessions.Authenticate(okHandler)(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireAdminAndTier(t *testing.T) {
	sessions, users := newTestSessions()

	call := func(h http.HandlerFunc, u *models.User) *httptest.ResponseRecorder {
		token, _, err := sessions.Issue(u)
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		sessions.Authenticate(h)(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusForbidden, call(RequireAdmin(okHandler), users[1]).Code)
	assert.Equal(t, http.StatusOK, call(RequireAdmin(okHandler), users[2]).Code)

	rec := call(RequireTier(models.TierPaid, okHandler), users[1])
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "ERR_TIER_REQUIRED", body.Code)
	assert.Equal(t, "paid", body.Params["required_tier"])

	assert.Equal(t, http.StatusOK, call(RequireTier(models.TierPaid, okHandler), users[3]).Code)
	assert.Equal(t, http.StatusOK, call(RequireTier(models.TierMentorship, okHandler), users[2]).Code)
}

func TestSessionCookieFlags(t *testing.T) {
	sessions, _ := newTestSessions()
	rec := httptest.NewRecorder()
	sessions.SetCookie(rec, "abc", time.Now().Add(time.Hour))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}
