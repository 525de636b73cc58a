package user

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *servicetest.Env {
	env := servicetest.New(t)
	NewHandler(env.Store, env.Sessions, env.Log).RegisterRoutes(env.Router)
	return env
}

func TestRegisterAndLogin(t *testing.T) {
	env := setup(t)

	rec := env.Do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username":  "trader",
		"email":     "Trader@Example.com",
		"password":  "supersecret",
		"full_name": "Tess Trader",
	}, nil)
	servicetest.RequireStatus(t, rec, http.StatusCreated)

	var created struct {
		User models.User `json:"user"`
	}
	servicetest.Decode(t, rec, &created)
	assert.Equal(t, "trader@example.com", created.User.Email)
	assert.Equal(t, models.TierFree, created.User.Tier)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = env.Do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "trader@example.com",
		"password": "supersecret",
	}, nil)
	servicetest.RequireStatus(t, rec, http.StatusOK)

	var login struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	servicetest.Decode(t, rec, &login)
	require.NotEmpty(t, login.Token)
	id, err := env.Sessions.Parse(login.Token)
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, id)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, utils.SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLoginWithUsername(t *testing.T) {
	env := setup(t)
	env.User(t, "alice", models.TierPaid)

	rec := env.Do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "alice",
		"password": servicetest.Password,
	}, nil)
	servicetest.RequireStatus(t, rec, http.StatusOK)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := setup(t)
	env.User(t, "alice", models.TierPaid)

	tests := []struct {
		name  string
		email string
		pass  string
	}{
		{"wrong password", "alice@example.com", "not-the-password"},
		{"unknown email", "bob@example.com", servicetest.Password},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.Do(t, http.MethodPost, "/api/auth/login", map[string]string{
				"email": tt.email, "password": tt.pass,
			}, nil)
			servicetest.RequireStatus(t, rec, http.StatusUnauthorized)
			assert.Equal(t, "Invalid credentials", servicetest.ErrorBody(t, rec).Message)
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	env := setup(t)

	rec := env.Do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "x",
		"email":    "not-an-email",
		"password": "short",
	}, nil)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)
	body := servicetest.ErrorBody(t, rec)
	assert.Equal(t, "ERR_VALIDATION", body.Code)
	assert.Len(t, body.Details, 3)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := setup(t)
	env.User(t, "alice", models.TierFree)

	rec := env.Do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice2",
		"email":    "alice@example.com",
		"password": "supersecret",
	}, nil)
	servicetest.RequireStatus(t, rec, http.StatusConflict)
}

func TestMe(t *testing.T) {
	env := setup(t)
	alice := env.User(t, "alice", models.TierPremium)

	rec := env.Do(t, http.MethodGet, "/api/auth/me", nil, nil)
	servicetest.RequireStatus(t, rec, http.StatusUnauthorized)

	rec = env.Do(t, http.MethodGet, "/api/auth/me", nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var me models.User
	servicetest.Decode(t, rec, &me)
	assert.Equal(t, alice.ID, me.ID)
	assert.Equal(t, models.TierPremium, me.Tier)
}

func TestUpdateMeChangesPassword(t *testing.T) {
	env := setup(t)
	alice := env.User(t, "alice", models.TierPaid)

	rec := env.Do(t, http.MethodPut, "/api/auth/me", map[string]string{
		"current_password": "wrong-password",
		"new_password":     "brand-new-pass",
	}, alice)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)

	rec = env.Do(t, http.MethodPut, "/api/auth/me", map[string]string{
		"full_name":        "Alice A.",
		"current_password": servicetest.Password,
		"new_password":     "brand-new-pass",
	}, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)

	rec = env.Do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "alice@example.com", "password": "brand-new-pass",
	}, nil)
	servicetest.RequireStatus(t, rec, http.StatusOK)
}

func TestLogoutClearsCookie(t *testing.T) {
	env := setup(t)
	rec := env.Do(t, http.MethodPost, "/api/auth/logout", nil, nil)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestAdminUserManagement(t *testing.T) {
	env := setup(t)
	admin := env.Admin(t)
	alice := env.User(t, "alice", models.TierFree)

	rec := env.Do(t, http.MethodGet, "/api/admin/users", nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusForbidden)

	rec = env.Do(t, http.MethodGet, "/api/admin/users", nil, admin)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var users []models.User
	servicetest.Decode(t, rec, &users)
	assert.Len(t, users, 2)

	rec = env.Do(t, http.MethodPatch, fmt.Sprintf("/api/admin/users/%d", alice.ID), map[string]interface{}{
		"tier":  "mentorship",
		"roles": []string{"coach"},
	}, admin)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var updated models.User
	servicetest.Decode(t, rec, &updated)
	assert.Equal(t, models.TierMentorship, updated.Tier)
	assert.True(t, updated.HasRole("coach"))

	rec = env.Do(t, http.MethodPatch, fmt.Sprintf("/api/admin/users/%d", alice.ID), map[string]string{"tier": "gold"}, admin)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)

	rec = env.Do(t, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", admin.ID), nil, admin)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)

	rec = env.Do(t, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", alice.ID), nil, admin)
	servicetest.RequireStatus(t, rec, http.StatusOK)

	rec = env.Do(t, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", alice.ID), nil, admin)
	servicetest.RequireStatus(t, rec, http.StatusNotFound)
}
