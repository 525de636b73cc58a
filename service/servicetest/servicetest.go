// Package servicetest holds the fixtures shared by the HTTP handler tests.
package servicetest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	Password = "password123"
	Secret   = "test-secret"
)

type Env struct {
	Store    *db.MemStorage
	Sessions *utils.Sessions
	Log      *logrus.Logger
	Root     *mux.Router
	Router   *mux.Router
}

// New returns an empty in-memory environment. Handlers register on Env.Router,
// which is mounted under /api like the real server.
func New(t *testing.T) *Env {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := db.NewMemStorage()
	root := mux.NewRouter()
	return &Env{
		Store:    store,
		Sessions: utils.NewSessions(Secret, time.Hour, false, store, log),
		Log:      log,
		Root:     root,
		Router:   root.PathPrefix("/api").Subrouter(),
	}
}

// User creates a user with the given tier and Password.
func (e *Env) User(t *testing.T, username string, tier models.Tier) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		Tier:         tier,
	}
	require.NoError(t, e.Store.CreateUser(context.Background(), u))
	return u
}

func (e *Env) Admin(t *testing.T) *models.User {
	t.Helper()
	u := e.User(t, "admin", models.TierEmployee)
	u.IsAdmin = true
	require.NoError(t, e.Store.UpdateUser(context.Background(), u))
	return u
}

// Alert creates an active alert at price with buy zone 90-100 and targets 120/140/160.
func (e *Env) Alert(t *testing.T, symbol string, price float64, tier models.Tier) *models.StockAlert {
	t.Helper()
	a := &models.StockAlert{
		Symbol:       symbol,
		CompanyName:  symbol + " Inc.",
		CurrentPrice: price,
		BuyZoneMin:   90,
		BuyZoneMax:   100,
		Target1:      120,
		Target2:      140,
		Target3:      160,
		Status:       models.AlertStatusActive,
		RequiredTier: tier,
	}
	require.NoError(t, e.Store.CreateStockAlert(context.Background(), a))
	return a
}

// Do sends a JSON request through the router, authenticated as u when u is not nil.
func (e *Env) Do(t *testing.T, method, path string, body interface{}, u *models.User) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		case []byte:
			rd = bytes.NewReader(b)
		default:
			data, err := json.Marshal(body)
			require.NoError(t, err)
			rd = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		token, _, err := e.Sessions.Issue(u)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.Root.ServeHTTP(rec, req)
	return rec
}

// Decode unmarshals the response body into dst.
func Decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

// ErrorBody returns the {"error": {...}} payload of a failed request.
func ErrorBody(t *testing.T, rec *httptest.ResponseRecorder) utils.APIError {
	t.Helper()
	var body struct {
		Error utils.APIError `json:"error"`
	}
	Decode(t, rec, &body)
	return body.Error
}

// RequireStatus fails with the response body when the status does not match.
func RequireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
}
