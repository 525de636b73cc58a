package coaching

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	err error
}

func (f *fakeChat) Token(ctx context.Context, user *models.User, session *models.CoachingSession) (*ChatToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ChatToken{
		Token:     "chat-token",
		APIKey:    "key",
		UserID:    chatUserID(user.ID),
		ChannelID: channelID(session),
	}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n *models.Notification, push bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *n)
	return nil
}

type fixture struct {
	env      *servicetest.Env
	chat     *fakeChat
	notifier *fakeNotifier
}

func setup(t *testing.T) *fixture {
	f := &fixture{env: servicetest.New(t), chat: &fakeChat{}, notifier: &fakeNotifier{}}
	NewHandler(f.env.Store, f.env.Sessions, f.chat, f.notifier, f.env.Log).RegisterRoutes(f.env.Router)
	return f
}

func (f *fixture) request(t *testing.T, u *models.User) models.CoachingSession {
	t.Helper()
	rec := f.env.Do(t, http.MethodPost, "/api/coaching", map[string]string{"title": "Position sizing review"}, u)
	servicetest.RequireStatus(t, rec, http.StatusCreated)
	var s models.CoachingSession
	servicetest.Decode(t, rec, &s)
	return s
}

func TestMentorshipTierRequired(t *testing.T) {
	f := setup(t)
	premium := f.env.User(t, "premium", models.TierPremium)

	rec := f.env.Do(t, http.MethodPost, "/api/coaching", map[string]string{"title": "Help"}, premium)
	servicetest.RequireStatus(t, rec, http.StatusForbidden)
	assert.Equal(t, "mentorship", servicetest.ErrorBody(t, rec).Params["required_tier"])

	rec = f.env.Do(t, http.MethodGet, "/api/coaching", nil, nil)
	servicetest.RequireStatus(t, rec, http.StatusUnauthorized)
}

func TestRequestAndList(t *testing.T) {
	f := setup(t)
	alice := f.env.User(t, "alice", models.TierMentorship)
	bob := f.env.User(t, "bob", models.TierMentorship)
	admin := f.env.Admin(t)

	s := f.request(t, alice)
	assert.Equal(t, models.SessionRequested, s.Status)
	assert.Equal(t, 60, s.DurationMinutes)
	f.request(t, bob)

	rec := f.env.Do(t, http.MethodPost, "/api/coaching", map[string]interface{}{"title": "Quick", "duration_minutes": 5}, alice)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)

	var sessions []models.CoachingSession
	rec = f.env.Do(t, http.MethodGet, "/api/coaching", nil, alice)
	servicetest.Decode(t, rec, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, s.ID, sessions[0].ID)

	rec = f.env.Do(t, http.MethodGet, "/api/coaching", nil, admin)
	servicetest.Decode(t, rec, &sessions)
	assert.Len(t, sessions, 2)

	rec = f.env.Do(t, http.MethodGet, fmt.Sprintf("/api/coaching/%d", s.ID), nil, bob)
	servicetest.RequireStatus(t, rec, http.StatusNotFound)
}

func TestScheduleNotifiesMember(t *testing.T) {
	f := setup(t)
	alice := f.env.User(t, "alice", models.TierMentorship)
	admin := f.env.Admin(t)
	s := f.request(t, alice)
	path := fmt.Sprintf("/api/coaching/%d", s.ID)

	rec := f.env.Do(t, http.MethodPut, path, map[string]string{"status": "scheduled"}, admin)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "scheduled_at", servicetest.ErrorBody(t, rec).Field)

	rec = f.env.Do(t, http.MethodPut, path, map[string]string{"notes": "x"}, alice)
	servicetest.RequireStatus(t, rec, http.StatusForbidden)

	at := time.Date(2030, 3, 4, 15, 0, 0, 0, time.UTC)
	rec = f.env.Do(t, http.MethodPut, path, map[string]interface{}{
		"scheduled_at": at,
		"meeting_url":  "https://meet.example.com/abc",
		"coach_id":     admin.ID,
	}, admin)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var updated models.CoachingSession
	servicetest.Decode(t, rec, &updated)
	assert.Equal(t, models.SessionScheduled, updated.Status)
	require.NotNil(t, updated.ScheduledAt)
	assert.True(t, at.Equal(*updated.ScheduledAt))
	assert.Equal(t, "https://meet.example.com/abc", updated.MeetingURL)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, alice.ID, f.notifier.sent[0].UserID)
	assert.Equal(t, models.NotificationSystem, f.notifier.sent[0].Type)

	// Rescheduling an already scheduled session does not notify again.
	rec = f.env.Do(t, http.MethodPut, path, map[string]interface{}{"scheduled_at": at.Add(time.Hour)}, admin)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	assert.Len(t, f.notifier.sent, 1)
}

func TestCancelAndChatToken(t *testing.T) {
	f := setup(t)
	alice := f.env.User(t, "alice", models.TierMentorship)
	s := f.request(t, alice)

	rec := f.env.Do(t, http.MethodGet, fmt.Sprintf("/api/coaching/%d/chat-token", s.ID), nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var token ChatToken
	servicetest.Decode(t, rec, &token)
	assert.Equal(t, "chat-token", token.Token)
	assert.Equal(t, fmt.Sprintf("coaching-%d", s.ID), token.ChannelID)
	assert.Equal(t, chatUserID(alice.ID), token.UserID)

	f.chat.err = errors.New("stream down")
	rec = f.env.Do(t, http.MethodGet, fmt.Sprintf("/api/coaching/%d/chat-token", s.ID), nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusInternalServerError)
	f.chat.err = nil

	rec = f.env.Do(t, http.MethodPost, fmt.Sprintf("/api/coaching/%d/cancel", s.ID), nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	rec = f.env.Do(t, http.MethodPost, fmt.Sprintf("/api/coaching/%d/cancel", s.ID), nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusConflict)

	rec = f.env.Do(t, http.MethodGet, fmt.Sprintf("/api/coaching/%d/chat-token", s.ID), nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusConflict)
}

func TestChatTokenWithoutStream(t *testing.T) {
	env := servicetest.New(t)
	NewHandler(env.Store, env.Sessions, nil, nil, env.Log).RegisterRoutes(env.Router)
	alice := env.User(t, "alice", models.TierMentorship)

	rec := env.Do(t, http.MethodGet, "/api/coaching/1/chat-token", nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusServiceUnavailable)
}
