package coaching

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Notifier tells a member their session changed.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification, push bool) error
}

type Handler struct {
	store    db.CoachingStore
	sessions *utils.Sessions
	chat     Chat
	notifier Notifier
	log      *logrus.Logger
}

// NewHandler builds the coaching handler. chat may be nil when Stream is not configured,
// and notifier may be nil to skip member notifications.
func NewHandler(store db.CoachingStore, sessions *utils.Sessions, chat Chat, notifier Notifier, log *logrus.Logger) *Handler {
	return &Handler{store: store, sessions: sessions, chat: chat, notifier: notifier, log: log}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	member := func(next http.HandlerFunc) http.HandlerFunc {
		return h.sessions.Authenticate(utils.RequireTier(models.TierMentorship, next))
	}
	admin := func(next http.HandlerFunc) http.HandlerFunc {
		return h.sessions.Authenticate(utils.RequireAdmin(next))
	}

	router.HandleFunc("/coaching", member(h.handleList)).Methods("GET")
	router.HandleFunc("/coaching", member(h.handleRequest)).Methods("POST")
	router.HandleFunc("/coaching/{id:[0-9]+}", member(h.handleGet)).Methods("GET")
	router.HandleFunc("/coaching/{id:[0-9]+}/cancel", member(h.handleCancel)).Methods("POST")
	router.HandleFunc("/coaching/{id:[0-9]+}/chat-token", member(h.handleChatToken)).Methods("GET")
	router.HandleFunc("/coaching/{id:[0-9]+}", admin(h.handleUpdate)).Methods("PUT")
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	owner := user.ID
	if user.IsAdministrator() {
		owner = 0
	}
	sessions, err := h.store.ListCoachingSessions(r.Context(), owner)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, sessions)
}

// loadOwned returns the session when the caller owns it, coaches it or is an admin.
// Anyone else gets a 404 so other members cannot tell which session IDs exist.
func (h *Handler) loadOwned(r *http.Request, user *models.User) (*models.CoachingSession, error) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		return nil, err
	}
	session, err := h.store.GetCoachingSession(r.Context(), id)
	if err != nil {
		return nil, err
	}
	coach := session.CoachID != nil && *session.CoachID == user.ID
	if session.UserID != user.ID && !coach && !user.IsAdministrator() {
		return nil, utils.NotFound("Coaching session not found")
	}
	return session, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	session, err := h.loadOwned(r, user)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, session)
}

type sessionRequest struct {
	Title           string `json:"title" validate:"required,max=255"`
	Description     string `json:"description" validate:"max=5000"`
	DurationMinutes int    `json:"duration_minutes" default:"60" validate:"min=15,max=240"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req sessionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	session := &models.CoachingSession{
		UserID:          user.ID,
		Title:           req.Title,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Status:          models.SessionRequested,
	}
	if err := h.store.CreateCoachingSession(r.Context(), session); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.log.Infof("user %d requested coaching session %d", user.ID, session.ID)
	utils.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	session, err := h.loadOwned(r, user)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	switch session.Status {
	case models.SessionCompleted, models.SessionCancelled:
		utils.Fail(h.log, w, r, utils.Conflict(fmt.Sprintf("Session is already %s", session.Status)))
		return
	}
	session.Status = models.SessionCancelled
	if err := h.store.UpdateCoachingSession(r.Context(), session); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) handleChatToken(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if h.chat == nil {
		utils.Fail(h.log, w, r, utils.NewAPIError("ERR_CHAT_UNAVAILABLE", "", "Chat is not configured", http.StatusServiceUnavailable))
		return
	}
	session, err := h.loadOwned(r, user)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if session.Status == models.SessionCancelled {
		utils.Fail(h.log, w, r, utils.Conflict("Session has been cancelled"))
		return
	}

	token, err := h.chat.Token(r.Context(), user, session)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, token)
}

type updateRequest struct {
	ScheduledAt     *time.Time `json:"scheduled_at"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,min=15,max=240"`
	CoachID         *uint      `json:"coach_id"`
	MeetingURL      *string    `json:"meeting_url" validate:"omitempty,url"`
	Status          string     `json:"status" validate:"omitempty,oneof=requested scheduled completed cancelled"`
	Notes           *string    `json:"notes"`
}

// handleUpdate lets staff schedule a session. Setting a time on a requested session
// moves it to scheduled unless a status is given.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req updateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	session, err := h.store.GetCoachingSession(r.Context(), id)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	wasScheduled := session.Status == models.SessionScheduled

	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		session.ScheduledAt = &at
		if req.Status == "" && session.Status == models.SessionRequested {
			session.Status = models.SessionScheduled
		}
	}
	if req.DurationMinutes != nil {
		session.DurationMinutes = *req.DurationMinutes
	}
	if req.CoachID != nil {
		session.CoachID = req.CoachID
	}
	if req.MeetingURL != nil {
		session.MeetingURL = *req.MeetingURL
	}
	if req.Notes != nil {
		session.Notes = *req.Notes
	}
	if req.Status != "" {
		session.Status = req.Status
	}
	if session.Status == models.SessionScheduled && session.ScheduledAt == nil {
		utils.Fail(h.log, w, r, utils.NewAPIError("ERR_VALIDATION", "scheduled_at", "A scheduled session needs a time", http.StatusBadRequest))
		return
	}

	if err := h.store.UpdateCoachingSession(r.Context(), session); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if !wasScheduled && session.Status == models.SessionScheduled {
		h.notifyScheduled(r.Context(), session)
	}
	utils.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) notifyScheduled(ctx context.Context, session *models.CoachingSession) {
	if h.notifier == nil {
		return
	}
	n := &models.Notification{
		UserID:  session.UserID,
		Title:   "Coaching session scheduled",
		Message: fmt.Sprintf("%q is scheduled for %s.", session.Title, session.ScheduledAt.Format("Mon Jan 2 2006 15:04 MST")),
		Type:    models.NotificationSystem,
	}
	if err := h.notifier.Notify(ctx, n, true); err != nil {
		h.log.Errorf("notify coaching session %d: %v", session.ID, err)
	}
}
