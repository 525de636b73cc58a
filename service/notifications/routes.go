package notifications

import (
	"context"
	"net/http"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Store interface {
	db.NotificationStore
	db.DeviceStore
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Handler serves the notification inbox, device registration and the websocket stream.
type Handler struct {
	store      Store
	sessions   *utils.Sessions
	hub        *Hub
	dispatcher *Dispatcher
	scanner    *Scanner
	log        *logrus.Logger
	now        func() time.Time
}

func NewHandler(store Store, sessions *utils.Sessions, hub *Hub, dispatcher *Dispatcher, scanner *Scanner, log *logrus.Logger) *Handler {
	return &Handler{
		store:      store,
		sessions:   sessions,
		hub:        hub,
		dispatcher: dispatcher,
		scanner:    scanner,
		log:        log,
		now:        time.Now,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	auth := h.sessions.Authenticate

	router.HandleFunc("/notifications", auth(h.handleList)).Methods("GET")
	router.HandleFunc("/notifications/unread-count", auth(h.handleUnreadCount)).Methods("GET")
	router.HandleFunc("/notifications/read-all", auth(h.handleReadAll)).Methods("POST")
	router.HandleFunc("/notifications/{id:[0-9]+}/read", auth(h.handleRead)).Methods("POST")
	router.HandleFunc("/notifications/ws", h.sessions.AuthenticateWebSocket(h.handleWebSocket)).Methods("GET")

	router.HandleFunc("/notifications/devices", auth(h.handleListDevices)).Methods("GET")
	router.HandleFunc("/notifications/devices", auth(h.handleRegisterDevice)).Methods("POST")
	router.HandleFunc("/notifications/devices/{id}", auth(h.handleDeleteDevice)).Methods("DELETE")

	router.HandleFunc("/notifications/broadcast", auth(utils.RequireAdmin(h.handleBroadcast))).Methods("POST")
	router.HandleFunc("/alert-triggers/scan", auth(utils.RequireAdmin(h.handleScan))).Methods("POST")
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	filter := db.NotificationFilter{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
		Limit:      utils.QueryInt(r, "limit", 20),
		Offset:     utils.QueryInt(r, "offset", 0),
	}
	items, total, err := h.store.ListNotifications(r.Context(), user.ID, filter)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	unread, err := h.store.CountUnreadNotifications(r.Context(), user.ID)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": items,
		"total":         total,
		"unread_count":  unread,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	count, err := h.store.CountUnreadNotifications(r.Context(), user.ID)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]int64{"unread_count": count})
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if err := h.store.MarkNotificationRead(r.Context(), id, user.ID, h.now()); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.publishUnread(r.Context(), user.ID)
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

func (h *Handler) handleReadAll(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	updated, err := h.store.MarkAllNotificationsRead(r.Context(), user.ID, h.now())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.publishUnread(r.Context(), user.ID)
	utils.WriteJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// publishUnread keeps other open tabs of the user in sync.
func (h *Handler) publishUnread(ctx context.Context, userID uint) {
	count, err := h.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		h.log.Warnf("count unread for user %d: %v", userID, err)
		return
	}
	if _, err := h.hub.Publish(userID, Event{Type: EventUnreadCount, UnreadCount: &count}); err != nil {
		h.log.Warnf("publish unread count for user %d: %v", userID, err)
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	// The upgrader has already answered the client when this fails.
	if err := h.hub.ServeWS(w, r, user.ID); err != nil {
		h.log.Warnf("websocket upgrade for user %d: %v", user.ID, err)
	}
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	devices, err := h.store.ListDevices(r.Context(), user.ID)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, devices)
}

type deviceRequest struct {
	Token      string `json:"token" validate:"required"`
	DeviceType string `json:"device_type" default:"unknown" validate:"oneof=ios android web unknown"`
	DeviceName string `json:"device_name" validate:"max=100"`
}

func (h *Handler) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req deviceRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if !ValidPushToken(req.Token) {
		utils.Fail(h.log, w, r, utils.NewAPIError("ERR_INVALID_PUSH_TOKEN", "token", "Invalid Expo push token format", http.StatusBadRequest))
		return
	}

	device := &models.Device{
		Token:      req.Token,
		UserID:     user.ID,
		DeviceType: req.DeviceType,
		DeviceName: req.DeviceName,
	}
	if err := h.store.RegisterDevice(r.Context(), device); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Device registered successfully",
		"device":  device,
	})
}

func (h *Handler) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if err := h.store.DeleteDevice(r.Context(), id, user.ID); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Device deleted successfully"})
}

type broadcastRequest struct {
	Title   string `json:"title" validate:"required,max=255"`
	Message string `json:"message" validate:"required"`
	UserIDs []uint `json:"user_ids"`
	// MinTier limits an all-users broadcast to users at or above the tier.
	MinTier string `json:"min_tier" validate:"omitempty,oneof=free paid premium mentorship employee"`
	Push    bool   `json:"push"`
}

func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	wanted := make(map[uint]bool, len(req.UserIDs))
	for _, id := range req.UserIDs {
		wanted[id] = true
	}

	sent := 0
	for _, u := range users {
		if len(wanted) > 0 && !wanted[u.ID] {
			continue
		}
		if req.MinTier != "" && !u.Tier.AtLeast(models.Tier(req.MinTier)) {
			continue
		}
		n := &models.Notification{
			UserID:  u.ID,
			Title:   req.Title,
			Message: req.Message,
			Type:    models.NotificationSystem,
		}
		if err := h.dispatcher.Notify(r.Context(), n, req.Push); err != nil {
			h.log.Errorf("broadcast to user %d: %v", u.ID, err)
			continue
		}
		sent++
	}

	h.log.Infof("broadcast %q sent to %d users", req.Title, sent)
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Broadcast sent",
		"sent":    sent,
	})
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	sum, err := h.scanner.ScanAll(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, sum)
}
