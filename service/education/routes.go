package education

import (
	"net/http"
	"strings"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	store    db.EducationStore
	sessions *utils.Sessions
	log      *logrus.Logger
}

func NewHandler(store db.EducationStore, sessions *utils.Sessions, log *logrus.Logger) *Handler {
	return &Handler{store: store, sessions: sessions, log: log}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	auth := h.sessions.Authenticate
	admin := func(next http.HandlerFunc) http.HandlerFunc {
		return auth(utils.RequireAdmin(next))
	}

	router.HandleFunc("/education", auth(h.handleList)).Methods("GET")
	router.HandleFunc("/education/{id:[0-9]+}", auth(h.handleGet)).Methods("GET")
	router.HandleFunc("/education", admin(h.handleCreate)).Methods("POST")
	router.HandleFunc("/education/{id:[0-9]+}", admin(h.handleUpdate)).Methods("PUT")
	router.HandleFunc("/education/{id:[0-9]+}", admin(h.handleDelete)).Methods("DELETE")
}

// handleList returns the published content the caller's tier can open. Admins also see drafts.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	filter := db.EducationFilter{
		Category:      strings.TrimSpace(r.URL.Query().Get("category")),
		PublishedOnly: !user.IsAdministrator(),
	}
	content, err := h.store.ListEducationContent(r.Context(), filter)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	visible := make([]models.EducationContent, 0, len(content))
	for _, c := range content {
		if user.CanAccess(c.RequiredTier) {
			visible = append(visible, c)
		}
	}
	utils.WriteJSON(w, http.StatusOK, visible)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
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

	content, err := h.store.GetEducationContent(r.Context(), id)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if !content.Published && !user.IsAdministrator() {
		utils.Fail(h.log, w, r, utils.NotFound("Content not found"))
		return
	}
	if !user.CanAccess(content.RequiredTier) {
		utils.Fail(h.log, w, r, utils.TierRequired(content.RequiredTier))
		return
	}
	utils.WriteJSON(w, http.StatusOK, content)
}

type contentRequest struct {
	Title        string      `json:"title" validate:"required,max=255"`
	Description  string      `json:"description"`
	ContentType  string      `json:"content_type" validate:"required,oneof=video article pdf webinar"`
	URL          string      `json:"url" validate:"required,url"`
	Category     string      `json:"category" validate:"max=50"`
	Level        string      `json:"level" default:"beginner" validate:"oneof=beginner intermediate advanced"`
	RequiredTier models.Tier `json:"required_tier" default:"free" validate:"oneof=free paid premium mentorship employee"`
	Published    bool        `json:"published"`
}

func (req contentRequest) apply(c *models.EducationContent) {
	c.Title = strings.TrimSpace(req.Title)
	c.Description = req.Description
	c.ContentType = req.ContentType
	c.URL = req.URL
	c.Category = strings.ToLower(strings.TrimSpace(req.Category))
	c.Level = req.Level
	c.RequiredTier = req.RequiredTier
	c.Published = req.Published
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	var content models.EducationContent
	req.apply(&content)
	if err := h.store.CreateEducationContent(r.Context(), &content); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.log.Infof("education content %d created: %s", content.ID, content.Title)
	utils.WriteJSON(w, http.StatusCreated, content)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req contentRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	content, err := h.store.GetEducationContent(r.Context(), id)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	req.apply(content)
	if err := h.store.UpdateEducationContent(r.Context(), content); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, content)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if err := h.store.DeleteEducationContent(r.Context(), id); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Content deleted successfully"})
}
