package user

import (
	"errors"
	"net/http"
	"strings"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type Handler struct {
	store    db.UserStore
	sessions *utils.Sessions
	log      *logrus.Logger
}

func NewHandler(store db.UserStore, sessions *utils.Sessions, log *logrus.Logger) *Handler {
	return &Handler{store: store, sessions: sessions, log: log}
}

// RegisterRoutes sets up auth and user administration routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	auth := h.sessions.Authenticate

	router.HandleFunc("/auth/register", h.handleRegister).Methods("POST")
	router.HandleFunc("/auth/login", h.handleLogin).Methods("POST")
	router.HandleFunc("/auth/logout", h.handleLogout).Methods("POST")
	router.HandleFunc("/auth/me", auth(h.handleMe)).Methods("GET")
	router.HandleFunc("/auth/me", auth(h.handleUpdateMe)).Methods("PUT")

	router.HandleFunc("/admin/users", auth(utils.RequireAdmin(h.handleListUsers))).Methods("GET")
	router.HandleFunc("/admin/users/{id}", auth(utils.RequireAdmin(h.handleUpdateUser))).Methods("PATCH")
	router.HandleFunc("/admin/users/{id}", auth(utils.RequireAdmin(h.handleDeleteUser))).Methods("DELETE")
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"max=255"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	user := &models.User{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Tier:         models.TierFree,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			err = utils.Conflict("Email or username already registered").WithError(err)
		}
		utils.Fail(h.log, w, r, err)
		return
	}

	h.log.Infof("registered user %d (%s)", user.ID, user.Email)
	utils.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Registration successful",
		"user":    user,
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	user, err := h.lookupLogin(r, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			err = utils.Unauthorized("Invalid credentials")
		}
		utils.Fail(h.log, w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		utils.Fail(h.log, w, r, utils.Unauthorized("Invalid credentials"))
		return
	}

	token, expires, err := h.sessions.Issue(user)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.sessions.SetCookie(w, token, expires)

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Login successful",
		"token":      token,
		"expires_at": expires,
		"user":       user,
	})
}

// lookupLogin accepts either the email or the username.
func (h *Handler) lookupLogin(r *http.Request, login string) (*models.User, error) {
	if strings.Contains(login, "@") {
		return h.store.GetUserByEmail(r.Context(), login)
	}
	return h.store.GetUserByUsername(r.Context(), login)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, user)
}

type updateMeRequest struct {
	FullName        *string `json:"full_name" validate:"omitempty,max=255"`
	CurrentPassword string  `json:"current_password" validate:"required_with=NewPassword"`
	NewPassword     string  `json:"new_password" validate:"omitempty,min=8,max=72"`
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req updateMeRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	updated := *user
	if req.FullName != nil {
		updated.FullName = *req.FullName
	}
	if req.NewPassword != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			utils.Fail(h.log, w, r, utils.BadRequest("Current password is incorrect"))
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			utils.Fail(h.log, w, r, err)
			return
		}
		updated.PasswordHash = string(hash)
	}

	if err := h.store.UpdateUser(r.Context(), &updated); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, &updated)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, users)
}

type adminUpdateRequest struct {
	Tier     *string   `json:"tier" validate:"omitempty,oneof=free paid premium mentorship employee"`
	IsAdmin  *bool     `json:"is_admin"`
	Roles    *[]string `json:"roles"`
	FullName *string   `json:"full_name" validate:"omitempty,max=255"`
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req adminUpdateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if req.Tier != nil {
		user.Tier = models.Tier(*req.Tier)
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}
	if req.Roles != nil {
		user.Roles = *req.Roles
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}

	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.log.Infof("user %d updated: tier=%s admin=%t", user.ID, user.Tier, user.IsAdmin)
	utils.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if current, _ := utils.CurrentUser(r); current != nil && current.ID == id {
		utils.Fail(h.log, w, r, utils.BadRequest("You cannot delete your own account"))
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}
