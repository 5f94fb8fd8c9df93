package handlers

import (
	"net/http"

	"MessengerCore/server/internal/appMiddleware"
	"MessengerCore/server/internal/apperrors"
	"MessengerCore/server/internal/models"
)

type registerRequest struct {
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	FullName *string `json:"full_name,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	authed, err := h.gateway.SignUp(r.Context(), req.Email, req.Username, req.Password, req.FullName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authed)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	authed, err := h.gateway.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authed)
}

type oauthRequest struct {
	Provider       string `json:"provider"`
	Email          string `json:"email"`
	ProviderUserID string `json:"provider_user_id"`
}

// OAuth accepts the identity assertion produced by the upstream provider
// integration. The email arrives already verified; this endpoint must sit
// behind that trust boundary.
func (h *Handler) OAuth(w http.ResponseWriter, r *http.Request) {
	var req oauthRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	authed, err := h.gateway.AssertIdentity(r.Context(), req.Provider, req.Email, req.ProviderUserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authed)
}

type logoutRequest struct {
	Token     string `json:"token"`
	RevokeAll bool   `json:"revoke_all"`
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Token == "" {
		h.writeError(w, apperrors.InvalidArg("token is required"))
		return
	}

	if err := h.gateway.SignOut(r.Context(), req.Token, req.RevokeAll); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

type refreshRequest struct {
	Token string `json:"token"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Token == "" {
		h.writeError(w, apperrors.InvalidArg("token is required"))
		return
	}

	authed, err := h.gateway.Refresh(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authed)
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.gateway.VerifyEmail(r.Context(), req.Token); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.gateway.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeError(w, err)
		return
	}
	// same response whether or not the email exists
	writeJSON(w, http.StatusOK, map[string]string{"message": "if the email is registered, a reset link was sent"})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.gateway.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := appMiddleware.UserIDFrom(r.Context())

	profile, err := h.gateway.GetProfile(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type updateProfileRequest struct {
	Username  string  `json:"username"`
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := appMiddleware.UserIDFrom(r.Context())

	var req updateProfileRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	profile, err := h.gateway.UpdateProfile(r.Context(), &models.Profile{
		ID:        userID,
		Username:  req.Username,
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
