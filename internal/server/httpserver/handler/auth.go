package handler

import (
	"encoding/json"
	"net/http"

	"github.com/qofy/quoteflow/internal/apperr"
	"github.com/qofy/quoteflow/internal/identity"
	"github.com/qofy/quoteflow/internal/tokenauth"
)

// handleRegister handles POST /auth/register.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "QF-SYS-4000", "invalid request body", nil)
		return
	}

	u, err := h.identity.Insert(req.Email, req.Password, []string{"user"})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.issueAuthResponse(w, r, u, http.StatusCreated)
}

// handleLogin handles POST /auth/login.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "QF-SYS-4000", "invalid request body", nil)
		return
	}

	u, err := h.identity.FindByEmail(req.Email)
	if err != nil {
		h.writeError(w, r, http.StatusUnauthorized, apperr.ErrUnauthenticated.Code, "invalid email or password", nil)
		return
	}
	if !identity.VerifyPassword(req.Password, u.PasswordHash) {
		h.writeError(w, r, http.StatusUnauthorized, apperr.ErrUnauthenticated.Code, "invalid email or password", nil)
		return
	}

	h.issueAuthResponse(w, r, u, http.StatusOK)
}

// handleRefresh handles POST /auth/refresh.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := tokenauth.ExtractRefreshToken(r)
	if !ok {
		h.writeError(w, r, http.StatusUnauthorized, apperr.ErrUnauthenticated.Code, "missing refresh token", nil)
		return
	}

	access, refresh, err := h.tokens.Refresh(refreshToken)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	claims, err := h.tokens.ValidateIgnoringExpiry(access)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.tokens.SetAuthCookies(w, access, refresh)
	h.writeJSON(w, r, http.StatusOK, AuthResponse{
		UserID: claims.Subject,
		Email:  claims.Email,
		Roles:  claims.Roles,
	})
}

// handleLogout handles POST /auth/logout.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.tokens.ClearAuthCookies(w)
	h.writeJSON(w, r, http.StatusOK, map[string]any{"logged_out": true})
}

// handleReconfirm handles POST /auth/reconfirm: a step-up check that
// re-verifies the caller's current password before issuing a fresh access
// token, for sensitive operations guarded by a recent password re-entry.
func (h *Handler) handleReconfirm(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := tokenauth.ExtractAccessToken(r, false)
	if !ok {
		h.writeError(w, r, http.StatusUnauthorized, apperr.ErrUnauthenticated.Code, "missing access token", nil)
		return
	}
	claims, err := h.tokens.ValidateIgnoringExpiry(accessToken)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req ReconfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "QF-SYS-4000", "invalid request body", nil)
		return
	}

	u, err := h.identity.GetByID(claims.Subject)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if !identity.VerifyPassword(req.Password, u.PasswordHash) {
		h.writeError(w, r, http.StatusUnauthorized, apperr.ErrReconfirmPassword.Code, "password does not match", nil)
		return
	}

	h.issueAuthResponse(w, r, u, http.StatusOK)
}

func (h *Handler) issueAuthResponse(w http.ResponseWriter, r *http.Request, u *identity.User, status int) {
	access, err := h.tokens.IssueAccess(u.ID, u.Email, u.Roles)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	refresh, err := h.tokens.IssueRefresh(u.ID, u.Email, u.Roles)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.tokens.SetAuthCookies(w, access, refresh)
	h.writeJSON(w, r, status, AuthResponse{
		UserID: u.ID,
		Email:  u.Email,
		Roles:  u.Roles,
	})
}
