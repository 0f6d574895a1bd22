package api

import (
	"errors"
	"net/http"
	"strings"

	"signalbridge/internal/store"
)

type authResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || len(req.Password) < 8 {
		writeDetail(w, http.StatusBadRequest, "email, username and a password of at least 8 characters are required")
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), req.Email, req.Username, hash)
	if err != nil {
		s.writeError(w, err)
		return
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{
		AccessToken: token,
		UserID:      user.ID.String(),
		Email:       user.Email,
		Username:    user.Username,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}

	user, err := s.store.UserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.writeError(w, err)
		return
	}
	if !user.IsActive || !checkPassword(user.PasswordHash, req.Password) {
		writeDetail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: token,
		UserID:      user.ID.String(),
		Email:       user.Email,
		Username:    user.Username,
	})
}
