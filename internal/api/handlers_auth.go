package api

import (
	"net/http"

	"github.com/google/uuid"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// handleRegister implements §6 POST /auth/register. The account's role is
// always "user" — admin accounts are provisioned out of band, there is no
// public self-service path to the admin role.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	id := uuid.NewString()
	acc, err := s.auth.Register(r.Context(), id, req.Email, req.Password, "user")
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.provision.EnsureUser(r.Context(), acc.ID, 0); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:       acc.ID,
		Email:    acc.Email,
		Username: req.Username,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken               string `json:"access_token"`
	RefreshToken              string `json:"refresh_token"`
	PreviousSessionTerminated bool   `json:"previous_session_terminated"`
}

// handleLogin implements §6 POST /auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	result, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:               result.AccessToken,
		RefreshToken:              result.RefreshToken,
		PreviousSessionTerminated: result.PreviousSessionTerminated,
	})
}
