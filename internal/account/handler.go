package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"codefusion/internal/account/model"
	"codefusion/internal/account/service"
	"codefusion/middleware"
	"codefusion/pkg/logger"
)

type AccountHandler struct {
	Service *service.AccountService
}

func NewAccountHandler(service *service.AccountService) *AccountHandler {
	return &AccountHandler{Service: service}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.Service.Register(r.Context(), req)
	switch {
	case errors.Is(err, model.ErrInvalidRequest), errors.Is(err, model.ErrUserExists):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		logger.Sugar.Errorf("Handler: Failed to register %s: %v", req.Username, err)
		http.Error(w, "Failed to register", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.Service.Login(r.Context(), req)
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	case err != nil:
		logger.Sugar.Errorf("Handler: Failed to log in: %v", err)
		http.Error(w, "Failed to log in", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	user, err := h.Service.Me(r.Context(), userID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "User not found", http.StatusNotFound)
		return
	case err != nil:
		logger.Sugar.Errorf("Handler: Failed to load user %s: %v", userID, err)
		http.Error(w, "Failed to load user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, model.UserResponse{User: *user})
}

func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.Service.Logout(r.Context(), claims); err != nil {
		logger.Sugar.Errorf("Handler: Failed to revoke token for %s: %v", claims.Subject, err)
		http.Error(w, "Failed to log out", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Status reports whether the request carries a valid token. It sits behind
// OptionalAuth and never fails with 401.
func (h *AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(string)
	if !ok {
		writeJSON(w, http.StatusOK, model.StatusResponse{})
		return
	}
	user, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			logger.Sugar.Errorf("Handler: Failed to load user %s: %v", userID, err)
		}
		writeJSON(w, http.StatusOK, model.StatusResponse{})
		return
	}
	writeJSON(w, http.StatusOK, model.StatusResponse{Authenticated: true, User: user})
}
