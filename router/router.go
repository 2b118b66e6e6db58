package router

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	handlers "codefusion/handler"
	accountHandler "codefusion/internal/account"
	"codefusion/internal/account/service"
	"codefusion/middleware"
	"codefusion/socket"
)

func Setup(db *sql.DB, hub *socket.Hub, auth *middleware.Authenticator, accounts *service.AccountService, origins []string) http.Handler {
	r := mux.NewRouter()

	// WebSocket. Anonymous connections are allowed; a valid token supplies
	// the default username.
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := ""
		if claims, ok := middleware.ClaimsFrom(r.Context()); ok {
			account = claims.Username
		}
		socket.ServeWs(hub, w, r, account)
	})
	r.Handle("/ws", auth.OptionalAuth(wsHandler))

	// REST API
	api := r.PathPrefix("/api").Subrouter()
	health := &handlers.HealthHandler{DB: db}
	rooms := &handlers.RoomHandler{Hub: hub}
	accountsHandler := accountHandler.NewAccountHandler(accounts)

	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}/participants", rooms.Participants).Methods(http.MethodGet)

	api.HandleFunc("/auth/register", accountsHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", accountsHandler.Login).Methods(http.MethodPost)
	api.Handle("/auth/me", auth.RequireAuth(http.HandlerFunc(accountsHandler.Me))).Methods(http.MethodGet)
	api.Handle("/auth/logout", auth.RequireAuth(http.HandlerFunc(accountsHandler.Logout))).Methods(http.MethodPost)
	api.Handle("/auth/status", auth.OptionalAuth(http.HandlerFunc(accountsHandler.Status))).Methods(http.MethodGet)

	return middleware.CORSMiddleware(origins)(r)
}
