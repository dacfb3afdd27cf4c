package routes

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/evently/collab/internal/config"
	"github.com/evently/collab/internal/hub"
	"github.com/evently/collab/internal/middleware"
	messageService "github.com/evently/collab/internal/service/message"
	teamService "github.com/evently/collab/internal/service/team"
	uploadService "github.com/evently/collab/internal/service/upload"
)

// Register wires every route onto one router. The message service doubles as
// the hub's sink for send-message events.
func Register(cfg *config.Config, db *sql.DB, h *hub.Hub) *mux.Router {
	router := mux.NewRouter()

	teams := teamService.NewService(db)
	messages := messageService.NewService(db, h)
	uploads := uploadService.NewService(cfg.UploadDir, cfg.AssetBase)
	h.SetSink(messages)

	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(middleware.AuthMiddleware, middleware.ResponseWrapperMiddleware)

	protected.HandleFunc("/teams/create", teams.CreateTeam).Methods(http.MethodPost)
	protected.HandleFunc("/teams/mine", teams.ListMine).Methods(http.MethodGet)
	protected.HandleFunc("/teams/code/{code}", teams.GetByCode).Methods(http.MethodGet)
	protected.HandleFunc("/teams/join/{code}", teams.JoinByCode).Methods(http.MethodPost)
	protected.HandleFunc("/teams/{id}/leave", teams.Leave).Methods(http.MethodPost)
	protected.HandleFunc("/teams/{id}/disband", teams.Disband).Methods(http.MethodPost)
	protected.HandleFunc("/teams/event/{event_id}/mine", teams.MyTeamForEvent).Methods(http.MethodGet)

	protected.HandleFunc("/messages/{team_id}", messages.History).Methods(http.MethodGet)
	protected.HandleFunc("/upload", uploads.Upload).Methods(http.MethodPost)

	// The websocket carries its token in the query string; auth happens once
	// at upgrade time.
	router.Handle("/ws", middleware.WebSocketAuthMiddleware(http.HandlerFunc(NewWebSocketHandler(h).HandleWebSocket))).Methods(http.MethodGet)

	return router
}
