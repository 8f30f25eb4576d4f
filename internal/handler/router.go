package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/antlaw0/AI-DM-v2/internal/handler/turn"
	"github.com/antlaw0/AI-DM-v2/internal/middleware"
	gameService "github.com/antlaw0/AI-DM-v2/internal/service/game"
	"github.com/antlaw0/AI-DM-v2/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(gameSvc *gameService.Service, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	turnHandler := turn.New(gameSvc, log)
	r.Route("/api", func(api chi.Router) {
		turnHandler.RegisterRoutes(api)
	})

	return r
}
