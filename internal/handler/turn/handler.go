package turn

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antlaw0/AI-DM-v2/internal/repository"
	gameService "github.com/antlaw0/AI-DM-v2/internal/service/game"
	"github.com/antlaw0/AI-DM-v2/internal/service/llm"
	"github.com/antlaw0/AI-DM-v2/pkg/utils"
)

// Handler exposes the turn pipeline over HTTP.
type Handler struct {
	gameSvc *gameService.Service
	log     *zap.Logger
}

// New creates the turn handler.
func New(gameSvc *gameService.Service, log *zap.Logger) *Handler {
	return &Handler{gameSvc: gameSvc, log: log}
}

// RegisterRoutes registers the turn, history, and state routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/message", h.handleMessage)
	r.Get("/history/{username}", h.handleHistory)
	r.Get("/state/{username}", h.handleState)
}

// handleMessage runs one game turn.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Message  string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.gameSvc.Play(r.Context(), payload.Username, payload.Message)
	if err != nil && result != nil {
		// The narration exists even though persisting it failed; the player
		// still gets it.
		h.log.Error("turn result returned despite persistence failure", zap.Error(err))
		utils.RespondJSON(w, http.StatusOK, result)
		return
	}
	if err != nil {
		utils.RespondError(w, turnErrorStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// handleHistory returns a player's full conversation.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	messages, err := h.gameSvc.History(r.Context(), username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			utils.RespondError(w, http.StatusNotFound, "unknown player")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleState returns a player's current stats payload.
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	stats, err := h.gameSvc.State(r.Context(), username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			utils.RespondError(w, http.StatusNotFound, "unknown player")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load state")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"player_stats": stats})
}

func turnErrorStatus(err error) int {
	switch {
	case errors.Is(err, gameService.ErrEmptyUsername), errors.Is(err, gameService.ErrEmptyMessage):
		return http.StatusBadRequest
	default:
	}

	var transportErr *llm.TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
