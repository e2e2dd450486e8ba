package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/events"
	"atelier/internal/infra"
)

type App struct {
	Engine         *engine.Engine
	Events         *events.Broadcaster
	Logger         infra.Logger
	HeartbeatEvery time.Duration
}

func NewApp(eng *engine.Engine, broadcaster *events.Broadcaster, logger infra.Logger, heartbeatEvery time.Duration) *App {
	if heartbeatEvery <= 0 {
		heartbeatEvery = 30 * time.Second
	}
	return &App{Engine: eng, Events: broadcaster, Logger: logger, HeartbeatEvery: heartbeatEvery}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"code": code, "message": message})
}

// fail translates domain errors into HTTP responses.
func (a *App) fail(w http.ResponseWriter, err error) {
	var revision *domain.RevisionError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.As(err, &revision):
		a.error(w, http.StatusUnprocessableEntity, "needs_revision", revision.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
