package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"atelier/internal/domain"
	"atelier/internal/engine"
)

type createSessionRequest struct {
	Mode    string `json:"mode"`
	Caption string `json:"caption"`
}

func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	sess, err := a.Engine.CreateSession(domain.SessionMode(req.Mode), req.Caption)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, sess)
}

func (a *App) ListSessions(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"sessions": a.Engine.ListSessions()})
}

func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Engine.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, sess)
}

func (a *App) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !a.Engine.DeleteSession(chi.URLParam(r, "id")) {
		a.error(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setReferencesRequest struct {
	ReferenceURLs []string `json:"reference_urls"`
	Caption       string   `json:"caption"`
}

func (a *App) SetReferences(w http.ResponseWriter, r *http.Request) {
	var req setReferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	sess, err := a.Engine.SetReferences(chi.URLParam(r, "id"), req.ReferenceURLs, req.Caption)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, sess)
}

func (a *App) Analyze(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	sess, err := a.Engine.Analyze(r.Context(), chi.URLParam(r, "id"), force)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, sess)
}

type updatePreferencesRequest struct {
	AxisWeights     map[string]float64 `json:"axis_weights"`
	ExplorationRate *float64           `json:"exploration_rate"`
	StyleAffinity   map[string]float64 `json:"style_affinity"`
}

func (a *App) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req updatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	sess, err := a.Engine.UpdatePreferences(chi.URLParam(r, "id"), engine.PreferenceUpdate{
		AxisWeights:     req.AxisWeights,
		ExplorationRate: req.ExplorationRate,
		StyleAffinity:   req.StyleAffinity,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, sess)
}
