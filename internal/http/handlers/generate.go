package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"atelier/internal/domain"
)

type generateRequest struct {
	DirectionID  string `json:"direction_id"`
	ParentNodeID string `json:"parent_node_id"`
	MediaType    string `json:"media_type"`
}

func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.DirectionID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "direction_id required")
		return
	}
	if req.MediaType == "" {
		req.MediaType = string(domain.MediaImage)
	}
	res, err := a.Engine.EnqueueGeneration(chi.URLParam(r, "id"), req.DirectionID, req.ParentNodeID, domain.MediaType(req.MediaType))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, res)
}

func (a *App) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := a.Engine.GetNode(chi.URLParam(r, "id"), chi.URLParam(r, "nodeID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, node)
}

type pinRequest struct {
	Pinned *bool `json:"pinned"`
}

func (a *App) PinNode(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	pinned := true
	if req.Pinned != nil {
		pinned = *req.Pinned
	}
	node, err := a.Engine.SetNodePinned(chi.URLParam(r, "id"), chi.URLParam(r, "nodeID"), pinned)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, node)
}
