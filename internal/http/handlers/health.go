package handlers

import (
	"net/http"
)

// Health reports process liveness along with the current generation backlog,
// so a monitor can tell an idle service from a wedged one.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "atelier",
		"queue_depth": a.Engine.QueueDepth(),
	})
}
