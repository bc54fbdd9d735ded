package httpadapter

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

type coordinatesRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type stageRequest struct {
	Stage       string              `json:"stage"`
	Status      string              `json:"status"`
	Location    string              `json:"location"`
	Notes       string              `json:"notes"`
	Coordinates *coordinatesRequest `json:"coordinates"`
	Documents   []string            `json:"documents"`
}

func (req stageRequest) stage() domain.Stage {
	return domain.Stage(strings.TrimSpace(req.Stage))
}

func (rt *Router) decodeStageRequest(w http.ResponseWriter, r *http.Request) (stageRequest, bool) {
	var req stageRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode stage request", err))
		return req, false
	}
	return req, true
}

func (rt *Router) getAssignment(w http.ResponseWriter, r *http.Request) {
	assignment, err := rt.services.Lifecycle.Get(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "forwarder assignment", assignment)
}

func (rt *Router) startStage(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeStageRequest(w, r)
	if !ok {
		return
	}
	assignment, err := rt.services.Lifecycle.Start(r.Context(), mux.Vars(r)["id"], req.stage(), actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.recordStageTransition(req.Stage, string(domain.StageStatusInProgress))
	writeSuccess(w, http.StatusOK, "stage started", assignment)
}

func (rt *Router) updateStageStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeStageRequest(w, r)
	if !ok {
		return
	}
	update := domain.StageUpdate{
		Stage:     req.stage(),
		Status:    domain.StageStatus(strings.TrimSpace(req.Status)),
		Location:  req.Location,
		Notes:     req.Notes,
		Documents: req.Documents,
	}
	if req.Coordinates != nil {
		update.Coordinates = &domain.GeoPoint{Lat: req.Coordinates.Lat, Lng: req.Coordinates.Lng}
	}

	assignment, err := rt.services.Lifecycle.UpdateStatus(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()), update)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.recordStageTransition(req.Stage, req.Status)
	writeSuccess(w, http.StatusOK, "stage status updated", assignment)
}

func (rt *Router) completeStage(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeStageRequest(w, r)
	if !ok {
		return
	}
	assignment, err := rt.services.Lifecycle.Complete(r.Context(), mux.Vars(r)["id"], req.stage(), actorFromContext(r.Context()), req.Notes)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.recordStageTransition(req.Stage, string(domain.StageStatusCompleted))
	writeSuccess(w, http.StatusOK, "stage completed", assignment)
}

func (rt *Router) myTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := rt.services.Lifecycle.MyTasks(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "forwarder tasks", tasks)
}

func (rt *Router) workflowStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.services.Lifecycle.WorkflowStatus(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "workflow status", status)
}
