package httpapi

import (
	"fmt"
	"net/http"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/fleet"
)

var errSelfDelete = fmt.Errorf("%w: administrators cannot delete their own account", apperr.ErrConflict)

type createVesselRequest struct {
	IMO    string `json:"imo" validate:"required"`
	Name   string `json:"name" validate:"required,max=200"`
	Status string `json:"status"`
}

type vesselStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (a *API) listVessels(w http.ResponseWriter, r *http.Request) {
	vessels, err := a.deps.Fleet.ListVessels(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if vessels == nil {
		vessels = []fleet.Vessel{}
	}
	writeData(w, r, http.StatusOK, vessels)
}

func (a *API) getVessel(w http.ResponseWriter, r *http.Request) {
	v, err := a.deps.Fleet.GetVessel(r.Context(), principal(r), vars(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, v)
}

func (a *API) createVessel(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r, "vessels", "manage"); err != nil {
		writeError(w, r, err)
		return
	}
	var req createVesselRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := a.deps.Fleet.CreateVessel(r.Context(), principal(r), req.IMO, req.Name, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/vessels/%s", v.ID))
	writeData(w, r, http.StatusCreated, v)
}

func (a *API) setVesselStatus(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r, "vessels", "manage"); err != nil {
		writeError(w, r, err)
		return
	}
	var req vesselStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := a.deps.Fleet.UpdateVesselStatus(r.Context(), principal(r), vars(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, v)
}
