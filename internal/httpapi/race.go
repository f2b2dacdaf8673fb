package httpapi

import (
	"net/http"

	"github.com/stuartshay/treasurio/internal/geofence"
	"github.com/stuartshay/treasurio/internal/queue"
	"github.com/stuartshay/treasurio/internal/race"
	"github.com/stuartshay/treasurio/internal/tracker"
)

const defaultReportLimit = 20

// CheckResponse is the outcome of a location check
type CheckResponse struct {
	Check geofence.Result `json:"check"`
	Race  race.Snapshot   `json:"race"`
}

// PermissionsResponse is the outcome of a permission request
type PermissionsResponse struct {
	Granted bool `json:"granted"`
}

// TrackingResponse is the tracker state with its latest reports
type TrackingResponse struct {
	Status  tracker.Status `json:"status"`
	Reports []*queue.Job   `json:"reports"`
}

func (h *Handlers) handleGetRace(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, h.Race.Snapshot())
}

func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.Race.Refresh(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, h.Race.Snapshot())
}

func (h *Handlers) handleCheck(w http.ResponseWriter, r *http.Request) {
	res, err := h.Race.CheckLocation(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, CheckResponse{Check: res, Race: h.Race.Snapshot()})
}

func (h *Handlers) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if err := h.Race.Advance(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, h.Race.Snapshot())
}

func (h *Handlers) handlePermissions(w http.ResponseWriter, r *http.Request) {
	granted, err := h.Race.RequestPermissions(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, PermissionsResponse{Granted: granted})
}

func (h *Handlers) handleTrackingStatus(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultReportLimit)
	if err != nil {
		respondError(w, err)
		return
	}
	reports := h.Tracking.Reports(limit)
	if reports == nil {
		reports = []*queue.Job{}
	}
	respondOK(w, TrackingResponse{Status: h.Tracking.Status(), Reports: reports})
}

func (h *Handlers) handleStartTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.Race.StartTracking(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, h.Race.Snapshot())
}

func (h *Handlers) handleStopTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.Race.StopTracking(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, h.Race.Snapshot())
}
