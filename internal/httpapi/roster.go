package httpapi

import (
	"net/http"
	"strconv"

	"github.com/stuartshay/treasurio/internal/api"
	"github.com/stuartshay/treasurio/internal/team"
)

// TeamView is a team as listed by the local API
type TeamView struct {
	team.Team
	MemberNames string `json:"memberNames"`
	Vacant      bool   `json:"vacant"`
}

type joinRaceRequest struct {
	Code string `json:"code"`
}

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) handleListRaces(w http.ResponseWriter, r *http.Request) {
	races, err := h.Roster.Races(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if races == nil {
		races = []api.RaceMembership{}
	}
	respondOK(w, races)
}

func (h *Handlers) handleJoinRace(w http.ResponseWriter, r *http.Request) {
	var req joinRaceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := h.Roster.JoinRace(r.Context(), req.Code); err != nil {
		respondError(w, err)
		return
	}
	respondNoContent(w)
}

func (h *Handlers) handleQuitRace(w http.ResponseWriter, r *http.Request) {
	raceID, err := parseIntParam(r, "raceID")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.Roster.QuitRace(r.Context(), raceID); err != nil {
		respondError(w, err)
		return
	}
	respondNoContent(w)
}

func (h *Handlers) handleInviteQR(w http.ResponseWriter, r *http.Request) {
	raceID, err := parseIntParam(r, "raceID")
	if err != nil {
		respondError(w, err)
		return
	}
	size, err := parseSize(r)
	if err != nil {
		respondError(w, err)
		return
	}

	png, err := h.Roster.InviteQR(r.Context(), raceID, size)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

// parseSize reads the optional size query parameter, 0 when absent
func parseSize(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("size")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 64 || n > 1024 {
		return 0, BadRequest("size must be between 64 and 1024")
	}
	return n, nil
}

func (h *Handlers) handleListTeams(w http.ResponseWriter, r *http.Request) {
	raceID, err := parseIntParam(r, "raceID")
	if err != nil {
		respondError(w, err)
		return
	}
	teams, err := h.Roster.Teams(r.Context(), raceID)
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]TeamView, 0, len(teams))
	for _, t := range teams {
		views = append(views, TeamView{Team: t, MemberNames: t.MemberNames(), Vacant: t.IsVacant()})
	}
	respondOK(w, views)
}

func (h *Handlers) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	raceID, err := parseIntParam(r, "raceID")
	if err != nil {
		respondError(w, err)
		return
	}
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := h.Roster.CreateTeam(r.Context(), raceID, req.Name); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, nil)
}

// teamParams reads the race and team ids of a team route
func teamParams(r *http.Request) (int, int, error) {
	raceID, err := parseIntParam(r, "raceID")
	if err != nil {
		return 0, 0, err
	}
	teamID, err := parseIntParam(r, "teamID")
	if err != nil {
		return 0, 0, err
	}
	return raceID, teamID, nil
}

func (h *Handlers) handleEnterTeam(w http.ResponseWriter, r *http.Request) {
	raceID, teamID, err := teamParams(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.Roster.EnterTeam(r.Context(), raceID, teamID); err != nil {
		respondError(w, err)
		return
	}
	respondNoContent(w)
}

func (h *Handlers) handleQuitTeam(w http.ResponseWriter, r *http.Request) {
	raceID, teamID, err := teamParams(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.Roster.QuitTeam(r.Context(), raceID, teamID); err != nil {
		respondError(w, err)
		return
	}
	respondNoContent(w)
}

func (h *Handlers) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	raceID, teamID, err := teamParams(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.Roster.DeleteTeam(r.Context(), raceID, teamID); err != nil {
		respondError(w, err)
		return
	}
	respondNoContent(w)
}

func (h *Handlers) handleMe(w http.ResponseWriter, _ *http.Request) {
	u, ok := h.Account.Current()
	if !ok {
		respondJSON(w, http.StatusUnauthorized, &APIError{Code: ErrCodeUnauthorized, Message: "not signed in"})
		return
	}
	respondOK(w, u)
}

func (h *Handlers) handleRename(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := h.Account.Rename(r.Context(), req.Name); err != nil {
		respondError(w, err)
		return
	}
	u, _ := h.Account.Current()
	respondOK(w, u)
}

func (h *Handlers) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.Account.SignOut(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondNoContent(w)
}

func (h *Handlers) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Account.DeleteAccount(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondNoContent(w)
}
