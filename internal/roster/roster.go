// Package roster implements race membership and team roster actions for the
// signed-in user. Every successful mutation drops the cached data it
// affects so the next read reflects the server.
package roster

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/stuartshay/treasurio/internal/api"
	apperrors "github.com/stuartshay/treasurio/internal/errors"
	"github.com/stuartshay/treasurio/internal/team"
)

// Data is the cached race data the roster reads and invalidates
type Data interface {
	Races(ctx context.Context, userID string) ([]api.RaceMembership, error)
	Race(ctx context.Context, userID string, raceID int) (api.Race, bool, error)
	Teams(ctx context.Context, raceID int) ([]team.Team, error)
	InvalidateRaces(userID string)
	InvalidateTeams(raceID int)
}

// Users yields the signed-in user
type Users interface {
	Current() (api.User, bool)
}

// Roster performs roster actions on behalf of the signed-in user
type Roster struct {
	client api.Client
	data   Data
	users  Users
}

// New creates a roster
func New(client api.Client, data Data, users Users) *Roster {
	return &Roster{client: client, data: data, users: users}
}

func (r *Roster) user() (api.User, error) {
	u, ok := r.users.Current()
	if !ok || u.ID == "" {
		return api.User{}, apperrors.Permission("not signed in")
	}
	return u, nil
}

// Races returns the races the user has joined
func (r *Roster) Races(ctx context.Context) ([]api.RaceMembership, error) {
	u, err := r.user()
	if err != nil {
		return nil, err
	}
	return r.data.Races(ctx, u.ID)
}

// Teams returns the teams of a race ordered by name
func (r *Roster) Teams(ctx context.Context, raceID int) ([]team.Team, error) {
	teams, err := r.data.Teams(ctx, raceID)
	if err != nil {
		return nil, err
	}
	return team.SortByName(teams), nil
}

// LaunchedRace reports whether the race has started, which is when its teams
// may go after objectives
func (r *Roster) LaunchedRace(ctx context.Context, raceID int) (bool, error) {
	u, err := r.user()
	if err != nil {
		return false, err
	}

	race, ok, err := r.data.Race(ctx, u.ID, raceID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, apperrors.NotFoundf("race %d not joined", raceID)
	}
	return race.Launched, nil
}

// DefaultInviteSize is the edge length in pixels of invitation QR codes
const DefaultInviteSize = 256

// InviteCode returns the join code teammates enter to join raceID
func (r *Roster) InviteCode(ctx context.Context, raceID int) (string, error) {
	u, err := r.user()
	if err != nil {
		return "", err
	}

	race, ok, err := r.data.Race(ctx, u.ID, raceID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.NotFoundf("race %d not joined", raceID)
	}
	if race.Code == "" {
		return "", apperrors.NotFoundf("race %d has no invitation code", raceID)
	}
	return race.Code, nil
}

// InviteQR renders the join code of raceID as a PNG QR code
func (r *Roster) InviteQR(ctx context.Context, raceID, size int) ([]byte, error) {
	code, err := r.InviteCode(ctx, raceID)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultInviteSize
	}

	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return png, nil
}

// JoinRace joins the race identified by its invitation code
func (r *Roster) JoinRace(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return apperrors.InvalidInput("race code is required")
	}
	u, err := r.user()
	if err != nil {
		return err
	}

	res, err := r.client.EnterRace(ctx, code, u.Email)
	if err != nil {
		return err
	}
	if !res.Joined {
		return apperrors.Rejected(res.Result)
	}

	r.data.InvalidateRaces(u.ID)
	log.Info().Str("code", code).Msg("Joined race")
	return nil
}

// QuitRace leaves a race
func (r *Roster) QuitRace(ctx context.Context, raceID int) error {
	u, err := r.user()
	if err != nil {
		return err
	}

	quit, err := r.client.QuitRace(ctx, raceID, u.ID)
	if err != nil {
		return err
	}
	if !quit {
		return apperrors.Rejected("")
	}

	r.data.InvalidateRaces(u.ID)
	r.data.InvalidateTeams(raceID)
	log.Info().Int("race_id", raceID).Msg("Quit race")
	return nil
}

// CreateTeam creates a team in raceID and moves the user into it
func (r *Roster) CreateTeam(ctx context.Context, raceID int, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.InvalidInput("team name is required")
	}
	u, err := r.user()
	if err != nil {
		return err
	}

	formerTeamID, err := r.currentTeamID(ctx, raceID, u.Email)
	if err != nil {
		return err
	}

	res, err := r.client.CreateTeam(ctx, name, raceID, u.ID, formerTeamID)
	if err != nil {
		return err
	}
	if err := mutationError(res); err != nil {
		return err
	}

	r.data.InvalidateTeams(raceID)
	log.Info().Int("race_id", raceID).Str("team", name).Msg("Team created")
	return nil
}

// EnterTeam moves the user into teamID, leaving their current team
func (r *Roster) EnterTeam(ctx context.Context, raceID, teamID int) error {
	u, err := r.user()
	if err != nil {
		return err
	}

	existingTeamID, err := r.currentTeamID(ctx, raceID, u.Email)
	if err != nil {
		return err
	}
	if existingTeamID == teamID {
		return nil
	}

	res, err := r.client.EnterTeam(ctx, teamID, u.ID, existingTeamID)
	if err != nil {
		return err
	}
	if err := mutationError(res); err != nil {
		return err
	}

	r.data.InvalidateTeams(raceID)
	log.Info().Int("race_id", raceID).Int("team_id", teamID).Msg("Entered team")
	return nil
}

// QuitTeam removes the user from teamID
func (r *Roster) QuitTeam(ctx context.Context, raceID, teamID int) error {
	u, err := r.user()
	if err != nil {
		return err
	}

	res, err := r.client.QuitTeam(ctx, teamID, u.ID)
	if err != nil {
		return err
	}
	if err := mutationError(res); err != nil {
		return err
	}

	r.data.InvalidateTeams(raceID)
	log.Info().Int("race_id", raceID).Int("team_id", teamID).Msg("Quit team")
	return nil
}

// DeleteTeam deletes a team that has no members left
func (r *Roster) DeleteTeam(ctx context.Context, raceID, teamID int) error {
	teams, err := r.data.Teams(ctx, raceID)
	if err != nil {
		return err
	}

	var target *team.Team
	for i := range teams {
		if teams[i].ID == teamID {
			target = &teams[i]
			break
		}
	}
	if target == nil {
		return apperrors.NotFoundf("team %d not found in race %d", teamID, raceID)
	}
	if !target.IsVacant() {
		return apperrors.Conflictf("team %q still has members", target.Name)
	}

	res, err := r.client.DeleteTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if err := mutationError(res); err != nil {
		return err
	}

	r.data.InvalidateTeams(raceID)
	log.Info().Int("race_id", raceID).Int("team_id", teamID).Msg("Team deleted")
	return nil
}

func (r *Roster) currentTeamID(ctx context.Context, raceID int, email string) (int, error) {
	teams, err := r.data.Teams(ctx, raceID)
	if err != nil {
		return 0, err
	}
	return team.ExistingTeamID(teams, email), nil
}

func mutationError(res *api.MutationResult) error {
	if res == nil {
		return apperrors.Rejected("")
	}
	if res.Failed() {
		return apperrors.Rejected(res.Message)
	}
	return nil
}
