// Package apitest provides an in-memory api.Client for tests. Each operation
// can be overridden with a function field; unset fields return zero results.
// Calls are counted per operation name.
package apitest

import (
	"context"
	"sync"

	"github.com/stuartshay/treasurio/internal/api"
)

// Fake is a programmable api.Client
type Fake struct {
	FetchRacesFn       func(ctx context.Context, userID string) (*api.RacesResponse, error)
	FetchTeamsFn       func(ctx context.Context, raceID int) (*api.RaceTeams, error)
	FetchObjectivesFn  func(ctx context.Context, raceID int) ([]api.Objective, error)
	CreateTeamFn       func(ctx context.Context, name string, raceID int, userID string, formerTeamID int) (*api.MutationResult, error)
	QuitTeamFn         func(ctx context.Context, teamID int, userID string) (*api.MutationResult, error)
	EnterTeamFn        func(ctx context.Context, teamID int, userID string, existingTeamID int) (*api.MutationResult, error)
	DeleteTeamFn       func(ctx context.Context, teamID int) (*api.MutationResult, error)
	AdvanceObjectiveFn func(ctx context.Context, teamID, raceID, objectiveOrder int, objectiveTitle string) (*api.AdvanceResult, error)
	SetTeamLocationFn  func(ctx context.Context, latitude, longitude float64, teamID int) (*api.LocationResult, error)
	TeamFinishedRaceFn func(ctx context.Context, teamID int) error
	EnterRaceFn        func(ctx context.Context, code, userEmail string) (*api.JoinRaceResult, error)
	QuitRaceFn         func(ctx context.Context, raceID int, userID string) (bool, error)
	CheckUserFn        func(ctx context.Context, user api.User) (*api.CheckUserResult, error)
	EditNameFn         func(ctx context.Context, userID, name string) (*api.EditNameResult, error)
	DeleteUserFn       func(ctx context.Context, userID, userEmail string) (*api.DeleteUserResult, error)

	mu    sync.Mutex
	calls map[string]int
}

// Calls returns how many times the named operation was invoked
func (f *Fake) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *Fake) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *Fake) FetchRaces(ctx context.Context, userID string) (*api.RacesResponse, error) {
	f.record("FetchRaces")
	if f.FetchRacesFn != nil {
		return f.FetchRacesFn(ctx, userID)
	}
	return &api.RacesResponse{}, nil
}

func (f *Fake) FetchTeams(ctx context.Context, raceID int) (*api.RaceTeams, error) {
	f.record("FetchTeams")
	if f.FetchTeamsFn != nil {
		return f.FetchTeamsFn(ctx, raceID)
	}
	return &api.RaceTeams{}, nil
}

func (f *Fake) FetchObjectives(ctx context.Context, raceID int) ([]api.Objective, error) {
	f.record("FetchObjectives")
	if f.FetchObjectivesFn != nil {
		return f.FetchObjectivesFn(ctx, raceID)
	}
	return nil, nil
}

func (f *Fake) CreateTeam(ctx context.Context, name string, raceID int, userID string, formerTeamID int) (*api.MutationResult, error) {
	f.record("CreateTeam")
	if f.CreateTeamFn != nil {
		return f.CreateTeamFn(ctx, name, raceID, userID, formerTeamID)
	}
	return &api.MutationResult{Result: "ok"}, nil
}

func (f *Fake) QuitTeam(ctx context.Context, teamID int, userID string) (*api.MutationResult, error) {
	f.record("QuitTeam")
	if f.QuitTeamFn != nil {
		return f.QuitTeamFn(ctx, teamID, userID)
	}
	return &api.MutationResult{Result: "ok"}, nil
}

func (f *Fake) EnterTeam(ctx context.Context, teamID int, userID string, existingTeamID int) (*api.MutationResult, error) {
	f.record("EnterTeam")
	if f.EnterTeamFn != nil {
		return f.EnterTeamFn(ctx, teamID, userID, existingTeamID)
	}
	return &api.MutationResult{Result: "ok"}, nil
}

func (f *Fake) DeleteTeam(ctx context.Context, teamID int) (*api.MutationResult, error) {
	f.record("DeleteTeam")
	if f.DeleteTeamFn != nil {
		return f.DeleteTeamFn(ctx, teamID)
	}
	return &api.MutationResult{Result: "ok"}, nil
}

func (f *Fake) AdvanceObjective(ctx context.Context, teamID, raceID, objectiveOrder int, objectiveTitle string) (*api.AdvanceResult, error) {
	f.record("AdvanceObjective")
	if f.AdvanceObjectiveFn != nil {
		return f.AdvanceObjectiveFn(ctx, teamID, raceID, objectiveOrder, objectiveTitle)
	}
	return &api.AdvanceResult{Check: true}, nil
}

func (f *Fake) SetTeamLocation(ctx context.Context, latitude, longitude float64, teamID int) (*api.LocationResult, error) {
	f.record("SetTeamLocation")
	if f.SetTeamLocationFn != nil {
		return f.SetTeamLocationFn(ctx, latitude, longitude, teamID)
	}
	return &api.LocationResult{Status: "ok"}, nil
}

func (f *Fake) TeamFinishedRace(ctx context.Context, teamID int) error {
	f.record("TeamFinishedRace")
	if f.TeamFinishedRaceFn != nil {
		return f.TeamFinishedRaceFn(ctx, teamID)
	}
	return nil
}

func (f *Fake) EnterRace(ctx context.Context, code, userEmail string) (*api.JoinRaceResult, error) {
	f.record("EnterRace")
	if f.EnterRaceFn != nil {
		return f.EnterRaceFn(ctx, code, userEmail)
	}
	return &api.JoinRaceResult{Joined: true}, nil
}

func (f *Fake) QuitRace(ctx context.Context, raceID int, userID string) (bool, error) {
	f.record("QuitRace")
	if f.QuitRaceFn != nil {
		return f.QuitRaceFn(ctx, raceID, userID)
	}
	return true, nil
}

func (f *Fake) CheckUser(ctx context.Context, user api.User) (*api.CheckUserResult, error) {
	f.record("CheckUser")
	if f.CheckUserFn != nil {
		return f.CheckUserFn(ctx, user)
	}
	return &api.CheckUserResult{Found: true, User: &user}, nil
}

func (f *Fake) EditName(ctx context.Context, userID, name string) (*api.EditNameResult, error) {
	f.record("EditName")
	if f.EditNameFn != nil {
		return f.EditNameFn(ctx, userID, name)
	}
	return &api.EditNameResult{Changed: true}, nil
}

func (f *Fake) DeleteUser(ctx context.Context, userID, userEmail string) (*api.DeleteUserResult, error) {
	f.record("DeleteUser")
	if f.DeleteUserFn != nil {
		return f.DeleteUserFn(ctx, userID, userEmail)
	}
	return &api.DeleteUserResult{Deleted: true}, nil
}

var _ api.Client = (*Fake)(nil)
