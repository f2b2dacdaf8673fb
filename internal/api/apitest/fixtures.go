package apitest

import "github.com/stuartshay/treasurio/internal/api"

// Member returns the join row of one member of a team
func Member(teamID int, teamName string, objectiveIndex int, name, email string) api.JoinRow {
	return api.JoinRow{
		Team: api.TeamRow{
			ID:             teamID,
			Name:           teamName,
			ObjectiveIndex: objectiveIndex,
		},
		Membership: &api.UserOnTeamJoin{UserEmail: email, TeamID: teamID},
		User:       &api.UserRow{Name: name, Email: email},
	}
}

// Vacant returns the join row of a team without members
func Vacant(teamID int, teamName string) api.JoinRow {
	return api.JoinRow{Team: api.TeamRow{ID: teamID, Name: teamName}}
}

// Objectives returns count objectives with consecutive orders starting at 0,
// spaced one kilometer apart along a meridian
func Objectives(count int) []api.Objective {
	objectives := make([]api.Objective, count)
	for i := range objectives {
		objectives[i] = api.Objective{
			ID:        100 + i,
			Order:     i,
			Title:     "Objective " + string(rune('A'+i)),
			Message:   "Find the clue",
			Latitude:  48.85 + float64(i)*0.009,
			Longitude: 2.35,
		}
	}
	return objectives
}
