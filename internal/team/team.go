// Package team folds the backend's flat team/member join rows into one
// entry per team.
package team

import (
	"sort"
	"strings"

	"github.com/stuartshay/treasurio/internal/api"
)

// Member is a team member. An empty Email marks a vacant slot.
type Member struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Team is the per-race view of a team built from join rows.
type Team struct {
	ID               int      `json:"id"`
	Name             string   `json:"name"`
	Members          []Member `json:"members"`
	CurrentLatitude  float64  `json:"currentLatitude"`
	CurrentLongitude float64  `json:"currentLongitude"`
	ObjectiveIndex   int      `json:"objectiveIndex"`
}

// Normalize groups join rows by team id. Teams keep the order of their first
// row and the fields of that row; every row appends one member, so a row
// duplicated on the wire yields a duplicated member. A nil response yields
// nil, a response without rows an empty slice.
func Normalize(data *api.RaceTeams) []Team {
	if data == nil {
		return nil
	}

	teams := make([]Team, 0)
	index := make(map[int]int)

	for _, row := range data.Result {
		member := memberOf(row)

		if i, ok := index[row.Team.ID]; ok {
			teams[i].Members = append(teams[i].Members, member)
			continue
		}

		index[row.Team.ID] = len(teams)
		teams = append(teams, Team{
			ID:               row.Team.ID,
			Name:             row.Team.Name,
			Members:          []Member{member},
			CurrentLatitude:  row.Team.CurrentLatitude,
			CurrentLongitude: row.Team.CurrentLongitude,
			ObjectiveIndex:   row.Team.ObjectiveIndex,
		})
	}

	return teams
}

func memberOf(row api.JoinRow) Member {
	if row.User == nil {
		return Member{}
	}
	return Member{Name: row.User.Name, Email: row.User.Email}
}

// HasMember reports whether email belongs to the team. An empty email never
// matches, since it denotes a vacant slot.
func (t Team) HasMember(email string) bool {
	if email == "" {
		return false
	}
	for _, m := range t.Members {
		if m.Email == email {
			return true
		}
	}
	return false
}

// IsVacant reports whether the team has no real member and may be deleted.
func (t Team) IsVacant() bool {
	return len(t.Members) > 0 && t.Members[0].Email == ""
}

// MemberNames returns the display names joined with ", ".
func (t Team) MemberNames() string {
	names := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		names = append(names, m.Name)
	}
	return strings.Join(names, ", ")
}

// FindByMember returns the first team containing email.
func FindByMember(teams []Team, email string) (Team, bool) {
	for _, t := range teams {
		if t.HasMember(email) {
			return t, true
		}
	}
	return Team{}, false
}

// ExistingTeamID returns the id of the last team containing email, 0 when
// the user is in no team.
func ExistingTeamID(teams []Team, email string) int {
	id := 0
	for _, t := range teams {
		if t.HasMember(email) {
			id = t.ID
		}
	}
	return id
}

// SortByName returns a copy of teams ordered by case-insensitive name.
func SortByName(teams []Team) []Team {
	sorted := make([]Team, len(teams))
	copy(sorted, teams)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToUpper(sorted[i].Name) < strings.ToUpper(sorted[j].Name)
	})
	return sorted
}
