package api

import "time"

// Race is a treasure hunt instance as returned by the races endpoint.
type Race struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	ProjectID int       `json:"projectId"`
	Name      string    `json:"name"`
	Launched  bool      `json:"launched"`
}

// RaceOnUserJoin links a user to a race they joined.
type RaceOnUserJoin struct {
	UserEmail string `json:"userEmail"`
	RaceID    int    `json:"raceId"`
}

// RaceMembership is one row of the races response.
type RaceMembership struct {
	Race       Race           `json:"races"`
	Membership RaceOnUserJoin `json:"raceOnUserJoin"`
}

// RacesResponse is the response of the races endpoint.
type RacesResponse struct {
	Data []RaceMembership `json:"data"`
}

// TeamRow holds the team-level columns of a join row.
type TeamRow struct {
	ID               int     `json:"id"`
	Name             string  `json:"name"`
	RaceID           int     `json:"raceId"`
	RacePositionID   int     `json:"racePositionId"`
	CurrentLatitude  float64 `json:"currentLatitude"`
	CurrentLongitude float64 `json:"currentLongitude"`
	ObjectiveIndex   int     `json:"objectiveIndex"`
}

// UserOnTeamJoin is the membership column of a join row.
type UserOnTeamJoin struct {
	UserEmail string `json:"userEmail"`
	TeamID    int    `json:"teamId"`
}

// UserRow is the user column of a join row.
type UserRow struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// JoinRow is one (team, member) pair. Membership and User are nil for a
// team without members.
type JoinRow struct {
	Team       TeamRow         `json:"teams"`
	Membership *UserOnTeamJoin `json:"userOnTeamJoin"`
	User       *UserRow        `json:"users"`
}

// RaceTeams is the response of the getTeams endpoint.
type RaceTeams struct {
	Result []JoinRow `json:"result"`
}

// Objective is one geofenced target of a race.
type Objective struct {
	ID        int     `json:"id"`
	Order     int     `json:"order"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ObjectivesResponse is the response of the getObjectives endpoint.
type ObjectivesResponse struct {
	Result []Objective `json:"result"`
}

// MutationResult is the common shape of roster mutation responses.
type MutationResult struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// Failed reports whether the server refused the mutation.
func (r MutationResult) Failed() bool {
	return r.Result == "error"
}

// AdvanceResult is the response of the advanceObjective endpoint.
type AdvanceResult struct {
	Check                  bool   `json:"check"`
	TeamHasAlreadyAdvanced bool   `json:"teamHasAlreadyAdvanced"`
	Error                  string `json:"error,omitempty"`
}

// LocationResult is the response of the setTeamLocation endpoint.
type LocationResult struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	RaceFinished bool   `json:"raceFinished"`
}

// JoinRaceResult is the response of the enterRace endpoint.
type JoinRaceResult struct {
	Joined bool   `json:"joined"`
	Result string `json:"result"`
}

// QuitRaceResult is the response of the quitRace endpoint.
type QuitRaceResult struct {
	Quit   bool   `json:"quit"`
	Result string `json:"result,omitempty"`
}

// EditNameResult is the response of the editName endpoint.
type EditNameResult struct {
	Changed bool   `json:"changed"`
	Result  string `json:"result"`
}

// DeleteUserResult is the response of the deleteUser endpoint.
type DeleteUserResult struct {
	Deleted bool   `json:"deleted"`
	Result  string `json:"result"`
}

// User is the signed-in identity as known to the backend.
type User struct {
	ID            string `json:"id,omitempty"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Locale        string `json:"locale,omitempty"`
	VerifiedEmail string `json:"verified_email,omitempty"`
	Provider      string `json:"provider,omitempty"`
}

// CheckUserResult is the response of the checkUser endpoint.
type CheckUserResult struct {
	Found bool  `json:"found"`
	User  *User `json:"user"`
}
