package race

import (
	"time"

	"github.com/stuartshay/treasurio/internal/api"
	"github.com/stuartshay/treasurio/internal/geofence"
	"github.com/stuartshay/treasurio/internal/team"
)

// State is the race progress state of the signed-in user's team
type State string

const (
	// StateLoading means race data has not been fetched yet, or the last
	// fetch failed
	StateLoading State = "loading"
	// StateInProgress means the team is looking for the current objective
	StateInProgress State = "in_progress"
	// StatePendingConfirmation means the device was found inside the
	// objective's geofence and the advance has not been confirmed yet
	StatePendingConfirmation State = "pending_confirmation"
	// StateAdvancing means an advance request is in flight
	StateAdvancing State = "advancing"
	// StateVictory means the team reached the last objective
	StateVictory State = "victory"
)

// Notice is a transient message that clears itself after a delay
type Notice string

const (
	NoticeNone             Notice = ""
	NoticeNotHere          Notice = "not_here"
	NoticeLocationDisabled Notice = "location_disabled"
)

// Snapshot is a copy of the controller state for UI bindings
type Snapshot struct {
	RaceID         int              `json:"raceId"`
	State          State            `json:"state"`
	Team           *team.Team       `json:"team,omitempty"`
	Objective      *api.Objective   `json:"objective,omitempty"`
	ObjectiveCount int              `json:"objectiveCount"`
	Notice         Notice           `json:"notice,omitempty"`
	Error          string           `json:"error,omitempty"`
	LastCheck      *geofence.Result `json:"lastCheck,omitempty"`
	Tracking       bool             `json:"tracking"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Finished reports whether the race is over for the team
func (s Snapshot) Finished() bool {
	return s.State == StateVictory
}
