// Package api provides a client for the treasure hunt backend. Every call is
// a JSON POST; the backend owns races, teams, objectives and scoring.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apperrors "github.com/stuartshay/treasurio/internal/errors"
)

// Client defines the backend operations used by the race core
type Client interface {
	// FetchRaces returns the races the user has joined
	FetchRaces(ctx context.Context, userID string) (*RacesResponse, error)
	// FetchTeams returns the raw team/member join rows of a race
	FetchTeams(ctx context.Context, raceID int) (*RaceTeams, error)
	// FetchObjectives returns the objectives of a race
	FetchObjectives(ctx context.Context, raceID int) ([]Objective, error)

	CreateTeam(ctx context.Context, name string, raceID int, userID string, formerTeamID int) (*MutationResult, error)
	QuitTeam(ctx context.Context, teamID int, userID string) (*MutationResult, error)
	EnterTeam(ctx context.Context, teamID int, userID string, existingTeamID int) (*MutationResult, error)
	DeleteTeam(ctx context.Context, teamID int) (*MutationResult, error)

	// AdvanceObjective asks the server to move the team past the given objective
	AdvanceObjective(ctx context.Context, teamID, raceID, objectiveOrder int, objectiveTitle string) (*AdvanceResult, error)
	// SetTeamLocation reports the team's live position
	SetTeamLocation(ctx context.Context, latitude, longitude float64, teamID int) (*LocationResult, error)
	// TeamFinishedRace notifies the server that the team reached the last objective
	TeamFinishedRace(ctx context.Context, teamID int) error

	EnterRace(ctx context.Context, code, userEmail string) (*JoinRaceResult, error)
	QuitRace(ctx context.Context, raceID int, userID string) (bool, error)

	CheckUser(ctx context.Context, user User) (*CheckUserResult, error)
	EditName(ctx context.Context, userID, name string) (*EditNameResult, error)
	DeleteUser(ctx context.Context, userID, userEmail string) (*DeleteUserResult, error)
}

// HTTPClient is the HTTP implementation of Client
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client with a traced transport and the given timeout
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewHTTPClientWithHTTPClient creates a client with a custom http.Client
func NewHTTPClientWithHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the configured backend URL
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// post sends payload as JSON to path and decodes the JSON answer into
// response. Transport failures and non-200 statuses are network errors.
func (c *HTTPClient) post(ctx context.Context, path string, payload, response any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	apiURL := c.baseURL + path

	log.Debug().
		Str("url", apiURL).
		RawJSON("body", body).
		Msg("Backend request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Network(err, "failed to reach backend")
	}
	defer func() { _ = resp.Body.Close() }() // nolint:errcheck // Close in defer, error not actionable

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Network(err, "failed to read response")
	}

	log.Debug().
		Str("url", apiURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(respBody)).
		Msg("Backend response")

	if resp.StatusCode != http.StatusOK {
		return apperrors.Network(
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			fmt.Sprintf("backend returned status %d", resp.StatusCode),
		)
	}

	if response == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, response); err != nil {
		return apperrors.Network(err, "failed to parse response")
	}

	return nil
}

// FetchRaces retrieves the races the user has joined
func (c *HTTPClient) FetchRaces(ctx context.Context, userID string) (*RacesResponse, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("no user id provided")
	}

	var resp RacesResponse
	if err := c.post(ctx, "/api/races", userID, &resp); err != nil {
		return nil, fmt.Errorf("fetch races: %w", err)
	}
	return &resp, nil
}

// FetchTeams retrieves the team/member rows of a race
func (c *HTTPClient) FetchTeams(ctx context.Context, raceID int) (*RaceTeams, error) {
	var resp RaceTeams
	if err := c.post(ctx, "/api/mobile/getTeams", raceID, &resp); err != nil {
		return nil, fmt.Errorf("fetch teams: %w", err)
	}
	return &resp, nil
}

// FetchObjectives retrieves the objectives of a race
func (c *HTTPClient) FetchObjectives(ctx context.Context, raceID int) ([]Objective, error) {
	var resp ObjectivesResponse
	if err := c.post(ctx, "/api/mobile/getObjectives", raceID, &resp); err != nil {
		return nil, fmt.Errorf("fetch objectives: %w", err)
	}
	return resp.Result, nil
}

// CreateTeam creates a team and moves the user into it, leaving formerTeamID
// when non-zero
func (c *HTTPClient) CreateTeam(ctx context.Context, name string, raceID int, userID string, formerTeamID int) (*MutationResult, error) {
	payload := struct {
		TeamName     string `json:"teamName"`
		RaceID       int    `json:"raceId"`
		UserID       string `json:"userId"`
		FormerTeamID int    `json:"formerTeamId,omitempty"`
	}{name, raceID, userID, formerTeamID}

	var resp MutationResult
	if err := c.post(ctx, "/api/mobile/createTeam", payload, &resp); err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return &resp, nil
}

// QuitTeam removes the user from a team
func (c *HTTPClient) QuitTeam(ctx context.Context, teamID int, userID string) (*MutationResult, error) {
	payload := struct {
		TeamID int    `json:"teamId"`
		UserID string `json:"userId"`
	}{teamID, userID}

	var resp MutationResult
	if err := c.post(ctx, "/api/mobile/quitTeam", payload, &resp); err != nil {
		return nil, fmt.Errorf("quit team: %w", err)
	}
	return &resp, nil
}

// EnterTeam moves the user into a team; existingTeamID is omitted when zero
func (c *HTTPClient) EnterTeam(ctx context.Context, teamID int, userID string, existingTeamID int) (*MutationResult, error) {
	payload := struct {
		TeamID         int    `json:"teamId"`
		UserID         string `json:"userId"`
		ExistingTeamID int    `json:"existingTeamId,omitempty"`
	}{teamID, userID, existingTeamID}

	var resp MutationResult
	if err := c.post(ctx, "/api/mobile/enterTeam", payload, &resp); err != nil {
		return nil, fmt.Errorf("enter team: %w", err)
	}
	return &resp, nil
}

// DeleteTeam removes a team
func (c *HTTPClient) DeleteTeam(ctx context.Context, teamID int) (*MutationResult, error) {
	payload := struct {
		TeamID int `json:"teamId"`
	}{teamID}

	var resp MutationResult
	if err := c.post(ctx, "/api/mobile/deleteTeam", payload, &resp); err != nil {
		return nil, fmt.Errorf("delete team: %w", err)
	}
	return &resp, nil
}

// AdvanceObjective asks the server to validate the objective for the team
func (c *HTTPClient) AdvanceObjective(ctx context.Context, teamID, raceID, objectiveOrder int, objectiveTitle string) (*AdvanceResult, error) {
	payload := struct {
		TeamID         int    `json:"teamId"`
		RaceID         int    `json:"raceId"`
		ObjectiveOrder int    `json:"objectiveOrder"`
		ObjectiveTitle string `json:"objectiveTitle"`
	}{teamID, raceID, objectiveOrder, objectiveTitle}

	var resp AdvanceResult
	if err := c.post(ctx, "/api/mobile/advanceObjective", payload, &resp); err != nil {
		return nil, fmt.Errorf("advance objective: %w", err)
	}
	return &resp, nil
}

// SetTeamLocation reports the team's live position
func (c *HTTPClient) SetTeamLocation(ctx context.Context, latitude, longitude float64, teamID int) (*LocationResult, error) {
	payload := struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		TeamID    int     `json:"teamId"`
	}{latitude, longitude, teamID}

	var resp LocationResult
	if err := c.post(ctx, "/api/mobile/setTeamLocation", payload, &resp); err != nil {
		return nil, fmt.Errorf("set team location: %w", err)
	}
	return &resp, nil
}

// TeamFinishedRace notifies the server that the team completed the race
func (c *HTTPClient) TeamFinishedRace(ctx context.Context, teamID int) error {
	payload := struct {
		TeamID int `json:"teamId"`
	}{teamID}

	if err := c.post(ctx, "/api/mobile/teamFinishedRace", payload, nil); err != nil {
		return fmt.Errorf("team finished race: %w", err)
	}
	return nil
}

// EnterRace joins a race by its code
func (c *HTTPClient) EnterRace(ctx context.Context, code, userEmail string) (*JoinRaceResult, error) {
	payload := struct {
		Code      string `json:"code"`
		UserEmail string `json:"userEmail"`
	}{code, userEmail}

	var resp JoinRaceResult
	if err := c.post(ctx, "/api/mobile/enterRace", payload, &resp); err != nil {
		return nil, fmt.Errorf("enter race: %w", err)
	}
	return &resp, nil
}

// QuitRace leaves a race
func (c *HTTPClient) QuitRace(ctx context.Context, raceID int, userID string) (bool, error) {
	payload := struct {
		RaceID int    `json:"raceId"`
		UserID string `json:"userId"`
	}{raceID, userID}

	var resp QuitRaceResult
	if err := c.post(ctx, "/api/mobile/quitRace", payload, &resp); err != nil {
		return false, fmt.Errorf("quit race: %w", err)
	}
	return resp.Quit, nil
}

// CheckUser registers or looks up the signed-in user
func (c *HTTPClient) CheckUser(ctx context.Context, user User) (*CheckUserResult, error) {
	var resp CheckUserResult
	if err := c.post(ctx, "/api/mobile/checkUser", user, &resp); err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	return &resp, nil
}

// EditName changes the user's display name
func (c *HTTPClient) EditName(ctx context.Context, userID, name string) (*EditNameResult, error) {
	payload := struct {
		Name   string `json:"name"`
		UserID string `json:"userId"`
	}{name, userID}

	var resp EditNameResult
	if err := c.post(ctx, "/api/mobile/editName", payload, &resp); err != nil {
		return nil, fmt.Errorf("edit name: %w", err)
	}
	return &resp, nil
}

// DeleteUser deletes the user's account
func (c *HTTPClient) DeleteUser(ctx context.Context, userID, userEmail string) (*DeleteUserResult, error) {
	payload := struct {
		UserID    string `json:"userId"`
		UserEmail string `json:"userEmail"`
	}{userID, userEmail}

	var resp DeleteUserResult
	if err := c.post(ctx, "/api/mobile/deleteUser", payload, &resp); err != nil {
		return nil, fmt.Errorf("delete user: %w", err)
	}
	return &resp, nil
}

var _ Client = (*HTTPClient)(nil)
