package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/treasurio/internal/api"
	apperrors "github.com/stuartshay/treasurio/internal/errors"
	"github.com/stuartshay/treasurio/internal/geofence"
	"github.com/stuartshay/treasurio/internal/queue"
	"github.com/stuartshay/treasurio/internal/race"
	"github.com/stuartshay/treasurio/internal/team"
	"github.com/stuartshay/treasurio/internal/tracker"
)

type fakeRace struct {
	mu       sync.Mutex
	snap     race.Snapshot
	check    geofence.Result
	err      error
	granted  bool
	calls    map[string]int
	stream   chan race.Snapshot
	canceled chan struct{}
}

func newFakeRace() *fakeRace {
	return &fakeRace{
		snap:     race.Snapshot{RaceID: 7, State: race.StateInProgress},
		calls:    make(map[string]int),
		stream:   make(chan race.Snapshot, 4),
		canceled: make(chan struct{}),
	}
}

func (f *fakeRace) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.err
}

func (f *fakeRace) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRace) Snapshot() race.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeRace) Subscribe() (<-chan race.Snapshot, func()) {
	var once sync.Once
	return f.stream, func() { once.Do(func() { close(f.canceled) }) }
}

func (f *fakeRace) Refresh(_ context.Context) error { return f.record("Refresh") }

func (f *fakeRace) CheckLocation(_ context.Context) (geofence.Result, error) {
	if err := f.record("CheckLocation"); err != nil {
		return geofence.Result{}, err
	}
	return f.check, nil
}

func (f *fakeRace) Advance(_ context.Context) error { return f.record("Advance") }

func (f *fakeRace) RequestPermissions(_ context.Context) (bool, error) {
	if err := f.record("RequestPermissions"); err != nil {
		return false, err
	}
	return f.granted, nil
}

func (f *fakeRace) StartTracking(_ context.Context) error { return f.record("StartTracking") }
func (f *fakeRace) StopTracking(_ context.Context) error  { return f.record("StopTracking") }

type fakeTracking struct {
	status  tracker.Status
	reports []*queue.Job
	limit   int
}

func (f *fakeTracking) Status() tracker.Status { return f.status }

func (f *fakeTracking) Reports(limit int) []*queue.Job {
	f.limit = limit
	return f.reports
}

type fakeRoster struct {
	calls   []string
	teams   []team.Team
	err     error
	created string
}

func (f *fakeRoster) Races(_ context.Context) ([]api.RaceMembership, error) {
	f.calls = append(f.calls, "Races")
	return nil, f.err
}

func (f *fakeRoster) Teams(_ context.Context, _ int) ([]team.Team, error) {
	f.calls = append(f.calls, "Teams")
	return f.teams, f.err
}

func (f *fakeRoster) JoinRace(_ context.Context, code string) error {
	f.calls = append(f.calls, "JoinRace:"+code)
	return f.err
}

func (f *fakeRoster) QuitRace(_ context.Context, _ int) error {
	f.calls = append(f.calls, "QuitRace")
	return f.err
}

func (f *fakeRoster) CreateTeam(_ context.Context, _ int, name string) error {
	f.created = name
	return f.err
}

func (f *fakeRoster) EnterTeam(_ context.Context, _, _ int) error {
	f.calls = append(f.calls, "EnterTeam")
	return f.err
}

func (f *fakeRoster) QuitTeam(_ context.Context, _, _ int) error {
	f.calls = append(f.calls, "QuitTeam")
	return f.err
}

func (f *fakeRoster) DeleteTeam(_ context.Context, raceID, teamID int) error {
	f.calls = append(f.calls, "DeleteTeam")
	if teamID == 99 {
		return apperrors.NotFoundf("team %d not found in race %d", teamID, raceID)
	}
	return f.err
}

func (f *fakeRoster) InviteQR(_ context.Context, raceID, size int) ([]byte, error) {
	f.calls = append(f.calls, "InviteQR:"+strconv.Itoa(size))
	if raceID != 3 {
		return nil, apperrors.NotFoundf("race %d not joined", raceID)
	}
	return []byte("\x89PNG"), nil
}

type fakeAccount struct {
	user      *api.User
	signedOut int
	deleted   int
	err       error
}

func (f *fakeAccount) Current() (api.User, bool) {
	if f.user == nil {
		return api.User{}, false
	}
	return *f.user, true
}

func (f *fakeAccount) Rename(_ context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.InvalidInput("name is required")
	}
	f.user.Name = name
	return nil
}

func (f *fakeAccount) SignOut(_ context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.signedOut++
	f.user = nil
	return nil
}

func (f *fakeAccount) DeleteAccount(_ context.Context) error {
	if f.user == nil {
		return apperrors.Permission("not signed in")
	}
	f.deleted++
	return f.SignOut(context.Background())
}

type fixture struct {
	race     *fakeRace
	tracking *fakeTracking
	roster   *fakeRoster
	account  *fakeAccount
	handler  http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		race:     newFakeRace(),
		tracking: &fakeTracking{},
		roster:   &fakeRoster{},
		account:  &fakeAccount{user: &api.User{ID: "u1", Email: "me@x.io", Name: "Me"}},
	}
	h := &Handlers{
		ServiceName: "treasurio-agent",
		Race:        f.race,
		Tracking:    f.tracking,
		Roster:      f.roster,
		Account:     f.account,
	}
	f.handler = h.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthzEndpoint(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	expected := `{"service":"treasurio-agent","status":"healthy"}`
	if strings.TrimSpace(rec.Body.String()) != expected {
		t.Errorf("Expected body %s, got %s", expected, rec.Body.String())
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}
}

func TestGetRace(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/v1/race", "")

	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[race.Snapshot](t, rec)
	assert.Equal(t, 7, snap.RaceID)
	assert.Equal(t, race.StateInProgress, snap.State)
}

func TestRaceActions(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/v1/race/refresh", "Refresh"},
		{"/v1/race/advance", "Advance"},
		{"/v1/tracking/start", "StartTracking"},
		{"/v1/tracking/stop", "StopTracking"},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			f := newFixture()

			rec := f.do(t, http.MethodPost, tt.path, "")

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, 1, f.race.count(tt.call))
		})
	}
}

func TestCheck(t *testing.T) {
	f := newFixture()
	f.race.check = geofence.Result{Permitted: true, WithinRange: true, DistanceMeters: 12}

	rec := f.do(t, http.MethodPost, "/v1/race/check", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CheckResponse](t, rec)
	assert.True(t, resp.Check.WithinRange)
	assert.Equal(t, 12.0, resp.Check.DistanceMeters)
	assert.Equal(t, 7, resp.Race.RaceID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"rejected", apperrors.Rejected("objective already completed"), http.StatusUnprocessableEntity, ErrCodeRejected, "objective already completed"},
		{"conflict", apperrors.Conflictf("no objective is pending confirmation"), http.StatusConflict, ErrCodeConflict, "no objective is pending confirmation"},
		{"permission", apperrors.Permission("background location permission denied"), http.StatusForbidden, ErrCodeForbidden, "background location permission denied"},
		{"network", apperrors.Network(assert.AnError, "backend unreachable"), http.StatusBadGateway, ErrCodeUpstream, "backend unreachable"},
		{"not found", apperrors.NotFound("no team"), http.StatusNotFound, ErrCodeNotFound, "no team"},
		{"internal", assert.AnError, http.StatusInternalServerError, ErrCodeInternal, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.race.err = tt.err

			rec := f.do(t, http.MethodPost, "/v1/race/advance", "")

			assert.Equal(t, tt.status, rec.Code)
			apiErr := decode[APIError](t, rec)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.msg, apiErr.Message)
		})
	}
}

func TestPermissions(t *testing.T) {
	f := newFixture()
	f.race.granted = true

	rec := f.do(t, http.MethodPost, "/v1/location/permissions", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[PermissionsResponse](t, rec).Granted)
}

func TestTrackingStatus(t *testing.T) {
	f := newFixture()
	f.tracking.status = tracker.Status{Running: true, TeamID: 4, Reports: map[string]int{"completed": 2}}

	rec := f.do(t, http.MethodGet, "/v1/tracking?limit=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TrackingResponse](t, rec)
	assert.True(t, resp.Status.Running)
	assert.Equal(t, 4, resp.Status.TeamID)
	assert.Equal(t, 2, resp.Status.Reports["completed"])
	assert.NotNil(t, resp.Reports)
	assert.Equal(t, 5, f.tracking.limit)

	rec = f.do(t, http.MethodGet, "/v1/tracking?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRosterRoutes(t *testing.T) {
	f := newFixture()
	f.roster.teams = []team.Team{
		{ID: 1, Name: "Blue", Members: []team.Member{{Name: "Ann", Email: "ann@x.io"}, {Name: "Bo", Email: "bo@x.io"}}},
		{ID: 2, Name: "Red", Members: []team.Member{{}}},
	}

	rec := f.do(t, http.MethodGet, "/v1/races/3/teams", "")
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]TeamView](t, rec)
	require.Len(t, views, 2)
	assert.Equal(t, "Blue", views[0].Name)
	assert.Equal(t, "Ann, Bo", views[0].MemberNames)
	assert.False(t, views[0].Vacant)
	assert.True(t, views[1].Vacant)

	f.roster.teams = nil
	rec = f.do(t, http.MethodGet, "/v1/races/3/teams", "")
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/races/3/teams", `{"name":"Green"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Green", f.roster.created)

	rec = f.do(t, http.MethodPost, "/v1/races/join", `{"code":"XK42"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, f.roster.calls, "JoinRace:XK42")

	rec = f.do(t, http.MethodPost, "/v1/races/3/teams/1/enter", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/races/3/teams/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/races/abc/quit", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/races/join", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/races", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestInviteQR(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/v1/races/3/invite.png?size=128", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", rec.Body.String())
	assert.Contains(t, f.roster.calls, "InviteQR:128")

	rec = f.do(t, http.MethodGet, "/v1/races/4/invite.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/races/3/invite.png?size=5000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountRoutes(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPut, "/v1/me/name", `{"name":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", decode[api.User](t, rec).Name)

	rec = f.do(t, http.MethodPut, "/v1/me/name", `{"name":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.account.user = nil
	rec = f.do(t, http.MethodGet, "/v1/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignOutRoute(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/v1/me/signout", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.account.signedOut)

	rec = f.do(t, http.MethodGet, "/v1/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.account.err = apperrors.Network(errors.New("tracker busy"), "failed to stop tracking")
	rec = f.do(t, http.MethodPost, "/v1/me/signout", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDeleteAccountRoute(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodDelete, "/v1/me", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.account.deleted)
	assert.Equal(t, 1, f.account.signedOut)

	rec = f.do(t, http.MethodDelete, "/v1/me", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOptionalRoutesNotMounted(t *testing.T) {
	h := &Handlers{Race: newFakeRace(), Tracking: &fakeTracking{}}
	router := h.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/races", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_StreamsSnapshots(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	f.race.stream <- race.Snapshot{RaceID: 7, State: race.StateInProgress}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/race/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventSnapshot, ev.Type)
	assert.Equal(t, race.StateInProgress, ev.Payload.State)

	f.race.stream <- race.Snapshot{RaceID: 7, State: race.StateVictory}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, race.StateVictory, ev.Payload.State)

	close(f.race.stream)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	select {
	case <-f.race.canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not canceled")
	}
}

func TestEvents_RejectsCrossOrigin(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/race/events"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{srv.URL}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestEvents_ClientDisconnectCancelsSubscription(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/race/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	select {
	case <-f.race.canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not canceled")
	}
}
