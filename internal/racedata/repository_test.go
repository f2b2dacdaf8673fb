package racedata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/treasurio/internal/api"
	"github.com/stuartshay/treasurio/internal/api/apitest"
)

func TestTeams_NormalizesAndCaches(t *testing.T) {
	fake := &apitest.Fake{
		FetchTeamsFn: func(_ context.Context, raceID int) (*api.RaceTeams, error) {
			assert.Equal(t, 3, raceID)
			return &api.RaceTeams{Result: []api.JoinRow{
				apitest.Member(1, "Red", 0, "A", "a@x.io"),
				apitest.Member(1, "Red", 0, "B", "b@x.io"),
			}}, nil
		},
	}
	repo := NewRepository(fake, Config{})

	teams, err := repo.Teams(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Len(t, teams[0].Members, 2)

	_, err = repo.Teams(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("FetchTeams"))
}

func TestTeams_EmptyResponseIsEmptySlice(t *testing.T) {
	fake := &apitest.Fake{
		FetchTeamsFn: func(_ context.Context, _ int) (*api.RaceTeams, error) { return nil, nil },
	}
	repo := NewRepository(fake, Config{})

	teams, err := repo.Teams(context.Background(), 3)
	require.NoError(t, err)
	assert.NotNil(t, teams)
	assert.Empty(t, teams)
}

func TestTeams_InvalidateRefetches(t *testing.T) {
	index := 0
	fake := &apitest.Fake{
		FetchTeamsFn: func(_ context.Context, _ int) (*api.RaceTeams, error) {
			return &api.RaceTeams{Result: []api.JoinRow{apitest.Member(1, "Red", index, "A", "a@x.io")}}, nil
		},
	}
	repo := NewRepository(fake, Config{})

	teams, err := repo.Teams(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, teams[0].ObjectiveIndex)

	index = 1
	repo.InvalidateTeams(3)

	teams, err = repo.Teams(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, teams[0].ObjectiveIndex)
	assert.Equal(t, 2, fake.Calls("FetchTeams"))
}

func TestTeams_ExpireAfterTTL(t *testing.T) {
	fake := &apitest.Fake{}
	repo := NewRepository(fake, Config{TeamsTTL: 20 * time.Millisecond})

	_, err := repo.Teams(context.Background(), 3)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, _ = repo.Teams(context.Background(), 3)
		return fake.Calls("FetchTeams") >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestTeams_ErrorNotCached(t *testing.T) {
	fail := true
	fake := &apitest.Fake{
		FetchTeamsFn: func(_ context.Context, _ int) (*api.RaceTeams, error) {
			if fail {
				return nil, errors.New("offline")
			}
			return &api.RaceTeams{}, nil
		},
	}
	repo := NewRepository(fake, Config{})

	_, err := repo.Teams(context.Background(), 3)
	require.Error(t, err)

	fail = false
	_, err = repo.Teams(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("FetchTeams"))
}

func TestTeams_ConcurrentMissesShareOneRequest(t *testing.T) {
	release := make(chan struct{})
	fake := &apitest.Fake{
		FetchTeamsFn: func(_ context.Context, _ int) (*api.RaceTeams, error) {
			<-release
			return &api.RaceTeams{}, nil
		},
	}
	repo := NewRepository(fake, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Teams(context.Background(), 3)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, fake.Calls("FetchTeams"))
}

func TestTeams_InvalidateDuringFetchDoesNotCacheStale(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	first := true
	fake := &apitest.Fake{
		FetchTeamsFn: func(_ context.Context, _ int) (*api.RaceTeams, error) {
			if first {
				first = false
				started <- struct{}{}
				<-release
			}
			return &api.RaceTeams{}, nil
		},
	}
	repo := NewRepository(fake, Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = repo.Teams(context.Background(), 3)
	}()
	<-started
	repo.InvalidateTeams(3)
	close(release)
	<-done

	_, err := repo.Teams(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("FetchTeams"))
}

func TestObjectives_SortedByOrder(t *testing.T) {
	fake := &apitest.Fake{
		FetchObjectivesFn: func(_ context.Context, _ int) ([]api.Objective, error) {
			return []api.Objective{{Order: 2, Title: "C"}, {Order: 0, Title: "A"}, {Order: 1, Title: "B"}}, nil
		},
	}
	repo := NewRepository(fake, Config{})

	objectives, err := repo.Objectives(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "A", objectives[0].Title)
	assert.Equal(t, "B", objectives[1].Title)
	assert.Equal(t, "C", objectives[2].Title)
}

func TestObjectives_ReturnsCopies(t *testing.T) {
	fake := &apitest.Fake{
		FetchObjectivesFn: func(_ context.Context, _ int) ([]api.Objective, error) {
			return apitest.Objectives(2), nil
		},
	}
	repo := NewRepository(fake, Config{})

	objectives, err := repo.Objectives(context.Background(), 3)
	require.NoError(t, err)
	objectives[0].Title = "mutated"

	again, err := repo.Objectives(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Objective A", again[0].Title)
}

func TestRaces(t *testing.T) {
	fake := &apitest.Fake{
		FetchRacesFn: func(_ context.Context, userID string) (*api.RacesResponse, error) {
			assert.Equal(t, "u1", userID)
			return &api.RacesResponse{Data: []api.RaceMembership{
				{Race: api.Race{ID: 3, Name: "Paris", Launched: true}},
				{Race: api.Race{ID: 4, Name: "Lyon"}},
			}}, nil
		},
	}
	repo := NewRepository(fake, Config{})

	race, ok, err := repo.Race(context.Background(), "u1", 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Lyon", race.Name)

	_, ok, err = repo.Race(context.Background(), "u1", 9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, fake.Calls("FetchRaces"))

	repo.InvalidateRaces("u1")
	_, err = repo.Races(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("FetchRaces"))
}

func TestInvalidateObjectives(t *testing.T) {
	fake := &apitest.Fake{}
	repo := NewRepository(fake, Config{})

	_, _ = repo.Objectives(context.Background(), 3)
	repo.InvalidateObjectives(3)
	_, _ = repo.Objectives(context.Background(), 3)

	assert.Equal(t, 2, fake.Calls("FetchObjectives"))
}
