// Package racedata is a read-through cache in front of the backend's race,
// team and objective endpoints. Entries expire after a TTL and are dropped
// explicitly after every mutation; concurrent misses for the same key share
// one request.
package racedata

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/stuartshay/treasurio/internal/api"
	"github.com/stuartshay/treasurio/internal/team"
)

// Config holds cache settings
type Config struct {
	Size          int
	RacesTTL      time.Duration
	TeamsTTL      time.Duration
	ObjectivesTTL time.Duration
}

// DefaultConfig returns the cache settings used by the agent
func DefaultConfig() Config {
	return Config{
		Size:          32,
		RacesTTL:      time.Minute,
		TeamsTTL:      10 * time.Second,
		ObjectivesTTL: time.Hour,
	}
}

// Repository serves cached backend reads
type Repository struct {
	client api.Client

	races      *expirable.LRU[string, []api.RaceMembership]
	teams      *expirable.LRU[int, []team.Team]
	objectives *expirable.LRU[int, []api.Objective]

	group singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

// NewRepository creates a repository over client
func NewRepository(client api.Client, cfg Config) *Repository {
	def := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.RacesTTL <= 0 {
		cfg.RacesTTL = def.RacesTTL
	}
	if cfg.TeamsTTL <= 0 {
		cfg.TeamsTTL = def.TeamsTTL
	}
	if cfg.ObjectivesTTL <= 0 {
		cfg.ObjectivesTTL = def.ObjectivesTTL
	}

	return &Repository{
		client:      client,
		races:       expirable.NewLRU[string, []api.RaceMembership](cfg.Size, nil, cfg.RacesTTL),
		teams:       expirable.NewLRU[int, []team.Team](cfg.Size, nil, cfg.TeamsTTL),
		objectives:  expirable.NewLRU[int, []api.Objective](cfg.Size, nil, cfg.ObjectivesTTL),
		generations: make(map[string]uint64),
	}
}

// Client returns the backend client used for misses
func (r *Repository) Client() api.Client {
	return r.client
}

// Races returns the races the user has joined
func (r *Repository) Races(ctx context.Context, userID string) ([]api.RaceMembership, error) {
	return load(r, r.races, userID, "races:"+userID, func() ([]api.RaceMembership, error) {
		res, err := r.client.FetchRaces(ctx, userID)
		if err != nil {
			return nil, err
		}
		return res.Data, nil
	})
}

// Race returns the user's membership in raceID
func (r *Repository) Race(ctx context.Context, userID string, raceID int) (api.Race, bool, error) {
	races, err := r.Races(ctx, userID)
	if err != nil {
		return api.Race{}, false, err
	}
	for _, m := range races {
		if m.Race.ID == raceID {
			return m.Race, true, nil
		}
	}
	return api.Race{}, false, nil
}

// Teams returns the normalized teams of a race, in backend order
func (r *Repository) Teams(ctx context.Context, raceID int) ([]team.Team, error) {
	return load(r, r.teams, raceID, fmt.Sprintf("teams:%d", raceID), func() ([]team.Team, error) {
		res, err := r.client.FetchTeams(ctx, raceID)
		if err != nil {
			return nil, err
		}
		teams := team.Normalize(res)
		if teams == nil {
			teams = []team.Team{}
		}
		return teams, nil
	})
}

// Objectives returns the objectives of a race ordered by Order
func (r *Repository) Objectives(ctx context.Context, raceID int) ([]api.Objective, error) {
	return load(r, r.objectives, raceID, fmt.Sprintf("objectives:%d", raceID), func() ([]api.Objective, error) {
		objectives, err := r.client.FetchObjectives(ctx, raceID)
		if err != nil {
			return nil, err
		}
		sorted := slices.Clone(objectives)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Order < sorted[j].Order
		})
		return sorted, nil
	})
}

// InvalidateRaces drops the cached races of userID
func (r *Repository) InvalidateRaces(userID string) {
	r.invalidate("races:" + userID)
	r.races.Remove(userID)
}

// InvalidateTeams drops the cached teams of raceID
func (r *Repository) InvalidateTeams(raceID int) {
	r.invalidate(fmt.Sprintf("teams:%d", raceID))
	r.teams.Remove(raceID)
}

// InvalidateObjectives drops the cached objectives of raceID
func (r *Repository) InvalidateObjectives(raceID int) {
	r.invalidate(fmt.Sprintf("objectives:%d", raceID))
	r.objectives.Remove(raceID)
}

// invalidate bumps the key generation so that a fetch already in flight does
// not repopulate the cache with data read before the invalidation
func (r *Repository) invalidate(key string) {
	r.mu.Lock()
	r.generations[key]++
	r.mu.Unlock()
	r.group.Forget(key)
	log.Debug().Str("key", key).Msg("Cache invalidated")
}

func (r *Repository) generation(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[key]
}

func load[K comparable, V any](r *Repository, cache *expirable.LRU[K, []V], key K, flightKey string, fetch func() ([]V, error)) ([]V, error) {
	if cached, ok := cache.Get(key); ok {
		return slices.Clone(cached), nil
	}

	v, err, shared := r.group.Do(flightKey, func() (any, error) {
		gen := r.generation(flightKey)
		fresh, err := fetch()
		if err != nil {
			return nil, err
		}
		if r.generation(flightKey) == gen {
			cache.Add(key, fresh)
		}
		return fresh, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("key", flightKey).Msg("Backend fetch failed")
		return nil, err
	}

	log.Debug().Str("key", flightKey).Bool("shared", shared).Msg("Cache miss served")

	return slices.Clone(v.([]V)), nil
}
