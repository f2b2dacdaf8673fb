package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/treasurio/internal/api"
	apperrors "github.com/stuartshay/treasurio/internal/errors"
)

const (
	keyUser      = "user"
	keyOnboarded = "onboarded"
)

// Stopper stops background location tracking
type Stopper interface {
	Stop(ctx context.Context) error
}

// Session is the single source of truth for the signed-in user
type Session struct {
	store   *Store
	client  api.Client
	tracker Stopper

	mu        sync.RWMutex
	user      *api.User
	onSignOut []func()
}

// New creates a session. tracker may be nil when nothing tracks location.
func New(store *Store, client api.Client, tracker Stopper) *Session {
	return &Session{store: store, client: client, tracker: tracker}
}

// OnSignOut registers fn to run after every successful sign out
func (s *Session) OnSignOut(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSignOut = append(s.onSignOut, fn)
}

// Current returns the signed-in user
func (s *Session) Current() (api.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return api.User{}, false
	}
	return *s.user, true
}

// Restore loads the user persisted by a previous run. It reports whether a
// user was found.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	raw, ok, err := s.store.Get(ctx, keyUser)
	if err != nil || !ok {
		return false, err
	}

	var u api.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		log.Warn().Err(err).Msg("Discarding unreadable stored user")
		return false, s.store.Delete(ctx, keyUser)
	}

	s.setUser(&u)
	log.Info().Str("email", u.Email).Msg("Session restored")
	return true, nil
}

// SignIn registers the identity with the backend and persists the user the
// backend returns
func (s *Session) SignIn(ctx context.Context, identity api.User) (api.User, error) {
	identity.Email = strings.TrimSpace(identity.Email)
	if identity.Email == "" {
		return api.User{}, apperrors.InvalidInput("email is required")
	}

	res, err := s.client.CheckUser(ctx, identity)
	if err != nil {
		return api.User{}, err
	}
	if res == nil || !res.Found || res.User == nil {
		return api.User{}, apperrors.Rejected("user not recognized")
	}

	u := *res.User
	if err := s.persist(ctx, u); err != nil {
		return api.User{}, err
	}
	s.setUser(&u)

	log.Info().Str("email", u.Email).Str("user_id", u.ID).Msg("Signed in")
	return u, nil
}

// SignOut stops tracking and forgets the user
func (s *Session) SignOut(ctx context.Context) error {
	if s.tracker != nil {
		if err := s.tracker.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop tracking: %w", err)
		}
	}

	if err := s.store.Delete(ctx, keyUser); err != nil {
		return err
	}
	s.setUser(nil)

	log.Info().Msg("Signed out")

	s.mu.RLock()
	hooks := append([]func(){}, s.onSignOut...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Rename changes the display name of the signed-in user
func (s *Session) Rename(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.InvalidInput("name is required")
	}
	u, ok := s.Current()
	if !ok {
		return apperrors.Permission("not signed in")
	}

	res, err := s.client.EditName(ctx, u.ID, name)
	if err != nil {
		return err
	}
	if res == nil || !res.Changed {
		msg := ""
		if res != nil {
			msg = res.Result
		}
		return apperrors.Rejected(msg)
	}

	u.Name = name
	if err := s.persist(ctx, u); err != nil {
		return err
	}
	s.setUser(&u)
	return nil
}

// DeleteAccount deletes the user on the backend, then signs out
func (s *Session) DeleteAccount(ctx context.Context) error {
	u, ok := s.Current()
	if !ok {
		return apperrors.Permission("not signed in")
	}

	res, err := s.client.DeleteUser(ctx, u.ID, u.Email)
	if err != nil {
		return err
	}
	if res == nil || !res.Deleted {
		msg := ""
		if res != nil {
			msg = res.Result
		}
		return apperrors.Rejected(msg)
	}

	log.Info().Str("user_id", u.ID).Msg("Account deleted")
	return s.SignOut(ctx)
}

// Onboarded reports whether the onboarding flow was completed
func (s *Session) Onboarded(ctx context.Context) (bool, error) {
	v, ok, err := s.store.Get(ctx, keyOnboarded)
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}

// MarkOnboarded records that onboarding was completed
func (s *Session) MarkOnboarded(ctx context.Context) error {
	return s.store.Set(ctx, keyOnboarded, "true")
}

func (s *Session) persist(ctx context.Context, u api.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return s.store.Set(ctx, keyUser, string(raw))
}

func (s *Session) setUser(u *api.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}
