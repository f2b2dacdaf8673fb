package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/treasurio/internal/api"
	"github.com/stuartshay/treasurio/internal/api/apitest"
	apperrors "github.com/stuartshay/treasurio/internal/errors"
)

type stopRecorder struct {
	calls int
	err   error
}

func (s *stopRecorder) Stop(_ context.Context) error {
	s.calls++
	return s.err
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSession(t *testing.T, fake *apitest.Fake, stopper Stopper) (*Session, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "session.db")
	return New(openStore(t, path), fake, stopper), path
}

func TestStore_GetSetDelete(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "s.db"))
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", "v1"))
	require.NoError(t, store.Set(ctx, "k", "v2"))

	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))

	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.db")
	ctx := context.Background()

	first, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "k", "v"))
	require.NoError(t, first.Close())

	second := openStore(t, path)
	v, ok, err := second.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestSignIn_PersistsBackendUser(t *testing.T) {
	fake := &apitest.Fake{
		CheckUserFn: func(_ context.Context, u api.User) (*api.CheckUserResult, error) {
			assert.Equal(t, "me@x.io", u.Email)
			return &api.CheckUserResult{Found: true, User: &api.User{ID: "u1", Email: u.Email, Name: "Me"}}, nil
		},
	}
	s, path := newSession(t, fake, nil)
	ctx := context.Background()

	u, err := s.SignIn(ctx, api.User{Email: " me@x.io "})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	current, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, "u1", current.ID)

	restored := New(s.store, fake, nil)
	found, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	current, _ = restored.Current()
	assert.Equal(t, "Me", current.Name)
	assert.FileExists(t, path)
}

func TestSignIn_Rejections(t *testing.T) {
	fake := &apitest.Fake{
		CheckUserFn: func(_ context.Context, _ api.User) (*api.CheckUserResult, error) {
			return &api.CheckUserResult{Found: false}, nil
		},
	}
	s, _ := newSession(t, fake, nil)

	_, err := s.SignIn(context.Background(), api.User{Email: "  "})
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidInput))
	assert.Equal(t, 0, fake.Calls("CheckUser"))

	_, err = s.SignIn(context.Background(), api.User{Email: "me@x.io"})
	assert.True(t, apperrors.Is(err, apperrors.KindRejected))

	_, ok := s.Current()
	assert.False(t, ok)
}

func TestRestore_Empty(t *testing.T) {
	s, _ := newSession(t, &apitest.Fake{}, nil)

	found, err := s.Restore(context.Background())

	require.NoError(t, err)
	assert.False(t, found)
}

func TestRestore_DiscardsCorruptUser(t *testing.T) {
	s, _ := newSession(t, &apitest.Fake{}, nil)
	ctx := context.Background()
	require.NoError(t, s.store.Set(ctx, keyUser, "{not json"))

	found, err := s.Restore(ctx)

	require.NoError(t, err)
	assert.False(t, found)
	_, ok, err := s.store.Get(ctx, keyUser)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignOut_StopsTrackingFirst(t *testing.T) {
	stopper := &stopRecorder{}
	s, _ := newSession(t, &apitest.Fake{}, stopper)
	ctx := context.Background()

	_, err := s.SignIn(ctx, api.User{ID: "u1", Email: "me@x.io"})
	require.NoError(t, err)
	require.NoError(t, s.SignOut(ctx))

	assert.Equal(t, 1, stopper.calls)
	_, ok := s.Current()
	assert.False(t, ok)

	found, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSignOut_KeepsUserWhenStopFails(t *testing.T) {
	stopper := &stopRecorder{err: assert.AnError}
	s, _ := newSession(t, &apitest.Fake{}, stopper)
	ctx := context.Background()
	hooks := 0
	s.OnSignOut(func() { hooks++ })

	_, err := s.SignIn(ctx, api.User{ID: "u1", Email: "me@x.io"})
	require.NoError(t, err)

	assert.Error(t, s.SignOut(ctx))
	_, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, 0, hooks)
}

func TestSignOut_RunsHooks(t *testing.T) {
	s, _ := newSession(t, &apitest.Fake{}, &stopRecorder{})
	ctx := context.Background()
	var order []string
	s.OnSignOut(func() {
		_, ok := s.Current()
		assert.False(t, ok, "user is cleared before hooks run")
		order = append(order, "first")
	})
	s.OnSignOut(func() { order = append(order, "second") })

	_, err := s.SignIn(ctx, api.User{ID: "u1", Email: "me@x.io"})
	require.NoError(t, err)
	require.NoError(t, s.SignOut(ctx))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRename(t *testing.T) {
	fake := &apitest.Fake{}
	s, _ := newSession(t, fake, nil)
	ctx := context.Background()

	err := s.Rename(ctx, "New")
	assert.True(t, apperrors.Is(err, apperrors.KindPermission))

	_, err = s.SignIn(ctx, api.User{ID: "u1", Email: "me@x.io", Name: "Old"})
	require.NoError(t, err)
	require.NoError(t, s.Rename(ctx, " New "))

	u, _ := s.Current()
	assert.Equal(t, "New", u.Name)

	fake.EditNameFn = func(_ context.Context, _, _ string) (*api.EditNameResult, error) {
		return &api.EditNameResult{Changed: false, Result: "Nom invalide"}, nil
	}
	err = s.Rename(ctx, "Other")
	assert.True(t, apperrors.Is(err, apperrors.KindRejected))
	assert.Equal(t, "Nom invalide", apperrors.Message(err))
	u, _ = s.Current()
	assert.Equal(t, "New", u.Name)
}

func TestDeleteAccount(t *testing.T) {
	stopper := &stopRecorder{}
	fake := &apitest.Fake{
		DeleteUserFn: func(_ context.Context, userID, email string) (*api.DeleteUserResult, error) {
			assert.Equal(t, "u1", userID)
			assert.Equal(t, "me@x.io", email)
			return &api.DeleteUserResult{Deleted: true}, nil
		},
	}
	s, _ := newSession(t, fake, stopper)
	ctx := context.Background()

	_, err := s.SignIn(ctx, api.User{ID: "u1", Email: "me@x.io"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteAccount(ctx))

	assert.Equal(t, 1, stopper.calls)
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestOnboarded(t *testing.T) {
	s, _ := newSession(t, &apitest.Fake{}, nil)
	ctx := context.Background()

	done, err := s.Onboarded(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.MarkOnboarded(ctx))

	done, err = s.Onboarded(ctx)
	require.NoError(t, err)
	assert.True(t, done)
}
