package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qofy/quoteflow/internal/apperr"
	"github.com/qofy/quoteflow/internal/docstore"
	"github.com/qofy/quoteflow/internal/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "kv")
	engine, err := kv.Open(kv.DefaultConfig(dir), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return New(docstore.New(engine))
}

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, VerifyPassword("correct horse battery staple", hash))
	require.False(t, VerifyPassword("wrong password", hash))
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	h1, err := HashPassword("same-password")
	require.NoError(t, err)
	h2, err := HashPassword("same-password")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestInsertEnforcesEmailUniqueness(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Insert("Person@Example.com", "p4ssword", []string{"member"})
	require.NoError(t, err)

	_, err = s.Insert("person@example.com", "another-pw", []string{"member"})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.ErrUserConflict.Code))
}

func TestInsertNormalisesEmailAndGetByID(t *testing.T) {
	s := newTestStore(t)

	u, err := s.Insert("  Mixed@Case.COM  ", "p4ssword", []string{"admin"})
	require.NoError(t, err)
	require.Equal(t, "mixed@case.com", u.Email)

	got, err := s.GetByID(u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)
	require.True(t, VerifyPassword("p4ssword", got.PasswordHash))
}

func TestListAllReturnsAllInsertedUsers(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Insert("a@example.com", "pw1", nil)
	require.NoError(t, err)
	_, err = s.Insert("b@example.com", "pw2", nil)
	require.NoError(t, err)

	all, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestUpdatePersistsRoleChange(t *testing.T) {
	s := newTestStore(t)
	u, err := s.Insert("c@example.com", "pw3", []string{"member"})
	require.NoError(t, err)

	u.Roles = []string{"member", "admin"}
	require.NoError(t, s.Update(u))

	got, err := s.GetByID(u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"member", "admin"}, got.Roles)
}
