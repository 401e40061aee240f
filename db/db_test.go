package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kvstore.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGet(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("operator", "Telia"))
	v, err := s.Get("operator")
	require.NoError(t, err)
	assert.Equal(t, "Telia", v)

	require.NoError(t, s.Set("operator", "Telenor"))
	v, err = s.Get("operator")
	require.NoError(t, err)
	assert.Equal(t, "Telenor", v)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	var rec LinkRecord
	assert.ErrorIs(t, s.Load("nope", &rec), ErrNotFound)
}

func TestLinkRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := LinkRecord{
		Time:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		State:        "registered",
		Mode:         "fallback",
		Registered:   true,
		Registration: "registered, home network",
		AccessTech:   "LTE-M",
		Operator:     "Telia",
		TAU:          "1h0m0s",
		ActiveTime:   "deactivated",
	}
	require.NoError(t, s.Set(KeyLastLink, want))

	var got LinkRecord
	require.NoError(t, s.Load(KeyLastLink, &got))
	assert.Equal(t, want, got)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("k", 1))
	require.NoError(t, s.Delete("k"))
	_, err := s.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete("k"))
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvstore.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", map[string]any{"n": 2.0}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 2.0}, v)
}
