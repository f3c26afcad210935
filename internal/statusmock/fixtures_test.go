package statusmock

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.yaml")
	require.NoError(t, os.WriteFile(path, []byte("games:\n  A:\n    tokens: [ta]\n    state:\n      playerCount: 2\n"), 0o644))

	f, err := LoadFixtures(path)
	require.NoError(t, err)
	require.Contains(t, f.Games, "A")
	assert.Equal(t, []string{"ta"}, f.Games["A"].Tokens)
	assert.Equal(t, 2, f.Games["A"].State["playerCount"])

	_, err = LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseFixtures([]byte("games: [oops"))
	assert.Error(t, err)
}

func TestServer_Responses(t *testing.T) {
	f, err := ParseFixtures([]byte("games:\n  A:\n    tokens: [ta]\n    state:\n      open: true\n"))
	require.NoError(t, err)
	s := NewServer(f, 0)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	do := func(gameID, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/game/"+gameID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := do("A", "ta")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"open":true}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do("A", "nope").Code)
	assert.Equal(t, http.StatusNotFound, do("Z", "ta").Code)

	s.Delete("A")
	assert.Equal(t, http.StatusNotFound, do("A", "ta").Code)
	assert.Equal(t, 3, s.Hits("A"))
}
