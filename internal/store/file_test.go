package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidpool/droidpool/internal/models"
)

func newTestStore(t *testing.T) (*FileStore, string, string) {
	t.Helper()
	dir := t.TempDir()
	activePath := filepath.Join(dir, "auth.json")
	reservePath := filepath.Join(dir, "tokens.json")
	return NewFileStore(activePath, reservePath, nil), activePath, reservePath
}

func TestLoadActive(t *testing.T) {
	t.Run("missing file means no active credential", func(t *testing.T) {
		fs, _, _ := newTestStore(t)
		_, ok := fs.LoadActive()
		assert.False(t, ok)
	})

	t.Run("malformed file reads as no active credential", func(t *testing.T) {
		fs, activePath, _ := newTestStore(t)
		require.NoError(t, os.WriteFile(activePath, []byte("{not json"), 0o600))
		_, ok := fs.LoadActive()
		assert.False(t, ok)
	})

	t.Run("document without tokens is ignored", func(t *testing.T) {
		fs, activePath, _ := newTestStore(t)
		require.NoError(t, os.WriteFile(activePath, []byte(`{"id":"1","access_token":"  ","refresh_token":""}`), 0o600))
		_, ok := fs.LoadActive()
		assert.False(t, ok)
	})

	t.Run("tokens are trimmed", func(t *testing.T) {
		fs, activePath, _ := newTestStore(t)
		require.NoError(t, os.WriteFile(activePath, []byte(`{"id":"1","access_token":" at ","refresh_token":" rt "}`), 0o600))
		cred, ok := fs.LoadActive()
		require.True(t, ok)
		assert.Equal(t, "1", cred.ID)
		assert.Equal(t, "at", cred.AccessToken)
		assert.Equal(t, "rt", cred.RefreshToken)
	})
}

func TestSaveActive(t *testing.T) {
	t.Run("creates document and parent directory", func(t *testing.T) {
		dir := t.TempDir()
		activePath := filepath.Join(dir, "nested", "auth.json")
		fs := NewFileStore(activePath, filepath.Join(dir, "tokens.json"), nil)

		ok := fs.SaveActive(&models.Credential{ID: "1", AccessToken: "at", RefreshToken: "rt"})
		require.True(t, ok)

		cred, loaded := fs.LoadActive()
		require.True(t, loaded)
		assert.Equal(t, "1", cred.ID)
	})

	t.Run("preserves fields owned by the client application", func(t *testing.T) {
		fs, activePath, _ := newTestStore(t)
		existing := `{"id":"old","access_token":"old-at","refresh_token":"old-rt","api_key":"keep-me","workspace":{"name":"w"}}`
		require.NoError(t, os.WriteFile(activePath, []byte(existing), 0o600))

		ok := fs.SaveActive(&models.Credential{ID: "new", AccessToken: "new-at", RefreshToken: "new-rt"})
		require.True(t, ok)

		data, err := os.ReadFile(activePath)
		require.NoError(t, err)
		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &doc))

		assert.JSONEq(t, `"new"`, string(doc["id"]))
		assert.JSONEq(t, `"new-at"`, string(doc["access_token"]))
		assert.JSONEq(t, `"keep-me"`, string(doc["api_key"]))
		assert.JSONEq(t, `{"name":"w"}`, string(doc["workspace"]))
	})

	t.Run("nil credential is refused", func(t *testing.T) {
		fs, _, _ := newTestStore(t)
		assert.False(t, fs.SaveActive(nil))
	})
}

func TestLoadReserve(t *testing.T) {
	t.Run("missing file initializes an empty pool", func(t *testing.T) {
		fs, _, reservePath := newTestStore(t)
		pool := fs.LoadReserve()
		assert.Empty(t, pool)

		_, err := os.Stat(reservePath)
		assert.NoError(t, err, "missing reserve document should be created")
	})

	t.Run("bare array form", func(t *testing.T) {
		fs, _, reservePath := newTestStore(t)
		require.NoError(t, os.WriteFile(reservePath, []byte(`[{"id":"1","access_token":"at","refresh_token":"rt"}]`), 0o600))
		pool := fs.LoadReserve()
		require.Len(t, pool, 1)
		assert.Equal(t, "1", pool[0].ID)
	})

	t.Run("wrapped tokens form", func(t *testing.T) {
		fs, _, reservePath := newTestStore(t)
		require.NoError(t, os.WriteFile(reservePath, []byte(`{"tokens":[{"id":"2","access_token":"at","refresh_token":"rt"}]}`), 0o600))
		pool := fs.LoadReserve()
		require.Len(t, pool, 1)
		assert.Equal(t, "2", pool[0].ID)
	})

	t.Run("malformed content reads as empty", func(t *testing.T) {
		fs, _, reservePath := newTestStore(t)
		require.NoError(t, os.WriteFile(reservePath, []byte("not json at all"), 0o600))
		assert.Empty(t, fs.LoadReserve())
	})
}

func TestSaveReserveRoundTrip(t *testing.T) {
	fs, _, _ := newTestStore(t)

	pool := models.CredentialSlice{
		{ID: "1", AccessToken: "at-1", RefreshToken: "rt-1", Status: models.StatusActive},
		{ID: "2", AccessToken: "at-2", RefreshToken: "rt-2"},
	}
	pool[1].SetRatio(0.5)

	require.True(t, fs.SaveReserve(pool))

	loaded := fs.LoadReserve()
	require.Len(t, loaded, 2)
	assert.Equal(t, models.StatusActive, loaded[0].Status)
	ratio, known := loaded[1].KnownRatio()
	require.True(t, known)
	assert.Equal(t, 0.5, ratio)

	_, known = loaded[0].KnownRatio()
	assert.False(t, known, "unset ratio must survive the round trip as unset")
}

func TestInterruptedWriteLeavesDocumentIntact(t *testing.T) {
	t.Run("stale temp file from a killed writer is ignored", func(t *testing.T) {
		fs, _, reservePath := newTestStore(t)
		original := models.CredentialSlice{
			{ID: "1", AccessToken: "at-1", RefreshToken: "rt-1"},
			{ID: "2", AccessToken: "at-2", RefreshToken: "rt-2"},
		}
		require.True(t, fs.SaveReserve(original))

		// A writer that died after serializing but before the rename leaves
		// only its temp file behind.
		stale := reservePath + ".tmp-99999-1700000000000"
		require.NoError(t, os.WriteFile(stale, []byte(`[{"id":"torn"}]`), 0o600))

		loaded := fs.LoadReserve()
		require.Len(t, loaded, 2)
		assert.Equal(t, "1", loaded[0].ID)
		assert.Equal(t, "2", loaded[1].ID)

		require.True(t, fs.SaveReserve(models.CredentialSlice{{ID: "3"}}))
		loaded = fs.LoadReserve()
		require.Len(t, loaded, 1)
		assert.Equal(t, "3", loaded[0].ID)
	})

	t.Run("failed write reports false and keeps the original", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("directory permissions do not bind root")
		}
		fs, _, reservePath := newTestStore(t)
		original := models.CredentialSlice{{ID: "1", AccessToken: "at-1", RefreshToken: "rt-1"}}
		require.True(t, fs.SaveReserve(original))

		dir := filepath.Dir(reservePath)
		require.NoError(t, os.Chmod(dir, 0o500))
		t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

		assert.False(t, fs.SaveReserve(models.CredentialSlice{{ID: "2"}}))

		require.NoError(t, os.Chmod(dir, 0o700))
		loaded := fs.LoadReserve()
		require.Len(t, loaded, 1)
		assert.Equal(t, "1", loaded[0].ID)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-")
		}
	})
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	fs, _, reservePath := newTestStore(t)
	require.True(t, fs.SaveReserve(models.CredentialSlice{{ID: "1"}}))
	require.True(t, fs.SaveReserve(models.CredentialSlice{{ID: "2"}}))

	entries, err := os.ReadDir(filepath.Dir(reservePath))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}
