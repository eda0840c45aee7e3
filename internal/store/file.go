package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/droidpool/droidpool/internal/logging"
	"github.com/droidpool/droidpool/internal/models"
)

// Store is the durable source of truth for the active credential and the
// reserve pool. Reads fail soft (missing or malformed documents come back
// empty), writes fail loud (boolean success).
type Store interface {
	LoadActive() (*models.Credential, bool)
	SaveActive(*models.Credential) bool
	LoadReserve() models.CredentialSlice
	SaveReserve(models.CredentialSlice) bool
}

// FileStore persists the two documents as JSON files. The active document
// is shared with the external client application and may be rewritten by it
// at any time, so every operation re-reads from disk. All writes are atomic
// replace-on-rename; a reader never observes a partial document.
type FileStore struct {
	activePath  string
	reservePath string
	logger      *logging.Logger
}

// NewFileStore creates a file-backed store over the given document paths.
func NewFileStore(activePath, reservePath string, logger *logging.Logger) *FileStore {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &FileStore{
		activePath:  activePath,
		reservePath: reservePath,
		logger:      logger,
	}
}

// activeDoc mirrors the active credential document. The document is owned
// by the external client; fields beyond these are preserved by SaveActive.
type activeDoc struct {
	ID           string `json:"id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// reserveDoc is the wrapped form of the reserve pool document.
type reserveDoc struct {
	Tokens models.CredentialSlice `json:"tokens"`
}

// LoadActive reads the active credential document. A missing, malformed or
// token-less document means "no active credential".
func (fs *FileStore) LoadActive() (*models.Credential, bool) {
	data, err := os.ReadFile(fs.activePath)
	if err != nil {
		return nil, false
	}

	var doc activeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}

	cred := &models.Credential{
		ID:           doc.ID,
		AccessToken:  strings.TrimSpace(doc.AccessToken),
		RefreshToken: strings.TrimSpace(doc.RefreshToken),
	}
	if !cred.HasTokens() {
		return nil, false
	}
	return cred, true
}

// SaveActive writes the credential into the active document, merging with
// whatever is already on disk so fields owned by the external client are
// not clobbered.
func (fs *FileStore) SaveActive(cred *models.Credential) bool {
	if cred == nil {
		return false
	}

	merged := map[string]json.RawMessage{}
	if data, err := os.ReadFile(fs.activePath); err == nil {
		// Malformed existing content is discarded rather than propagated.
		_ = json.Unmarshal(data, &merged)
	}

	set := func(key, value string) {
		raw, _ := json.Marshal(value)
		merged[key] = raw
	}
	set("id", cred.ID)
	set("access_token", cred.AccessToken)
	set("refresh_token", cred.RefreshToken)

	ok := fs.atomicWriteJSON(fs.activePath, merged)
	if !ok {
		fs.logger.Error("active document write failed", "path", fs.activePath)
	}
	return ok
}

// LoadReserve reads the reserve pool. Both a bare array and the wrapped
// {"tokens": [...]} form are accepted. A missing store is initialized to an
// empty pool; malformed content reads as empty.
func (fs *FileStore) LoadReserve() models.CredentialSlice {
	data, err := os.ReadFile(fs.reservePath)
	if err != nil {
		if os.IsNotExist(err) {
			fs.SaveReserve(models.CredentialSlice{})
		}
		return models.CredentialSlice{}
	}

	var list models.CredentialSlice
	if err := json.Unmarshal(data, &list); err == nil {
		return list
	}

	var doc reserveDoc
	if err := json.Unmarshal(data, &doc); err == nil && doc.Tokens != nil {
		return doc.Tokens
	}

	return models.CredentialSlice{}
}

// SaveReserve atomically replaces the reserve pool document.
func (fs *FileStore) SaveReserve(pool models.CredentialSlice) bool {
	if pool == nil {
		pool = models.CredentialSlice{}
	}
	ok := fs.atomicWriteJSON(fs.reservePath, pool)
	if !ok {
		fs.logger.Error("reserve document write failed", "path", fs.reservePath)
	}
	return ok
}

// atomicWriteJSON serializes v to a temp file co-located with path and
// renames it over the target. On any failure the temp artifact is removed
// and the original document is left untouched.
func (fs *FileStore) atomicWriteJSON(path string, v interface{}) bool {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return false
	}

	tmpPath := fmt.Sprintf("%s.tmp-%d-%d", path, os.Getpid(), time.Now().UnixMilli())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return false
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return false
	}
	return true
}

var _ Store = (*FileStore)(nil)
