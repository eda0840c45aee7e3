package pool

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/droidpool/droidpool/internal/errors"
	"github.com/droidpool/droidpool/internal/history"
	"github.com/droidpool/droidpool/internal/models"
)

// Import adds credentials to the reserve pool from "refresh----access"
// lines. Lines with fewer than two fields are ignored; duplicates are
// detected by exact refresh token, both against the existing pool and
// within the batch. Returns how many entries were added and skipped.
func (m *Manager) Import(lines []string) (added, skipped int, err error) {
	pool := m.store.LoadReserve()
	base := time.Now().UnixMilli()

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "----")
		if len(parts) < 2 {
			continue
		}
		refreshToken := strings.TrimSpace(parts[0])
		accessToken := strings.TrimSpace(parts[1])
		if refreshToken == "" {
			continue
		}
		if _, dup := pool.FindByRefreshToken(refreshToken); dup {
			skipped++
			continue
		}
		pool = append(pool, models.Credential{
			ID:           strconv.FormatInt(base+int64(added), 10),
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			Status:       models.StatusActive,
		})
		added++
	}

	if added > 0 && !m.store.SaveReserve(pool) {
		m.metrics.RecordStoreWriteFailure("reserve")
		return 0, skipped, &errors.ErrStoreWrite{Path: "reserve"}
	}

	m.metrics.RecordImport(added, skipped)
	m.metrics.SetReserveSize(len(pool))
	if added > 0 || skipped > 0 {
		m.record(history.Event{
			Kind:   history.KindImport,
			Ratio:  models.RatioFailed,
			Detail: fmt.Sprintf("added %d, skipped %d duplicates", added, skipped),
		})
		m.logger.Info("import complete", "added", added, "skipped", skipped)
	}
	return added, skipped, nil
}

// EnsureActiveID guarantees the active credential carries an id. An active
// document written by the external client has tokens but no id; it is
// matched by refresh token against the pool before a new id is minted.
// Returns the id and whether the active document was rewritten.
func (m *Manager) EnsureActiveID() (string, bool) {
	active, ok := m.store.LoadActive()
	if !ok {
		return "", false
	}
	if active.ID != "" {
		return active.ID, false
	}

	pool := m.store.LoadReserve()
	if entry, found := pool.FindByRefreshToken(active.RefreshToken); found {
		active.ID = entry.ID
	} else {
		active.ID = newID()
	}

	if !m.store.SaveActive(active) {
		m.metrics.RecordStoreWriteFailure("active")
		m.logger.Error("could not write id into active document", "credential_id", active.ID)
		return active.ID, false
	}
	return active.ID, true
}

// ReconcileOnStart brings the two documents back in sync after the external
// client ran on its own: it assigns the active credential an id if needed,
// then pushes the active tokens into the matching pool entry so the pool
// never carries stale tokens for the credential currently in use.
func (m *Manager) ReconcileOnStart() {
	id, rewrote := m.EnsureActiveID()
	if id == "" {
		m.logger.Info("no active credential to reconcile")
		return
	}
	if rewrote {
		m.logger.Info("assigned id to active credential", "credential_id", id)
	}

	active, ok := m.store.LoadActive()
	if !ok {
		return
	}

	pool := m.store.LoadReserve()
	m.metrics.SetReserveSize(len(pool))
	entry, found := pool.FindByID(id)
	if !found {
		return
	}
	if entry.AccessToken == active.AccessToken && entry.RefreshToken == active.RefreshToken {
		return
	}

	entry.AccessToken = active.AccessToken
	entry.RefreshToken = active.RefreshToken
	if entry.Status == "" {
		entry.Status = models.StatusActive
	}
	if !m.store.SaveReserve(pool) {
		m.metrics.RecordStoreWriteFailure("reserve")
		m.logger.Error("could not sync active tokens into pool", "credential_id", id)
		return
	}
	m.logger.Info("synced active tokens into pool entry", "credential_id", id)
}
