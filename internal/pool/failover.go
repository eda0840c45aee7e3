package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/droidpool/droidpool/internal/errors"
	"github.com/droidpool/droidpool/internal/history"
	"github.com/droidpool/droidpool/internal/models"
)

// ConfirmFunc is consulted before a manual switch commits. It receives the
// candidate's freshly queried ratio; returning false aborts the switch.
type ConfirmFunc func(ratio float64) bool

// selectCandidate picks the lowest-known-usage reserve credential, excluding
// the active id and anything at or past the warning threshold. Never-queried
// entries count as ratio 0 and are the most preferred; entries whose last
// query failed keep their -1 and sort ahead of everything, matching the
// policy that a transient query failure must not disqualify a credential.
// Ties keep pool order.
func selectCandidate(pool models.CredentialSlice, activeID string, warnThreshold float64) (*models.Credential, bool) {
	var best *models.Credential
	for i := range pool {
		c := &pool[i]
		if c.ID == activeID {
			continue
		}
		if ratio, known := c.KnownRatio(); known && ratio >= warnThreshold {
			continue
		}
		if best == nil || c.SelectionRatio() < best.SelectionRatio() {
			best = c
		}
	}
	return best, best != nil
}

// AutoFailover selects the best reserve credential and promotes it,
// demoting the current active into the pool. Used by the payment-error
// watcher and the one-click auto-switch action.
func (m *Manager) AutoFailover(ctx context.Context) (string, error) {
	if err := m.tryAcquire(OpSwitch, OpCheckAll, OpCheckSelected); err != nil {
		return "", err
	}
	defer m.release(OpSwitch)

	pool := m.store.LoadReserve()
	activeID := ""
	if active, ok := m.store.LoadActive(); ok {
		activeID = active.ID
	}

	candidate, ok := selectCandidate(pool, activeID, m.cfg.WarnThreshold)
	if !ok {
		err := &errors.ErrNoBackupAvailable{Reason: "pool has no credential below the warning threshold"}
		m.metrics.RecordFailover("auto", "no_backup")
		m.record(history.Event{Kind: history.KindFailoverFail, Ratio: models.RatioFailed, Detail: err.Error()})
		m.emit(Event{Kind: EventFailoverFailed, Message: err.Error()})
		m.logger.Warn("auto failover found no candidate", "pool_size", len(pool))
		return "", err
	}

	id := candidate.ID
	ratio, err := m.promote(ctx, id, nil)
	if err != nil {
		m.metrics.RecordFailover("auto", "failed")
		m.record(history.Event{CredentialID: id, Kind: history.KindFailoverFail, Ratio: ratio, Detail: err.Error()})
		m.emit(Event{Kind: EventFailoverFailed, CredentialID: id, Ratio: ratio, Message: err.Error()})
		m.logger.Error("auto failover failed", "credential_id", id, "error", err.Error())
		return "", err
	}

	m.metrics.RecordFailover("auto", "success")
	m.record(history.Event{CredentialID: id, Kind: history.KindFailover, Ratio: ratio})
	m.emit(Event{
		Kind:         EventFailoverSuccess,
		CredentialID: id,
		Ratio:        ratio,
		Message:      fmt.Sprintf("switched to credential %s (%s)", id, FormatRatio(ratio)),
	})
	m.logger.Info("auto failover complete", "credential_id", id, "ratio", fmt.Sprintf("%.4f", ratio))
	return id, nil
}

// Switch promotes a specific reserve credential chosen by the operator.
// When confirm is non-nil it is consulted with the candidate's fresh ratio
// before anything is written.
func (m *Manager) Switch(ctx context.Context, id string, confirm ConfirmFunc) (float64, error) {
	if err := m.tryAcquire(OpSwitch, OpCheckAll, OpCheckSelected); err != nil {
		return models.RatioFailed, err
	}
	defer m.release(OpSwitch)

	ratio, err := m.promote(ctx, id, confirm)
	if err != nil {
		if _, rejected := err.(*errors.ErrSwitchRejected); rejected {
			m.metrics.RecordFailover("manual", "cancelled")
		} else {
			m.metrics.RecordFailover("manual", "failed")
			m.record(history.Event{CredentialID: id, Kind: history.KindFailoverFail, Ratio: ratio, Detail: err.Error()})
			m.emit(Event{Kind: EventFailoverFailed, CredentialID: id, Ratio: ratio, Message: err.Error()})
		}
		return ratio, err
	}

	m.metrics.RecordFailover("manual", "success")
	m.record(history.Event{CredentialID: id, Kind: history.KindSwitch, Ratio: ratio})
	m.emit(Event{
		Kind:         EventFailoverSuccess,
		CredentialID: id,
		Ratio:        ratio,
		Message:      fmt.Sprintf("switched to credential %s (%s)", id, FormatRatio(ratio)),
	})
	m.logger.Info("manual switch complete", "credential_id", id, "ratio", fmt.Sprintf("%.4f", ratio))
	return ratio, nil
}

// promote runs the shared promotion sequence: admission query, optional
// confirmation, active swap, demotion of the old active into the pool.
// Refreshed tokens from the admission query are persisted before any
// structural pool change so an abort cannot lose them.
func (m *Manager) promote(ctx context.Context, id string, confirm ConfirmFunc) (float64, error) {
	pool := m.store.LoadReserve()
	entry, ok := pool.FindByID(id)
	if !ok {
		return models.RatioFailed, &errors.ErrNotInPool{ID: id}
	}

	started := time.Now()
	ratio, _, refreshed := m.oracle.QueryUsage(ctx, entry.AccessToken, entry.RefreshToken)
	m.metrics.ObserveQueryLatency(time.Since(started).Seconds())

	if refreshed != nil {
		entry.AccessToken = refreshed.AccessToken
		entry.RefreshToken = refreshed.RefreshToken
		if m.store.SaveReserve(pool) {
			m.metrics.RecordRefresh("persisted")
		} else {
			m.metrics.RecordRefresh("persist_failed")
			m.metrics.RecordStoreWriteFailure("reserve")
			m.logger.Error("refreshed candidate tokens could not be written", "credential_id", id)
		}
	}

	if ratio < 0 {
		return ratio, &errors.ErrQueryFailed{ID: id}
	}
	if ratio >= 1.0 {
		return ratio, &errors.ErrQuotaExhausted{ID: id, Ratio: ratio}
	}

	if confirm != nil {
		if !confirm(ratio) {
			return ratio, &errors.ErrSwitchRejected{ID: id, Reason: "cancelled"}
		}
		// The pool may have changed while the operator decided; re-resolve
		// the candidate before writing anything.
		pool = m.store.LoadReserve()
		entry, ok = pool.FindByID(id)
		if !ok {
			return ratio, &errors.ErrNotInPool{ID: id}
		}
	}

	oldActive, hadActive := m.store.LoadActive()

	promoted := entry.Clone()
	promoted.SetRatio(ratio)
	if !m.store.SaveActive(promoted) {
		m.metrics.RecordStoreWriteFailure("active")
		return ratio, &errors.ErrStoreWrite{Path: "active"}
	}

	pool = pool.RemoveByID(id)
	if hadActive && oldActive.HasTokens() {
		pool = demoteIntoPool(pool, oldActive)
	}
	if !m.store.SaveReserve(pool) {
		m.metrics.RecordStoreWriteFailure("reserve")
		return ratio, &errors.ErrStoreWrite{Path: "reserve"}
	}

	m.metrics.SetActiveRatio(ratio)
	m.metrics.SetReserveSize(len(pool))
	return ratio, nil
}

// demoteIntoPool returns the old active back to the reserve pool. An entry
// with the same id absorbs the tokens; failing that, an entry holding the
// same refresh token does, so the pool never carries two entries for one
// credential. Only a credential matching nothing is inserted at the front
// as a fresh entry (minting an id if it never had one).
func demoteIntoPool(pool models.CredentialSlice, old *models.Credential) models.CredentialSlice {
	if old.ID != "" {
		if entry, ok := pool.FindByID(old.ID); ok {
			entry.AccessToken = old.AccessToken
			entry.RefreshToken = old.RefreshToken
			if entry.Status == "" {
				entry.Status = models.StatusActive
			}
			return pool
		}
	}
	if entry, ok := pool.FindByRefreshToken(old.RefreshToken); ok {
		entry.AccessToken = old.AccessToken
		return pool
	}

	demoted := old.Clone()
	if demoted.ID == "" {
		demoted.ID = newID()
	}
	demoted.Status = models.StatusActive
	return pool.InsertFront(*demoted)
}
