package pool

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/errors"
	"github.com/droidpool/droidpool/internal/history"
	"github.com/droidpool/droidpool/internal/logging"
	"github.com/droidpool/droidpool/internal/metrics"
	"github.com/droidpool/droidpool/internal/models"
	"github.com/droidpool/droidpool/internal/store"
	"github.com/droidpool/droidpool/internal/usage"
)

// Oracle answers usage queries for a credential, refreshing the access
// token once when the first attempt fails.
type Oracle interface {
	QueryUsage(ctx context.Context, accessToken, refreshToken string) (float64, usage.Info, *usage.Tokens)
}

// Op identifies an operation class for single-flight guarding.
type Op string

const (
	OpCheckActive   Op = "active-check"
	OpCheckAll      Op = "check-all"
	OpCheckSelected Op = "check-selected"
	OpSwitch        Op = "switch"
)

// EventKind classifies events handed back to the coordinating context.
type EventKind string

const (
	EventFailoverSuccess EventKind = "failover_success"
	EventFailoverFailed  EventKind = "failover_failed"
	EventQuotaExhausted  EventKind = "quota_exhausted"
	EventCheckFailed     EventKind = "check_failed"
)

// Event is a terminal operation outcome. Workers never mutate shared view
// state; they report through here and the owning context applies it.
type Event struct {
	Kind         EventKind
	CredentialID string
	Ratio        float64
	Message      string
}

// CheckResult is the outcome of a usage check on one credential.
type CheckResult struct {
	ID        string
	Ratio     float64
	Info      usage.Info
	Exhausted bool
}

// Manager owns the credential pool lifecycle: checks, failover, import and
// reconciliation. The durable store is the source of truth; every operation
// re-loads from it rather than trusting cached state, because the active
// document is also written by the external client application.
//
// Per-operation single-flight flags bound concurrent remote calls and keep
// overlapping read-modify-write cycles off the reserve document. A duplicate
// request of the same class gets ErrBusy and is dropped, not queued.
type Manager struct {
	store   store.Store
	oracle  Oracle
	cfg     config.PoolConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
	hist    *history.History
	onEvent func(Event)

	mu       sync.Mutex
	inflight map[Op]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithHistory attaches the event history store.
func WithHistory(h *history.History) Option {
	return func(mgr *Manager) { mgr.hist = h }
}

// WithEventSink sets the callback receiving terminal operation outcomes.
// It is invoked from worker goroutines; the sink must be safe for that.
func WithEventSink(fn func(Event)) Option {
	return func(mgr *Manager) { mgr.onEvent = fn }
}

// NewManager creates a pool manager.
func NewManager(s store.Store, oracle Oracle, cfg config.PoolConfig, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewLogger()
	}
	m := &Manager{
		store:    s,
		oracle:   oracle,
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[Op]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// tryAcquire claims the single-flight flag for op, also refusing when any
// of the conflicting classes is outstanding. Check-and-set under one mutex.
func (m *Manager) tryAcquire(op Op, conflicts ...Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight[op] {
		return &errors.ErrBusy{Op: string(op)}
	}
	for _, c := range conflicts {
		if m.inflight[c] {
			return &errors.ErrBusy{Op: string(c)}
		}
	}
	m.inflight[op] = true
	return nil
}

func (m *Manager) release(op Op) {
	m.mu.Lock()
	m.inflight[op] = false
	m.mu.Unlock()
}

// InFlight reports whether an operation class is currently running.
func (m *Manager) InFlight(op Op) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[op]
}

func (m *Manager) emit(e Event) {
	if m.onEvent != nil {
		m.onEvent(e)
	}
}

func (m *Manager) record(e history.Event) {
	if m.hist == nil {
		return
	}
	if err := m.hist.Record(e); err != nil {
		m.logger.Warn("history record failed", "error", err.Error())
	}
}

// CheckActive queries the active credential's usage, persisting any
// refreshed tokens before reporting. Quota exhaustion is reported through
// the result, never by triggering failover: only the payment-error path and
// the explicit auto-switch action do that.
func (m *Manager) CheckActive(ctx context.Context, userInitiated bool) (CheckResult, error) {
	if err := m.tryAcquire(OpCheckActive); err != nil {
		return CheckResult{}, err
	}
	defer m.release(OpCheckActive)

	active, ok := m.store.LoadActive()
	if !ok {
		return CheckResult{}, &errors.ErrNoActiveCredential{}
	}

	started := time.Now()
	ratio, info, refreshed := m.oracle.QueryUsage(ctx, active.AccessToken, active.RefreshToken)
	m.metrics.ObserveQueryLatency(time.Since(started).Seconds())

	if refreshed != nil {
		active.AccessToken = refreshed.AccessToken
		active.RefreshToken = refreshed.RefreshToken
		if m.store.SaveActive(active) {
			m.metrics.RecordRefresh("persisted")
			m.logger.Info("refreshed tokens persisted", "credential_id", active.ID)
		} else {
			m.metrics.RecordRefresh("persist_failed")
			m.metrics.RecordStoreWriteFailure("active")
			m.logger.Error("refreshed tokens could not be written", "credential_id", active.ID)
		}
	}

	result := CheckResult{ID: active.ID, Ratio: ratio, Info: info}
	m.metrics.SetActiveRatio(ratio)

	if ratio < 0 {
		m.metrics.RecordCheck(string(OpCheckActive), "failed")
		m.record(history.Event{CredentialID: active.ID, Kind: history.KindCheck, Ratio: models.RatioFailed})
		m.emit(Event{Kind: EventCheckFailed, CredentialID: active.ID, Ratio: ratio})
		return result, nil
	}

	result.Exhausted = ratio >= m.cfg.ExhaustThreshold
	m.metrics.RecordCheck(string(OpCheckActive), "ok")
	m.record(history.Event{CredentialID: active.ID, Kind: history.KindCheck, Ratio: ratio})

	if result.Exhausted && userInitiated {
		m.emit(Event{Kind: EventQuotaExhausted, CredentialID: active.ID, Ratio: ratio})
	}
	return result, nil
}

// CheckAll queries every reserve credential (skipping the one matching the
// active id), updates ratios and statuses, and persists the pool once.
// Refreshed tokens land in the same write; there is no structural mutation
// here, so a single save preserves the required ordering.
func (m *Manager) CheckAll(ctx context.Context) ([]CheckResult, error) {
	if err := m.tryAcquire(OpCheckAll); err != nil {
		return nil, err
	}
	defer m.release(OpCheckAll)

	pool := m.store.LoadReserve()
	m.metrics.SetReserveSize(len(pool))
	if len(pool) == 0 {
		return nil, nil
	}

	activeID := ""
	if active, ok := m.store.LoadActive(); ok {
		activeID = active.ID
	}

	var results []CheckResult
	updated := false
	for i := range pool {
		if pool[i].ID == activeID {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		results = append(results, m.checkEntry(ctx, &pool[i]))
		updated = true
	}

	if updated && !m.store.SaveReserve(pool) {
		m.metrics.RecordStoreWriteFailure("reserve")
		return results, &errors.ErrStoreWrite{Path: "reserve"}
	}
	return results, nil
}

// CheckSelected queries the given reserve credentials by id. Entries are
// re-looked-up against a fresh pool load; ids that vanished are skipped.
func (m *Manager) CheckSelected(ctx context.Context, ids []string) ([]CheckResult, error) {
	if err := m.tryAcquire(OpCheckSelected); err != nil {
		return nil, err
	}
	defer m.release(OpCheckSelected)

	pool := m.store.LoadReserve()
	var results []CheckResult
	updated := false
	for _, id := range ids {
		entry, ok := pool.FindByID(id)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		results = append(results, m.checkEntry(ctx, entry))
		updated = true
	}

	if updated && !m.store.SaveReserve(pool) {
		m.metrics.RecordStoreWriteFailure("reserve")
		return results, &errors.ErrStoreWrite{Path: "reserve"}
	}
	return results, nil
}

// checkEntry queries one reserve entry and applies the outcome in place.
func (m *Manager) checkEntry(ctx context.Context, entry *models.Credential) CheckResult {
	ratio, info, refreshed := m.oracle.QueryUsage(ctx, entry.AccessToken, entry.RefreshToken)

	if refreshed != nil {
		entry.AccessToken = refreshed.AccessToken
		entry.RefreshToken = refreshed.RefreshToken
		m.metrics.RecordRefresh("pooled")
	}

	if ratio >= 0 {
		entry.SetRatio(ratio)
		if ratio >= m.cfg.WarnThreshold {
			entry.Status = models.StatusLowQuota
		} else {
			entry.Status = models.StatusActive
		}
		m.metrics.RecordCheck("reserve", "ok")
	} else {
		entry.SetRatio(models.RatioFailed)
		entry.Status = models.StatusInvalid
		m.metrics.RecordCheck("reserve", "failed")
	}

	m.record(history.Event{CredentialID: entry.ID, Kind: history.KindCheck, Ratio: ratio})
	return CheckResult{ID: entry.ID, Ratio: ratio, Info: info}
}

// Delete removes the given ids from the reserve pool.
func (m *Manager) Delete(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	pool := m.store.LoadReserve()
	kept := make(models.CredentialSlice, 0, len(pool))
	for _, c := range pool {
		if !drop[c.ID] {
			kept = append(kept, c)
		}
	}
	removed := len(pool) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if !m.store.SaveReserve(kept) {
		m.metrics.RecordStoreWriteFailure("reserve")
		return 0, &errors.ErrStoreWrite{Path: "reserve"}
	}
	m.metrics.SetReserveSize(len(kept))
	m.logger.Info("credentials deleted", "count", removed)
	return removed, nil
}

// SyncActiveToReserve pushes the active credential's tokens (and, when
// known, its latest ratio) into its reserve pool entry, inserting one at
// the front if the pool has no entry for it. Used at shutdown so the pool
// never loses the active slot's freshest tokens.
func (m *Manager) SyncActiveToReserve(active *models.Credential, ratio float64, ratioKnown bool) bool {
	if active == nil {
		var ok bool
		active, ok = m.store.LoadActive()
		if !ok {
			return false
		}
	}
	if active.ID == "" {
		return false
	}

	pool := m.store.LoadReserve()
	applyUsage := func(c *models.Credential) {
		if !ratioKnown || ratio < 0 {
			return
		}
		c.SetRatio(ratio)
		if ratio >= m.cfg.WarnThreshold {
			c.Status = models.StatusLowQuota
		} else {
			c.Status = models.StatusActive
		}
	}

	if entry, ok := pool.FindByID(active.ID); ok {
		entry.AccessToken = active.AccessToken
		entry.RefreshToken = active.RefreshToken
		if entry.Status == "" {
			entry.Status = models.StatusActive
		}
		applyUsage(entry)
	} else {
		fresh := models.Credential{
			ID:           active.ID,
			AccessToken:  active.AccessToken,
			RefreshToken: active.RefreshToken,
			Status:       models.StatusActive,
		}
		applyUsage(&fresh)
		pool = pool.InsertFront(fresh)
	}

	if !m.store.SaveReserve(pool) {
		m.metrics.RecordStoreWriteFailure("reserve")
		return false
	}
	return true
}

// newID mints a millisecond-clock identifier.
func newID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// FormatRatio renders a ratio for user-visible messages.
func FormatRatio(ratio float64) string {
	if ratio < 0 {
		return "query failed"
	}
	return fmt.Sprintf("used %.1f%%, remaining %.1f%%", ratio*100, (1-ratio)*100)
}
