package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/errors"
	"github.com/droidpool/droidpool/internal/models"
	"github.com/droidpool/droidpool/internal/usage"
)

// memStore is an in-memory store double with failure injection.
type memStore struct {
	mu           sync.Mutex
	active       *models.Credential
	reserve      models.CredentialSlice
	failActive   bool
	failReserve  bool
	activeSaves  int
	reserveSaves int
}

func (s *memStore) LoadActive() (*models.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || !s.active.HasTokens() {
		return nil, false
	}
	return s.active.Clone(), true
}

func (s *memStore) SaveActive(c *models.Credential) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failActive {
		return false
	}
	s.activeSaves++
	s.active = c.Clone()
	return true
}

func (s *memStore) LoadReserve() models.CredentialSlice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserve.Clone()
}

func (s *memStore) SaveReserve(pool models.CredentialSlice) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReserve {
		return false
	}
	s.reserveSaves++
	s.reserve = pool.Clone()
	return true
}

// fakeOracle answers usage queries from a per-access-token table.
type fakeOracle struct {
	mu      sync.Mutex
	ratios  map[string]float64
	refresh map[string]usage.Tokens
	calls   []string
	block   chan struct{}
}

func (o *fakeOracle) QueryUsage(ctx context.Context, accessToken, refreshToken string) (float64, usage.Info, *usage.Tokens) {
	o.mu.Lock()
	o.calls = append(o.calls, accessToken)
	block := o.block
	o.mu.Unlock()

	if block != nil {
		<-block
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if tok, ok := o.refresh[accessToken]; ok {
		ratio, known := o.ratios[tok.AccessToken]
		if !known {
			ratio = -1
		}
		t := tok
		return ratio, usage.Info{}, &t
	}
	ratio, ok := o.ratios[accessToken]
	if !ok {
		return -1, usage.Info{}, nil
	}
	return ratio, usage.Info{}, nil
}

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func newTestManager(store *memStore, oracle *fakeOracle, opts ...Option) *Manager {
	cfg := config.PoolConfig{}
	_ = cfg.Validate()
	return NewManager(store, oracle, cfg, nil, opts...)
}

func ptr(v float64) *float64 { return &v }

func TestCheckActive(t *testing.T) {
	t.Run("reports ratio and exhaustion", func(t *testing.T) {
		st := &memStore{active: &models.Credential{ID: "a", AccessToken: "at-a", RefreshToken: "rt-a"}}
		oracle := &fakeOracle{ratios: map[string]float64{"at-a": 0.995}}
		m := newTestManager(st, oracle)

		result, err := m.CheckActive(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, "a", result.ID)
		assert.Equal(t, 0.995, result.Ratio)
		assert.True(t, result.Exhausted)
	})

	t.Run("no active credential", func(t *testing.T) {
		m := newTestManager(&memStore{}, &fakeOracle{})
		_, err := m.CheckActive(context.Background(), false)
		assert.IsType(t, &errors.ErrNoActiveCredential{}, err)
	})

	t.Run("query failure is not an error", func(t *testing.T) {
		st := &memStore{active: &models.Credential{ID: "a", AccessToken: "at-a"}}
		m := newTestManager(st, &fakeOracle{ratios: map[string]float64{}})

		result, err := m.CheckActive(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, -1.0, result.Ratio)
		assert.False(t, result.Exhausted)
	})

	t.Run("refreshed tokens are persisted to the active document", func(t *testing.T) {
		st := &memStore{active: &models.Credential{ID: "a", AccessToken: "expired", RefreshToken: "rt-old"}}
		oracle := &fakeOracle{
			ratios:  map[string]float64{"fresh": 0.3},
			refresh: map[string]usage.Tokens{"expired": {AccessToken: "fresh", RefreshToken: "rt-new"}},
		}
		m := newTestManager(st, oracle)

		result, err := m.CheckActive(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, 0.3, result.Ratio)

		active, ok := st.LoadActive()
		require.True(t, ok)
		assert.Equal(t, "fresh", active.AccessToken)
		assert.Equal(t, "rt-new", active.RefreshToken)
	})

	t.Run("concurrent check is refused as busy", func(t *testing.T) {
		st := &memStore{active: &models.Credential{ID: "a", AccessToken: "at-a"}}
		block := make(chan struct{})
		oracle := &fakeOracle{ratios: map[string]float64{"at-a": 0.1}, block: block}
		m := newTestManager(st, oracle)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = m.CheckActive(context.Background(), false)
		}()

		// Wait for the first check to reach the oracle.
		for oracle.callCount() == 0 {
			time.Sleep(time.Millisecond)
		}

		_, err := m.CheckActive(context.Background(), false)
		assert.IsType(t, &errors.ErrBusy{}, err)

		close(block)
		<-done

		// The guard must be released afterwards.
		_, err = m.CheckActive(context.Background(), false)
		assert.NoError(t, err)
	})
}

func TestCheckAll(t *testing.T) {
	t.Run("checks every entry except the active id with one save", func(t *testing.T) {
		st := &memStore{
			active: &models.Credential{ID: "2", AccessToken: "at-2", RefreshToken: "rt-2"},
			reserve: models.CredentialSlice{
				{ID: "1", AccessToken: "at-1", RefreshToken: "rt-1"},
				{ID: "2", AccessToken: "at-2", RefreshToken: "rt-2"},
				{ID: "3", AccessToken: "at-3", RefreshToken: "rt-3"},
			},
		}
		oracle := &fakeOracle{ratios: map[string]float64{"at-1": 0.95, "at-3": 0.2}}
		m := newTestManager(st, oracle)

		results, err := m.CheckAll(context.Background())
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, 1, st.reserveSaves)

		pool := st.LoadReserve()
		one, _ := pool.FindByID("1")
		assert.Equal(t, models.StatusLowQuota, one.Status)
		assert.Equal(t, ptr(0.95), one.Ratio)

		two, _ := pool.FindByID("2")
		assert.Nil(t, two.Ratio, "active entry must be skipped")

		three, _ := pool.FindByID("3")
		assert.Equal(t, models.StatusActive, three.Status)
	})

	t.Run("failed query marks the entry invalid", func(t *testing.T) {
		st := &memStore{reserve: models.CredentialSlice{{ID: "1", AccessToken: "dead", RefreshToken: "rt"}}}
		m := newTestManager(st, &fakeOracle{ratios: map[string]float64{}})

		_, err := m.CheckAll(context.Background())
		require.NoError(t, err)

		entry, _ := st.LoadReserve().FindByID("1")
		assert.Equal(t, models.StatusInvalid, entry.Status)
		assert.Equal(t, ptr(models.RatioFailed), entry.Ratio)
	})

	t.Run("empty pool is a no-op", func(t *testing.T) {
		st := &memStore{}
		m := newTestManager(st, &fakeOracle{})
		results, err := m.CheckAll(context.Background())
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Zero(t, st.reserveSaves)
	})
}

func TestCheckSelected(t *testing.T) {
	st := &memStore{reserve: models.CredentialSlice{
		{ID: "1", AccessToken: "at-1", RefreshToken: "rt-1"},
		{ID: "2", AccessToken: "at-2", RefreshToken: "rt-2"},
	}}
	oracle := &fakeOracle{ratios: map[string]float64{"at-2": 0.4}}
	m := newTestManager(st, oracle)

	results, err := m.CheckSelected(context.Background(), []string{"2", "missing"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].ID)

	entry, _ := st.LoadReserve().FindByID("1")
	assert.Nil(t, entry.Ratio, "unselected entries stay untouched")
}

func TestDelete(t *testing.T) {
	st := &memStore{reserve: models.CredentialSlice{{ID: "1"}, {ID: "2"}, {ID: "3"}}}
	m := newTestManager(st, &fakeOracle{})

	removed, err := m.Delete([]string{"1", "3", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	pool := st.LoadReserve()
	require.Len(t, pool, 1)
	assert.Equal(t, "2", pool[0].ID)

	removed, err = m.Delete([]string{"missing"})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSyncActiveToReserve(t *testing.T) {
	t.Run("updates the matching pool entry", func(t *testing.T) {
		st := &memStore{
			active:  &models.Credential{ID: "1", AccessToken: "newer-at", RefreshToken: "newer-rt"},
			reserve: models.CredentialSlice{{ID: "1", AccessToken: "stale", RefreshToken: "stale"}},
		}
		m := newTestManager(st, &fakeOracle{})

		require.True(t, m.SyncActiveToReserve(nil, 0.5, true))

		entry, _ := st.LoadReserve().FindByID("1")
		assert.Equal(t, "newer-at", entry.AccessToken)
		assert.Equal(t, ptr(0.5), entry.Ratio)
		assert.Equal(t, models.StatusActive, entry.Status)
	})

	t.Run("inserts a missing entry at the front", func(t *testing.T) {
		st := &memStore{
			active:  &models.Credential{ID: "9", AccessToken: "at", RefreshToken: "rt"},
			reserve: models.CredentialSlice{{ID: "1"}},
		}
		m := newTestManager(st, &fakeOracle{})

		require.True(t, m.SyncActiveToReserve(nil, 0.97, true))

		pool := st.LoadReserve()
		require.Len(t, pool, 2)
		assert.Equal(t, "9", pool[0].ID)
		assert.Equal(t, models.StatusLowQuota, pool[0].Status)
	})

	t.Run("unknown ratio leaves usage fields alone", func(t *testing.T) {
		st := &memStore{
			active:  &models.Credential{ID: "1", AccessToken: "at", RefreshToken: "rt"},
			reserve: models.CredentialSlice{{ID: "1", Ratio: ptr(0.2)}},
		}
		m := newTestManager(st, &fakeOracle{})

		require.True(t, m.SyncActiveToReserve(nil, -1, false))

		entry, _ := st.LoadReserve().FindByID("1")
		assert.Equal(t, ptr(0.2), entry.Ratio)
	})

	t.Run("active without id is not synced", func(t *testing.T) {
		st := &memStore{active: &models.Credential{AccessToken: "at"}}
		m := newTestManager(st, &fakeOracle{})
		assert.False(t, m.SyncActiveToReserve(nil, 0.1, true))
	})
}
