package watcher

import (
	"context"
	"sync"
	"time"

	poolerrors "github.com/droidpool/droidpool/internal/errors"
	"github.com/droidpool/droidpool/internal/logging"
	"github.com/droidpool/droidpool/internal/pool"
)

// Poller checks the active credential's usage on a fixed interval. An
// overlapping tick is absorbed by the manager's single-flight guard and
// simply skipped.
type Poller struct {
	manager  *pool.Manager
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPoller creates a usage poller.
func NewPoller(manager *pool.Manager, interval time.Duration, logger *logging.Logger) *Poller {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Poller{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling. Calling Start on a running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.run(p.stopCh)
	p.logger.Info("usage poller started", "interval", p.interval.String())
}

// Stop halts polling and waits for the in-flight check to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("usage poller stopped")
}

// IsRunning reports whether the poller is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) run(stopCh chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.check()

	for {
		select {
		case <-ticker.C:
			p.check()
		case <-stopCh:
			return
		}
	}
}

func (p *Poller) check() {
	result, err := p.manager.CheckActive(context.Background(), false)
	if err != nil {
		if _, busy := err.(*poolerrors.ErrBusy); busy {
			return
		}
		p.logger.Warn("scheduled usage check failed", "error", err.Error())
		return
	}
	if result.Ratio >= 0 {
		p.logger.Debug("scheduled usage check", "credential_id", result.ID, "ratio", result.Ratio)
	}
}
