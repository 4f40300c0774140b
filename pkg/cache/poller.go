package cache

import (
	"context"
	"sync"
	"time"

	"github.com/datadock/datadock/pkg/log"
)

const (
	// DefaultPollInterval is how long the poller sleeps between
	// staleness sweeps.
	DefaultPollInterval = 600 * time.Second

	// stopJoinTimeout bounds how long Stop waits for the loop to
	// finish; a stuck download must not hang shutdown.
	stopJoinTimeout = 5 * time.Second
)

// Poller periodically re-checks every cached file against the remote
// repository and re-downloads the ones that changed. One poller per
// process; Start is idempotent and Stop interrupts the sleep
// immediately.
type Poller struct {
	store    *Store
	token    string
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPoller creates a poller over the given store. A zero interval
// selects DefaultPollInterval.
func NewPoller(store *Store, token string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:    store,
		token:    token,
		interval: interval,
	}
}

// Start launches the background loop. Calling Start while the poller
// is already running is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop(p.stopCh, p.doneCh)
	log.Info("staleness poller started (interval %s)", p.interval)
}

// Stop signals the loop and waits for it with a bounded timeout. It is
// safe to call from any goroutine and safe to call when the poller is
// not running. An in-flight download may still complete after Stop
// returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		log.Warn("staleness poller did not stop within %s", stopJoinTimeout)
	}
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-time.After(p.interval):
		}
		p.sweep(stopCh)
	}
}

// sweep checks every tracked file once. A failure on one file never
// aborts the sweep for the rest.
func (p *Poller) sweep(stopCh chan struct{}) {
	ctx := context.Background()

	for filename, rec := range p.store.Snapshot() {
		select {
		case <-stopCh:
			return
		default:
		}

		if !p.store.CheckForUpdates(ctx, filename, p.token) {
			continue
		}
		if rec.RepoID == "" || rec.Branch == "" {
			log.Warn("cannot refresh %s: record has no source location", filename)
			continue
		}

		// Each file knows its own origin; different files may come
		// from different repositories.
		log.Info("refreshing stale file %s from %s@%s", filename, rec.RepoID, rec.Branch)
		if err := p.store.DownloadAndCache(ctx, filename, rec.RepoID, rec.Branch, p.token); err != nil {
			log.Warn("background refresh of %s failed: %v", filename, err)
		}
	}
}
