package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/hy2panel/subpanel-backend/internal/hy2stats"
	"github.com/hy2panel/subpanel-backend/internal/store"
)

// legacyIdentity is the auth identity of the operator-wide shared password.
// It maps to no account, so its traffic is never attributed.
const legacyIdentity = "default"

// TrafficSync periodically pulls per-identity counters from the proxy runtime
// and folds them into user quota counters and daily usage rows.
type TrafficSync struct {
	users  store.UserStore
	usage  store.UsageStore
	client *hy2stats.Client

	interval time.Duration
	clear    bool

	mu           sync.Mutex
	lastSyncTime time.Time
	lastSyncErr  error
	cancel       context.CancelFunc
	done         chan struct{}

	// syncMu serializes whole cycles. Manual triggers may race the ticker,
	// and two concurrent cumulative cycles would double-apply a delta.
	syncMu sync.Mutex

	// lastSeen holds the previous cumulative counters when the stats pull
	// does not reset on read, so each cycle still applies a delta. Guarded
	// by syncMu.
	lastSeen map[string]hy2stats.Traffic
}

func NewTrafficSync(users store.UserStore, usage store.UsageStore, client *hy2stats.Client, interval time.Duration, clear bool) *TrafficSync {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ts := &TrafficSync{
		users:    users,
		usage:    usage,
		client:   client,
		interval: interval,
		clear:    clear,
	}
	if !clear {
		ts.lastSeen = make(map[string]hy2stats.Traffic)
	}
	return ts
}

// Start launches the background loop. The first sync runs immediately.
func (ts *TrafficSync) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ts.mu.Lock()
	ts.cancel = cancel
	ts.done = make(chan struct{})
	done := ts.done
	ts.mu.Unlock()

	log.Printf("🔄 Traffic sync started (interval: %s, clear: %v)", ts.interval, ts.clear)

	go func() {
		defer close(done)
		ts.runOnce(ctx)

		ticker := time.NewTicker(ts.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts.runOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (ts *TrafficSync) Stop() {
	ts.mu.Lock()
	cancel, done := ts.cancel, ts.done
	ts.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("🔄 Traffic sync stopped")
}

func (ts *TrafficSync) runOnce(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		log.Printf("⚠️ Traffic sync failed: %v", err)
	}
}

// Sync performs one reconciliation cycle. A stats fetch failure skips the
// whole cycle; a per-user failure skips only that user. Increments are
// applied as-is even when they push a user past the limit, so the counter
// stays truthful and enforcement happens at the next authentication.
func (ts *TrafficSync) Sync(ctx context.Context) error {
	ts.syncMu.Lock()
	defer ts.syncMu.Unlock()

	stats, err := ts.client.Fetch(ctx, ts.clear)

	ts.mu.Lock()
	ts.lastSyncTime = time.Now()
	ts.lastSyncErr = err
	ts.mu.Unlock()

	if err != nil {
		return err
	}

	updated := 0
	today := time.Now().Truncate(24 * time.Hour)
	for id, counters := range stats {
		if id == legacyIdentity {
			continue
		}

		up, down := counters.TX, counters.RX
		if ts.lastSeen != nil {
			prev := ts.lastSeen[id]
			ts.lastSeen[id] = counters
			up -= prev.TX
			down -= prev.RX
			if up < 0 || down < 0 {
				// Counters went backwards, the runtime restarted. Treat the
				// cumulative values as the new delta.
				up, down = counters.TX, counters.RX
			}
		}
		delta := up + down
		if delta <= 0 {
			continue
		}

		if err := ts.users.IncrementTrafficUsed(ctx, id, delta); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("⚠️ Traffic sync: failed to update user %s: %v", id, err)
				continue
			}
			// Token-scoped identities (token_<id>) have no user row; their
			// usage is still recorded per day below.
		} else {
			updated++
		}

		if err := ts.usage.Record(ctx, id, today, up, down); err != nil {
			log.Printf("⚠️ Traffic sync: failed to record usage for %s: %v", id, err)
		}
	}

	if updated > 0 {
		log.Printf("📊 Traffic sync: updated %d users", updated)
	}
	return nil
}

// SyncStatus is a snapshot of the reconciler state for the admin API.
type SyncStatus struct {
	Interval  time.Duration `json:"interval_ns"`
	Clear     bool          `json:"clear"`
	LastSync  time.Time     `json:"last_sync"`
	LastError string        `json:"last_error,omitempty"`
}

// Status reports the last cycle's outcome.
func (ts *TrafficSync) Status() SyncStatus {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	st := SyncStatus{Interval: ts.interval, Clear: ts.clear, LastSync: ts.lastSyncTime}
	if ts.lastSyncErr != nil {
		st.LastError = ts.lastSyncErr.Error()
	}
	return st
}
