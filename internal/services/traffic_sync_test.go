package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hy2panel/subpanel-backend/internal/hy2stats"
	"github.com/hy2panel/subpanel-backend/internal/models"
	"github.com/hy2panel/subpanel-backend/internal/store/storefakes"
)

func newStatsServer(t *testing.T, stats map[string]hy2stats.Traffic) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/traffic", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSyncAppliesDeltasAdditively(t *testing.T) {
	users := storefakes.NewFakeUserStore()
	usage := storefakes.NewFakeUsageStore()
	ctx := context.Background()

	require.NoError(t, users.Create(ctx, &models.User{
		ID: "user-1", Username: "alice", IsActive: true, TrafficLimit: 10_000, TrafficUsed: 100,
	}))

	server := newStatsServer(t, map[string]hy2stats.Traffic{
		"user-1": {TX: 300, RX: 700},
	})
	client := hy2stats.NewClient(server.URL, "", time.Second)
	sync := NewTrafficSync(users, usage, client, time.Minute, true)

	require.NoError(t, sync.Sync(ctx))

	got, err := users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1100), got.TrafficUsed)

	day, err := usage.UserDay(ctx, "user-1", time.Now().Truncate(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(300), day.UploadBytes)
	require.Equal(t, int64(700), day.DownloadBytes)
}

func TestSyncNeverClampsAtLimit(t *testing.T) {
	users := storefakes.NewFakeUserStore()
	usage := storefakes.NewFakeUsageStore()
	ctx := context.Background()

	require.NoError(t, users.Create(ctx, &models.User{
		ID: "user-1", Username: "alice", IsActive: true, TrafficLimit: 1000, TrafficUsed: 900,
	}))

	server := newStatsServer(t, map[string]hy2stats.Traffic{
		"user-1": {TX: 400, RX: 400},
	})
	client := hy2stats.NewClient(server.URL, "", time.Second)
	sync := NewTrafficSync(users, usage, client, time.Minute, true)

	require.NoError(t, sync.Sync(ctx))

	got, err := users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	// The counter crosses the limit; enforcement happens at the next auth.
	require.Equal(t, int64(1700), got.TrafficUsed)
	require.False(t, got.TrafficAvailable())
}

func TestSyncSkipsLegacyIdentity(t *testing.T) {
	users := storefakes.NewFakeUserStore()
	usage := storefakes.NewFakeUsageStore()
	ctx := context.Background()

	server := newStatsServer(t, map[string]hy2stats.Traffic{
		"default": {TX: 500, RX: 500},
	})
	client := hy2stats.NewClient(server.URL, "", time.Second)
	sync := NewTrafficSync(users, usage, client, time.Minute, true)

	require.NoError(t, sync.Sync(ctx))

	totals, err := usage.UserTotals(ctx, "default")
	require.NoError(t, err)
	require.Zero(t, totals.UploadBytes)
	require.Zero(t, totals.DownloadBytes)
}

func TestSyncRecordsUsageForUnknownIdentities(t *testing.T) {
	users := storefakes.NewFakeUserStore()
	usage := storefakes.NewFakeUsageStore()
	ctx := context.Background()

	server := newStatsServer(t, map[string]hy2stats.Traffic{
		"token_ab12cd34": {TX: 100, RX: 200},
	})
	client := hy2stats.NewClient(server.URL, "", time.Second)
	sync := NewTrafficSync(users, usage, client, time.Minute, true)

	require.NoError(t, sync.Sync(ctx))

	totals, err := usage.UserTotals(ctx, "token_ab12cd34")
	require.NoError(t, err)
	require.Equal(t, int64(100), totals.UploadBytes)
	require.Equal(t, int64(200), totals.DownloadBytes)
}

func TestSyncSkipsCycleWhenStatsUnreachable(t *testing.T) {
	users := storefakes.NewFakeUserStore()
	usage := storefakes.NewFakeUsageStore()
	ctx := context.Background()

	require.NoError(t, users.Create(ctx, &models.User{
		ID: "user-1", Username: "alice", IsActive: true, TrafficLimit: 1000, TrafficUsed: 100,
	}))

	client := hy2stats.NewClient("http://192.0.2.1:1", "", 100*time.Millisecond)
	sync := NewTrafficSync(users, usage, client, time.Minute, true)

	require.Error(t, sync.Sync(ctx))

	got, err := users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), got.TrafficUsed)

	status := sync.Status()
	require.NotEmpty(t, status.LastError)
	require.False(t, status.LastSync.IsZero())
}

func TestSyncCumulativeModeTracksDeltas(t *testing.T) {
	users := storefakes.NewFakeUserStore()
	usage := storefakes.NewFakeUsageStore()
	ctx := context.Background()

	require.NoError(t, users.Create(ctx, &models.User{
		ID: "user-1", Username: "alice", IsActive: true, TrafficLimit: 100_000,
	}))

	stats := map[string]hy2stats.Traffic{"user-1": {TX: 100, RX: 200}}
	server := newStatsServer(t, stats)
	client := hy2stats.NewClient(server.URL, "", time.Second)
	sync := NewTrafficSync(users, usage, client, time.Minute, false)

	require.NoError(t, sync.Sync(ctx))
	got, err := users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), got.TrafficUsed)

	// Counters grow; only the difference is applied.
	stats["user-1"] = hy2stats.Traffic{TX: 150, RX: 250}
	require.NoError(t, sync.Sync(ctx))
	got, err = users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(400), got.TrafficUsed)

	// Counters went backwards (runtime restart): cumulative values become
	// the new delta.
	stats["user-1"] = hy2stats.Traffic{TX: 10, RX: 20}
	require.NoError(t, sync.Sync(ctx))
	got, err = users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(430), got.TrafficUsed)
}

// Manual triggers may race the background ticker; cycles must serialize so
// cumulative-mode bookkeeping stays consistent and a delta is applied once.
func TestSyncConcurrentCyclesSerialize(t *testing.T) {
	users := storefakes.NewFakeUserStore()
	usage := storefakes.NewFakeUsageStore()
	ctx := context.Background()

	require.NoError(t, users.Create(ctx, &models.User{
		ID: "user-1", Username: "alice", IsActive: true, TrafficLimit: 1 << 40,
	}))

	server := newStatsServer(t, map[string]hy2stats.Traffic{
		"user-1": {TX: 100, RX: 200},
	})
	client := hy2stats.NewClient(server.URL, "", time.Second)
	ts := NewTrafficSync(users, usage, client, time.Minute, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, ts.Sync(ctx))
		}()
	}
	wg.Wait()

	// The counters never moved, so only the first cycle carries a delta.
	got, err := users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), got.TrafficUsed)
}

func TestSyncStartStop(t *testing.T) {
	users := storefakes.NewFakeUserStore()
	usage := storefakes.NewFakeUsageStore()

	server := newStatsServer(t, map[string]hy2stats.Traffic{})
	client := hy2stats.NewClient(server.URL, "", time.Second)
	sync := NewTrafficSync(users, usage, client, time.Hour, true)

	sync.Start(context.Background())
	require.Eventually(t, func() bool {
		return !sync.Status().LastSync.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	sync.Stop()
}
