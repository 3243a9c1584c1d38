// File: internal/supabase/mirror_test.go
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

func newMirrorStorage(t *testing.T) storage.Storage {
	t.Helper()

	utils.InitLogger("error", "text", "stdout", "")

	storeCfg := &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "mirror_test.db"),
		MaxConnections:   10,
		MaxIdleTime:      15 * time.Minute,
	}
	store, err := storage.NewStorage(storeCfg)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	return store
}

func newTestMirror(store storage.Storage, url string, mutate func(cfg *config.SupabaseConfig)) *Mirror {
	cfg := &config.SupabaseConfig{
		Enabled:          true,
		URL:              url,
		ServiceKey:       "service-key-test",
		RequestTimeout:   2 * time.Second,
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewMirror(cfg, store)
}

func mirrorReward(id string, logIndex uint, amount uint64) *models.RewardTransaction {
	return &models.RewardTransaction{
		ID:             id,
		Signature:      "sig-" + id,
		Slot:           351_200_000,
		LogIndex:       logIndex,
		EventName:      "AssetPurchased",
		TxType:         models.TxTypePurchase,
		SourceWallet:   "BuyerWallet1111111111111111111111111111111",
		DestWallet:     "CreatorWallet111111111111111111111111111111",
		AmountLamports: amount,
		FeeLamports:    amount / 40,
		Points:         amount / 1_000_000,
		BlockTime:      time.Now().UTC().Add(-time.Minute),
		CreatedAt:      time.Now().UTC(),
	}
}

func TestMirrorRewardPushesRow(t *testing.T) {
	store := newMirrorStorage(t)
	ctx := context.Background()

	var gotPath, gotQuery, gotPrefer, gotAPIKey string
	var gotRows []rewardRow
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotPrefer = r.Header.Get("Prefer")
		gotAPIKey = r.Header.Get("apikey")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotRows))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	reward := mirrorReward("mirror-push-1", 0, 5_000_000_000)
	inserted, err := store.InsertRewardTransaction(ctx, reward)
	require.NoError(t, err)
	require.True(t, inserted)

	mirror := newTestMirror(store, server.URL, nil)
	require.NoError(t, mirror.MirrorReward(ctx, reward))

	assert.Equal(t, "/rest/v1/reward_transactions", gotPath)
	assert.Equal(t, "on_conflict=id", gotQuery)
	assert.Equal(t, "resolution=merge-duplicates,return=minimal", gotPrefer)
	assert.Equal(t, "service-key-test", gotAPIKey)
	require.Len(t, gotRows, 1)
	assert.Equal(t, "mirror-push-1", gotRows[0].ID)
	assert.Equal(t, uint64(5_000_000_000), gotRows[0].AmountLamports)

	unmirrored, err := store.GetUnmirroredRewards(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unmirrored)

	stats := mirror.GetStats()
	assert.Equal(t, uint64(1), stats.Pushed)
	assert.Equal(t, uint64(0), stats.Failed)
	assert.Equal(t, "closed", stats.BreakerState)
	t.Logf("✓ Ingest push mirrored row and marked it: %+v", stats)
}

func TestFlushReconcilesBacklog(t *testing.T) {
	store := newMirrorStorage(t)
	ctx := context.Background()

	var pushes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	for i := 0; i < 3; i++ {
		reward := mirrorReward(fmt.Sprintf("mirror-flush-%d", i), uint(i), 1_000_000)
		inserted, err := store.InsertRewardTransaction(ctx, reward)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	mirror := newTestMirror(store, server.URL, nil)

	mirrored, err := mirror.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, mirrored)
	assert.Equal(t, int32(1), pushes.Load())

	unmirrored, err := store.GetUnmirroredRewards(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unmirrored)

	// Nothing left: the next pass is a no-op without a request
	mirrored, err = mirror.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, mirrored)
	assert.Equal(t, int32(1), pushes.Load())

	assert.Equal(t, uint64(3), mirror.GetStats().Reconciled)
	t.Logf("✓ Reconcile cleared the backlog in one batch")
}

func TestFlushHonorsBatchSize(t *testing.T) {
	store := newMirrorStorage(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rows []rewardRow
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
		assert.LessOrEqual(t, len(rows), 2)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	for i := 0; i < 3; i++ {
		reward := mirrorReward(fmt.Sprintf("mirror-batch-%d", i), uint(i), 1_000_000)
		_, err := store.InsertRewardTransaction(ctx, reward)
		require.NoError(t, err)
	}

	mirror := newTestMirror(store, server.URL, nil)

	mirrored, err := mirror.Flush(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, mirrored)

	unmirrored, err := store.GetUnmirroredRewards(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unmirrored, 1)
}

func TestMirrorDisabled(t *testing.T) {
	store := newMirrorStorage(t)
	ctx := context.Background()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	reward := mirrorReward("mirror-disabled-1", 0, 1_000_000)
	_, err := store.InsertRewardTransaction(ctx, reward)
	require.NoError(t, err)

	mirror := newTestMirror(store, server.URL, func(cfg *config.SupabaseConfig) {
		cfg.Enabled = false
	})

	require.NoError(t, mirror.MirrorReward(ctx, reward))

	mirrored, err := mirror.Flush(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, mirrored)
	assert.Equal(t, int32(0), hits.Load())

	// Row stays in the backlog untouched
	unmirrored, err := store.GetUnmirroredRewards(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unmirrored, 1)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	store := newMirrorStorage(t)
	ctx := context.Background()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	}))
	defer server.Close()

	mirror := newTestMirror(store, server.URL, func(cfg *config.SupabaseConfig) {
		cfg.FailureThreshold = 2
	})

	reward := mirrorReward("mirror-breaker-1", 0, 1_000_000)
	_, err := store.InsertRewardTransaction(ctx, reward)
	require.NoError(t, err)

	err = mirror.MirrorReward(ctx, reward)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Supabase rejected mirror request")
	assert.Equal(t, "closed", mirror.BreakerState())

	err = mirror.MirrorReward(ctx, reward)
	require.Error(t, err)
	assert.Equal(t, "open", mirror.BreakerState())

	// Open breaker short-circuits without another request
	err = mirror.MirrorReward(ctx, reward)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())

	stats := mirror.GetStats()
	assert.Equal(t, uint64(3), stats.Failed)
	require.NotNil(t, stats.LastError)
	t.Logf("✓ Breaker opened after %d failures: %s", hits.Load(), *stats.LastError)
}

func TestPingQueriesRewardsTable(t *testing.T) {
	store := newMirrorStorage(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/reward_transactions", r.URL.Path)
		assert.Equal(t, "select=id&limit=1", r.URL.RawQuery)
		assert.Equal(t, "Bearer service-key-test", r.Header.Get("Authorization"))
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	mirror := newTestMirror(store, server.URL, nil)
	require.NoError(t, mirror.Ping(context.Background()))

	disabled := newTestMirror(store, server.URL, func(cfg *config.SupabaseConfig) {
		cfg.Enabled = false
	})
	err := disabled.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}
