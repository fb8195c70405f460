package sessionhub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfaried/parley/pkg/orchestrator"
	"github.com/hfaried/parley/pkg/provider"
)

func TestJanitor_Defaults(t *testing.T) {
	hub := setupTestHub(t, &stubAdapter{})

	j := NewJanitor(hub, "", 0)
	assert.Equal(t, DefaultSweepSchedule, j.schedule)
	assert.Equal(t, DefaultIdleTTL, j.ttl)
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	hub := setupTestHub(t, &stubAdapter{})

	j := NewJanitor(hub, "not a schedule", time.Hour)
	err := j.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "janitor schedule")
}

func TestJanitor_SweepEvictsIdleSessions(t *testing.T) {
	hub := setupTestHub(t, &stubAdapter{})
	ctx := context.Background()

	_, err := hub.Get(ctx, "stale")
	require.NoError(t, err)
	hub.mu.Lock()
	hub.lastActive["stale"] = time.Now().Add(-2 * time.Hour)
	hub.mu.Unlock()

	j := NewJanitor(hub, "@every 10m", time.Hour)
	assert.Equal(t, 1, j.Sweep())
	assert.Equal(t, 0, hub.ActiveCount())
}

func TestJanitor_ScheduledSweep(t *testing.T) {
	hub := setupTestHub(t, &stubAdapter{})
	ctx := context.Background()

	_, err := hub.Get(ctx, "stale")
	require.NoError(t, err)
	hub.mu.Lock()
	hub.lastActive["stale"] = time.Now().Add(-time.Minute)
	hub.mu.Unlock()

	j := NewJanitor(hub, "@every 100ms", 10*time.Millisecond)
	require.NoError(t, j.Start())
	defer j.Stop()

	assert.Eventually(t, func() bool {
		return hub.ActiveCount() == 0
	}, 2*time.Second, 50*time.Millisecond)
}

func TestJanitor_EvictionKeepsTranscript(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	hub, err := New(Config{
		Store:        store,
		Providers:    hubTable(t),
		DefaultModel: "gpt-4o",
		AdapterFactory: func(cfg provider.Config) (provider.Adapter, error) {
			return &stubAdapter{content: "kept"}, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hub.Close() })
	ctx := context.Background()

	orch, err := hub.Get(ctx, "durable")
	require.NoError(t, err)
	handle, err := orch.Submit(ctx, orchestrator.TurnRequest{Message: "keep this"})
	require.NoError(t, err)
	_, err = handle.Wait(ctx)
	require.NoError(t, err)

	hub.mu.Lock()
	hub.lastActive["durable"] = time.Now().Add(-2 * time.Hour)
	hub.mu.Unlock()

	j := NewJanitor(hub, "@every 10m", time.Hour)
	require.Equal(t, 1, j.Sweep())

	loaded, err := store.Load(ctx, "durable")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}
