package stores

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reignhq/reign/pkg/config"
	"github.com/reignhq/reign/pkg/state"
)

// testClock hands out strictly increasing timestamps one second apart.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

// backendFactory opens an empty backend driven by clock.
type backendFactory func(t *testing.T, clock *testClock) state.Backend

func backendFactories() map[string]backendFactory {
	return map[string]backendFactory{
		"sqlite": func(t *testing.T, clock *testClock) state.Backend {
			s := setupTestStore(t)
			s.now = clock.Now
			return s
		},
		"badger": func(t *testing.T, clock *testClock) state.Backend {
			s := setupBadgerStore(t)
			s.now = clock.Now
			return s
		},
	}
}

// forEachBackend runs fn against every backend implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, b state.Backend)) {
	for name, factory := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t, newTestClock()))
		})
	}
}

func newResource(id, typ string, agent state.AgentType, deps ...string) *state.Resource {
	return &state.Resource{
		ID:        id,
		Type:      typ,
		Name:      id + "-name",
		AgentType: agent,
		DependsOn: deps,
		Status:    state.StatusDeployed,
		Metadata: state.Metadata{
			"image":    state.String("nginx:1.27"),
			"replicas": state.Int(3),
			"public":   state.Bool(true),
			"ratio":    state.Float(0.5),
		},
	}
}

func putAll(t *testing.T, b state.Backend, resources ...*state.Resource) {
	t.Helper()
	for _, r := range resources {
		require.NoError(t, b.PutResource(context.Background(), r))
	}
}

func TestBackendPutAndGetResource(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		in := newResource("web", "container", state.AgentDocker, "db", "cache")
		putAll(t, b, in)

		got, err := b.GetResource(ctx, "web")
		require.NoError(t, err)

		assert.Equal(t, "web", got.ID)
		assert.Equal(t, "container", got.Type)
		assert.Equal(t, "web-name", got.Name)
		assert.Equal(t, state.AgentDocker, got.AgentType)
		assert.Equal(t, []string{"db", "cache"}, got.DependsOn)
		assert.Equal(t, state.StatusDeployed, got.Status)
		assert.Equal(t, in.Metadata, got.Metadata)
		assert.False(t, got.DeployedAt.IsZero())
		assert.Equal(t, time.UTC, got.DeployedAt.Location())
	})
}

func TestBackendPutKeepsDeployedAt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		putAll(t, b, newResource("web", "container", state.AgentDocker))
		first, err := b.GetResource(ctx, "web")
		require.NoError(t, err)

		updated := newResource("web", "container", state.AgentDocker)
		updated.Name = "renamed"
		updated.DeployedAt = first.DeployedAt.Add(time.Hour)
		putAll(t, b, updated)

		second, err := b.GetResource(ctx, "web")
		require.NoError(t, err)
		assert.Equal(t, "renamed", second.Name)
		assert.True(t, first.DeployedAt.Equal(second.DeployedAt),
			"expected deployed_at %v, got %v", first.DeployedAt, second.DeployedAt)
	})
}

func TestBackendGetUnknown(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		_, err := b.GetResource(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, state.IsNotFound(err), "expected NotFound, got %v", err)

		_, err = b.GetCheckpoint(context.Background(), uuid.NewString())
		assert.True(t, state.IsNotFound(err), "expected NotFound, got %v", err)
	})
}

func TestBackendListResources(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		failed := newResource("broken", "container", state.AgentDocker)
		failed.Status = state.StatusFailed
		putAll(t, b,
			newResource("vpc", "iac-resource", state.AgentTerraform),
			newResource("web", "container", state.AgentDocker),
			failed,
			newResource("ns", "namespace", state.AgentKubernetes),
		)

		all, err := b.ListResources(ctx, state.ResourceFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"vpc", "web", "ns"}, state.ResourceIDs(all), "deployed only, oldest first")

		containers, err := b.ListResources(ctx, state.ResourceFilter{Type: "container"})
		require.NoError(t, err)
		assert.Equal(t, []string{"web"}, state.ResourceIDs(containers))

		docker, err := b.ListResources(ctx, state.ResourceFilter{
			AgentType: state.AgentDocker,
			Statuses:  []state.Status{state.StatusDeployed, state.StatusFailed},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"web", "broken"}, state.ResourceIDs(docker))

		none, err := b.ListResources(ctx, state.ResourceFilter{Type: "bucket"})
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestBackendDependentsAndTimeline(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		putAll(t, b,
			newResource("db", "container", state.AgentDocker),
			newResource("api", "container", state.AgentDocker, "db"),
			newResource("worker", "container", state.AgentDocker, "db", "api"),
			newResource("web", "container", state.AgentDocker, "api"),
		)

		deps, err := b.ListDependents(ctx, "db")
		require.NoError(t, err)
		assert.Equal(t, []string{"api", "worker"}, state.ResourceIDs(deps))

		deps, err = b.ListDependents(ctx, "web")
		require.NoError(t, err)
		assert.Empty(t, deps)

		_, err = b.MarkRemoved(ctx, []string{"web"})
		require.NoError(t, err)

		timeline, err := b.Timeline(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"db", "api", "worker", "web"}, state.ResourceIDs(timeline))
		assert.Equal(t, state.StatusRemoved, timeline[3].Status)
	})
}

func TestBackendMarkRemoved(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		putAll(t, b,
			newResource("a", "container", state.AgentDocker),
			newResource("b", "container", state.AgentDocker),
		)

		n, err := b.MarkRemoved(ctx, []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = b.MarkRemoved(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, 1, n, "already removed resources are skipped")

		counts, err := b.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[state.StatusRemoved])
		assert.Equal(t, 0, counts[state.StatusDeployed])
	})
}

func TestBackendMarkRemovedIsAtomic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		putAll(t, b, newResource("a", "container", state.AgentDocker))

		_, err := b.MarkRemoved(ctx, []string{"a", "ghost"})
		require.Error(t, err)
		assert.True(t, state.IsNotFound(err))

		a, err := b.GetResource(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, state.StatusDeployed, a.Status)
	})
}

func TestBackendCheckpointFidelity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		pending := newResource("job", "container", state.AgentDocker)
		pending.Status = state.StatusPending
		putAll(t, b,
			newResource("db", "container", state.AgentDocker),
			newResource("api", "container", state.AgentDocker, "db"),
			pending,
		)
		live, err := b.ListResources(ctx, state.ResourceFilter{})
		require.NoError(t, err)

		cp, err := b.CreateCheckpoint(ctx, "before upgrade")
		require.NoError(t, err)
		_, err = uuid.Parse(cp.ID)
		assert.NoError(t, err, "checkpoint ids are UUIDs")
		assert.Equal(t, 2, cp.ResourceCount)

		loaded, err := b.GetCheckpoint(ctx, cp.ID)
		require.NoError(t, err)
		assert.Equal(t, "before upgrade", loaded.Description)
		assert.True(t, cp.Timestamp.Equal(loaded.Timestamp))
		assert.Equal(t, 2, loaded.ResourceCount)
		require.Len(t, loaded.Resources, len(live))
		for i := range live {
			assert.True(t, live[i].Equal(loaded.Resources[i]), "resource %s differs after round trip", live[i].ID)
		}
	})
}

func TestBackendCheckpointsAreIndependent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		putAll(t, b, newResource("a", "container", state.AgentDocker))
		first, err := b.CreateCheckpoint(ctx, "same")
		require.NoError(t, err)

		putAll(t, b, newResource("b", "container", state.AgentDocker))
		second, err := b.CreateCheckpoint(ctx, "same")
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)

		reloaded, err := b.GetCheckpoint(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, reloaded.ResourceIDs())

		summaries, err := b.ListCheckpoints(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, second.ID, summaries[0].ID, "newest first")
		assert.Equal(t, first.ID, summaries[1].ID)
		assert.Equal(t, 2, summaries[0].ResourceCount)
	})
}

func TestBackendSnapshotIsDetachedFromLiveRows(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		base := newResource("base", "network", state.AgentDocker)
		a := newResource("a", "container", state.AgentDocker, "base")
		putAll(t, b, base, a)
		original, err := b.GetResource(ctx, "a")
		require.NoError(t, err)

		cp, err := b.CreateCheckpoint(ctx, "before upgrade")
		require.NoError(t, err)

		// The caller's value is not retained by the store.
		a.Metadata["image"] = state.String("nginx:1.28")
		a.DependsOn = append(a.DependsOn, "cache")
		stored, err := b.GetResource(ctx, "a")
		require.NoError(t, err)
		assert.True(t, original.Equal(stored))

		putAll(t, b, newResource("cache", "volume", state.AgentDocker), a)
		n, err := b.MarkRemoved(ctx, []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		loaded, err := b.GetCheckpoint(ctx, cp.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"base", "a"}, loaded.ResourceIDs())
		assert.True(t, original.Equal(loaded.Resources[1]), "snapshot follows the live row")

		loaded.Resources[1].Metadata["image"] = state.String("tampered")
		loaded.Resources[1].DependsOn[0] = "tampered"
		again, err := b.GetCheckpoint(ctx, cp.ID)
		require.NoError(t, err)
		assert.True(t, original.Equal(again.Resources[1]))
	})
}

func TestBackendEmptyCheckpoint(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		cp, err := b.CreateCheckpoint(ctx, "empty")
		require.NoError(t, err)
		assert.Equal(t, 0, cp.ResourceCount)

		loaded, err := b.GetCheckpoint(ctx, cp.ID)
		require.NoError(t, err)
		assert.Empty(t, loaded.Resources)
	})
}

func TestBackendRestoreCheckpoint(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		putAll(t, b,
			newResource("a", "container", state.AgentDocker),
			newResource("b", "container", state.AgentDocker, "a"),
		)
		cp, err := b.CreateCheckpoint(ctx, "baseline")
		require.NoError(t, err)

		putAll(t, b, newResource("c", "container", state.AgentDocker, "b"))
		_, err = b.MarkRemoved(ctx, []string{"a"})
		require.NoError(t, err)

		restored, err := b.RestoreCheckpoint(ctx, cp.ID)
		require.NoError(t, err)
		assert.Equal(t, cp.ID, restored.ID)

		timeline, err := b.Timeline(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, state.ResourceIDs(timeline))
		for _, r := range timeline {
			assert.Equal(t, state.StatusDeployed, r.Status)
		}

		_, err = b.RestoreCheckpoint(ctx, uuid.NewString())
		assert.True(t, state.IsNotFound(err))
	})
}

func TestBackendAuditTrail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		putAll(t, b, newResource("a", "container", state.AgentDocker))
		cp, err := b.CreateCheckpoint(ctx, "cp")
		require.NoError(t, err)
		_, err = b.MarkRemoved(ctx, []string{"a"})
		require.NoError(t, err)
		_, err = b.RestoreCheckpoint(ctx, cp.ID)
		require.NoError(t, err)

		entries, err := b.ListAudit(ctx, 0)
		require.NoError(t, err)
		require.Len(t, entries, 4)

		actions := make([]state.AuditAction, len(entries))
		for i, e := range entries {
			actions[i] = e.Action
		}
		assert.Equal(t, []state.AuditAction{
			state.AuditCheckpointRestored,
			state.AuditResourcesRemoved,
			state.AuditCheckpointCreated,
			state.AuditResourceRecorded,
		}, actions)
		assert.Equal(t, cp.ID, entries[0].TargetID)
		assert.Greater(t, entries[0].ID, entries[1].ID)

		limited, err := b.ListAudit(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
		assert.Equal(t, state.AuditCheckpointRestored, limited[0].Action)
	})
}

func TestBackendReinitializeInMemory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		putAll(t, b, newResource("a", "container", state.AgentDocker))
		_, err := b.CreateCheckpoint(ctx, "cp")
		require.NoError(t, err)

		require.NoError(t, b.Reinitialize(ctx))

		timeline, err := b.Timeline(ctx)
		require.NoError(t, err)
		assert.Empty(t, timeline)

		checkpoints, err := b.ListCheckpoints(ctx)
		require.NoError(t, err)
		assert.Empty(t, checkpoints)

		entries, err := b.ListAudit(ctx, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, state.AuditStoreReinitialized, entries[0].Action)
	})
}

func TestBackendCanceledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := b.PutResource(ctx, newResource("a", "container", state.AgentDocker))
		assert.Error(t, err)

		_, err = b.GetResource(context.Background(), "a")
		assert.True(t, state.IsNotFound(err), "canceled write must not persist")
	})
}

func TestBackendHealthAndClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b state.Backend) {
		ctx := context.Background()
		require.NoError(t, b.HealthCheck(ctx))
		assert.NoError(t, b.RecoveryWarning())

		require.NoError(t, b.Close())
		err := b.HealthCheck(ctx)
		assert.True(t, state.IsStorageUnavailable(err), "expected StorageUnavailable, got %v", err)

		_, err = b.GetResource(ctx, "a")
		assert.True(t, state.IsStorageUnavailable(err), "expected StorageUnavailable, got %v", err)
	})
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	for _, driver := range []string{DriverSQLite, DriverBadger} {
		t.Run(driver, func(t *testing.T) {
			b, err := OpenBackend(ctx, config.StorageConfig{Driver: driver, InMemory: true}, zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })
			assert.NoError(t, b.HealthCheck(ctx))
		})
	}

	_, err := OpenBackend(ctx, config.StorageConfig{Driver: "etcd", InMemory: true}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, state.IsStorageUnavailable(err))
}
