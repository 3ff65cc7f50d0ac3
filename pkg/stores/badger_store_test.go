package stores

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reignhq/reign/pkg/state"
)

func setupBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(context.Background(), Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(context.Background(), Config{})
	require.Error(t, err)
	assert.True(t, state.IsStorageUnavailable(err))
}

func TestBadgerKeyLayout(t *testing.T) {
	assert.Equal(t, "resource/web", string(resourceKey("web")))
	assert.Equal(t, "checkpoint/abc", string(checkpointKey("abc")))
	assert.Equal(t, "audit/00000000000000000042", string(seqKey(auditPrefix, 42)))

	// zero padding keeps lexical and numeric order aligned
	assert.Less(t, string(seqKey(auditPrefix, 9)), string(seqKey(auditPrefix, 10)))
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")

	store, err := OpenBadger(ctx, Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	putAll(t, store, newResource("a", "container", state.AgentDocker))
	cp, err := store.CreateCheckpoint(ctx, "persisted")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenBadger(ctx, Config{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.GetResource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	summaries, err := reopened.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, cp.ID, summaries[0].ID)

	// sequences continue after reopen
	second, err := reopened.CreateCheckpoint(ctx, "after reopen")
	require.NoError(t, err)
	summaries, err = reopened.ListCheckpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, summaries[0].ID)
}

func TestBadgerCorruptSnapshot(t *testing.T) {
	store := setupBadgerStore(t)
	ctx := context.Background()

	putAll(t, store, newResource("a", "container", state.AgentDocker))
	cp, err := store.CreateCheckpoint(ctx, "cp")
	require.NoError(t, err)

	record, err := json.Marshal(checkpointRecord{
		ID:        cp.ID,
		Seq:       1,
		Timestamp: formatTime(cp.Timestamp),
		Snapshot:  json.RawMessage(`{"not": "an array"}`),
	})
	require.NoError(t, err)
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(cp.ID), record)
	}))

	_, err = store.GetCheckpoint(ctx, cp.ID)
	assert.True(t, state.IsInvalidCheckpoint(err), "expected InvalidCheckpoint, got %v", err)

	_, err = store.RestoreCheckpoint(ctx, cp.ID)
	assert.True(t, state.IsInvalidCheckpoint(err))

	got, err := store.GetResource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, state.StatusDeployed, got.Status)
}

func TestOpenBadgerRecoversFromUnusablePath(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.WriteFile(path, []byte("not a directory"), 0o600))

	store, err := OpenBadger(ctx, Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.Error(t, store.RecoveryWarning())
	assert.True(t, strings.HasPrefix(store.Path(), path+".recovered-"))
	assert.NoError(t, store.HealthCheck(ctx))
}

func TestBadgerReinitializeDirectory(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")

	store, err := OpenBadger(ctx, Config{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	putAll(t, store, newResource("a", "container", state.AgentDocker))

	require.NoError(t, store.Reinitialize(ctx))

	timeline, err := store.Timeline(ctx)
	require.NoError(t, err)
	assert.Empty(t, timeline)

	backups, err := filepath.Glob(dir + ".bak-*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
