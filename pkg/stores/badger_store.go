package stores

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reignhq/reign/pkg/state"
)

// Key layout.
const (
	resourcePrefix      = "resource/"
	checkpointPrefix    = "checkpoint/"
	checkpointSeqPrefix = "checkpoint-seq/"
	auditPrefix         = "audit/"

	checkpointSeqKey = "meta/checkpoint-seq"
	auditSeqKey      = "meta/audit-seq"
)

// BadgerStore implements state.Backend on an embedded Badger key-value store.
type BadgerStore struct {
	db          *badger.DB
	path        string
	inMemory    bool
	syncWrites  bool
	logger      zerolog.Logger
	now         func() time.Time
	recoveryErr error
}

var _ state.Backend = (*BadgerStore)(nil)

// badgerLogger adapts zerolog to Badger's Logger interface.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// OpenBadger opens a Badger store. If the directory cannot be opened it is
// left untouched and a fresh store is created next to it; the original
// failure is then reported by RecoveryWarning.
func OpenBadger(_ context.Context, cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, state.NewStorageError("invalid badger configuration", errors.New("path is required for persistent database"))
	}

	s := &BadgerStore{
		path:       cfg.Path,
		inMemory:   cfg.InMemory,
		syncWrites: cfg.SyncWrites,
		logger:     cfg.Logger.With().Str("component", "badger-store").Logger(),
		now:        time.Now,
	}

	openErr := s.open()
	if openErr == nil {
		return s, nil
	}
	if s.inMemory {
		return nil, state.NewStorageError("failed to open in-memory store", openErr)
	}

	original := s.path
	s.path = fmt.Sprintf("%s.recovered-%d", original, s.now().Unix())
	s.logger.Error().
		Err(openErr).
		Str("path", original).
		Str("recovered_path", s.path).
		Msg("State store is unusable; starting an empty store at a new location")

	if err := s.open(); err != nil {
		return nil, state.NewStorageError("failed to recover state store", errors.Join(openErr, err)).
			WithResource(original)
	}

	s.recoveryErr = state.NewStorageError("state store was unusable and a fresh store was created", openErr).
		WithCode(state.ErrCodeRecovered).
		WithResource(original).
		WithDetail("recovered_path", s.path)
	return s, nil
}

func (s *BadgerStore) open() error {
	var opts badger.Options
	if s.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.path, 0o750); err != nil {
			return fmt.Errorf("create database directory %s: %w", s.path, err)
		}
		opts = badger.DefaultOptions(s.path)
	}

	opts = opts.
		WithSyncWrites(s.syncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: s.logger})

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	s.db = db
	return nil
}

// Path returns the directory in use, which differs from the configured path
// after a recovery.
func (s *BadgerStore) Path() string {
	return s.path
}

// RecoveryWarning reports the failure that forced a fresh store at open.
func (s *BadgerStore) RecoveryWarning() error {
	return s.recoveryErr
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// HealthCheck verifies the database is open and readable.
func (s *BadgerStore) HealthCheck(_ context.Context) error {
	if s.db == nil || s.db.IsClosed() {
		return state.NewStorageError("database not initialized", nil)
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(checkpointSeqKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return storageErr("read database", err)
	}
	return nil
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		return state.NewStorageError("database not initialized", nil)
	}
	return s.db.View(fn)
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		return state.NewStorageError("database not initialized", nil)
	}
	err := s.db.Update(fn)
	var se *state.StateError
	if err != nil && !errors.As(err, &se) {
		return storageErr("commit transaction", err)
	}
	return err
}

func resourceKey(id string) []byte {
	return []byte(resourcePrefix + id)
}

func checkpointKey(id string) []byte {
	return []byte(checkpointPrefix + id)
}

func seqKey(prefix string, seq uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", prefix, seq)
}

// nextSeq increments and returns the counter stored under key.
func nextSeq(txn *badger.Txn, key string) (uint64, error) {
	var cur uint64
	item, err := txn.Get([]byte(key))
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt counter %s", key)
			}
			cur = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return 0, err
	}

	next := cur + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := txn.Set([]byte(key), buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *BadgerStore) appendAudit(txn *badger.Txn, action state.AuditAction, target, details string) error {
	seq, err := nextSeq(txn, auditSeqKey)
	if err != nil {
		return storageErr("allocate audit sequence", err)
	}
	data, err := json.Marshal(auditRecord{
		ID:        int64(seq),
		Action:    string(action),
		TargetID:  target,
		Details:   details,
		Timestamp: formatTime(s.now()),
	})
	if err != nil {
		return storageErr("encode audit entry", err)
	}
	if err := txn.Set(seqKey(auditPrefix, seq), data); err != nil {
		return storageErr("create audit entry", err)
	}
	return nil
}

func getResourceTxn(txn *badger.Txn, id string) (*state.Resource, error) {
	item, err := txn.Get(resourceKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, state.NewNotFoundError("resource", id)
	}
	if err != nil {
		return nil, storageErr("get resource", err)
	}

	var r *state.Resource
	err = item.Value(func(val []byte) error {
		var err error
		r, err = decodeResource(val)
		return err
	})
	if err != nil {
		return nil, storageErr("decode resource", err)
	}
	return r, nil
}

func setResourceTxn(txn *badger.Txn, r *state.Resource) error {
	data, err := encodeResource(r)
	if err != nil {
		return state.NewValidationError("invalid resource", err).WithResource(r.ID)
	}
	if err := txn.Set(resourceKey(r.ID), data); err != nil {
		return storageErr("put resource", err)
	}
	return nil
}

// scanResources decodes every resource and calls keep to select results.
func scanResources(txn *badger.Txn, keep func(*state.Resource) bool) ([]*state.Resource, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(resourcePrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	out := []*state.Resource{}
	for it.Rewind(); it.Valid(); it.Next() {
		var r *state.Resource
		err := it.Item().Value(func(val []byte) error {
			var err error
			r, err = decodeResource(val)
			return err
		})
		if err != nil {
			return nil, storageErr("decode resource", err)
		}
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}

	sortByDeployment(out)
	return out, nil
}

func sortByDeployment(rs []*state.Resource) {
	slices.SortFunc(rs, func(a, b *state.Resource) int {
		if c := a.DeployedAt.Compare(b.DeployedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// PutResource upserts a resource. An existing resource keeps its deployed_at.
func (s *BadgerStore) PutResource(ctx context.Context, r *state.Resource) error {
	res := r.Clone()
	res.Normalize()

	return s.update(ctx, func(txn *badger.Txn) error {
		existing, err := getResourceTxn(txn, res.ID)
		switch {
		case err == nil:
			res.DeployedAt = existing.DeployedAt
		case state.IsNotFound(err):
			if res.DeployedAt.IsZero() {
				res.DeployedAt = s.now().UTC()
			}
		default:
			return err
		}

		if err := setResourceTxn(txn, res); err != nil {
			return err
		}
		return s.appendAudit(txn, state.AuditResourceRecorded, res.ID, "status="+string(res.Status))
	})
}

// GetResource retrieves a resource by ID.
func (s *BadgerStore) GetResource(ctx context.Context, id string) (*state.Resource, error) {
	var r *state.Resource
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		r, err = getResourceTxn(txn, id)
		return err
	})
	return r, err
}

// ListResources lists resources matching the filter, oldest first.
func (s *BadgerStore) ListResources(ctx context.Context, filter state.ResourceFilter) ([]*state.Resource, error) {
	var out []*state.Resource
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanResources(txn, filter.Matches)
		return err
	})
	return out, err
}

// ListDependents lists every resource whose depends_on contains id.
func (s *BadgerStore) ListDependents(ctx context.Context, id string) ([]*state.Resource, error) {
	var out []*state.Resource
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanResources(txn, func(r *state.Resource) bool {
			return slices.Contains(r.DependsOn, id)
		})
		return err
	})
	return out, err
}

// Timeline lists all resources in deployment order.
func (s *BadgerStore) Timeline(ctx context.Context) ([]*state.Resource, error) {
	var out []*state.Resource
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanResources(txn, nil)
		return err
	})
	return out, err
}

// MarkRemoved transitions resources to removed atomically.
func (s *BadgerStore) MarkRemoved(ctx context.Context, ids []string) (int, error) {
	var changed int
	err := s.update(ctx, func(txn *badger.Txn) error {
		changed = 0
		for _, id := range ids {
			r, err := getResourceTxn(txn, id)
			if err != nil {
				if state.IsNotFound(err) {
					return state.NewNotFoundError("resource", id).WithOperation("mark_removed")
				}
				return err
			}
			if r.Status == state.StatusRemoved {
				continue
			}
			r.Status = state.StatusRemoved
			if err := setResourceTxn(txn, r); err != nil {
				return err
			}
			changed++
		}
		return s.appendAudit(txn, state.AuditResourcesRemoved, strings.Join(ids, ","),
			fmt.Sprintf("removed=%d", changed))
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// CountByStatus counts resources per status.
func (s *BadgerStore) CountByStatus(ctx context.Context) (map[state.Status]int, error) {
	counts := make(map[state.Status]int, len(state.AllStatuses))
	for _, st := range state.AllStatuses {
		counts[st] = 0
	}
	err := s.view(ctx, func(txn *badger.Txn) error {
		all, err := scanResources(txn, nil)
		if err != nil {
			return err
		}
		for _, r := range all {
			counts[r.Status]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// CreateCheckpoint snapshots every deployed resource in one transaction.
func (s *BadgerStore) CreateCheckpoint(ctx context.Context, description string) (*state.Checkpoint, error) {
	var cp *state.Checkpoint
	err := s.update(ctx, func(txn *badger.Txn) error {
		resources, err := scanResources(txn, state.ResourceFilter{}.Matches)
		if err != nil {
			return err
		}
		snapshot, err := encodeSnapshot(resources)
		if err != nil {
			return err
		}
		seq, err := nextSeq(txn, checkpointSeqKey)
		if err != nil {
			return storageErr("allocate checkpoint sequence", err)
		}

		cp = &state.Checkpoint{
			ID:            uuid.NewString(),
			Description:   description,
			Timestamp:     truncateToStored(s.now().UTC()),
			ResourceCount: len(resources),
			Resources:     resources,
		}
		data, err := json.Marshal(checkpointRecord{
			ID:            cp.ID,
			Seq:           seq,
			Description:   cp.Description,
			Timestamp:     formatTime(cp.Timestamp),
			ResourceCount: cp.ResourceCount,
			Snapshot:      snapshot,
		})
		if err != nil {
			return storageErr("encode checkpoint", err)
		}

		if err := txn.Set(checkpointKey(cp.ID), data); err != nil {
			return storageErr("create checkpoint", err)
		}
		if err := txn.Set(seqKey(checkpointSeqPrefix, seq), []byte(cp.ID)); err != nil {
			return storageErr("index checkpoint", err)
		}
		return s.appendAudit(txn, state.AuditCheckpointCreated, cp.ID, fmt.Sprintf("resources=%d", cp.ResourceCount))
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func decodeCheckpointRecord(id string, val []byte) (checkpointRecord, time.Time, error) {
	var rec checkpointRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return rec, time.Time{}, state.NewInvalidCheckpointError(id, err)
	}
	ts, err := parseTime(rec.Timestamp)
	if err != nil {
		return rec, time.Time{}, state.NewInvalidCheckpointError(id, err)
	}
	return rec, ts, nil
}

func getCheckpointTxn(txn *badger.Txn, id string) (*state.Checkpoint, error) {
	item, err := txn.Get(checkpointKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, state.NewNotFoundError("checkpoint", id)
	}
	if err != nil {
		return nil, storageErr("get checkpoint", err)
	}

	var cp *state.Checkpoint
	err = item.Value(func(val []byte) error {
		rec, ts, err := decodeCheckpointRecord(id, val)
		if err != nil {
			return err
		}
		resources, err := decodeSnapshot(rec.Snapshot)
		if err != nil {
			return state.NewInvalidCheckpointError(id, err)
		}
		cp = &state.Checkpoint{
			ID:            rec.ID,
			Description:   rec.Description,
			Timestamp:     ts,
			ResourceCount: rec.ResourceCount,
			Resources:     resources,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// ListCheckpoints lists checkpoint summaries, newest first.
func (s *BadgerStore) ListCheckpoints(ctx context.Context) ([]state.CheckpointSummary, error) {
	type entry struct {
		sum state.CheckpointSummary
		seq uint64
	}
	var entries []entry

	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(checkpointPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), checkpointPrefix)
			err := item.Value(func(val []byte) error {
				rec, ts, err := decodeCheckpointRecord(id, val)
				if err != nil {
					return err
				}
				entries = append(entries, entry{
					sum: state.CheckpointSummary{
						ID:            rec.ID,
						Description:   rec.Description,
						Timestamp:     ts,
						ResourceCount: rec.ResourceCount,
					},
					seq: rec.Seq,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b entry) int {
		if c := b.sum.Timestamp.Compare(a.sum.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})

	out := make([]state.CheckpointSummary, len(entries))
	for i, e := range entries {
		out[i] = e.sum
	}
	return out, nil
}

// GetCheckpoint retrieves a checkpoint and decodes its snapshot.
func (s *BadgerStore) GetCheckpoint(ctx context.Context, id string) (*state.Checkpoint, error) {
	var cp *state.Checkpoint
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		cp, err = getCheckpointTxn(txn, id)
		return err
	})
	return cp, err
}

// RestoreCheckpoint replaces every resource with the checkpoint's snapshot
// in one transaction.
func (s *BadgerStore) RestoreCheckpoint(ctx context.Context, id string) (*state.Checkpoint, error) {
	var cp *state.Checkpoint
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		cp, err = getCheckpointTxn(txn, id)
		if err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(resourcePrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return storageErr("clear resources", err)
			}
		}
		for _, r := range cp.Resources {
			if err := setResourceTxn(txn, r); err != nil {
				return err
			}
		}
		return s.appendAudit(txn, state.AuditCheckpointRestored, cp.ID, fmt.Sprintf("resources=%d", len(cp.Resources)))
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// ListAudit lists audit entries, newest first.
func (s *BadgerStore) ListAudit(ctx context.Context, limit int) ([]state.AuditEntry, error) {
	entries := []state.AuditEntry{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(auditPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration must seek past the last key with the prefix
		seek := append([]byte(auditPrefix), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var rec auditRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				ts, err := parseTime(rec.Timestamp)
				if err != nil {
					return err
				}
				entries = append(entries, state.AuditEntry{
					ID:        rec.ID,
					Action:    state.AuditAction(rec.Action),
					TargetID:  rec.TargetID,
					Details:   rec.Details,
					Timestamp: ts,
				})
				return nil
			})
			if err != nil {
				return storageErr("decode audit entry", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Reinitialize moves the database directory aside as <path>.bak-<unix> and
// opens an empty one in its place. In-memory stores are simply emptied.
func (s *BadgerStore) Reinitialize(ctx context.Context) error {
	if s.db == nil {
		return state.NewStorageError("database not initialized", nil)
	}

	if s.inMemory {
		if err := s.db.DropAll(); err != nil {
			return storageErr("drop all data", err)
		}
		s.recoveryErr = nil
		return s.update(ctx, func(txn *badger.Txn) error {
			return s.appendAudit(txn, state.AuditStoreReinitialized, "", "in-memory")
		})
	}

	if err := s.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close database before reinitializing")
	}

	backup := fmt.Sprintf("%s.bak-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return state.NewStorageError("failed to move database aside", err).WithResource(s.path)
	}
	s.logger.Warn().Str("path", s.path).Str("backup", backup).Msg("Moved state store aside")

	if err := s.open(); err != nil {
		return state.NewStorageError("failed to create fresh state store", err).WithResource(s.path)
	}
	s.recoveryErr = nil

	return s.update(ctx, func(txn *badger.Txn) error {
		return s.appendAudit(txn, state.AuditStoreReinitialized, "", "backup="+backup)
	})
}
