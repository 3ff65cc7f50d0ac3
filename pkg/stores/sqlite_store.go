package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reignhq/reign/pkg/state"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// memoryPath selects a private in-memory database.
const memoryPath = ":memory:"

// SQLiteStore implements state.Backend using SQLite in WAL mode.
// The pool holds a single connection, so every call runs alone and
// multi-statement work happens inside one transaction.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
	recoveryErr error
}

// Config holds store configuration shared by the backends.
type Config struct {
	// Path is the SQLite database file or Badger directory.
	Path string

	// InMemory keeps all data in memory. Path is ignored.
	InMemory bool

	// BusyTimeout bounds how long SQLite waits on a locked database.
	BusyTimeout time.Duration

	// SyncWrites makes Badger fsync every write.
	SyncWrites bool

	// Logger receives store diagnostics. The zero value discards them.
	Logger zerolog.Logger
}

var _ state.Backend = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate,
// or use OpenSQLite.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	path := cfg.Path
	if cfg.InMemory {
		path = memoryPath
	}
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	return &SQLiteStore{
		path:        path,
		busyTimeout: cfg.BusyTimeout,
		logger:      cfg.Logger.With().Str("component", "sqlite-store").Logger(),
		now:         time.Now,
	}, nil
}

// OpenSQLite opens, migrates and verifies a SQLite store. If the file at
// cfg.Path is unusable it is left untouched and a fresh store is created
// next to it; the original failure is then reported by RecoveryWarning.
func OpenSQLite(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, state.NewStorageError("invalid sqlite configuration", err)
	}

	openErr := s.open(ctx)
	if openErr == nil {
		return s, nil
	}
	if s.path == memoryPath {
		return nil, state.NewStorageError("failed to open in-memory store", openErr)
	}

	original := s.path
	s.path = fmt.Sprintf("%s.recovered-%d", original, s.now().Unix())
	s.logger.Error().
		Err(openErr).
		Str("path", original).
		Str("recovered_path", s.path).
		Msg("State store is unusable; starting an empty store at a new location")

	if err := s.open(ctx); err != nil {
		return nil, state.NewStorageError("failed to recover state store", errors.Join(openErr, err)).
			WithResource(original)
	}

	s.recoveryErr = state.NewStorageError("state store was unusable and a fresh store was created", openErr).
		WithCode(state.ErrCodeRecovered).
		WithResource(original).
		WithDetail("recovered_path", s.path)
	return s, nil
}

func (s *SQLiteStore) open(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	if err := s.verify(ctx); err != nil {
		_ = s.Close()
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

func (s *SQLiteStore) dsn() string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.busyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	if s.path != memoryPath {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(FULL)")
	}
	return s.path + "?" + strings.Join(params, "&")
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: a single writer, and one shared in-memory database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// verify runs SQLite's quick integrity check.
func (s *SQLiteStore) verify(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to check database integrity: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check failed: %s", result)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Path returns the database file in use, which differs from the configured
// path after a recovery.
func (s *SQLiteStore) Path() string {
	return s.path
}

// RecoveryWarning reports the failure that forced a fresh store at open.
func (s *SQLiteStore) RecoveryWarning() error {
	return s.recoveryErr
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return s.db.BeginTx(ctx, nil)
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storageErr(op string, err error) error {
	return state.NewStorageError("failed to "+op, err)
}

func (s *SQLiteStore) conn() (querier, error) {
	if s.db == nil {
		return nil, state.NewStorageError("database not initialized", nil)
	}
	return s.db, nil
}

const resourceColumns = `resource_id, resource_type, name, metadata, agent_type, depends_on, status, deployed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(sc rowScanner) (*state.Resource, error) {
	var (
		row       resourceRow
		metadata  string
		dependsOn sql.NullString
	)
	if err := sc.Scan(
		&row.ID,
		&row.Type,
		&row.Name,
		&metadata,
		&row.AgentType,
		&dependsOn,
		&row.Status,
		&row.DeployedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if row.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, fmt.Errorf("resource %s: %w", row.ID, err)
	}
	if row.DependsOn, err = decodeDependsOn(dependsOn); err != nil {
		return nil, fmt.Errorf("resource %s: %w", row.ID, err)
	}
	return fromRow(row)
}

func queryResources(ctx context.Context, q querier, query string, args ...any) ([]*state.Resource, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list resources", err)
	}
	defer rows.Close()

	resources := []*state.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, storageErr("scan resource", err)
		}
		resources = append(resources, r)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate resources", err)
	}

	return resources, nil
}

func insertResource(ctx context.Context, q querier, r *state.Resource) error {
	metadata, err := encodeMetadata(r.Metadata)
	if err != nil {
		return state.NewValidationError("invalid metadata", err).WithResource(r.ID)
	}
	dependsOn, err := encodeDependsOn(r.DependsOn)
	if err != nil {
		return state.NewValidationError("invalid depends_on", err).WithResource(r.ID)
	}

	query := `
		INSERT INTO resources (` + resourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			resource_type = excluded.resource_type,
			name = excluded.name,
			metadata = excluded.metadata,
			agent_type = excluded.agent_type,
			depends_on = excluded.depends_on,
			status = excluded.status
	`

	_, err = q.ExecContext(ctx, query,
		r.ID,
		r.Type,
		r.Name,
		metadata,
		string(r.AgentType),
		dependsOn,
		string(r.Status),
		formatTime(r.DeployedAt),
	)
	if err != nil {
		return storageErr("upsert resource", err)
	}
	return nil
}

func (s *SQLiteStore) appendAudit(ctx context.Context, q querier, action state.AuditAction, target, details string) error {
	query := `
		INSERT INTO audit (action, target_id, details, timestamp)
		VALUES (?, ?, ?, ?)
	`
	if _, err := q.ExecContext(ctx, query, string(action), target, details, formatTime(s.now())); err != nil {
		return storageErr("create audit entry", err)
	}
	return nil
}

// PutResource upserts a resource. An existing resource keeps its deployed_at.
func (s *SQLiteStore) PutResource(ctx context.Context, r *state.Resource) error {
	res := r.Clone()
	res.Normalize()
	if res.DeployedAt.IsZero() {
		res.DeployedAt = s.now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertResource(ctx, tx, res); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, state.AuditResourceRecorded, res.ID, "status="+string(res.Status))
	})
}

// GetResource retrieves a resource by ID
func (s *SQLiteStore) GetResource(ctx context.Context, id string) (*state.Resource, error) {
	q, err := s.conn()
	if err != nil {
		return nil, err
	}
	return getResource(ctx, q, id)
}

func getResource(ctx context.Context, q querier, id string) (*state.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE resource_id = ?`

	r, err := scanResource(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.NewNotFoundError("resource", id)
	}
	if err != nil {
		return nil, storageErr("get resource", err)
	}
	return r, nil
}

// ListResources lists resources matching the filter, oldest first.
func (s *SQLiteStore) ListResources(ctx context.Context, filter state.ResourceFilter) ([]*state.Resource, error) {
	q, err := s.conn()
	if err != nil {
		return nil, err
	}

	statuses := filter.EffectiveStatuses()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses)+2)
	for _, st := range statuses {
		args = append(args, string(st))
	}

	query := `SELECT ` + resourceColumns + ` FROM resources WHERE status IN (` + placeholders + `)`
	if filter.Type != "" {
		query += ` AND resource_type = ?`
		args = append(args, filter.Type)
	}
	if filter.AgentType != "" {
		query += ` AND agent_type = ?`
		args = append(args, string(filter.AgentType))
	}
	query += ` ORDER BY deployed_at ASC, resource_id ASC`

	return queryResources(ctx, q, query, args...)
}

// ListDependents lists every resource whose depends_on contains id.
func (s *SQLiteStore) ListDependents(ctx context.Context, id string) ([]*state.Resource, error) {
	q, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE depends_on IS NOT NULL
		  AND EXISTS (SELECT 1 FROM json_each(resources.depends_on) WHERE json_each.value = ?)
		ORDER BY deployed_at ASC, resource_id ASC
	`
	return queryResources(ctx, q, query, id)
}

// Timeline lists all resources in deployment order.
func (s *SQLiteStore) Timeline(ctx context.Context) ([]*state.Resource, error) {
	q, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + resourceColumns + ` FROM resources ORDER BY deployed_at ASC, resource_id ASC`
	return queryResources(ctx, q, query)
}

// MarkRemoved transitions resources to removed atomically.
func (s *SQLiteStore) MarkRemoved(ctx context.Context, ids []string) (int, error) {
	var changed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		changed = 0
		for _, id := range ids {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM resources WHERE resource_id = ?`, id).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return state.NewNotFoundError("resource", id).WithOperation("mark_removed")
			}
			if err != nil {
				return storageErr("get resource status", err)
			}
			if state.Status(status) == state.StatusRemoved {
				continue
			}

			result, err := tx.ExecContext(ctx,
				`UPDATE resources SET status = ? WHERE resource_id = ?`,
				string(state.StatusRemoved), id)
			if err != nil {
				return storageErr("update resource status", err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return storageErr("get rows affected", err)
			}
			changed += int(rows)
		}
		return s.appendAudit(ctx, tx, state.AuditResourcesRemoved, strings.Join(ids, ","),
			fmt.Sprintf("removed=%d", changed))
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// CountByStatus counts resources per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[state.Status]int, error) {
	q, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM resources GROUP BY status`)
	if err != nil {
		return nil, storageErr("count resources", err)
	}
	defer rows.Close()

	counts := make(map[state.Status]int, len(state.AllStatuses))
	for _, st := range state.AllStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storageErr("scan resource count", err)
		}
		counts[state.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate resource counts", err)
	}
	return counts, nil
}

// CreateCheckpoint snapshots every deployed resource in one transaction.
func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, description string) (*state.Checkpoint, error) {
	var cp *state.Checkpoint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		resources, err := queryResources(ctx, tx,
			`SELECT `+resourceColumns+` FROM resources WHERE status = ? ORDER BY deployed_at ASC, resource_id ASC`,
			string(state.StatusDeployed))
		if err != nil {
			return err
		}

		snapshot, err := encodeSnapshot(resources)
		if err != nil {
			return err
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints`).Scan(&seq); err != nil {
			return storageErr("allocate checkpoint sequence", err)
		}

		cp = &state.Checkpoint{
			ID:            uuid.NewString(),
			Description:   description,
			Timestamp:     s.now().UTC(),
			ResourceCount: len(resources),
			Resources:     resources,
		}

		query := `
			INSERT INTO checkpoints (checkpoint_id, seq, description, timestamp, resource_count, state_snapshot)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query,
			cp.ID,
			seq,
			cp.Description,
			formatTime(cp.Timestamp),
			cp.ResourceCount,
			string(snapshot),
		); err != nil {
			return storageErr("create checkpoint", err)
		}

		return s.appendAudit(ctx, tx, state.AuditCheckpointCreated, cp.ID,
			fmt.Sprintf("resources=%d", cp.ResourceCount))
	})
	if err != nil {
		return nil, err
	}
	cp.Timestamp = truncateToStored(cp.Timestamp)
	return cp, nil
}

// truncateToStored drops precision the stored format cannot hold.
func truncateToStored(t time.Time) time.Time {
	stored, err := parseTime(formatTime(t))
	if err != nil {
		return t
	}
	return stored
}

// ListCheckpoints lists checkpoint summaries, newest first.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]state.CheckpointSummary, error) {
	q, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT checkpoint_id, description, timestamp, resource_count
		FROM checkpoints
		ORDER BY timestamp DESC, seq DESC
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list checkpoints", err)
	}
	defer rows.Close()

	summaries := []state.CheckpointSummary{}
	for rows.Next() {
		var (
			sum state.CheckpointSummary
			ts  string
		)
		if err := rows.Scan(&sum.ID, &sum.Description, &ts, &sum.ResourceCount); err != nil {
			return nil, storageErr("scan checkpoint", err)
		}
		if sum.Timestamp, err = parseTime(ts); err != nil {
			return nil, storageErr("scan checkpoint", err)
		}
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate checkpoints", err)
	}

	return summaries, nil
}

// GetCheckpoint retrieves a checkpoint and decodes its snapshot.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, id string) (*state.Checkpoint, error) {
	q, err := s.conn()
	if err != nil {
		return nil, err
	}
	return getCheckpoint(ctx, q, id)
}

func getCheckpoint(ctx context.Context, q querier, id string) (*state.Checkpoint, error) {
	query := `
		SELECT checkpoint_id, description, timestamp, resource_count, state_snapshot
		FROM checkpoints
		WHERE checkpoint_id = ?
	`

	var (
		cp       state.Checkpoint
		ts       string
		snapshot string
	)
	err := q.QueryRowContext(ctx, query, id).Scan(&cp.ID, &cp.Description, &ts, &cp.ResourceCount, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.NewNotFoundError("checkpoint", id)
	}
	if err != nil {
		return nil, storageErr("get checkpoint", err)
	}

	if cp.Timestamp, err = parseTime(ts); err != nil {
		return nil, state.NewInvalidCheckpointError(id, err)
	}
	if cp.Resources, err = decodeSnapshot([]byte(snapshot)); err != nil {
		return nil, state.NewInvalidCheckpointError(id, err)
	}
	return &cp, nil
}

// RestoreCheckpoint replaces every resource with the checkpoint's snapshot
// in one transaction. Nothing changes if the snapshot cannot be decoded.
func (s *SQLiteStore) RestoreCheckpoint(ctx context.Context, id string) (*state.Checkpoint, error) {
	var cp *state.Checkpoint
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		cp, err = getCheckpoint(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM resources`); err != nil {
			return storageErr("clear resources", err)
		}
		for _, r := range cp.Resources {
			if err := insertResource(ctx, tx, r); err != nil {
				return err
			}
		}

		return s.appendAudit(ctx, tx, state.AuditCheckpointRestored, cp.ID,
			fmt.Sprintf("resources=%d", len(cp.Resources)))
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// ListAudit lists audit entries, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]state.AuditEntry, error) {
	q, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, action, target_id, details, timestamp
		FROM audit
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, storageErr("list audit entries", err)
	}
	defer rows.Close()

	entries := []state.AuditEntry{}
	for rows.Next() {
		var (
			entry  state.AuditEntry
			action string
			ts     string
		)
		if err := rows.Scan(&entry.ID, &action, &entry.TargetID, &entry.Details, &ts); err != nil {
			return nil, storageErr("scan audit entry", err)
		}
		entry.Action = state.AuditAction(action)
		if entry.Timestamp, err = parseTime(ts); err != nil {
			return nil, storageErr("scan audit entry", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate audit entries", err)
	}

	return entries, nil
}

// Reinitialize moves the database aside as <path>.bak-<unix> and creates an
// empty one in its place. In-memory stores are simply emptied.
func (s *SQLiteStore) Reinitialize(ctx context.Context) error {
	if s.path == memoryPath {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			for _, table := range []string{"resources", "checkpoints", "audit"} {
				if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
					return storageErr("clear "+table, err)
				}
			}
			s.recoveryErr = nil
			return s.appendAudit(ctx, tx, state.AuditStoreReinitialized, "", "in-memory")
		})
	}

	if err := s.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close database before reinitializing")
	}

	backup := fmt.Sprintf("%s.bak-%d", s.path, s.now().Unix())
	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := os.Rename(s.path+suffix, backup+suffix)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return state.NewStorageError("failed to move database aside", err).WithResource(s.path)
		}
	}
	s.logger.Warn().Str("path", s.path).Str("backup", backup).Msg("Moved state store aside")

	if err := s.open(ctx); err != nil {
		return state.NewStorageError("failed to create fresh state store", err).WithResource(s.path)
	}
	s.recoveryErr = nil

	q, err := s.conn()
	if err != nil {
		return err
	}
	return s.appendAudit(ctx, q, state.AuditStoreReinitialized, "", "backup="+backup)
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return state.NewStorageError("database not initialized", nil)
	}

	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping database", err)
	}
	return nil
}
