package stores

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reignhq/reign/pkg/state"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// resourceRow is the persisted form of a resource. SQLite columns, Badger
// values and checkpoint snapshots all use it.
type resourceRow struct {
	ID         string         `json:"resource_id"`
	Type       string         `json:"resource_type"`
	Name       string         `json:"name"`
	Metadata   state.Metadata `json:"metadata"`
	AgentType  string         `json:"agent_type"`
	DependsOn  []string       `json:"depends_on"`
	Status     string         `json:"status"`
	DeployedAt string         `json:"deployed_at"`
}

// checkpointRecord is the persisted form of a checkpoint in key-value stores.
type checkpointRecord struct {
	ID            string          `json:"checkpoint_id"`
	Seq           uint64          `json:"seq"`
	Description   string          `json:"description"`
	Timestamp     string          `json:"timestamp"`
	ResourceCount int             `json:"resource_count"`
	Snapshot      json.RawMessage `json:"state_snapshot"`
}

// auditRecord is the persisted form of an audit entry in key-value stores.
type auditRecord struct {
	ID        int64  `json:"id"`
	Action    string `json:"action"`
	TargetID  string `json:"target_id,omitempty"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func toRow(r *state.Resource) resourceRow {
	md := r.Metadata
	if md == nil {
		md = state.Metadata{}
	}
	var deps []string
	if len(r.DependsOn) > 0 {
		deps = r.DependsOn
	}
	return resourceRow{
		ID:         r.ID,
		Type:       r.Type,
		Name:       r.Name,
		Metadata:   md,
		AgentType:  string(r.AgentType),
		DependsOn:  deps,
		Status:     string(r.Status),
		DeployedAt: formatTime(r.DeployedAt),
	}
}

func fromRow(row resourceRow) (*state.Resource, error) {
	if row.ID == "" {
		return nil, fmt.Errorf("resource row has no resource_id")
	}
	status := state.Status(row.Status)
	if status == "" {
		status = state.StatusDeployed
	}
	if !status.Valid() {
		return nil, fmt.Errorf("resource %s has unknown status %q", row.ID, row.Status)
	}
	deployedAt, err := parseTime(row.DeployedAt)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", row.ID, err)
	}
	md := row.Metadata
	if md == nil {
		md = state.Metadata{}
	}
	var deps []string
	if len(row.DependsOn) > 0 {
		deps = append([]string(nil), row.DependsOn...)
	}
	return &state.Resource{
		ID:         row.ID,
		Type:       row.Type,
		Name:       row.Name,
		Metadata:   md,
		AgentType:  state.AgentType(row.AgentType),
		DependsOn:  deps,
		Status:     status,
		DeployedAt: deployedAt,
	}, nil
}

func encodeResource(r *state.Resource) ([]byte, error) {
	data, err := json.Marshal(toRow(r))
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource %s: %w", r.ID, err)
	}
	return data, nil
}

func decodeResource(data []byte) (*state.Resource, error) {
	var row resourceRow
	if err := strictUnmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	return fromRow(row)
}

// encodeSnapshot serialises a checkpoint snapshot as a JSON array of rows.
func encodeSnapshot(resources []*state.Resource) ([]byte, error) {
	rows := make([]resourceRow, len(resources))
	for i, r := range resources {
		rows[i] = toRow(r)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) ([]*state.Resource, error) {
	var rows []resourceRow
	if err := strictUnmarshal(data, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, fmt.Errorf("snapshot is not a JSON array")
	}
	out := make([]*state.Resource, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		r, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("snapshot contains resource %s twice", r.ID)
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

// Column helpers for SQLite. Metadata is always a JSON object; depends_on is
// a JSON array, or NULL when empty.

func encodeMetadata(md state.Metadata) (string, error) {
	if md == nil {
		md = state.Metadata{}
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) (state.Metadata, error) {
	md := state.Metadata{}
	if s == "" {
		return md, nil
	}
	if err := strictUnmarshal([]byte(s), &md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if md == nil {
		md = state.Metadata{}
	}
	return md, nil
}

func encodeDependsOn(deps []string) (sql.NullString, error) {
	if len(deps) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(deps)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode depends_on: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeDependsOn(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var deps []string
	if err := strictUnmarshal([]byte(ns.String), &deps); err != nil {
		return nil, fmt.Errorf("failed to decode depends_on: %w", err)
	}
	if len(deps) == 0 {
		return nil, nil
	}
	return deps, nil
}
