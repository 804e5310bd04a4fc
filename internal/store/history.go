// Package store keeps a history of batch results in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"yashubustudio/jsonmanager/jsonmanager"
)

// Group kinds stored in the match_groups table.
const (
	KindDuplicate = "duplicate"
	KindNear      = "near"
)

// History wraps the result database.
type History struct {
	db *sql.DB
}

// OpenHistory opens the history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	// PRAGMA foreign_keys is per connection.
	db.SetMaxOpenConns(1)
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID                 string
	Root               string
	Started            time.Time
	Elapsed            time.Duration
	Scanned            int
	Grouped            int
	Invalid            int
	Errored            int
	DuplicatePositions int
	NearPositions      int
	Stopped            bool
}

// StoredGroup is a saved exact or near group with its files in discovery order.
type StoredGroup struct {
	Key     jsonmanager.Key
	Kind    string
	Cluster int
	Files   []string
}

// SaveResult stores res in one transaction. Exact-duplicate groups and every
// near-duplicate group are saved; a group in both appears once per kind. Near
// groups outside any cluster are stored with cluster 0.
func (h *History) SaveResult(ctx context.Context, res *jsonmanager.Result) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	s := res.Stats
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(id, root, started_at, elapsed_ms, scanned, grouped, invalid, errored, duplicate_positions, near_positions, stopped)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		res.RunID,
		res.Root,
		s.Started.UnixMilli(),
		s.Elapsed.Milliseconds(),
		s.Scanned,
		s.Grouped,
		s.Invalid,
		s.Errored,
		s.DuplicatePositions,
		s.NearPositions,
		res.Stopped,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, k := range res.DuplicateKeys {
		g, ok := res.Group(k)
		if !ok {
			continue
		}
		if err := insertGroup(ctx, tx, res.RunID, g, KindDuplicate, nil); err != nil {
			return err
		}
	}
	for i, c := range res.Clusters {
		cluster := i + 1
		for _, k := range c.Keys {
			g, ok := res.Group(k)
			if !ok {
				continue
			}
			if err := insertGroup(ctx, tx, res.RunID, g, KindNear, &cluster); err != nil {
				return err
			}
		}
	}
	for _, k := range res.UnclusteredNearKeys() {
		g, ok := res.Group(k)
		if !ok {
			continue
		}
		if err := insertGroup(ctx, tx, res.RunID, g, KindNear, nil); err != nil {
			return err
		}
	}
	for _, inv := range res.Invalid {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO invalid_records(run_id, path, raw, reason) VALUES(?,?,?,?)`,
			res.RunID, inv.Path, inv.Raw, inv.Reason,
		); err != nil {
			return fmt.Errorf("insert invalid record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertGroup(ctx context.Context, tx *sql.Tx, runID string, g *jsonmanager.Group, kind string, cluster *int) error {
	r, err := tx.ExecContext(ctx,
		`INSERT INTO match_groups(run_id, position_key, kind, cluster) VALUES(?,?,?,?)`,
		runID, string(g.Key), kind, cluster,
	)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return fmt.Errorf("group last insert id: %w", err)
	}
	for i, p := range g.Paths {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_files(group_id, ord, path) VALUES(?,?,?)`, id, i, p,
		); err != nil {
			return fmt.Errorf("insert group file: %w", err)
		}
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (h *History) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT id, root, started_at, elapsed_ms, scanned, grouped, invalid, errored, duplicate_positions, near_positions, stopped
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r         RunSummary
			startedMS int64
			elapsedMS int64
		)
		if err := rows.Scan(&r.ID, &r.Root, &startedMS, &elapsedMS, &r.Scanned, &r.Grouped, &r.Invalid, &r.Errored,
			&r.DuplicatePositions, &r.NearPositions, &r.Stopped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = time.UnixMilli(startedMS)
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// RunGroups returns the groups saved for runID, exact groups first.
func (h *History) RunGroups(ctx context.Context, runID string) ([]StoredGroup, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT g.id, g.position_key, g.kind, COALESCE(g.cluster, 0), f.path
		 FROM match_groups g JOIN group_files f ON f.group_id = g.id
		 WHERE g.run_id = ?
		 ORDER BY g.id, f.ord`, runID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var (
		out    []StoredGroup
		lastID int64 = -1
	)
	for rows.Next() {
		var (
			id   int64
			key  string
			kind string
			cl   int
			path string
		)
		if err := rows.Scan(&id, &key, &kind, &cl, &path); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		if id != lastID {
			out = append(out, StoredGroup{Key: jsonmanager.Key(key), Kind: kind, Cluster: cl})
			lastID = id
		}
		last := &out[len(out)-1]
		last.Files = append(last.Files, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

// RunInvalid returns the invalid records saved for runID.
func (h *History) RunInvalid(ctx context.Context, runID string) ([]jsonmanager.InvalidRecord, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT path, COALESCE(raw, ''), COALESCE(reason, '') FROM invalid_records WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query invalid records: %w", err)
	}
	defer rows.Close()
	var out []jsonmanager.InvalidRecord
	for rows.Next() {
		var r jsonmanager.InvalidRecord
		if err := rows.Scan(&r.Path, &r.Raw, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan invalid record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
