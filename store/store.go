// Package store is BoxLite's persistent store: an embedded relational
// database with three logical tables (box_config, box_state, alive),
// grounded on original_source/boxlite/src/db/{mod,schema}.rs (the
// Podman-style JSON-blob-plus-queryable-columns pattern) and wired onto
// modernc.org/sqlite, the pure-Go SQLite driver used by
// other_examples/manifests/dagu-org-dagu, so the runtime never needs cgo.
package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/types"
)

// Store is the embedded relational store. It is safe for concurrent use
// from multiple goroutines within one process; cross-process concurrency is
// handled by SQLite's own WAL journal and busy timeout.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path, applies the schema
// if new, and enforces the strict version gate otherwise.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Database, "open database %q", path)
	}
	// SQLite serializes writers regardless; capping the pool at one
	// connection avoids "database is locked" errors fighting the busy
	// timeout under our own concurrent goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=FULL;
		PRAGMA foreign_keys=ON;
		PRAGMA busy_timeout=100000;
	`); err != nil {
		db.Close()
		return nil, boxerrors.Wrap(err, boxerrors.Database, "configure pragmas")
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "create schema_version table")
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version WHERE id = 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		return s.applyFullSchema()
	case err != nil:
		return boxerrors.Wrap(err, boxerrors.Database, "read schema version")
	case version == CurrentSchemaVersion:
		return nil
	default:
		return boxerrors.New(boxerrors.Database,
			"schema version mismatch: database has v%d, process expects v%d", version, CurrentSchemaVersion)
	}
}

func (s *Store) applyFullSchema() error {
	for _, stmt := range allSchemas() {
		if _, err := s.db.Exec(stmt); err != nil {
			return boxerrors.Wrap(err, boxerrors.Database, "apply schema")
		}
	}
	_, err := s.db.Exec(
		`INSERT INTO schema_version (id, version, updated_at) VALUES (1, ?, ?)`,
		CurrentSchemaVersion, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "stamp schema version")
	}
	return nil
}

// CreateBox inserts the config row and the initial Configured state row in
// one transaction. It returns AlreadyExists when the name is taken (the
// unique index is the serialization point for name uniqueness, per §5).
func (s *Store) CreateBox(cfg types.BoxConfig) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Internal, "marshal box config")
	}
	state := types.BoxState{ID: cfg.ID, Status: types.StatusConfigured}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Internal, "marshal box state")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "begin transaction")
	}
	defer tx.Rollback()

	var name interface{}
	if cfg.Name != "" {
		name = string(cfg.Name)
	}

	_, err = tx.Exec(
		`INSERT INTO box_config (id, name, created_at, json) VALUES (?, ?, ?, ?)`,
		string(cfg.ID), name, cfg.CreatedAt, string(cfgJSON),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return boxerrors.New(boxerrors.AlreadyExists, "box name %q already exists", cfg.Name)
		}
		return boxerrors.Wrap(err, boxerrors.Database, "insert box_config")
	}

	_, err = tx.Exec(
		`INSERT INTO box_state (id, status, pid, json) VALUES (?, ?, NULL, ?)`,
		string(cfg.ID), string(state.Status), string(stateJSON),
	)
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "insert box_state")
	}

	if err := tx.Commit(); err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "commit create box")
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	// modernc.org/sqlite wraps the sqlite3 result code in its error string;
	// there is no typed sentinel, so match on the well-known substring, the
	// same way database/sql callers outside this package's control do.
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// GetByName resolves a box by exact name match.
func (s *Store) GetByName(name string) (*types.BoxInfo, error) {
	row := s.db.QueryRow(`SELECT json FROM box_config WHERE name = ?`, name)
	var cfgJSON string
	if err := row.Scan(&cfgJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, boxerrors.Wrap(err, boxerrors.Database, "query box_config by name")
	}
	var cfg types.BoxConfig
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Internal, "unmarshal box config")
	}
	return s.joinState(cfg)
}

// GetByIDPrefix resolves a box whose id starts with prefix. It is only
// valid for prefixes of at least types.MinIDPrefixLen characters. It
// returns nil with no error if no id matches, and InvalidArgument if more
// than one does (a caller error, not a name collision).
func (s *Store) GetByIDPrefix(prefix string) (*types.BoxInfo, error) {
	if len(prefix) < types.MinIDPrefixLen {
		return nil, boxerrors.New(boxerrors.InvalidArgument, "id prefix must be at least %d characters", types.MinIDPrefixLen)
	}
	rows, err := s.db.Query(`SELECT json FROM box_config WHERE id LIKE ? || '%'`, prefix)
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Database, "query box_config by id prefix")
	}
	defer rows.Close()

	var matches []types.BoxConfig
	for rows.Next() {
		var cfgJSON string
		if err := rows.Scan(&cfgJSON); err != nil {
			return nil, boxerrors.Wrap(err, boxerrors.Database, "scan box_config row")
		}
		var cfg types.BoxConfig
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			return nil, boxerrors.Wrap(err, boxerrors.Internal, "unmarshal box config")
		}
		matches = append(matches, cfg)
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return s.joinState(matches[0])
	default:
		return nil, boxerrors.New(boxerrors.InvalidArgument, "ambiguous id prefix %q matches %d boxes", prefix, len(matches))
	}
}

func (s *Store) joinState(cfg types.BoxConfig) (*types.BoxInfo, error) {
	row := s.db.QueryRow(`SELECT json FROM box_state WHERE id = ?`, string(cfg.ID))
	var stateJSON string
	if err := row.Scan(&stateJSON); err != nil {
		if err == sql.ErrNoRows {
			return &types.BoxInfo{Config: cfg, State: types.BoxState{ID: cfg.ID, Status: types.StatusUnknown}}, nil
		}
		return nil, boxerrors.Wrap(err, boxerrors.Database, "query box_state")
	}
	var state types.BoxState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Internal, "unmarshal box state")
	}
	return &types.BoxInfo{Config: cfg, State: state}, nil
}

// ListInfo returns every box's joined config+state, newest first
// (created_at DESC, id ASC to break ties deterministically), matching
// the ordering `--latest` resolution depends on (§4.1, §6.1).
func (s *Store) ListInfo() ([]types.BoxInfo, error) {
	rows, err := s.db.Query(`SELECT json FROM box_config ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Database, "list box_config")
	}
	defer rows.Close()

	var infos []types.BoxInfo
	for rows.Next() {
		var cfgJSON string
		if err := rows.Scan(&cfgJSON); err != nil {
			return nil, boxerrors.Wrap(err, boxerrors.Database, "scan box_config row")
		}
		var cfg types.BoxConfig
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			return nil, boxerrors.Wrap(err, boxerrors.Internal, "unmarshal box config")
		}
		info, err := s.joinState(cfg)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// UpdateState overwrites the mutable box_state row for id.
func (s *Store) UpdateState(state types.BoxState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Internal, "marshal box state")
	}
	var pid interface{}
	if state.PID != nil {
		pid = *state.PID
	}
	res, err := s.db.Exec(
		`UPDATE box_state SET status = ?, pid = ?, json = ? WHERE id = ?`,
		string(state.Status), pid, string(stateJSON), string(state.ID),
	)
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "update box_state")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "rows affected")
	}
	if n == 0 {
		return boxerrors.New(boxerrors.NotFound, "box %s not found", state.ID)
	}
	return nil
}

// RemoveBox deletes both rows for id. box_state cascades via the foreign
// key, but we delete explicitly for drivers that don't enforce FKs cheaply.
func (s *Store) RemoveBox(id types.BoxID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM box_state WHERE id = ?`, string(id)); err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "delete box_state")
	}
	res, err := tx.Exec(`DELETE FROM box_config WHERE id = ?`, string(id))
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "delete box_config")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Database, "rows affected")
	}
	if n == 0 {
		return boxerrors.New(boxerrors.NotFound, "box %s not found", id)
	}
	return tx.Commit()
}

// ReconcileCrash stamps a fresh boot identity into `alive` and returns the
// ids of any box_state rows that were left Running by a previous boot (and
// must be reconciled to Stopped by the caller), per §5's crash-recovery
// path.
func (s *Store) ReconcileCrash() ([]types.BoxID, error) {
	bootID := uuid.NewString()

	var prevBoot sql.NullString
	err := s.db.QueryRow(`SELECT boot_id FROM alive WHERE id = 1`).Scan(&prevBoot)
	crashed := err == nil // a row existed from a prior, uncleanly-exited boot

	if _, err := s.db.Exec(
		`INSERT INTO alive (id, boot_id, started_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET boot_id = excluded.boot_id, started_at = excluded.started_at`,
		bootID, time.Now().Unix(),
	); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Database, "stamp boot identity")
	}

	if !crashed {
		return nil, nil
	}

	rows, err := s.db.Query(`SELECT id FROM box_state WHERE status = ?`, string(types.StatusRunning))
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Database, "query stale running boxes")
	}
	defer rows.Close()

	var stale []types.BoxID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, boxerrors.Wrap(err, boxerrors.Database, "scan stale box id")
		}
		stale = append(stale, types.BoxID(id))
	}
	return stale, nil
}
