package store

// CurrentSchemaVersion is the schema version this binary expects. Opening a
// database stamped with any other version is a hard error (§2: "Strict
// schema-version gate"), grounded on original_source/boxlite/src/db/schema.rs.
const CurrentSchemaVersion = 1

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
`

// boxConfigTable stores the immutable BoxConfig: JSON blob plus the
// queryable id/name/created_at columns used for name resolution and
// created_at sorting (§4.1 list_info).
const boxConfigTable = `
CREATE TABLE IF NOT EXISTS box_config (
	id TEXT PRIMARY KEY NOT NULL,
	name TEXT UNIQUE,
	created_at INTEGER NOT NULL,
	json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_box_config_created_at ON box_config(created_at);
`

// boxStateTable stores the mutable BoxState: JSON blob plus queryable
// status/pid columns.
const boxStateTable = `
CREATE TABLE IF NOT EXISTS box_state (
	id TEXT PRIMARY KEY NOT NULL,
	status TEXT NOT NULL,
	pid INTEGER,
	json TEXT NOT NULL,
	FOREIGN KEY (id) REFERENCES box_config(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_box_state_status ON box_state(status);
`

// aliveTable identifies the current runtime boot, used to detect a crash
// (a stale boot_id on startup) per §5.
const aliveTable = `
CREATE TABLE IF NOT EXISTS alive (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	boot_id TEXT NOT NULL,
	started_at INTEGER NOT NULL
);
`

func allSchemas() []string {
	return []string{schemaVersionTable, boxConfigTable, boxStateTable, aliveTable}
}
