package sqlstore

import (
	"fmt"
	"strings"
)

// =============================================================================
// DIALECTS
// =============================================================================

// Driver names as registered with database/sql.
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	DriverSQLite  = "sqlite"  // modernc.org/sqlite (pure Go)
	DriverMySQL   = "mysql"   // github.com/go-sql-driver/mysql
)

type dialect struct {
	driver string
	schema []string

	// upsert clauses, appended to INSERT statements
	upsertParticipant string
	upsertTarget      string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite3, DriverSQLite:
		return dialect{
			driver:            driver,
			schema:            sqliteSchema,
			upsertParticipant: sqliteUpsert("tenant_id, event_id, id", participantUpdates),
			upsertTarget:      sqliteUpsert("scope_kind, tenant_id, event_id, id", targetUpdates),
		}, nil
	case DriverMySQL:
		return dialect{
			driver:            driver,
			schema:            mysqlSchema,
			upsertParticipant: mysqlUpsert(participantUpdates),
			upsertTarget:      mysqlUpsert(targetUpdates),
		}, nil
	}
	return dialect{}, fmt.Errorf("unsupported driver %q", driver)
}

func (d dialect) isSQLite() bool {
	return d.driver == DriverSQLite3 || d.driver == DriverSQLite
}

var (
	participantUpdates = []string{"code", "first_name", "last_name", "room", "is_excluded"}
	targetUpdates      = []string{"name"}
)

func sqliteUpsert(conflict string, cols []string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", conflict, strings.Join(sets, ", "))
}

func mysqlUpsert(cols []string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

// =============================================================================
// SCHEMA
// =============================================================================
// KEY TABLES:
//   participants:  subjects, code unique per (tenant, event)
//   targets:       activities and items
//   action_logs:   every attempted action, append-only
//   active_states: one row per active subject of a stored-state ledger
//
// UNIQUENESS (the only concurrency control):
//   active_states PRIMARY KEY (scope, participant)
//   action_logs   UNIQUE activation_key, NULL for every non-activation row
//
// Statements run one at a time; the MySQL driver rejects multi-statements.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS participants (
		tenant_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		id TEXT NOT NULL,
		code TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		room TEXT NOT NULL DEFAULT '',
		is_excluded INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, event_id, id),
		UNIQUE (tenant_id, event_id, code)
	)`,
	`CREATE TABLE IF NOT EXISTS targets (
		scope_kind TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (scope_kind, tenant_id, event_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS action_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		scope_kind TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		participant_id TEXT,
		code TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		method TEXT NOT NULL,
		result TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL DEFAULT '',
		client_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		activation_key TEXT UNIQUE,
		occurred_at INTEGER NOT NULL
	)`,
	// Latest-row lookups per subject (hot path)
	`CREATE INDEX IF NOT EXISTS idx_action_logs_scope_participant
		ON action_logs(scope_kind, tenant_id, event_id, target_id, participant_id, occurred_at DESC, seq DESC)`,
	// Audit listing
	`CREATE INDEX IF NOT EXISTS idx_action_logs_scope_time
		ON action_logs(scope_kind, tenant_id, event_id, target_id, occurred_at DESC)`,
	`CREATE TABLE IF NOT EXISTS active_states (
		scope_kind TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		participant_id TEXT NOT NULL,
		log_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (scope_kind, tenant_id, event_id, target_id, participant_id)
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS participants (
		tenant_id VARCHAR(64) NOT NULL,
		event_id VARCHAR(64) NOT NULL,
		id VARCHAR(64) NOT NULL,
		code VARCHAR(16) NOT NULL,
		first_name VARCHAR(128) NOT NULL DEFAULT '',
		last_name VARCHAR(128) NOT NULL DEFAULT '',
		room VARCHAR(32) NOT NULL DEFAULT '',
		is_excluded TINYINT(1) NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, event_id, id),
		UNIQUE KEY uq_participants_code (tenant_id, event_id, code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS targets (
		scope_kind VARCHAR(16) NOT NULL,
		tenant_id VARCHAR(64) NOT NULL,
		event_id VARCHAR(64) NOT NULL,
		id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		PRIMARY KEY (scope_kind, tenant_id, event_id, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS action_logs (
		seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL,
		scope_kind VARCHAR(16) NOT NULL,
		tenant_id VARCHAR(64) NOT NULL,
		event_id VARCHAR(64) NOT NULL,
		target_id VARCHAR(64) NOT NULL DEFAULT '',
		participant_id VARCHAR(64) NULL,
		code VARCHAR(64) NOT NULL DEFAULT '',
		action VARCHAR(16) NOT NULL,
		method VARCHAR(16) NOT NULL,
		result VARCHAR(32) NOT NULL,
		detail VARCHAR(255) NOT NULL DEFAULT '',
		actor_id VARCHAR(64) NOT NULL DEFAULT '',
		actor_role VARCHAR(32) NOT NULL DEFAULT '',
		client_ip VARCHAR(64) NOT NULL DEFAULT '',
		user_agent VARCHAR(255) NOT NULL DEFAULT '',
		activation_key VARCHAR(64) NULL,
		occurred_at BIGINT NOT NULL,
		UNIQUE KEY uq_action_logs_id (id),
		UNIQUE KEY uq_action_logs_activation (activation_key),
		KEY idx_action_logs_scope_participant (scope_kind, tenant_id, event_id, target_id, participant_id, occurred_at, seq),
		KEY idx_action_logs_scope_time (scope_kind, tenant_id, event_id, target_id, occurred_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS active_states (
		scope_kind VARCHAR(16) NOT NULL,
		tenant_id VARCHAR(64) NOT NULL,
		event_id VARCHAR(64) NOT NULL,
		target_id VARCHAR(64) NOT NULL DEFAULT '',
		participant_id VARCHAR(64) NOT NULL,
		log_id VARCHAR(64) NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (scope_kind, tenant_id, event_id, target_id, participant_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
