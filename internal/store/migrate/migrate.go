// Package migrate brings the log database schema up to date from SQL files
// compiled into the binary. Files under migrations/ are named
// NNNN_label.sql and applied in ascending version order, each inside its
// own transaction and recorded in schema_migrations.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// step is one numbered schema change.
type step struct {
	version int
	label   string
	ddl     string
}

// Apply runs every step not yet recorded in the ledger and returns how
// many were applied. Safe to call on every startup.
func Apply(db *sql.DB) (int, error) {
	if err := ensureLedger(db); err != nil {
		return 0, err
	}
	steps, err := loadSteps()
	if err != nil {
		return 0, err
	}
	done, err := appliedVersions(db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, s := range steps {
		if done[s.version] {
			continue
		}
		if err := runStep(db, s); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Status reports the highest applied version and the number of steps still
// pending.
func Status(db *sql.DB) (version, pending int, err error) {
	if err := ensureLedger(db); err != nil {
		return 0, 0, err
	}
	steps, err := loadSteps()
	if err != nil {
		return 0, 0, err
	}
	done, err := appliedVersions(db)
	if err != nil {
		return 0, 0, err
	}

	for _, s := range steps {
		if !done[s.version] {
			pending++
			continue
		}
		if s.version > version {
			version = s.version
		}
	}
	return version, pending, nil
}

func loadSteps() ([]step, error) {
	names, err := fs.Glob(schemaFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing embedded migrations: %w", err)
	}

	steps := make([]step, 0, len(names))
	for _, name := range names {
		base := strings.TrimSuffix(path.Base(name), ".sql")
		verStr, label, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: file name must be NNNN_label.sql", name)
		}
		ver, err := strconv.Atoi(verStr)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version prefix: %w", name, err)
		}
		ddl, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		steps = append(steps, step{version: ver, label: label, ddl: string(ddl)})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func ensureLedger(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

// appliedVersions reads the ledger into a set. A set rather than a high
//-water mark keeps a skipped version pending instead of silently lost.
func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

func runStep(db *sql.DB, s step) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d (%s): begin: %w", s.version, s.label, err)
	}
	if _, err := tx.Exec(s.ddl); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", s.version, s.label, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", s.version, s.label); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): recording: %w", s.version, s.label, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d (%s): commit: %w", s.version, s.label, err)
	}
	return nil
}
