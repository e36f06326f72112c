// Package store persists parsed firewall logs to an embedded DuckDB database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/gatewatch/gatewatch/internal/fortilog"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/store/migrate"
)

// Store manages the DuckDB database connection and provides query methods.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database.
// If dbPath is empty, an in-memory database is used.
// An optional queryTimeout can be passed; it defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := migrate.Apply(db); err != nil {
		db.Close()
		return nil, err
	}

	qt := 30 * time.Second
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct query access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// TotalLogCount returns the total number of persisted logs, optionally
// restricted to a single device.
func (s *Store) TotalLogCount(device string) (int64, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	query := "SELECT COUNT(*) FROM logs"
	var args []interface{}
	if device != "" {
		query += " WHERE device = ?"
		args = append(args, device)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("total log count: %w", err)
	}
	return count, nil
}

// RecentLogs returns the most recent persisted logs for a device,
// newest first.
func (s *Store) RecentLogs(device string, limit int) ([]StoredLog, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT device, ts, received_at, source_addr, srcip, dstip, hostname,
		action, log_type, subtype, category, srcport, dstport, proto, service, app, policyid, raw
		FROM logs`
	var args []interface{}
	if device != "" {
		query += " WHERE device = ?"
		args = append(args, device)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	defer rows.Close()

	var out []StoredLog
	for rows.Next() {
		var l StoredLog
		var ts, sourceAddr, srcIP, dstIP, hostname, action, logType, subtype, category, service, app sql.NullString
		var srcPort, dstPort, proto, policyID sql.NullInt64
		if err := rows.Scan(
			&l.Device, &ts, &l.ReceivedAt, &sourceAddr, &srcIP, &dstIP, &hostname,
			&action, &logType, &subtype, &category,
			&srcPort, &dstPort, &proto, &service, &app, &policyID, &l.Raw,
		); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		l.Timestamp = ts.String
		l.SourceAddr = sourceAddr.String
		l.SrcIP = srcIP.String
		l.DstIP = dstIP.String
		l.Hostname = hostname.String
		l.Action = action.String
		l.LogType = logType.String
		l.Subtype = subtype.String
		l.Category = category.String
		l.SrcPort = srcPort.Int64
		l.DstPort = dstPort.Int64
		l.Proto = proto.Int64
		l.Service = service.String
		l.App = app.String
		l.PolicyID = policyID.Int64
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteExpired removes logs received before the cutoff and returns how
// many rows were removed per device, so the caller can account for the
// sweep. Devices with nothing expired are absent from the result.
func (s *Store) DeleteExpired(cutoff time.Time) (map[string]int64, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT device, COUNT(*) FROM logs WHERE received_at < ? GROUP BY device", cutoff)
	if err != nil {
		return nil, fmt.Errorf("counting expired logs: %w", err)
	}
	defer rows.Close()

	expired := make(map[string]int64)
	for rows.Next() {
		var dev string
		var n int64
		if err := rows.Scan(&dev, &n); err != nil {
			return nil, fmt.Errorf("scanning expired count: %w", err)
		}
		expired[dev] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return expired, nil
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM logs WHERE received_at < ?", cutoff); err != nil {
		return nil, fmt.Errorf("delete before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return expired, nil
}

// nullString returns nil for the empty string so empty fields land as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt returns nil for zero so unset numeric fields land as NULL.
func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// insertArgs extracts the column values for one record. Optional kv fields
// not promoted onto the Record itself are pulled from the raw field map.
func insertArgs(r *model.Record) []any {
	return []any{
		r.Device,
		nullString(r.Timestamp),
		r.ReceivedAt,
		nullString(r.SourceAddr),
		nullString(r.SrcIP),
		nullString(r.DstIP),
		nullString(r.Hostname),
		nullString(r.Action),
		nullString(r.LogType),
		nullString(r.Subtype),
		nullString(r.Category),
		nullInt(fortilog.FieldInt(r.Fields, "srcport")),
		nullInt(r.DstPort),
		nullInt(fortilog.FieldInt(r.Fields, "proto")),
		nullString(fortilog.FieldString(r.Fields, "service")),
		nullString(fortilog.FieldString(r.Fields, "app")),
		nullInt(fortilog.FieldInt(r.Fields, "policyid")),
		r.Raw,
	}
}
