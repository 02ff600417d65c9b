// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage persists conversations, messages, prompts, agent
// profiles, preferences and audit entries behind database/sql. It supports
// sqlite (embedded, the default), postgres, and mysql; queries are written
// with ? placeholders and rebound for postgres.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	_ "github.com/teradata-labs/warp/internal/sqlitedriver"
	"github.com/teradata-labs/warp/pkg/fault"
)

// Supported driver names for Config.Driver.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config controls store construction.
type Config struct {
	// Driver is one of sqlite3, postgres, mysql. Defaults to sqlite3.
	Driver string

	// DSN is the driver-specific connection string. For sqlite this is a
	// file path (or ":memory:").
	DSN string

	Logger *zap.Logger
}

// Store is the persistence layer. All methods are safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger

	// nowFn is swapped in tests that assert on time windows.
	nowFn func() time.Time

	// convMu guards convLocks; each conversation gets its own mutex so
	// sequence allocation serialises per conversation, not globally.
	convMu    sync.Mutex
	convLocks map[string]*sync.Mutex
}

// Open connects to the database, applies the schema, and returns a ready
// store.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return nil, fault.New(fault.Configuration, "unsupported database driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fault.New(fault.Configuration, "database DSN is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, err, "opening %s database", cfg.Driver)
	}
	if cfg.Driver == DriverSQLite {
		// sqlite allows one writer; a single connection avoids busy errors
		// under concurrent writes.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:        db,
		driver:    cfg.Driver,
		logger:    cfg.Logger,
		nowFn:     time.Now,
		convLocks: make(map[string]*sync.Mutex),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("storage ready", zap.String("driver", cfg.Driver))
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for maintenance sweeps and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(s.adapt(stmt)); err != nil {
			return fault.Wrap(fault.Configuration, err, "applying schema")
		}
	}
	return nil
}

// rebind converts ? placeholders to $1..$N for postgres; sqlite and mysql
// use the query as written.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// adapt rewrites DDL type spellings the target dialect rejects.
func (s *Store) adapt(stmt string) string {
	if s.driver == DriverMySQL {
		return strings.ReplaceAll(stmt, "DOUBLE PRECISION", "DOUBLE")
	}
	return stmt
}

// convLock returns the mutex serialising writes for one conversation.
func (s *Store) convLock(conversationID string) *sync.Mutex {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	mu, ok := s.convLocks[conversationID]
	if !ok {
		mu = &sync.Mutex{}
		s.convLocks[conversationID] = mu
	}
	return mu
}

func (s *Store) now() time.Time {
	return s.nowFn().UTC().Truncate(time.Microsecond)
}

// exec runs a write statement with placeholder rebinding.
func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// isUniqueViolation detects duplicate-key failures across the three
// supported drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value violates unique") || // postgres
		strings.Contains(msg, "Duplicate entry") // mysql
}

// storeErr maps low-level database failures onto the fault taxonomy.
func storeErr(err error, format string, args ...interface{}) error {
	switch {
	case err == nil:
		return nil
	case err == sql.ErrNoRows:
		return fault.Wrap(fault.NotFound, err, format, args...)
	case isUniqueViolation(err):
		return fault.Wrap(fault.Conflict, err, format, args...)
	case isConnectivity(err):
		return fault.Wrap(fault.Transient, err, format, args...)
	default:
		return fault.Wrap(fault.Internal, err, format, args...)
	}
}

func isConnectivity(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"driver: bad connection",
		"i/o timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// marshalJSON serialises v for a TEXT column; nil maps and slices become
// their empty JSON form so columns never hold NULL.
func marshalJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func marshalList(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}

func unmarshalMap(raw string) map[string]interface{} {
	if raw == "" || raw == "{}" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func unmarshalStrings(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
