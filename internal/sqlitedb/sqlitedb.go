// Package sqlitedb opens the shared SQLite handle used by the durable stores.
//
// The engine's correctness under concurrent flushes relies on expression-based
// atomic updates: every counter change is written as a transformation of the
// stored value (x = x + delta) inside a single statement or transaction, never
// as a read-then-write. To let those statements recompute derived confidence
// scores in place, the Wilson lower bound is registered as a deterministic
// scalar SQL function backed by the scoring package.
package sqlitedb

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"modernc.org/sqlite"

	"github.com/fyrsmithlabs/recalld/internal/scoring"
)

var registerOnce sync.Once

// registerFunctions installs recalld's scalar functions into the driver.
// Registration is process-global and must happen before the first connection.
func registerFunctions() {
	registerOnce.Do(func() {
		// wilson_lower_bound(worked, failed) -> REAL in [0,1].
		// Neutral 0.5 when worked+failed = 0, matching scoring.Wilson.
		_ = sqlite.RegisterDeterministicScalarFunction(
			"wilson_lower_bound", 2,
			func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				worked, err := toInt64(args[0])
				if err != nil {
					return nil, err
				}
				failed, err := toInt64(args[1])
				if err != nil {
					return nil, err
				}
				return scoring.Wilson(worked, worked+failed), nil
			},
		)

		// success_rate(worked, failed) -> REAL, 0.5 on empty denominator.
		_ = sqlite.RegisterDeterministicScalarFunction(
			"success_rate", 2,
			func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				worked, err := toInt64(args[0])
				if err != nil {
					return nil, err
				}
				failed, err := toInt64(args[1])
				if err != nil {
					return nil, err
				}
				return scoring.SuccessRate(worked, failed), nil
			},
		)
	})
}

func toInt64(v driver.Value) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("sqlitedb: expected numeric argument, got %T", v)
	}
}

// Open opens (or creates) the SQLite database at path with WAL journaling and
// a busy timeout, and returns a handle with the recalld scalar functions
// available. Use ":memory:" for tests.
func Open(path string) (*sql.DB, error) {
	registerFunctions()

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single writer connection sidesteps SQLITE_BUSY between the buffer
	// flush and lifecycle passes sharing this handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
