// Package statestore persists rule states in an SQLite database.
package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/abpkit/abpfilter/rules"

	// Register the database driver.
	_ "modernc.org/sqlite"
)

// schema is the database schema.  last_hit is a Unix time in milliseconds, 0
// meaning never.
const schema = `
CREATE TABLE IF NOT EXISTS rule_state (
	text      TEXT    PRIMARY KEY,
	disabled  INTEGER NOT NULL DEFAULT 0,
	hit_count INTEGER NOT NULL DEFAULT 0,
	last_hit  INTEGER NOT NULL DEFAULT 0
);
`

// Config is the configuration structure for a *Store.
type Config struct {
	// Logger is used to log the errors of [Store.StateChanged].  If nil, the
	// messages are discarded.
	Logger *slog.Logger

	// Path is the path to the database file.  It must not be empty.
	Path string
}

// Restorer receives persisted states.  *abpfilter.Engine implements it.
type Restorer interface {
	RestoreState(text string, st rules.State)
}

// Store is a [rules.StateSink] writing the states to the database.
type Store struct {
	logger *slog.Logger
	db     *sql.DB
	upsert *sql.Stmt
	del    *sql.Stmt
}

// type check
var _ rules.StateSink = (*Store)(nil)

// Open opens or creates the database.  c must not be nil.
func Open(ctx context.Context, c *Config) (s *Store, err error) {
	if c.Path == "" {
		return nil, fmt.Errorf("statestore: path: %w", errors.ErrEmptyValue)
	}

	dsn := "file:" + c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("statestore: opening: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	s = &Store{
		logger: c.Logger,
		db:     db,
	}

	if s.logger == nil {
		s.logger = slogutil.NewDiscardLogger()
	}

	err = s.init(ctx)
	if err != nil {
		return nil, errors.WithDeferred(fmt.Errorf("statestore: %w", err), db.Close())
	}

	return s, nil
}

// init creates the schema and prepares the statements.
func (s *Store) init(ctx context.Context) (err error) {
	_, err = s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	s.upsert, err = s.db.PrepareContext(ctx, `
INSERT INTO rule_state (text, disabled, hit_count, last_hit) VALUES (?, ?, ?, ?)
ON CONFLICT (text) DO UPDATE SET
	disabled = excluded.disabled,
	hit_count = excluded.hit_count,
	last_hit = excluded.last_hit`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}

	s.del, err = s.db.PrepareContext(ctx, `DELETE FROM rule_state WHERE text = ?`)
	if err != nil {
		return fmt.Errorf("preparing delete: %w", err)
	}

	return nil
}

// Load passes every persisted state to r and returns their number.
func (s *Store) Load(ctx context.Context, r Restorer) (n int, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text, disabled, hit_count, last_hit FROM rule_state`)
	if err != nil {
		return 0, fmt.Errorf("statestore: querying: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var text string
		var st rules.State
		var hitCount, lastHit int64
		err = rows.Scan(&text, &st.Disabled, &hitCount, &lastHit)
		if err != nil {
			return n, fmt.Errorf("statestore: scanning: %w", err)
		}

		st.HitCount = uint64(hitCount)
		if lastHit != 0 {
			st.LastHit = time.UnixMilli(lastHit)
		}

		r.RestoreState(text, st)
		n++
	}

	return n, errors.Annotate(rows.Err(), "statestore: reading: %w")
}

// StateChanged implements the [rules.StateSink] interface for *Store.  Default
// states are deleted.
func (s *Store) StateChanged(text string, st rules.State) {
	var err error
	if st.IsDefault() {
		_, err = s.del.Exec(text)
	} else {
		var lastHit int64
		if !st.LastHit.IsZero() {
			lastHit = st.LastHit.UnixMilli()
		}

		_, err = s.upsert.Exec(text, st.Disabled, int64(st.HitCount), lastHit)
	}

	if err != nil {
		s.logger.Error("saving rule state", "rule", text, slogutil.KeyError, err)
	}
}

// Close closes the database.
func (s *Store) Close() (err error) {
	return errors.Join(s.upsert.Close(), s.del.Close(), s.db.Close())
}
