package ledger

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/internal/sqlitedb"
)

const (
	ledgerSchema = `
		CREATE TABLE IF NOT EXISTS ledger (
			key TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			action TEXT NOT NULL,
			recipient_id INTEGER NOT NULL,
			payload BLOB NOT NULL,
			recorded_at TEXT NOT NULL
		)
	`
	ledgerRecipientIndex = `
		CREATE INDEX IF NOT EXISTS idx_ledger_recipient_id
		ON ledger(recipient_id)
	`
)

// SQLiteLedger persists the ledger to SQLite so duplicate suppression
// survives restarts of a single ingester.
type SQLiteLedger struct {
	db      *sql.DB
	owned   bool
	keyFunc KeyFunc
	mu      sync.RWMutex
	closed  bool
}

// NewSQLiteLedger opens (or creates) the database at path.
// Use ":memory:" for testing.
func NewSQLiteLedger(path string, mode Mode) (*SQLiteLedger, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	l, err := NewSQLiteLedgerFromDB(db, mode)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.owned = true
	return l, nil
}

// NewSQLiteLedgerFromDB uses an existing database handle. Close does not
// close a handle it did not open.
func NewSQLiteLedgerFromDB(db *sql.DB, mode Mode) (*SQLiteLedger, error) {
	if err := sqlitedb.Migrate(db, ledgerSchema, ledgerRecipientIndex); err != nil {
		return nil, pferrors.Backend("sqlite", "create ledger table", err)
	}
	return &SQLiteLedger{db: db, keyFunc: KeyFuncFor(mode)}, nil
}

// IsDuplicate implements Ledger.
func (l *SQLiteLedger) IsDuplicate(ctx context.Context, evt event.Event) (bool, error) {
	key, err := l.keyFunc(evt)
	if err != nil {
		return false, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return false, ErrLedgerClosed
	}

	var exists bool
	if err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM ledger WHERE key = ?)
	`, key).Scan(&exists); err != nil {
		return false, pferrors.Backend("sqlite", "lookup ledger", err)
	}
	return exists, nil
}

// Record implements Ledger.
func (l *SQLiteLedger) Record(ctx context.Context, evt event.Event) (Entry, error) {
	key, err := l.keyFunc(evt)
	if err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, ErrLedgerClosed
	}

	entry, err := newEntry(uuid.New().String(), key, 0, evt)
	if err != nil {
		return Entry{}, err
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger (key, id, sequence, action, recipient_id, payload, recorded_at)
		VALUES (
			?, ?,
			COALESCE((SELECT MAX(sequence) FROM ledger), 0) + 1,
			?, ?, ?, ?
		)
		ON CONFLICT(key) DO NOTHING
	`, key, entry.ID, string(evt.Action()), evt.RecipientID(), entry.Payload,
		entry.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Entry{}, pferrors.Backend("sqlite", "record ledger entry", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, pferrors.Backend("sqlite", "record ledger entry", err)
	}
	if n == 0 {
		return Entry{}, ErrAlreadyRecorded
	}

	if err := l.db.QueryRowContext(ctx, `
		SELECT sequence FROM ledger WHERE key = ?
	`, key).Scan(&entry.Sequence); err != nil {
		return Entry{}, pferrors.Backend("sqlite", "read ledger sequence", err)
	}
	return entry, nil
}

// Len implements Ledger.
func (l *SQLiteLedger) Len(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return 0, ErrLedgerClosed
	}

	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger`).Scan(&n); err != nil {
		return 0, pferrors.Backend("sqlite", "count ledger", err)
	}
	return n, nil
}

// Close implements Ledger.
func (l *SQLiteLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.owned {
		return l.db.Close()
	}
	return nil
}
