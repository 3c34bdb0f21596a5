package preference

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/internal/sqlitedb"
)

const recipientsSchema = `
	CREATE TABLE IF NOT EXISTS recipients (
		id INTEGER PRIMARY KEY,
		personal_package INTEGER NOT NULL,
		marketing_package INTEGER NOT NULL
	)
`

// SQLiteStore persists recipients to SQLite so preferences survive restarts.
type SQLiteStore struct {
	db     *sql.DB
	owned  bool
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path.
// Use ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStoreFromDB uses an existing database handle. Close does not
// close a handle it did not open.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	if err := sqlitedb.Migrate(db, recipientsSchema); err != nil {
		return nil, pferrors.Backend("sqlite", "create recipients table", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetOrCreate implements Store.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, id int64) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Recipient{}, ErrStoreClosed
	}

	def := DefaultRecipient(id)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO recipients (id, personal_package, marketing_package)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, def.PersonalPackage, def.MarketingPackage); err != nil {
		return Recipient{}, pferrors.Backend("sqlite", "create recipient", err)
	}

	r, _, err := s.get(ctx, id)
	return r, err
}

// ApplyUpdate implements Store.
func (s *SQLiteStore) ApplyUpdate(ctx context.Context, id int64, personal, marketing *bool) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Recipient{}, ErrStoreClosed
	}

	r, ok, err := s.get(ctx, id)
	if err != nil {
		return Recipient{}, err
	}
	if !ok {
		r = DefaultRecipient(id)
	}
	r = r.apply(personal, marketing)

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO recipients (id, personal_package, marketing_package)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			personal_package = excluded.personal_package,
			marketing_package = excluded.marketing_package
	`, r.ID, r.PersonalPackage, r.MarketingPackage); err != nil {
		return Recipient{}, pferrors.Backend("sqlite", "update recipient", err)
	}
	return r, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (Recipient, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Recipient{}, false, ErrStoreClosed
	}
	return s.get(ctx, id)
}

func (s *SQLiteStore) get(ctx context.Context, id int64) (Recipient, bool, error) {
	r := Recipient{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT personal_package, marketing_package FROM recipients WHERE id = ?
	`, id).Scan(&r.PersonalPackage, &r.MarketingPackage)

	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, false, nil
	}
	if err != nil {
		return Recipient{}, false, pferrors.Backend("sqlite", "load recipient", err)
	}
	return r, true, nil
}

// Len implements Store.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n); err != nil {
		return 0, pferrors.Backend("sqlite", "count recipients", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.db.Close()
	}
	return nil
}
