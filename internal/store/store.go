package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Store is the durable WAL behind the Atomic Mutator (C1/C5): a MySQL
// backend for production, or a genuinely self-contained in-memory
// backend for tests and local runs where no store backend is wired in
// (§ Non-goals: "no store backend is specified, only its transactional
// contract"). MemoryMode never shares code paths with the SQL path —
// each method branches to its own, independently correct
// implementation rather than threading a possibly-nil *sql.Tx through
// shared logic.
type Store struct {
	DB         *sql.DB
	MemoryMode bool

	mu        sync.Mutex
	nextSeq   map[string]int64
	events    map[string][]StoredEvent
	snapshots map[string]Snapshot
	dedups    map[string]DedupRecord
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func NewMemoryStore() *Store {
	return &Store{
		MemoryMode: true,
		nextSeq:    make(map[string]int64),
		events:     make(map[string][]StoredEvent),
		snapshots:  make(map[string]Snapshot),
		dedups:     make(map[string]DedupRecord),
	}
}

func ConnectMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	return nil
}

func (s *Store) Close() error {
	if s.MemoryMode {
		return nil
	}
	return s.DB.Close()
}

func dedupKey(gameID, actorUserID, idempotencyKey, commandType string) string {
	return gameID + "\x00" + actorUserID + "\x00" + idempotencyKey + "\x00" + commandType
}
