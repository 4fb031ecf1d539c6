package badger

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/root-talis/ikou/state"
)

// Store backs the migration state tracker with an embedded BadgerDB: one
// durable record per marker key, synchronous writes.
type Store struct {
	db *badger.DB
}

type Config struct {
	// Path is the directory for the BadgerDB files. Ignored when InMemory
	// is set.
	Path string

	// InMemory disables disk persistence. Useful for tests.
	InMemory bool

	// Logger receives badger's internal log output. If nil, badger logging
	// is disabled.
	Logger *zap.Logger
}

func Open(config Config) (*Store, error) {
	opts := badger.DefaultOptions(config.Path).
		WithInMemory(config.InMemory).
		WithSyncWrites(!config.InMemory).
		WithLogger(nil)

	if config.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: config.Logger.Sugar()})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger state store: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---

func (s *Store) IsApplied(unitID string) (bool, error) {
	applied := false

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(state.Key(unitID)))

		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read marker for unit %s: %w", unitID, err)
	}

	return applied, nil
}

func (s *Store) MarkApplied(unitID string) error {
	appliedAt := time.Now().UTC().Format(time.RFC3339)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(state.Key(unitID)), []byte(appliedAt))
	})
	if err != nil {
		return fmt.Errorf("failed to write marker for unit %s: %w", unitID, err)
	}

	return nil
}

func (s *Store) Clear(unitID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(state.Key(unitID)))
	})
	if err != nil {
		return fmt.Errorf("failed to clear marker for unit %s: %w", unitID, err)
	}

	return nil
}

func (s *Store) Reset() error {
	if err := s.db.DropPrefix([]byte(state.Namespace)); err != nil {
		return fmt.Errorf("failed to reset migration state: %w", err)
	}

	return nil
}

var _ state.Store = (*Store)(nil)

// ---

// badgerLogger adapts zap to badger's Logger interface.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
