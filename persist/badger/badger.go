package badger

import (
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// A Store is a badger-backed store.
type Store struct {
	db  *badger.DB
	log *zap.Logger
}

// zapLogger adapts a zap logger to badger's logger interface
type zapLogger struct {
	l *zap.SugaredLogger
}

func (zl zapLogger) Errorf(f string, v ...any)   { zl.l.Errorf(f, v...) }
func (zl zapLogger) Warningf(f string, v ...any) { zl.l.Warnf(f, v...) }
func (zl zapLogger) Infof(f string, v ...any)    { zl.l.Debugf(f, v...) }
func (zl zapLogger) Debugf(f string, v ...any)   { zl.l.Debugf(f, v...) }

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// OpenDatabase opens a badger database at the given path.
func OpenDatabase(path string, log *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(zapLogger{log.Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}
