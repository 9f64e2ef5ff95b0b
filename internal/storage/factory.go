package storage

import "fmt"

// Store backend kinds accepted by NewStore. The build default depends on
// whether the sqlite backend is compiled in; see DefaultStoreKind.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// NewStore opens the result archive backend named by kind. An empty kind
// selects the in-memory backend. sqlitePath is only consulted for the
// sqlite backend.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q (want %s or %s)", kind, KindMemory, KindSQLite)
	}
}

// CloseIfSupported closes backends that hold external resources. The
// in-memory backend has none and passes through.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
