//go:build !sqlite

package storage

import "fmt"

func newSQLiteStore(_ string) (Store, error) {
	return nil, fmt.Errorf("sqlite backend unavailable in this build; rebuild with -tags sqlite")
}

// DefaultStoreKind reports the backend the CLI and facade fall back to
// when none is named. Without the sqlite tag only the in-memory store exists.
func DefaultStoreKind() string { return KindMemory }
