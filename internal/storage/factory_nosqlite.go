//go:build !sqlite

package storage

import "fmt"

const defaultStoreKind = "memory"

func newSQLiteStore(_ string) (Store, error) {
	return nil, fmt.Errorf("sqlite run ledger unavailable in this build; rebuild with -tags sqlite")
}
