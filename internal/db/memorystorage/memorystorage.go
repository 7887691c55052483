// Package memorystorage is the default storage backend: the JSON database
// without a backing file.
package memorystorage

import (
	"github.com/patric-chuzhbe/wandernotes/internal/db/jsondb"
)

type MemoryStorage struct {
	*jsondb.JSONDB
}

func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		JSONDB: &jsondb.JSONDB{
			Cache: jsondb.NewCache(),
		},
	}, nil
}

func (theStorage *MemoryStorage) Close() error {
	return nil
}
