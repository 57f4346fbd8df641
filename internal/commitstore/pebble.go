package commitstore

import (
	"errors"

	pebblestore "github.com/rzbill/flume/internal/storage/pebble"
)

var commitKey = []byte("flume/commit/latest")

// PebbleStore keeps the commit blob under a fixed key in a Pebble database.
type PebbleStore struct {
	db    *pebblestore.DB
	owned bool
}

// OpenPebbleStore opens (or creates) a Pebble database at dir dedicated to
// commit metadata. Writes are fsynced; a commit must not be acknowledged
// before it is durable.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, owned: true}, nil
}

// NewPebbleStore wraps an existing database. Close leaves the database open;
// the caller owns its lifecycle.
func NewPebbleStore(db *pebblestore.DB) *PebbleStore {
	return &PebbleStore{db: db}
}

func (s *PebbleStore) Persist(blob []byte) error {
	return s.db.Set(commitKey, blob)
}

func (s *PebbleStore) Latest() ([]byte, error) {
	b, err := s.db.Get(commitKey)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, ErrNoCommit
	}
	return b, err
}

func (s *PebbleStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
