package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"tokenbank/pkg/platform/sentinel"
)

// insert encodes entity under key. It fails with sentinel.ErrAlreadyUsed when
// the key exists.
func insert(txn *badger.Txn, key []byte, entity interface{}) error {
	_, err := txn.Get(key)
	if err == nil {
		return sentinel.ErrAlreadyUsed
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("could not check key: %w", err)
	}
	val, err := encodeEntity(entity)
	if err != nil {
		return err
	}
	if err := txn.Set(key, val); err != nil {
		return fmt.Errorf("could not store data: %w", err)
	}
	return nil
}

// update replaces the entity under an existing key.
func update(txn *badger.Txn, key []byte, entity interface{}) error {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("could not check key: %w", err)
	}
	val, err := encodeEntity(entity)
	if err != nil {
		return err
	}
	if err := txn.Set(key, val); err != nil {
		return fmt.Errorf("could not replace data: %w", err)
	}
	return nil
}

// retrieve decodes the entity under key into entity.
func retrieve(txn *badger.Txn, key []byte, entity interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("could not load data: %w", err)
	}
	return item.Value(func(val []byte) error {
		return decodeValue(val, entity)
	})
}

// touch reads and rewrites key so that any two transactions touching it
// conflict at commit.
func touch(txn *badger.Txn, key []byte) error {
	_, err := txn.Get(key)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("could not check key: %w", err)
	}
	if err := txn.Set(key, []byte{1}); err != nil {
		return fmt.Errorf("could not touch key: %w", err)
	}
	return nil
}

// index writes an empty marker key.
func index(txn *badger.Txn, key []byte) error {
	if err := txn.Set(key, nil); err != nil {
		return fmt.Errorf("could not store index: %w", err)
	}
	return nil
}

// traverseKeys collects the keys under prefix, stopping after limit keys
// when limit is positive. The iterator is closed before returning, since
// read-write transactions allow only one open iterator.
func traverseKeys(txn *badger.Txn, prefix []byte, limit int) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
		if limit > 0 && len(keys) == limit {
			break
		}
	}
	return keys
}
