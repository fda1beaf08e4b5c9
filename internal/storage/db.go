// Package storage provides the key-value persistence used by the wallet.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch collects writes that are applied together on Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by databases that can commit a Batch atomically.
type Batcher interface {
	NewBatch() Batch
}

// NewBatch returns an atomic batch when db supports one, and a buffered
// batch that applies writes one by one otherwise.
func NewBatch(db DB) Batch {
	if b, ok := db.(Batcher); ok {
		return b.NewBatch()
	}
	return &sequentialBatch{db: db}
}

type batchOp struct {
	key   []byte
	value []byte // nil means delete
}

// sequentialBatch buffers writes and replays them against a DB that has no
// native batch support. Commit is not atomic.
type sequentialBatch struct {
	db  DB
	ops []batchOp
}

func (b *sequentialBatch) Put(key, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	b.ops = append(b.ops, batchOp{key: clone(key), value: v})
	return nil
}

func (b *sequentialBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: clone(key)})
	return nil
}

func (b *sequentialBatch) Commit() error {
	for _, op := range b.ops {
		var err error
		if op.value == nil {
			err = b.db.Delete(op.key)
		} else {
			err = b.db.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
