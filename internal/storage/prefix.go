package storage

// PrefixDB wraps a DB and prepends a fixed prefix to all keys, so the key
// store and the address registry can share one wallet database.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

// prefixed returns key with the prefix prepended.
func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.prefixed(key))
}

// ForEach iterates over all keys with the given prefix (within the PrefixDB namespace).
// The callback receives keys with the PrefixDB prefix stripped, so callers see only
// their logical keyspace.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	fullPrefix := p.prefixed(prefix)
	return p.inner.ForEach(fullPrefix, func(key, value []byte) error {
		// Strip the PrefixDB prefix so the caller sees only its logical key.
		stripped := key[len(p.prefix):]
		return fn(stripped, value)
	})
}

// DeleteAll removes every key under this namespace in a single batch.
func (p *PrefixDB) DeleteAll() error {
	batch := NewBatch(p.inner)
	err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		return batch.Delete(key)
	})
	if err != nil {
		return err
	}
	return batch.Commit()
}

// Close is a no-op. The inner DB is closed by its owner.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch creates a batch that prepends the prefix to all keys. The
// inner database's batch is used when it has one.
func (p *PrefixDB) NewBatch() Batch {
	return &prefixBatch{inner: NewBatch(p.inner), prefix: p.prefix}
}

type prefixBatch struct {
	inner  Batch
	prefix []byte
}

func (pb *prefixBatch) Put(key, value []byte) error {
	return pb.inner.Put(pb.key(key), value)
}

func (pb *prefixBatch) Delete(key []byte) error {
	return pb.inner.Delete(pb.key(key))
}

func (pb *prefixBatch) Commit() error {
	return pb.inner.Commit()
}

func (pb *prefixBatch) key(k []byte) []byte {
	out := make([]byte, len(pb.prefix)+len(k))
	copy(out, pb.prefix)
	copy(out[len(pb.prefix):], k)
	return out
}
