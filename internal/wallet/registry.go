package wallet

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/klingvault/internal/log"
	"github.com/Klingon-tech/klingvault/internal/storage"
	"github.com/Klingon-tech/klingvault/pkg/coin"
)

// DefaultAccount is the BIP-44 account used for all derived addresses.
const DefaultAccount uint32 = 0

var (
	addrPrefix = []byte("addr/")
	markPrefix = []byte("mark/")
)

// Registry keeps the wallet's addresses and per-chain derivation
// watermarks. Entries are loaded from the database on first use.
type Registry struct {
	db  storage.DB
	log zerolog.Logger

	mu      sync.Mutex
	loaded  bool
	entries map[string]*Address // by entryKey
}

// NewRegistry returns a registry backed by db.
func NewRegistry(db storage.DB) *Registry {
	return &Registry{
		db:      db,
		log:     klog.Registry,
		entries: make(map[string]*Address),
	}
}

func entryKey(c *coin.Coin, address string) string {
	return c.Ticker + "/" + address
}

func addrKey(c *coin.Coin, address string) []byte {
	return append(append([]byte(nil), addrPrefix...), entryKey(c, address)...)
}

func markKey(c *coin.Coin, enc coin.Encoding, chain uint32) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%d", markPrefix, c.Ticker, enc, chain))
}

// load reads all address entries. Must be called with mu held.
func (r *Registry) load() error {
	if r.loaded {
		return nil
	}
	err := r.db.ForEach(addrPrefix, func(key, value []byte) error {
		var a Address
		if err := json.Unmarshal(value, &a); err != nil {
			return fmt.Errorf("decode address %q: %w", bytes.TrimPrefix(key, addrPrefix), err)
		}
		c, err := coin.ByID(a.Coin)
		if err != nil {
			return err
		}
		r.entries[entryKey(c, a.Address)] = &a
		return nil
	})
	if err != nil {
		return fmt.Errorf("load addresses: %w", err)
	}
	r.loaded = true
	return nil
}

// nextIndex returns the watermark of a chain. Must be called with mu held.
func (r *Registry) nextIndex(c *coin.Coin, enc coin.Encoding, chain uint32) (uint32, error) {
	data, err := r.db.Get(markKey(c, enc, chain))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("read watermark: bad length %d", len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}

// NextIndex returns the index the next derived address on a chain will use.
func (r *Registry) NextIndex(c *coin.Coin, enc coin.Encoding, chain uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIndex(c, enc, chain)
}

// CreateAddress derives the next receiving address of a coin and encoding.
func (r *Registry) CreateAddress(ks KeyDeriver, c *coin.Coin, enc coin.Encoding, label, comment string) (*Address, error) {
	return r.derive(ks, c, enc, ChainExternal, label, comment)
}

// CreateChangeAddress derives the next change address.
func (r *Registry) CreateChangeAddress(ks KeyDeriver, c *coin.Coin, enc coin.Encoding) (*Address, error) {
	return r.derive(ks, c, enc, ChainInternal, "", "")
}

func (r *Registry) derive(ks KeyDeriver, c *coin.Coin, enc coin.Encoding, chain uint32, label, comment string) (*Address, error) {
	if !ks.IsUnlocked() {
		return nil, ErrLocked
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}

	index, err := r.nextIndex(c, enc, chain)
	if err != nil {
		return nil, err
	}
	path, err := AddressPath(c, enc, DefaultAccount, chain, index)
	if err != nil {
		return nil, err
	}
	key, err := ks.DeriveKey(path)
	if err != nil {
		return nil, err
	}
	pub := key.PublicKeyBytes()
	key.Zero()

	encoded, err := c.EncodeAddress(pub, enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailed, err)
	}
	a := &Address{
		Coin:      c.ID,
		Address:   encoded,
		Encoding:  enc,
		Path:      path,
		Label:     label,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	var mark [4]byte
	binary.BigEndian.PutUint32(mark[:], index+1)

	batch := storage.NewBatch(r.db)
	if err := batch.Put(addrKey(c, encoded), data); err != nil {
		return nil, err
	}
	if err := batch.Put(markKey(c, enc, chain), mark[:]); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("save address: %w", err)
	}
	r.entries[entryKey(c, encoded)] = a

	logger := klog.WithCoin(r.log, c.Ticker)
	logger.Debug().
		Str("address", encoded).
		Str("path", path.String()).
		Msg("Address derived")
	return a.clone(), nil
}

// AddWatchOnly adds an address the wallet tracks but cannot spend from.
func (r *Registry) AddWatchOnly(c *coin.Coin, address, label, comment string) (*Address, error) {
	addr, enc, err := c.DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	encoded := addr.EncodeAddress()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}
	if _, ok := r.entries[entryKey(c, encoded)]; ok {
		return nil, ErrDuplicateWatchOnlyAddress
	}
	a := &Address{
		Coin:      c.ID,
		Address:   encoded,
		Encoding:  enc,
		WatchOnly: true,
		Label:     label,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.save(c, a); err != nil {
		return nil, err
	}
	return a.clone(), nil
}

// SetLabel changes the label of an address.
func (r *Registry) SetLabel(c *coin.Coin, address, label string) error {
	return r.update(c, address, func(a *Address) { a.Label = label })
}

// SetComment changes the comment of an address.
func (r *Registry) SetComment(c *coin.Coin, address, comment string) error {
	return r.update(c, address, func(a *Address) { a.Comment = comment })
}

// Hide removes an address from default listings without deleting it.
func (r *Registry) Hide(c *coin.Coin, address string, hidden bool) error {
	return r.update(c, address, func(a *Address) { a.Hidden = hidden })
}

// Remove deletes an address entry. The chain watermark is not rolled back,
// so a removed derived address is never handed out again.
func (r *Registry) Remove(c *coin.Coin, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.lookup(c, address)
	if err != nil {
		return err
	}
	if err := r.db.Delete(addrKey(c, a.Address)); err != nil {
		return fmt.Errorf("remove address: %w", err)
	}
	delete(r.entries, entryKey(c, a.Address))
	logger := klog.WithCoin(r.log, c.Ticker)
	logger.Debug().Str("address", a.Address).Msg("Address removed")
	return nil
}

// Lookup returns a copy of the entry for an address.
func (r *Registry) Lookup(c *coin.Coin, address string) (*Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.lookup(c, address)
	if err != nil {
		return nil, err
	}
	return a.clone(), nil
}

// List returns the addresses of a coin: derived addresses by chain and
// index, then watch-only addresses by creation time.
func (r *Registry) List(c *coin.Coin, includeHidden bool) ([]*Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}
	var out []*Address
	for _, a := range r.entries {
		if a.Coin != c.ID || (a.Hidden && !includeHidden) {
			continue
		}
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Derived() != b.Derived() {
			return a.Derived()
		}
		if a.Derived() {
			if a.Encoding != b.Encoding {
				return a.Encoding < b.Encoding
			}
			if a.Path.Chain() != b.Path.Chain() {
				return a.Path.Chain() < b.Path.Chain()
			}
			return a.Path.Index() < b.Path.Index()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Address < b.Address
	})
	return out, nil
}

// lookup finds an entry by any accepted spelling of the address. Must be
// called with mu held.
func (r *Registry) lookup(c *coin.Coin, address string) (*Address, error) {
	if err := r.load(); err != nil {
		return nil, err
	}
	encoded, err := c.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	a, ok := r.entries[entryKey(c, encoded)]
	if !ok {
		return nil, ErrAddressNotFound
	}
	return a, nil
}

func (r *Registry) update(c *coin.Coin, address string, fn func(*Address)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.lookup(c, address)
	if err != nil {
		return err
	}
	updated := a.clone()
	fn(updated)
	return r.save(c, updated)
}

// save persists an entry and caches it. Must be called with mu held.
func (r *Registry) save(c *coin.Coin, a *Address) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	if err := r.db.Put(addrKey(c, a.Address), data); err != nil {
		return fmt.Errorf("save address: %w", err)
	}
	r.entries[entryKey(c, a.Address)] = a
	return nil
}
