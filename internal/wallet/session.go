package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	klog "github.com/Klingon-tech/klingvault/internal/log"
	"github.com/Klingon-tech/klingvault/internal/storage"
	"github.com/Klingon-tech/klingvault/pkg/coin"
	"github.com/Klingon-tech/klingvault/pkg/tx"
	"github.com/Klingon-tech/klingvault/pkg/types"
)

// Session defaults.
const (
	DefaultLookupTimeout     = 15 * time.Second
	DefaultLookupConcurrency = 8
	DefaultTargetBlocks      = 6
)

var (
	keystorePrefix = []byte("keystore/")
	registryPrefix = []byte("registry/")
)

// SessionConfig wires a Session to its database and chain backends.
type SessionConfig struct {
	// DB is the wallet database. The session owns it and closes it.
	DB         storage.DB
	Encryption EncryptionParams

	UTXOs       UTXOSource
	Fees        FeeSource
	Broadcaster Broadcaster

	// FeeRates override the per-coin default fee rate.
	FeeRates map[coin.ID]tx.FeeRate

	LookupTimeout     time.Duration
	LookupConcurrency int
}

// Session owns one wallet: its key store, its address registry and the
// backends used to fund and relay transactions.
type Session struct {
	cfg   SessionConfig
	ks    *KeyStore
	regDB *storage.PrefixDB
	log   zerolog.Logger

	// mu guards registry and builder, which DestroyWallet replaces.
	mu       sync.RWMutex
	registry *Registry
	builder  *Builder

	feeMu   sync.Mutex
	lastFee map[coin.ID]tx.FeeRate
}

// NewSession opens the wallet stored in cfg.DB.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("%w: no database", ErrInvalidParameter)
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = DefaultLookupConcurrency
	}

	ks, err := NewKeyStore(storage.NewPrefixDB(cfg.DB, keystorePrefix), cfg.Encryption)
	if err != nil {
		return nil, err
	}
	regDB := storage.NewPrefixDB(cfg.DB, registryPrefix)
	reg := NewRegistry(regDB)
	return &Session{
		cfg:      cfg,
		ks:       ks,
		registry: reg,
		regDB:    regDB,
		builder:  NewBuilder(reg),
		log:      klog.Wallet,
		lastFee:  make(map[coin.ID]tx.FeeRate),
	}, nil
}

// KeyStore returns the session's key store.
func (s *Session) KeyStore() *KeyStore { return s.ks }

// Registry returns the session's address registry.
func (s *Session) Registry() *Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

func (s *Session) txBuilder() *Builder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builder
}

// Close locks the wallet and closes the database.
func (s *Session) Close() error {
	s.ks.Lock()
	return s.cfg.DB.Close()
}

// DestroyWallet deletes the key store record and every address entry.
func (s *Session) DestroyWallet() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ks.Destroy(); err != nil {
		return err
	}
	if err := s.regDB.DeleteAll(); err != nil {
		return fmt.Errorf("delete addresses: %w", err)
	}
	s.registry = NewRegistry(s.regDB)
	s.builder = NewBuilder(s.registry)
	return nil
}

// FetchUTXOs queries the unspent outputs of every visible address of c.
// Lookups run concurrently; one that fails or times out is logged and
// skipped.
func (s *Session) FetchUTXOs(ctx context.Context, c *coin.Coin) ([]types.UTXO, error) {
	if s.cfg.UTXOs == nil {
		return nil, fmt.Errorf("%w: no UTXO source", ErrInvalidParameter)
	}
	addrs, err := s.Registry().List(c, false)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		seen  = make(map[types.Outpoint]bool)
		utxos []types.UTXO
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.LookupConcurrency)
	for _, a := range addrs {
		a := a
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
			defer cancel()
			found, err := s.cfg.UTXOs.ListUnspent(lctx, c, a.Address)
			if err != nil {
				s.log.Warn().Err(err).Str("coin", c.Ticker).Str("address", a.Address).Msg("UTXO lookup failed")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, u := range found {
				if seen[u.Outpoint] {
					continue
				}
				seen[u.Outpoint] = true
				if u.Address == "" {
					u.Address = a.Address
				}
				utxos = append(utxos, u)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(utxos, func(i, j int) bool { return utxos[i].Outpoint.Less(utxos[j].Outpoint) })
	return utxos, nil
}

// FeeRate returns the remote estimate for c. When the estimate fails it
// falls back to the last rate seen, then the configured rate, then the
// coin default.
func (s *Session) FeeRate(ctx context.Context, c *coin.Coin, targetBlocks int) tx.FeeRate {
	if targetBlocks <= 0 {
		targetBlocks = DefaultTargetBlocks
	}
	if s.cfg.Fees != nil {
		rate, err := s.cfg.Fees.EstimateFeeRate(ctx, c, targetBlocks)
		if err == nil && rate > 0 {
			s.feeMu.Lock()
			s.lastFee[c.ID] = rate
			s.feeMu.Unlock()
			return rate
		}
		s.log.Warn().Err(err).Str("coin", c.Ticker).Msg("Fee estimate unavailable, using fallback")
	}

	s.feeMu.Lock()
	last, ok := s.lastFee[c.ID]
	s.feeMu.Unlock()
	if ok {
		return last
	}
	if rate, ok := s.cfg.FeeRates[c.ID]; ok && rate > 0 {
		return rate
	}
	return tx.FeeRate(c.DefaultFeeRate)
}

// SendRequest is a payment as entered by the user.
type SendRequest struct {
	Coin      *coin.Coin
	Recipient string
	Amount    uint64

	// FeeRate zero means estimate for TargetBlocks.
	FeeRate      tx.FeeRate
	TargetBlocks int

	Policy         SelectionPolicy
	Manual         []types.Outpoint
	Change         ChangePolicy
	ChangeEncoding *coin.Encoding
	SubtractFee    bool
}

// PrepareSend fetches UTXOs, picks a fee rate and builds a draft.
func (s *Session) PrepareSend(ctx context.Context, req SendRequest) (*Draft, error) {
	if req.Coin == nil {
		return nil, fmt.Errorf("%w: no coin", ErrInvalidParameter)
	}
	utxos, err := s.FetchUTXOs(ctx, req.Coin)
	if err != nil {
		return nil, err
	}
	rate := req.FeeRate
	if rate == 0 {
		rate = s.FeeRate(ctx, req.Coin, req.TargetBlocks)
	}
	return s.txBuilder().Build(ctx, BuildRequest{
		Coin:           req.Coin,
		Recipient:      req.Recipient,
		Amount:         req.Amount,
		FeeRate:        rate,
		UTXOs:          utxos,
		Policy:         req.Policy,
		Manual:         req.Manual,
		Change:         req.Change,
		ChangeEncoding: req.ChangeEncoding,
		SubtractFee:    req.SubtractFee,
	})
}

// Sign signs a draft with the unlocked key store. A fresh change address
// is derived here.
func (s *Session) Sign(d *Draft) error {
	return s.txBuilder().Sign(d, s.ks)
}

// Broadcast relays a signed draft. On failure the draft is unchanged and
// can be broadcast again.
func (s *Session) Broadcast(ctx context.Context, d *Draft) (string, error) {
	if s.cfg.Broadcaster == nil {
		return "", fmt.Errorf("%w: no broadcaster", ErrInvalidParameter)
	}
	raw, err := d.SignedHex()
	if err != nil {
		return "", err
	}
	txid, err := s.cfg.Broadcaster.Broadcast(ctx, d.Coin, raw)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrBroadcast, err)
	}
	s.log.Info().Str("coin", d.Coin.Ticker).Str("txid", txid).Msg("Transaction broadcast")
	return txid, nil
}
