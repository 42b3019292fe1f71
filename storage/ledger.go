package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/tba-provisioner/interfaces"
)

// ImplementationEntry records an implementation deployed from a given init code.
type ImplementationEntry struct {
	ChainID      *big.Int       `json:"chain_id"`
	Address      common.Address `json:"address"`
	InitCodeHash common.Hash    `json:"init_code_hash"`
	CodeHash     common.Hash    `json:"code_hash"`
	DeployTx     *common.Hash   `json:"deploy_tx,omitempty"`
	RecordedAt   time.Time      `json:"recorded_at"`
}

// AccountEntry records a provisioned token-bound account.
type AccountEntry struct {
	ChainID        *big.Int       `json:"chain_id"`
	Registry       common.Address `json:"registry"`
	Account        common.Address `json:"account"`
	Implementation common.Address `json:"implementation"`
	Salt           string         `json:"salt"`
	TokenContract  common.Address `json:"token_contract"`
	TokenID        *big.Int       `json:"token_id"`
	Created        bool           `json:"created"`
	TxHash         *common.Hash   `json:"tx_hash,omitempty"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

// NewAccountEntry builds the ledger entry for a registrar result.
func NewAccountEntry(registry common.Address, tuple interfaces.AccountTuple, record *interfaces.TbaRecord) AccountEntry {
	return AccountEntry{
		ChainID:        tuple.ChainID,
		Registry:       registry,
		Account:        record.DerivedAddress,
		Implementation: tuple.Implementation,
		Salt:           tuple.Salt.String(),
		TokenContract:  tuple.TokenContract,
		TokenID:        tuple.TokenID,
		Created:        record.Created,
		TxHash:         record.TxHash,
	}
}

// Ledger keeps JSON provisioning records in a storage backend.
type Ledger struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
	now     func() time.Time
}

// NewLedger creates a ledger on top of backend.
func NewLedger(backend interfaces.StorageBackend, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		backend: backend,
		log:     log,
		now:     time.Now,
	}
}

// ImplementationKey addresses the implementation deployed from initCode on chainID.
func ImplementationKey(chainID *big.Int, initCode []byte) interfaces.RecordKey {
	return interfaces.RecordKey{
		Kind: interfaces.ImplementationRecord,
		ID:   fmt.Sprintf("%s-%s", chainID, crypto.Keccak256Hash(initCode).Hex()),
	}
}

// AccountKey addresses the account record for account on chainID.
func AccountKey(chainID *big.Int, account common.Address) interfaces.RecordKey {
	return interfaces.RecordKey{
		Kind: interfaces.AccountRecord,
		ID:   fmt.Sprintf("%s-%s", chainID, account.Hex()),
	}
}

// CachedImplementation returns the implementation previously deployed from
// initCode on chainID, or ErrRecordNotFound.
func (l *Ledger) CachedImplementation(ctx context.Context, chainID *big.Int, initCode []byte) (*ImplementationEntry, error) {
	entry := &ImplementationEntry{}
	if err := l.fetch(ctx, ImplementationKey(chainID, initCode), entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordImplementation stores an implementation deployed from initCode.
func (l *Ledger) RecordImplementation(ctx context.Context, initCode []byte, entry ImplementationEntry) error {
	entry.InitCodeHash = crypto.Keccak256Hash(initCode)
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = l.now().UTC()
	}
	return l.store(ctx, ImplementationKey(entry.ChainID, initCode), entry)
}

// Account returns the stored record for account on chainID.
func (l *Ledger) Account(ctx context.Context, chainID *big.Int, account common.Address) (*AccountEntry, error) {
	entry := &AccountEntry{}
	if err := l.fetch(ctx, AccountKey(chainID, account), entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordAccount stores an account record. An existing record of the
// creating transaction is not replaced by a later no-op observation.
func (l *Ledger) RecordAccount(ctx context.Context, entry AccountEntry) error {
	key := AccountKey(entry.ChainID, entry.Account)

	if !entry.Created {
		existing, err := l.Account(ctx, entry.ChainID, entry.Account)
		if err == nil && existing.Created {
			l.log.Debug("Keeping existing account record", slog.String("key", key.Path()))
			return nil
		}
	}

	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = l.now().UTC()
	}
	return l.store(ctx, key, entry)
}

func (l *Ledger) fetch(ctx context.Context, key interfaces.RecordKey, out any) error {
	data, err := l.backend.Fetch(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("corrupt ledger record %s: %w", key.Path(), err)
	}
	return nil
}

func (l *Ledger) store(ctx context.Context, key interfaces.RecordKey, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	if err := l.backend.Store(ctx, key, data); err != nil {
		return fmt.Errorf("storing ledger record %s: %w", key.Path(), err)
	}

	l.log.Debug("Recorded ledger entry",
		slog.String("key", key.Path()),
		slog.String("backend", l.backend.Name()))
	return nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrRecordNotFound)
}
