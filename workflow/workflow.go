// Package workflow runs the full provisioning sequence: make sure an
// implementation exists, make sure the account for an NFT exists, and read
// the account address back from the registry.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ruteri/tba-provisioner/interfaces"
	"github.com/ruteri/tba-provisioner/metrics"
	"github.com/ruteri/tba-provisioner/provisioner"
	"github.com/ruteri/tba-provisioner/storage"
)

const (
	opProvision      = "provision"
	opImplementation = "provision implementation"
	opAccount        = "ensure account"
)

// Request describes one provisioning run.
type Request struct {
	// ChainID is the chain the caller expects; nil accepts the connected one.
	ChainID        *big.Int
	Implementation interfaces.ImplementationSource
	Nft            interfaces.NftIdentity
	Salt           interfaces.Salt
}

// Result is the outcome of a provisioning run.
type Result struct {
	ChainID        *big.Int                    `json:"chain_id"`
	Registry       common.Address              `json:"registry"`
	Implementation *provisioner.Implementation `json:"implementation"`
	// ImplementationCached is set when the implementation came from the ledger.
	ImplementationCached bool                  `json:"implementation_cached"`
	Account              *interfaces.TbaRecord `json:"account"`
}

// Workflow wires the provisioner, the registrar and the optional ledger.
type Workflow struct {
	client          interfaces.ChainClient
	implementations *provisioner.ImplementationProvisioner
	accounts        interfaces.AccountRegistrar
	registry        common.Address
	ledger          *storage.Ledger
	reuseCached     bool
	log             *slog.Logger
}

// New creates a workflow over the given provisioner and registrar. registry
// is the registry address reported in results and ledger entries.
func New(client interfaces.ChainClient, implementations *provisioner.ImplementationProvisioner, accounts interfaces.AccountRegistrar, registry common.Address, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{
		client:          client,
		implementations: implementations,
		accounts:        accounts,
		registry:        registry,
		log:             log,
	}
}

// SetLedger records implementations and accounts in ledger. Ledger writes
// never fail a run.
func (w *Workflow) SetLedger(ledger *storage.Ledger) {
	w.ledger = ledger
}

// SetReuseCachedImplementation makes DeployFresh reuse an implementation the
// ledger already holds for the same init code and chain.
func (w *Workflow) SetReuseCachedImplementation(reuse bool) {
	w.reuseCached = reuse
}

// Run provisions the implementation and the account for req.
func (w *Workflow) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer metrics.ObserveDuration(opProvision, start)

	chainID, err := w.checkChain(ctx, req.ChainID)
	if err != nil {
		return nil, w.fail(opProvision, err)
	}

	impl, cached, err := w.ProvisionImplementation(ctx, chainID, req.Implementation)
	if err != nil {
		return nil, err
	}

	record, err := w.EnsureAccount(ctx, chainID, impl.Address, req.Nft, req.Salt)
	if err != nil {
		return nil, err
	}

	return &Result{
		ChainID:              chainID,
		Registry:             w.registry,
		Implementation:       impl,
		ImplementationCached: cached,
		Account:              record,
	}, nil
}

// EnsureAccount creates the account of nft against an already provisioned
// implementation and reads its address back from the registry.
func (w *Workflow) EnsureAccount(ctx context.Context, chainID *big.Int, implementation common.Address, nft interfaces.NftIdentity, salt interfaces.Salt) (*interfaces.TbaRecord, error) {
	start := time.Now()
	defer metrics.ObserveDuration(opAccount, start)

	tuple := interfaces.NewAccountTuple(implementation, salt, chainID, nft)

	record, err := w.accounts.EnsureAccount(ctx, tuple)
	if err != nil {
		return nil, w.fail(opAccount, err)
	}

	derived := record.DerivedAddress
	readBack, err := w.accounts.DeriveAddress(ctx, tuple)
	if err != nil {
		// the account may already be created, keep its tx hash
		return nil, w.fail(opAccount, &interfaces.ProvisioningError{
			Op:             opAccount,
			Tuple:          &tuple,
			DerivedAddress: &derived,
			TxHash:         record.TxHash,
			Err:            fmt.Errorf("reading back account: %w", err),
		})
	}
	if readBack != derived {
		return nil, w.fail(opAccount, &interfaces.ProvisioningError{
			Op:             opAccount,
			Tuple:          &tuple,
			DerivedAddress: &derived,
			TxHash:         record.TxHash,
			Err:            fmt.Errorf("%w: registry reads back %s", interfaces.ErrRegistryInvariantViolation, readBack.Hex()),
		})
	}

	metrics.RecordAccount(record)

	if w.ledger != nil {
		if err := w.ledger.RecordAccount(ctx, storage.NewAccountEntry(w.registry, tuple, record)); err != nil {
			w.log.Warn("Failed to record account in ledger", "err", err)
		}
	}

	w.log.Info("Account provisioned",
		slog.String("account", record.DerivedAddress.Hex()),
		slog.Bool("created", record.Created))

	return record, nil
}

func (w *Workflow) checkChain(ctx context.Context, expected *big.Int) (*big.Int, error) {
	chainID, err := w.client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if expected != nil && expected.Cmp(chainID) != 0 {
		return nil, fmt.Errorf("%w: expected %s, endpoint serves %s", interfaces.ErrChainMismatch, expected, chainID)
	}
	return chainID, nil
}

// ProvisionImplementation deploys or verifies the implementation. cached
// reports that a DeployFresh source was satisfied from the ledger.
func (w *Workflow) ProvisionImplementation(ctx context.Context, chainID *big.Int, source interfaces.ImplementationSource) (impl *provisioner.Implementation, cached bool, err error) {
	defer func() {
		if err != nil {
			err = w.fail(opImplementation, err)
		}
	}()

	var bytecode []byte
	switch src := source.(type) {
	case interfaces.DeployFresh:
		bytecode = src.Bytecode
	case *interfaces.DeployFresh:
		bytecode = src.Bytecode
	}

	if bytecode != nil && w.reuseCached && w.ledger != nil {
		cachedImpl, cacheErr := w.cachedImplementation(ctx, chainID, bytecode)
		if cacheErr == nil {
			metrics.ImplementationsProvisioned.WithLabelValues(metrics.OutcomeCached).Inc()
			return cachedImpl, true, nil
		}
		if !storage.IsNotFound(cacheErr) {
			w.log.Warn("Cached implementation unusable, deploying", "err", cacheErr)
		}
	}

	impl, err = w.implementations.Provision(ctx, source)
	if err != nil {
		return nil, false, err
	}

	if impl.DeployTx == nil {
		metrics.ImplementationsProvisioned.WithLabelValues(metrics.OutcomeReused).Inc()
		return impl, false, nil
	}

	metrics.ImplementationsProvisioned.WithLabelValues(metrics.OutcomeDeployed).Inc()
	if bytecode != nil && w.ledger != nil {
		entry := storage.ImplementationEntry{
			ChainID:  chainID,
			Address:  impl.Address,
			CodeHash: impl.CodeHash,
			DeployTx: impl.DeployTx,
		}
		if err := w.ledger.RecordImplementation(ctx, bytecode, entry); err != nil {
			w.log.Warn("Failed to record implementation in ledger", "err", err)
		}
	}

	return impl, false, nil
}

// cachedImplementation returns the ledger's implementation for bytecode after
// checking the chain still has the recorded code.
func (w *Workflow) cachedImplementation(ctx context.Context, chainID *big.Int, bytecode []byte) (*provisioner.Implementation, error) {
	entry, err := w.ledger.CachedImplementation(ctx, chainID, bytecode)
	if err != nil {
		return nil, err
	}

	ref := interfaces.ImplementationRef{Address: entry.Address}
	if entry.CodeHash != (common.Hash{}) {
		codeHash := entry.CodeHash
		ref.BytecodeHash = &codeHash
	}

	impl, err := w.implementations.Provision(ctx, interfaces.ExistingAddress{Ref: ref})
	if err != nil {
		return nil, err
	}

	w.log.Info("Reusing cached implementation",
		slog.String("address", impl.Address.Hex()),
		slog.Time("recordedAt", entry.RecordedAt))

	impl.DeployTx = entry.DeployTx
	return impl, nil
}

// fail counts err and makes sure it carries the failing operation.
func (w *Workflow) fail(op string, err error) error {
	metrics.RecordFailure(op, err)

	var provErr *interfaces.ProvisioningError
	if errors.As(err, &provErr) {
		return err
	}

	w.log.Error("Provisioning failed", slog.String("op", op), "err", err)
	return &interfaces.ProvisioningError{Op: op, Err: err}
}
