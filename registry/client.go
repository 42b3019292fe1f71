package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ruteri/tba-provisioner/bindings/erc6551"
	"github.com/ruteri/tba-provisioner/interfaces"
)

const (
	opDeriveAddress = "derive address"
	opEnsureAccount = "ensure account"
)

// DefaultObservationTimeout bounds how long the outcome of a submitted
// creation is observed after the caller cancelled.
const DefaultObservationTimeout = 30 * time.Second

// AccountRegistrar derives token-bound account addresses and creates the
// accounts through an ERC-6551 registry.
type AccountRegistrar struct {
	client   interfaces.ChainClient
	registry common.Address
	log      *slog.Logger

	verifyDerivation   bool
	observationTimeout time.Duration
}

// NewAccountRegistrar creates a registrar for the registry at registryAddress.
func NewAccountRegistrar(client interfaces.ChainClient, registryAddress common.Address, log *slog.Logger) *AccountRegistrar {
	if log == nil {
		log = slog.Default()
	}
	return &AccountRegistrar{
		client:             client,
		registry:           registryAddress,
		log:                log,
		observationTimeout: DefaultObservationTimeout,
	}
}

// SetVerifyDerivation enables comparing the registry's answer with a local
// CREATE2 computation.
func (r *AccountRegistrar) SetVerifyDerivation(verify bool) {
	r.verifyDerivation = verify
}

// SetObservationTimeout sets the bound for post-cancellation observation.
func (r *AccountRegistrar) SetObservationTimeout(timeout time.Duration) {
	r.observationTimeout = timeout
}

// RegistryAddress returns the registry the registrar talks to.
func (r *AccountRegistrar) RegistryAddress() common.Address {
	return r.registry
}

// DeriveAddress asks the registry for the account address of tuple.
func (r *AccountRegistrar) DeriveAddress(ctx context.Context, tuple interfaces.AccountTuple) (common.Address, error) {
	if err := tuple.Validate(); err != nil {
		return common.Address{}, r.fail(opDeriveAddress, tuple, nil, nil, err)
	}

	addr, err := r.deriveAddress(ctx, tuple)
	if err != nil {
		return common.Address{}, r.fail(opDeriveAddress, tuple, nil, nil, err)
	}
	return addr, nil
}

// EnsureAccount makes sure the account for tuple exists, creating it when
// missing. Repeated and concurrent calls converge on the same address and
// at most one of them reports Created.
func (r *AccountRegistrar) EnsureAccount(ctx context.Context, tuple interfaces.AccountTuple) (*interfaces.TbaRecord, error) {
	if err := tuple.Validate(); err != nil {
		return nil, r.fail(opEnsureAccount, tuple, nil, nil, err)
	}

	expected, err := r.deriveAddress(ctx, tuple)
	if err != nil {
		return nil, r.fail(opEnsureAccount, tuple, nil, nil, err)
	}

	log := r.log.With("tuple", tuple, slog.String("account", expected.Hex()))

	exists, err := r.hasCode(ctx, expected)
	if err != nil {
		return nil, r.fail(opEnsureAccount, tuple, &expected, nil, err)
	}
	if exists {
		log.Debug("Account already exists")
		return &interfaces.TbaRecord{DerivedAddress: expected}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, r.fail(opEnsureAccount, tuple, &expected, nil, err)
	}

	data, err := erc6551.PackCreateAccount(tuple.Implementation, tuple.Salt, tuple.ChainID, tuple.TokenContract, tuple.TokenID)
	if err != nil {
		return nil, r.fail(opEnsureAccount, tuple, &expected, nil, err)
	}

	txHash, err := r.client.SendTx(ctx, r.registry, data)
	if err != nil {
		var revertErr *interfaces.RevertError
		if errors.As(err, &revertErr) {
			return r.afterRevert(ctx, log, tuple, expected, nil, revertErr)
		}
		if ctx.Err() != nil {
			// the transaction may have reached the node before cancellation
			return r.observe(ctx, log, tuple, expected, nil)
		}
		return nil, r.fail(opEnsureAccount, tuple, &expected, nil, err)
	}

	log.Info("Account creation submitted", slog.String("txHash", txHash.Hex()))

	receipt, err := r.client.WaitForReceipt(ctx, txHash)
	if err != nil {
		if ctx.Err() != nil {
			return r.observe(ctx, log, tuple, expected, &txHash)
		}
		return nil, r.fail(opEnsureAccount, tuple, &expected, &txHash, err)
	}

	return r.classifyReceipt(ctx, log, tuple, expected, txHash, receipt)
}

func (r *AccountRegistrar) deriveAddress(ctx context.Context, tuple interfaces.AccountTuple) (common.Address, error) {
	data, err := erc6551.PackAccount(tuple.Implementation, tuple.Salt, tuple.ChainID, tuple.TokenContract, tuple.TokenID)
	if err != nil {
		return common.Address{}, err
	}

	out, err := r.client.Call(ctx, r.registry, data)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("%w: registry %s returned no data", interfaces.ErrNotAContract, r.registry.Hex())
	}

	addr, err := erc6551.UnpackAddress(erc6551.MethodAccount, out)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: malformed account() response: %w", interfaces.ErrRegistryInvariantViolation, err)
	}

	if r.verifyDerivation {
		local := erc6551.ComputeAccountAddress(r.registry, tuple.Implementation, tuple.Salt, tuple.ChainID, tuple.TokenContract, tuple.TokenID)
		if local != addr {
			return common.Address{}, fmt.Errorf("%w: registry reported %s, local derivation %s", interfaces.ErrRegistryInvariantViolation, addr.Hex(), local.Hex())
		}
	}

	return addr, nil
}

func (r *AccountRegistrar) hasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := r.client.GetCode(ctx, addr)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// classifyReceipt checks an included creation against the derived address.
func (r *AccountRegistrar) classifyReceipt(ctx context.Context, log *slog.Logger, tuple interfaces.AccountTuple, expected common.Address, txHash common.Hash, receipt *types.Receipt) (*interfaces.TbaRecord, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return r.afterRevert(ctx, log, tuple, expected, &txHash, nil)
	}

	event, created := erc6551.FindAccountCreated(r.registry, receipt.Logs)
	if created {
		if err := checkEvent(event, tuple, expected); err != nil {
			return nil, r.fail(opEnsureAccount, tuple, &expected, &txHash, err)
		}

		rederived, err := r.deriveAddress(ctx, tuple)
		if err != nil {
			return nil, r.fail(opEnsureAccount, tuple, &expected, &txHash, err)
		}
		if rederived != expected {
			err := fmt.Errorf("%w: registry now reports %s", interfaces.ErrRegistryInvariantViolation, rederived.Hex())
			return nil, r.fail(opEnsureAccount, tuple, &expected, &txHash, err)
		}
	}

	exists, err := r.hasCode(ctx, expected)
	if err != nil {
		return nil, r.fail(opEnsureAccount, tuple, &expected, &txHash, err)
	}
	if !exists {
		err := fmt.Errorf("%w: no code at %s after successful creation", interfaces.ErrRegistryInvariantViolation, expected.Hex())
		return nil, r.fail(opEnsureAccount, tuple, &expected, &txHash, err)
	}

	if !created {
		log.Warn("Account was created concurrently", slog.String("txHash", txHash.Hex()))
		return &interfaces.TbaRecord{DerivedAddress: expected}, nil
	}

	log.Info("Account created",
		slog.String("txHash", txHash.Hex()),
		slog.Uint64("gasUsed", receipt.GasUsed))

	return &interfaces.TbaRecord{
		DerivedAddress: expected,
		Created:        true,
		TxHash:         &txHash,
	}, nil
}

func checkEvent(event *erc6551.AccountCreated, tuple interfaces.AccountTuple, expected common.Address) error {
	switch {
	case event.Account != expected:
		return fmt.Errorf("%w: event reports account %s", interfaces.ErrRegistryInvariantViolation, event.Account.Hex())
	case event.Implementation != tuple.Implementation,
		event.TokenContract != tuple.TokenContract,
		event.Salt != tuple.Salt,
		event.ChainId == nil || event.ChainId.Cmp(tuple.ChainID) != 0,
		event.TokenId == nil || event.TokenId.Cmp(tuple.TokenID) != 0:
		return fmt.Errorf("%w: event parameters do not match the requested tuple", interfaces.ErrRegistryInvariantViolation)
	}
	return nil
}

// afterRevert treats a reverted creation as success when the account exists.
func (r *AccountRegistrar) afterRevert(ctx context.Context, log *slog.Logger, tuple interfaces.AccountTuple, expected common.Address, txHash *common.Hash, revertErr *interfaces.RevertError) (*interfaces.TbaRecord, error) {
	exists, err := r.hasCode(ctx, expected)
	if err != nil {
		return nil, r.fail(opEnsureAccount, tuple, &expected, txHash, err)
	}
	if exists {
		log.Warn("Account creation reverted but the account exists")
		return &interfaces.TbaRecord{DerivedAddress: expected}, nil
	}

	reason := "reverted"
	if revertErr != nil {
		if name, ok := erc6551.RevertErrorName(revertErr.Data); ok {
			reason = name
		} else {
			reason = revertErr.Error()
		}
	}

	return nil, r.fail(opEnsureAccount, tuple, &expected, txHash, fmt.Errorf("%w: %s", interfaces.ErrCreationReverted, reason))
}

// observe resolves a creation after the caller cancelled, bounded by the
// observation timeout. Without a tx hash only the code check is possible.
func (r *AccountRegistrar) observe(ctx context.Context, log *slog.Logger, tuple interfaces.AccountTuple, expected common.Address, txHash *common.Hash) (*interfaces.TbaRecord, error) {
	log.Warn("Cancelled after submission, observing outcome",
		slog.Bool("submitted", txHash != nil),
		slog.Duration("timeout", r.observationTimeout))

	detached := context.WithoutCancel(ctx)

	if txHash != nil {
		receiptCtx, cancel := context.WithTimeout(detached, r.observationTimeout)
		receipt, err := r.client.WaitForReceipt(receiptCtx, *txHash)
		cancel()
		if err == nil {
			obsCtx, cancel := context.WithTimeout(detached, r.observationTimeout)
			defer cancel()
			return r.classifyReceipt(obsCtx, log, tuple, expected, *txHash, receipt)
		}
	}

	codeCtx, cancel := context.WithTimeout(detached, r.observationTimeout)
	defer cancel()
	if exists, codeErr := r.hasCode(codeCtx, expected); codeErr == nil && exists {
		log.Info("Account exists after cancelled creation")
		return &interfaces.TbaRecord{DerivedAddress: expected}, nil
	}

	return nil, r.fail(opEnsureAccount, tuple, &expected, txHash, fmt.Errorf("%w: %w", interfaces.ErrOutcomeUnknown, ctx.Err()))
}

func (r *AccountRegistrar) fail(op string, tuple interfaces.AccountTuple, derived *common.Address, txHash *common.Hash, err error) error {
	r.log.Error("Account provisioning failed",
		slog.String("op", op),
		"tuple", tuple,
		"err", err)

	return &interfaces.ProvisioningError{
		Op:             op,
		Tuple:          &tuple,
		DerivedAddress: derived,
		TxHash:         txHash,
		Err:            err,
	}
}
