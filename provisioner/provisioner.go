// Package provisioner makes sure an account implementation contract is
// deployed before accounts are created against it.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/tba-provisioner/interfaces"
)

const opProvisionImplementation = "provision implementation"

// DefaultObservationTimeout bounds how long a submitted deployment is
// observed after the caller cancelled.
const DefaultObservationTimeout = 30 * time.Second

// Implementation describes a provisioned implementation contract.
type Implementation struct {
	Address  common.Address `json:"address"`
	CodeHash common.Hash    `json:"code_hash"`
	// DeployTx is set when the contract was deployed by this call.
	DeployTx *common.Hash `json:"deploy_tx,omitempty"`
}

// ImplementationProvisioner deploys or verifies implementation contracts.
type ImplementationProvisioner struct {
	client     interfaces.ChainClient
	log        *slog.Logger
	verifyCode bool

	observationTimeout time.Duration
}

// NewImplementationProvisioner creates a provisioner. Existing addresses are
// checked for code unless SetVerifyCode(false) is called.
func NewImplementationProvisioner(client interfaces.ChainClient, log *slog.Logger) *ImplementationProvisioner {
	if log == nil {
		log = slog.Default()
	}
	return &ImplementationProvisioner{
		client:             client,
		log:                log,
		verifyCode:         true,
		observationTimeout: DefaultObservationTimeout,
	}
}

// SetVerifyCode toggles the code presence and hash check for existing addresses.
func (p *ImplementationProvisioner) SetVerifyCode(verify bool) {
	p.verifyCode = verify
}

// SetObservationTimeout sets the bound for post-cancellation observation.
func (p *ImplementationProvisioner) SetObservationTimeout(timeout time.Duration) {
	p.observationTimeout = timeout
}

// ProvisionImplementation returns the address of a usable implementation.
func (p *ImplementationProvisioner) ProvisionImplementation(ctx context.Context, source interfaces.ImplementationSource) (common.Address, error) {
	impl, err := p.Provision(ctx, source)
	if err != nil {
		return common.Address{}, err
	}
	return impl.Address, nil
}

// Provision is ProvisionImplementation with deployment details.
func (p *ImplementationProvisioner) Provision(ctx context.Context, source interfaces.ImplementationSource) (*Implementation, error) {
	switch src := source.(type) {
	case interfaces.DeployFresh:
		return p.deploy(ctx, src.Bytecode)
	case *interfaces.DeployFresh:
		return p.deploy(ctx, src.Bytecode)
	case interfaces.ExistingAddress:
		return p.verify(ctx, src.Ref)
	case *interfaces.ExistingAddress:
		return p.verify(ctx, src.Ref)
	default:
		return nil, fmt.Errorf("unsupported implementation source %T", source)
	}
}

func (p *ImplementationProvisioner) deploy(ctx context.Context, bytecode []byte) (*Implementation, error) {
	if len(bytecode) == 0 {
		return nil, p.fail(nil, fmt.Errorf("%w: empty bytecode", interfaces.ErrDeploymentFailed))
	}

	addr, txHash, err := p.client.Deploy(ctx, bytecode)
	if err != nil {
		var revertErr *interfaces.RevertError
		if errors.As(err, &revertErr) {
			err = fmt.Errorf("%w: %w", interfaces.ErrDeploymentFailed, err)
		}
		return nil, p.fail(nil, err)
	}

	p.log.Info("Implementation deployment submitted",
		slog.String("txHash", txHash.Hex()),
		slog.String("address", addr.Hex()))

	receipt, err := p.client.WaitForReceipt(ctx, txHash)
	if err != nil {
		if ctx.Err() != nil {
			return p.observe(ctx, addr, txHash)
		}
		if errors.Is(err, interfaces.ErrInclusionTimeout) {
			err = fmt.Errorf("%w: %w", interfaces.ErrDeploymentFailed, err)
		}
		return nil, p.fail(&txHash, err)
	}

	return p.checkDeployment(ctx, addr, txHash, receipt)
}

// checkDeployment verifies an included deployment left code behind.
func (p *ImplementationProvisioner) checkDeployment(ctx context.Context, addr common.Address, txHash common.Hash, receipt *types.Receipt) (*Implementation, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, p.fail(&txHash, fmt.Errorf("%w: deployment reverted in block %s", interfaces.ErrDeploymentFailed, receipt.BlockNumber))
	}
	if receipt.ContractAddress != (common.Address{}) {
		addr = receipt.ContractAddress
	}

	code, err := p.client.GetCode(ctx, addr)
	if err != nil {
		return nil, p.fail(&txHash, fmt.Errorf("checking code at %s: %w", addr.Hex(), err))
	}
	if len(code) == 0 {
		return nil, p.fail(&txHash, fmt.Errorf("%w: no code at %s after deployment", interfaces.ErrDeploymentFailed, addr.Hex()))
	}

	p.log.Info("Implementation deployed",
		slog.String("txHash", txHash.Hex()),
		slog.String("address", addr.Hex()),
		slog.Int("codeSize", len(code)))

	return &Implementation{
		Address:  addr,
		CodeHash: crypto.Keccak256Hash(code),
		DeployTx: &txHash,
	}, nil
}

// observe resolves a submitted deployment after the caller cancelled. The
// receipt is awaited first, then code at the predicted address is checked.
func (p *ImplementationProvisioner) observe(ctx context.Context, addr common.Address, txHash common.Hash) (*Implementation, error) {
	p.log.Warn("Cancelled after deployment submission, observing outcome",
		slog.String("txHash", txHash.Hex()),
		slog.Duration("timeout", p.observationTimeout))

	detached := context.WithoutCancel(ctx)

	receiptCtx, cancel := context.WithTimeout(detached, p.observationTimeout)
	receipt, err := p.client.WaitForReceipt(receiptCtx, txHash)
	cancel()
	if err == nil {
		obsCtx, cancel := context.WithTimeout(detached, p.observationTimeout)
		defer cancel()
		return p.checkDeployment(obsCtx, addr, txHash, receipt)
	}

	codeCtx, cancel := context.WithTimeout(detached, p.observationTimeout)
	defer cancel()
	if code, codeErr := p.client.GetCode(codeCtx, addr); codeErr == nil && len(code) > 0 {
		p.log.Info("Implementation present after cancelled deployment", slog.String("address", addr.Hex()))
		return &Implementation{
			Address:  addr,
			CodeHash: crypto.Keccak256Hash(code),
			DeployTx: &txHash,
		}, nil
	}

	return nil, p.fail(&txHash, fmt.Errorf("%w: %w", interfaces.ErrOutcomeUnknown, ctx.Err()))
}

func (p *ImplementationProvisioner) verify(ctx context.Context, ref interfaces.ImplementationRef) (*Implementation, error) {
	if !p.verifyCode {
		return &Implementation{Address: ref.Address}, nil
	}

	code, err := p.client.GetCode(ctx, ref.Address)
	if err != nil {
		return nil, p.fail(nil, fmt.Errorf("checking code at %s: %w", ref.Address.Hex(), err))
	}
	if len(code) == 0 {
		return nil, p.fail(nil, fmt.Errorf("%w: %s", interfaces.ErrNotAContract, ref.Address.Hex()))
	}

	codeHash := crypto.Keccak256Hash(code)
	if ref.BytecodeHash != nil && *ref.BytecodeHash != codeHash {
		return nil, p.fail(nil, fmt.Errorf("%w: expected %s, got %s", interfaces.ErrBytecodeMismatch, ref.BytecodeHash.Hex(), codeHash.Hex()))
	}

	p.log.Debug("Reusing implementation",
		slog.String("address", ref.Address.Hex()),
		slog.String("codeHash", codeHash.Hex()))

	return &Implementation{Address: ref.Address, CodeHash: codeHash}, nil
}

func (p *ImplementationProvisioner) fail(txHash *common.Hash, err error) error {
	p.log.Error("Implementation provisioning failed", "err", err)
	return &interfaces.ProvisioningError{
		Op:     opProvisionImplementation,
		TxHash: txHash,
		Err:    err,
	}
}
