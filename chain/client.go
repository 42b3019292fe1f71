// Package chain implements interfaces.ChainClient on top of go-ethereum.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ruteri/tba-provisioner/interfaces"
)

const (
	DefaultReceiptTimeout = 2 * time.Minute
	DefaultPollInterval   = time.Second
)

// Backend is what the client needs from an RPC connection. Both
// *ethclient.Client and simulated.Client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// ReceiptPolicy bounds how long WaitForReceipt waits for inclusion.
// A zero Timeout waits until the context is done.
type ReceiptPolicy struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// DefaultReceiptPolicy returns the policy used by the commands.
func DefaultReceiptPolicy() ReceiptPolicy {
	return ReceiptPolicy{Timeout: DefaultReceiptTimeout, PollInterval: DefaultPollInterval}
}

// EthChainClient talks to an Ethereum JSON-RPC endpoint.
type EthChainClient struct {
	backend Backend
	policy  ReceiptPolicy
	log     *slog.Logger
	auth    *bind.TransactOpts

	// submitMu serialises submissions from the signer so concurrent
	// callers in one process do not pick the same pending nonce.
	submitMu sync.Mutex
}

// NewEthChainClient creates a read-only client. Call SetTransactOpts
// before Deploy or SendTx.
func NewEthChainClient(backend Backend, policy ReceiptPolicy, log *slog.Logger) *EthChainClient {
	if policy.PollInterval <= 0 {
		policy.PollInterval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &EthChainClient{
		backend: backend,
		policy:  policy,
		log:     log,
	}
}

// SetTransactOpts sets the signer used for state-modifying calls.
func (c *EthChainClient) SetTransactOpts(auth *bind.TransactOpts) {
	c.auth = auth
}

// ChainID returns the id reported by the endpoint.
func (c *EthChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	return id, nil
}

// Deploy submits a contract creation transaction with the given init code.
func (c *EthChainClient) Deploy(ctx context.Context, bytecode []byte) (common.Address, common.Hash, error) {
	if c.auth == nil {
		return common.Address{}, common.Hash{}, interfaces.ErrNoTransactOpts
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	addr, tx, _, err := bind.DeployContract(c.transactOpts(ctx), abi.ABI{}, bytecode, c.backend)
	if err != nil {
		return common.Address{}, common.Hash{}, classifyError(err)
	}

	c.log.Debug("Submitted contract deployment",
		slog.String("txHash", tx.Hash().Hex()),
		slog.String("address", addr.Hex()),
		slog.Uint64("nonce", tx.Nonce()))

	return addr, tx.Hash(), nil
}

// Call executes a read-only call.
func (c *EthChainClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	return out, nil
}

// SendTx signs and submits a transaction calling to with data.
func (c *EthChainClient) SendTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if c.auth == nil {
		return common.Hash{}, interfaces.ErrNoTransactOpts
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	contract := bind.NewBoundContract(to, abi.ABI{}, c.backend, c.backend, c.backend)
	tx, err := contract.RawTransact(c.transactOpts(ctx), data)
	if err != nil {
		if errors.Is(err, bind.ErrNoCode) {
			return common.Hash{}, fmt.Errorf("%w: %s", interfaces.ErrNotAContract, to.Hex())
		}
		return common.Hash{}, classifyError(err)
	}

	c.log.Debug("Submitted transaction",
		slog.String("txHash", tx.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", tx.Nonce()))

	return tx.Hash(), nil
}

// WaitForReceipt polls for the receipt of txHash. Lookup errors are logged
// and polling continues until the policy timeout or ctx expires.
func (c *EthChainClient) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.policy.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if c.policy.Timeout > 0 {
		timer := time.NewTimer(c.policy.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}

		if errors.Is(err, ethereum.NotFound) {
			c.log.Debug("Transaction not yet mined", slog.String("txHash", txHash.Hex()))
		} else if ctx.Err() == nil {
			c.log.Debug("Receipt retrieval failed", slog.String("txHash", txHash.Hex()), "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("%w: %s not included within %s", interfaces.ErrInclusionTimeout, txHash.Hex(), c.policy.Timeout)
		case <-ticker.C:
		}
	}
}

// GetCode returns the code at addr.
func (c *EthChainClient) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	return code, nil
}

func (c *EthChainClient) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *c.auth
	opts.Context = ctx
	return &opts
}

// classifyError separates EVM reverts from transport failures. Context
// errors stay matchable with errors.Is.
func classifyError(err error) error {
	if revertErr := asRevertError(err); revertErr != nil {
		return revertErr
	}
	return fmt.Errorf("%w: %w", interfaces.ErrTransientChainError, err)
}

func asRevertError(err error) *interfaces.RevertError {
	if !strings.Contains(err.Error(), "execution reverted") {
		return nil
	}

	revertErr := &interfaces.RevertError{}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(encoded); decodeErr == nil {
				revertErr.Data = data
			}
		}
	}

	if reason, unpackErr := abi.UnpackRevert(revertErr.Data); unpackErr == nil {
		revertErr.Reason = reason
	}

	return revertErr
}
