package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the chain access the provisioning workflow consumes.
// Calldata is ABI-encoded by the caller.
type ChainClient interface {
	// ChainID returns the id of the connected chain.
	ChainID(ctx context.Context) (*big.Int, error)

	// Deploy submits a contract creation transaction.
	Deploy(ctx context.Context, bytecode []byte) (common.Address, common.Hash, error)

	// Call executes a read-only call against the latest state.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// SendTx submits a signed transaction calling to with data.
	SendTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error)

	// WaitForReceipt blocks until the transaction is included, the wait
	// policy expires (ErrInclusionTimeout) or ctx is done.
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// GetCode returns the code at addr in the latest state.
	GetCode(ctx context.Context, addr common.Address) ([]byte, error)
}

// AccountRegistrar derives and creates token-bound accounts.
type AccountRegistrar interface {
	// DeriveAddress returns the registry's account address for tuple.
	DeriveAddress(ctx context.Context, tuple AccountTuple) (common.Address, error)

	// EnsureAccount creates the account for tuple unless it already exists.
	EnsureAccount(ctx context.Context, tuple AccountTuple) (*TbaRecord, error)
}
