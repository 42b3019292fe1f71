package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotAContract is returned when an implementation address has no code.
	ErrNotAContract = errors.New("address has no contract code")

	// ErrBytecodeMismatch is returned when deployed code does not hash to the expected value.
	ErrBytecodeMismatch = errors.New("deployed bytecode hash mismatch")

	// ErrDeploymentFailed is returned when an implementation deployment reverts or is not included.
	ErrDeploymentFailed = errors.New("implementation deployment failed")

	// ErrTransientChainError marks network or RPC failures the caller may retry.
	ErrTransientChainError = errors.New("transient chain error")

	// ErrCreationReverted is returned when the registry rejects account
	// creation and the account does not exist afterwards.
	ErrCreationReverted = errors.New("account creation reverted")

	// ErrRegistryInvariantViolation signals the registry reported an address
	// other than the derived one. It indicates a registry or ABI mismatch and
	// must not be retried.
	ErrRegistryInvariantViolation = errors.New("registry invariant violation")

	// ErrInclusionTimeout is returned when a submitted transaction is not
	// included within the receipt wait policy.
	ErrInclusionTimeout = errors.New("transaction inclusion timeout")

	// ErrOutcomeUnknown is returned when the caller cancelled after a
	// transaction was submitted and its outcome could not be observed.
	ErrOutcomeUnknown = errors.New("transaction outcome unknown")

	// ErrInvalidTuple is returned for tuples the registry cannot accept.
	ErrInvalidTuple = errors.New("invalid account tuple")

	// ErrChainMismatch is returned when the RPC endpoint serves a different chain than requested.
	ErrChainMismatch = errors.New("chain id mismatch")

	// ErrNoTransactOpts is returned when a transaction is attempted without a signer.
	ErrNoTransactOpts = errors.New("no authorized transactor available")
)

// RevertError carries the revert data of a call or gas estimation that
// failed in the EVM.
type RevertError struct {
	Data   []byte
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return "execution reverted: " + e.Reason
	}
	if len(e.Data) > 0 {
		return "execution reverted: 0x" + hex.EncodeToString(e.Data)
	}
	return "execution reverted"
}

// ProvisioningError carries enough context for a caller to verify on-chain
// state manually and re-invoke safely.
type ProvisioningError struct {
	Op             string
	Tuple          *AccountTuple
	DerivedAddress *common.Address
	TxHash         *common.Hash
	Err            error
}

func (e *ProvisioningError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Tuple != nil {
		fmt.Fprintf(&b, " tuple=%s", e.Tuple)
	}
	if e.DerivedAddress != nil {
		fmt.Fprintf(&b, " derived=%s", e.DerivedAddress.Hex())
	}
	if e.TxHash != nil {
		fmt.Fprintf(&b, " tx=%s", e.TxHash.Hex())
	}
	return b.String()
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may safely re-run the workflow
// after backoff. Re-running always starts with the idempotence check.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientChainError) ||
		errors.Is(err, ErrInclusionTimeout) ||
		errors.Is(err, ErrOutcomeUnknown)
}

// ErrorKind returns a short label for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRegistryInvariantViolation):
		return "registry_invariant_violation"
	case errors.Is(err, ErrNotAContract):
		return "not_a_contract"
	case errors.Is(err, ErrBytecodeMismatch):
		return "bytecode_mismatch"
	case errors.Is(err, ErrDeploymentFailed):
		return "deployment_failed"
	case errors.Is(err, ErrCreationReverted):
		return "creation_reverted"
	case errors.Is(err, ErrInclusionTimeout):
		return "inclusion_timeout"
	case errors.Is(err, ErrOutcomeUnknown):
		return "outcome_unknown"
	case errors.Is(err, ErrTransientChainError):
		return "transient_chain_error"
	case errors.Is(err, ErrInvalidTuple):
		return "invalid_tuple"
	case errors.Is(err, ErrChainMismatch):
		return "chain_mismatch"
	default:
		return "other"
	}
}
