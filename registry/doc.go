// Package registry creates token-bound accounts through an ERC-6551 registry.
//
// The registry is the single source of truth for account addresses:
// DeriveAddress asks it through the account() view and EnsureAccount
// submits createAccount() only when no code exists at the derived address.
//
// EnsureAccount is idempotent. Calls for the same tuple return the same
// address, and when two callers race only one of them reports Created; the
// other observes either a no-op receipt or a revert followed by code at the
// derived address. After a successful creation the ERC6551AccountCreated
// event, a fresh account() read and the code at the derived address must
// all agree, otherwise ErrRegistryInvariantViolation is returned.
//
// Errors are *interfaces.ProvisioningError values carrying the tuple, the
// derived address and the transaction hash when known. Use
// interfaces.IsRetryable to decide whether to re-run; mutating calls are
// never retried here.
//
// Basic usage:
//
//	registrar := registry.NewAccountRegistrar(client, erc6551.DefaultRegistryAddress, logger)
//	record, err := registrar.EnsureAccount(ctx, tuple)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(record.DerivedAddress, record.Created)
package registry
