// Package interfaces defines the types, errors and component contracts of the
// token-bound account provisioner, separating them from implementations.
//
// # Data model
//
//   - AccountTuple: the registry's derivation input (implementation, salt,
//     chain id, token contract, token id).
//   - ImplementationSource: DeployFresh or ExistingAddress.
//   - TbaRecord: the outcome of ensuring an account, with Created set only
//     by the call whose transaction created it.
//
// # Components
//
//   - ChainClient: chain access (deploy, call, send, receipts, code).
//   - AccountRegistrar: derive and idempotently create accounts.
//   - StorageBackend / StorageBackendFactory: keyed ledger records behind
//     file://, s3:// and vault:// URIs.
//
// # Errors
//
// Failures are reported as *ProvisioningError wrapping one of the sentinel
// errors, so callers can use errors.Is and IsRetryable:
//
//	record, err := registrar.EnsureAccount(ctx, tuple)
//	if interfaces.IsRetryable(err) {
//		// safe to call EnsureAccount again after backoff
//	}
package interfaces
