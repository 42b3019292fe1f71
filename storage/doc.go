// Package storage persists provisioning results in pluggable backends.
//
// Backends are keyed by interfaces.RecordKey and selected by URI:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/tba/ledger
//   - s3://ACCESS:SECRET@bucket-name/prefix/?region=us-west-2&endpoint=minio:9000
//   - vault://vault.example.com:8200/secret/tba?token=...
//
// Several URIs can be combined with StorageBackendFactory.CreateMultiBackend.
// Writes go to every available backend and reads fall back through them in
// order, so a single unavailable backend does not block provisioning.
//
// Ledger stores JSON records on top of a backend: implementation
// deployments per chain and init code, and token-bound accounts per chain
// and address. The on-chain registry stays authoritative; the ledger only
// lets callers skip redeploying an implementation they already deployed.
//
// Basic usage:
//
//	factory := storage.NewStorageBackendFactory(logger)
//	backend, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
//	    "file:///var/lib/tba/ledger",
//	    "s3://bucket/tba/?region=eu-west-1",
//	})
//	if err != nil {
//	    return err
//	}
//	ledger := storage.NewLedger(backend, logger)
package storage
