/*
Package httpserver exposes token-bound account derivation and creation over
HTTP for one implementation on one chain.

API Endpoints:

  - GET /api/v1/account?nft_contract=0x...&token_id=1[&salt=0x...]
    Derives the account address through the registry's account() view.
    No transaction is sent.

  - POST /api/v1/account
    Body: {"nft_contract":"0x...","token_id":"1","salt":"0x..."}
    Creates the account unless it exists. Returns 201 when this request
    created it and 200 when it already existed. Rejected with 503 while the
    server is draining.

  - GET /livez, /readyz, /drain, /undrain
    Health and load balancer draining.

  - /debug/pprof/* when pprof is enabled.

Provisioning errors are mapped to status codes: invalid input 400, a
registry revert that left no account 422, transient chain failures 502,
inclusion timeouts and unknown outcomes 504, registry invariant violations
500. Errors in the 5xx range that are retryable can be re-sent as is; the
endpoint is idempotent.

Metrics are served on a separate listener at /metrics.
*/
package httpserver
