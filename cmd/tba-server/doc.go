// Package main (cmd/tba-server) serves token-bound account derivation and
// creation over HTTP.
//
// The server is bound to one chain, one registry and one implementation.
// The implementation must already be deployed; it is checked for code (and
// against --implementation-bytecode-hash when given) at startup.
//
//	tba-server --rpc-addr https://sepolia.example --chain-id 11155111 \
//	  --private-key $KEY --implementation 0x... --ledger file:///var/lib/tba
//
// See package httpserver for the endpoints. Flags can also be set through
// TBA_* environment variables or a .env file in the working directory.
package main
