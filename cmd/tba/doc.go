// Package main (cmd/tba) is the command-line client for ERC-6551 token-bound
// accounts.
//
// Commands:
//
//	deploy-implementation - Deploy an account implementation from a
//	                        hardhat/foundry artifact or hex file, or verify
//	                        an existing one. With --ledger and
//	                        --reuse-cached-implementation a previous
//	                        deployment of the same init code is reused.
//
//	account               - Print the account address of an NFT as reported
//	                        by the registry and whether it is deployed. Sends
//	                        no transaction.
//
//	create                - Create the account of an NFT unless it exists.
//	                        Safe to repeat.
//
//	provision             - Make sure the implementation exists, create the
//	                        account and read its address back.
//
// Results are printed to stdout as JSON, logs go to stderr. Every flag can
// be set through its TBA_* environment variable or a .env file; the private
// key also through PRIVATE_KEY.
//
// Example:
//
//	tba --rpc-addr https://sepolia.example --chain-id 11155111 provision \
//	  --implementation-bytecode-file artifacts/ERC6551Account.json \
//	  --nft-contract 0x6B57b7eDF751829DfB2AeCcF578D6d24C33a45A2 --token-id 1
package main
