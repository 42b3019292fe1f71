package erc6551

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ERC-1167 constructor and proxy header, the implementation follows.
	proxyHeader = common.FromHex("0x3d60ad80600a3d3981f3363d3d373d3d3d363d73")
	// ERC-1167 proxy footer, the ABI-encoded token data follows.
	proxyFooter = common.FromHex("0x5af43d82803e903d91602b57fd5bf3")
)

// AccountBytecodeLength is the length of the init code deployed by the registry.
const AccountBytecodeLength = 20 + 20 + 15 + 4*32

// AccountBytecode returns the init code the registry deploys with CREATE2:
// ERC-1167 header, implementation, footer, then salt, chainId, tokenContract
// and tokenId as 32-byte words.
func AccountBytecode(implementation common.Address, salt [32]byte, chainID *big.Int, tokenContract common.Address, tokenID *big.Int) []byte {
	code := make([]byte, 0, AccountBytecodeLength)
	code = append(code, proxyHeader...)
	code = append(code, implementation.Bytes()...)
	code = append(code, proxyFooter...)
	code = append(code, salt[:]...)
	code = append(code, math.U256Bytes(new(big.Int).Set(chainID))...)
	code = append(code, common.LeftPadBytes(tokenContract.Bytes(), 32)...)
	code = append(code, math.U256Bytes(new(big.Int).Set(tokenID))...)
	return code
}

// ComputeAccountAddress reproduces registry.account(...) off-chain.
func ComputeAccountAddress(registry, implementation common.Address, salt [32]byte, chainID *big.Int, tokenContract common.Address, tokenID *big.Int) common.Address {
	initCodeHash := crypto.Keccak256(AccountBytecode(implementation, salt, chainID, tokenContract, tokenID))
	return crypto.CreateAddress2(registry, salt, initCodeHash)
}

// accountConstructorLength is the prefix of the init code that copies the
// runtime into memory and returns it.
const accountConstructorLength = 10

// AccountRuntimeCode returns the code left at the account address after the
// registry's CREATE2 deployment.
func AccountRuntimeCode(implementation common.Address, salt [32]byte, chainID *big.Int, tokenContract common.Address, tokenID *big.Int) []byte {
	return AccountBytecode(implementation, salt, chainID, tokenContract, tokenID)[accountConstructorLength:]
}

// AccountRuntimeImplementation extracts the implementation address from the
// runtime code of a deployed account.
func AccountRuntimeImplementation(code []byte) (common.Address, bool) {
	const offset = 10
	if len(code) < offset+20 {
		return common.Address{}, false
	}
	return common.BytesToAddress(code[offset : offset+20]), true
}
