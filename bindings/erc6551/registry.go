// Package erc6551 contains the ABI of the canonical ERC-6551 registry and
// helpers reproducing its deterministic account derivation.
package erc6551

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultRegistryAddress is the registry deployed at the same address on every chain.
var DefaultRegistryAddress = common.HexToAddress("0x000000006551c19487814612e58FE06813775758")

const (
	MethodAccount       = "account"
	MethodCreateAccount = "createAccount"
	EventAccountCreated = "ERC6551AccountCreated"
	ErrorCreationFailed = "AccountCreationFailed"
)

// RegistryABIJSON is the input ABI of the v0.3.1 registry.
const RegistryABIJSON = `[
{"inputs":[],"name":"AccountCreationFailed","type":"error"},
{"anonymous":false,"inputs":[
 {"indexed":false,"internalType":"address","name":"account","type":"address"},
 {"indexed":true,"internalType":"address","name":"implementation","type":"address"},
 {"indexed":false,"internalType":"bytes32","name":"salt","type":"bytes32"},
 {"indexed":false,"internalType":"uint256","name":"chainId","type":"uint256"},
 {"indexed":true,"internalType":"address","name":"tokenContract","type":"address"},
 {"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"}],
 "name":"ERC6551AccountCreated","type":"event"},
{"inputs":[
 {"internalType":"address","name":"implementation","type":"address"},
 {"internalType":"bytes32","name":"salt","type":"bytes32"},
 {"internalType":"uint256","name":"chainId","type":"uint256"},
 {"internalType":"address","name":"tokenContract","type":"address"},
 {"internalType":"uint256","name":"tokenId","type":"uint256"}],
 "name":"account","outputs":[{"internalType":"address","name":"","type":"address"}],
 "stateMutability":"view","type":"function"},
{"inputs":[
 {"internalType":"address","name":"implementation","type":"address"},
 {"internalType":"bytes32","name":"salt","type":"bytes32"},
 {"internalType":"uint256","name":"chainId","type":"uint256"},
 {"internalType":"address","name":"tokenContract","type":"address"},
 {"internalType":"uint256","name":"tokenId","type":"uint256"}],
 "name":"createAccount","outputs":[{"internalType":"address","name":"","type":"address"}],
 "stateMutability":"nonpayable","type":"function"}
]`

// RegistryABI is the parsed registry ABI.
var RegistryABI = mustParseABI(RegistryABIJSON)

var ErrNoAccountCreatedEvent = errors.New("log is not an ERC6551AccountCreated event")

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("erc6551: invalid registry ABI: %v", err))
	}
	return parsed
}

// AccountCreated mirrors the ERC6551AccountCreated event.
type AccountCreated struct {
	Account        common.Address
	Implementation common.Address
	Salt           [32]byte
	ChainId        *big.Int
	TokenContract  common.Address
	TokenId        *big.Int
	Raw            types.Log
}

// PackAccount encodes a call to account(...).
func PackAccount(implementation common.Address, salt [32]byte, chainID *big.Int, tokenContract common.Address, tokenID *big.Int) ([]byte, error) {
	return RegistryABI.Pack(MethodAccount, implementation, salt, chainID, tokenContract, tokenID)
}

// PackCreateAccount encodes a call to createAccount(...).
func PackCreateAccount(implementation common.Address, salt [32]byte, chainID *big.Int, tokenContract common.Address, tokenID *big.Int) ([]byte, error) {
	return RegistryABI.Pack(MethodCreateAccount, implementation, salt, chainID, tokenContract, tokenID)
}

// UnpackAddress decodes the single address returned by account and createAccount.
func UnpackAddress(method string, output []byte) (common.Address, error) {
	if len(output) == 0 {
		return common.Address{}, fmt.Errorf("empty return data from %s", method)
	}

	out, err := RegistryABI.Unpack(method, output)
	if err != nil {
		return common.Address{}, err
	}

	addr := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	return addr, nil
}

// ParseAccountCreated decodes an ERC6551AccountCreated log.
func ParseAccountCreated(log types.Log) (*AccountCreated, error) {
	event := RegistryABI.Events[EventAccountCreated]
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return nil, ErrNoAccountCreatedEvent
	}

	out := new(AccountCreated)
	if len(log.Data) > 0 {
		if err := RegistryABI.UnpackIntoInterface(out, EventAccountCreated, log.Data); err != nil {
			return nil, err
		}
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
		return nil, err
	}

	out.Raw = log
	return out, nil
}

// FindAccountCreated returns the first ERC6551AccountCreated event emitted by registry.
func FindAccountCreated(registry common.Address, logs []*types.Log) (*AccountCreated, bool) {
	for _, l := range logs {
		if l == nil || l.Address != registry {
			continue
		}
		ev, err := ParseAccountCreated(*l)
		if err != nil {
			continue
		}
		return ev, true
	}
	return nil, false
}

// RevertErrorName returns the name of the registry custom error encoded in
// revert data, if any.
func RevertErrorName(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	for name, e := range RegistryABI.Errors {
		if bytes.Equal(e.ID[:4], data[:4]) {
			return name, true
		}
	}
	return "", false
}
