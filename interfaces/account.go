package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Salt is mixed into address derivation; different salts give independent
// accounts for the same NFT.
type Salt [32]byte

// ParseSalt accepts a hex string of at most 32 bytes, with or without 0x
// prefix. Shorter values are left-padded like a uint256.
func ParseSalt(s string) (Salt, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if clean == "" {
		return Salt{}, nil
	}
	if len(clean)%2 == 1 {
		clean = "0" + clean
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Salt{}, fmt.Errorf("invalid salt hex: %w", err)
	}
	if len(raw) > 32 {
		return Salt{}, errors.New("invalid salt length: must be at most 32 bytes")
	}

	var salt Salt
	copy(salt[32-len(raw):], raw)
	return salt, nil
}

// String returns the 0x-prefixed hex form.
func (s Salt) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// IsZero reports whether the salt is the default all-zero value.
func (s Salt) IsZero() bool {
	return s == Salt{}
}

// ChainTarget identifies the network the registry and implementation live on.
type ChainTarget struct {
	ChainID     *big.Int
	RPCEndpoint string
}

// NftIdentity identifies the NFT owning an account.
type NftIdentity struct {
	Contract common.Address
	TokenID  *big.Int
}

// ImplementationRef points at an account implementation contract.
// BytecodeHash, when set, is checked against keccak256 of the deployed code.
type ImplementationRef struct {
	Address      common.Address
	BytecodeHash *common.Hash
}

// AccountTuple is the full input of the registry's address derivation.
type AccountTuple struct {
	Implementation common.Address
	Salt           Salt
	ChainID        *big.Int
	TokenContract  common.Address
	TokenID        *big.Int
}

// NewAccountTuple assembles a tuple from its parts.
func NewAccountTuple(implementation common.Address, salt Salt, chainID *big.Int, nft NftIdentity) AccountTuple {
	return AccountTuple{
		Implementation: implementation,
		Salt:           salt,
		ChainID:        chainID,
		TokenContract:  nft.Contract,
		TokenID:        nft.TokenID,
	}
}

// Validate checks the tuple can be ABI-encoded and refers to real contracts.
func (t AccountTuple) Validate() error {
	if t.Implementation == (common.Address{}) {
		return fmt.Errorf("%w: implementation address is zero", ErrInvalidTuple)
	}
	if t.TokenContract == (common.Address{}) {
		return fmt.Errorf("%w: token contract address is zero", ErrInvalidTuple)
	}
	if t.ChainID == nil || t.ChainID.Sign() < 1 {
		return fmt.Errorf("%w: chain id must be at least 1", ErrInvalidTuple)
	}
	if t.ChainID.Cmp(maxUint256) > 0 {
		return fmt.Errorf("%w: chain id overflows uint256", ErrInvalidTuple)
	}
	if t.TokenID == nil || t.TokenID.Sign() < 0 {
		return fmt.Errorf("%w: token id must be non-negative", ErrInvalidTuple)
	}
	if t.TokenID.Cmp(maxUint256) > 0 {
		return fmt.Errorf("%w: token id overflows uint256", ErrInvalidTuple)
	}
	return nil
}

// NftIdentity returns the NFT part of the tuple.
func (t AccountTuple) NftIdentity() NftIdentity {
	return NftIdentity{Contract: t.TokenContract, TokenID: t.TokenID}
}

// LogValue implements slog.LogValuer.
func (t AccountTuple) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("implementation", t.Implementation.Hex()),
		slog.String("salt", t.Salt.String()),
		slog.String("chainId", bigString(t.ChainID)),
		slog.String("tokenContract", t.TokenContract.Hex()),
		slog.String("tokenId", bigString(t.TokenID)),
	)
}

// String renders the tuple for error messages.
func (t AccountTuple) String() string {
	return fmt.Sprintf("(impl=%s salt=%s chainId=%s nft=%s tokenId=%s)",
		t.Implementation.Hex(), t.Salt, bigString(t.ChainID), t.TokenContract.Hex(), bigString(t.TokenID))
}

func bigString(n *big.Int) string {
	if n == nil {
		return "<nil>"
	}
	return n.String()
}

// TbaRecord is the outcome of ensuring an account exists.
type TbaRecord struct {
	DerivedAddress common.Address `json:"derived_address"`
	Created        bool           `json:"created"`
	TxHash         *common.Hash   `json:"tx_hash,omitempty"`
}
