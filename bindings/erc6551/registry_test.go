package erc6551

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testImpl  = common.HexToAddress("0xAAAA000000000000000000000000000000001111")
	testNFT   = common.HexToAddress("0x6B57b7eDF751829DfB2AeCcF578D6d24C33a45A2")
	testChain = big.NewInt(11155111)
)

func TestAccountBytecode_Layout(t *testing.T) {
	salt := [32]byte{0x01}
	code := AccountBytecode(testImpl, salt, testChain, testNFT, big.NewInt(1))

	require.Len(t, code, AccountBytecodeLength)
	assert.Equal(t, 0xb7, len(code))
	assert.Equal(t, proxyHeader, code[:20])
	assert.Equal(t, testImpl.Bytes(), code[20:40])
	assert.Equal(t, proxyFooter, code[40:55])
	assert.Equal(t, salt[:], code[55:87])
	assert.Equal(t, testChain, new(big.Int).SetBytes(code[87:119]))
	assert.Equal(t, testNFT, common.BytesToAddress(code[119:151]))
	assert.Equal(t, big.NewInt(1), new(big.Int).SetBytes(code[151:183]))

	runtime := AccountRuntimeCode(testImpl, salt, testChain, testNFT, big.NewInt(1))
	assert.Len(t, runtime, 0xad)
	impl, ok := AccountRuntimeImplementation(runtime)
	require.True(t, ok)
	assert.Equal(t, testImpl, impl)
}

func TestAccountBytecode_DoesNotMutateInputs(t *testing.T) {
	chainID := big.NewInt(1)
	tokenID := big.NewInt(42)
	AccountBytecode(testImpl, [32]byte{}, chainID, testNFT, tokenID)
	assert.Equal(t, int64(1), chainID.Int64())
	assert.Equal(t, int64(42), tokenID.Int64())
}

func TestComputeAccountAddress(t *testing.T) {
	a1 := ComputeAccountAddress(DefaultRegistryAddress, testImpl, [32]byte{}, testChain, testNFT, big.NewInt(1))
	a2 := ComputeAccountAddress(DefaultRegistryAddress, testImpl, [32]byte{}, testChain, testNFT, big.NewInt(1))
	assert.Equal(t, a1, a2)
	assert.Equal(t, common.HexToAddress("0x4f668C8349AF42E35e2DA76c527f092f91525a1c"), a1)

	t.Run("salt changes address", func(t *testing.T) {
		other := ComputeAccountAddress(DefaultRegistryAddress, testImpl, [32]byte{31: 1}, testChain, testNFT, big.NewInt(1))
		assert.NotEqual(t, a1, other)
	})

	t.Run("token id changes address", func(t *testing.T) {
		other := ComputeAccountAddress(DefaultRegistryAddress, testImpl, [32]byte{}, testChain, testNFT, big.NewInt(2))
		assert.Equal(t, common.HexToAddress("0xf9bb5b28ad943ba436abbfd9af0a7c053c1fb7b1"), other)
	})

	t.Run("registry changes address", func(t *testing.T) {
		other := ComputeAccountAddress(common.HexToAddress("0x01"), testImpl, [32]byte{}, testChain, testNFT, big.NewInt(1))
		assert.NotEqual(t, a1, other)
	})
}

func TestPackAndUnpack(t *testing.T) {
	data, err := PackAccount(testImpl, [32]byte{}, testChain, testNFT, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, RegistryABI.Methods[MethodAccount].ID, data[:4])
	assert.Len(t, data, 4+5*32)

	create, err := PackCreateAccount(testImpl, [32]byte{}, testChain, testNFT, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, data[4:], create[4:])
	assert.NotEqual(t, data[:4], create[:4])

	want := common.HexToAddress("0x1234567890123456789012345678901234567890")
	output, err := RegistryABI.Methods[MethodAccount].Outputs.Pack(want)
	require.NoError(t, err)

	got, err := UnpackAddress(MethodAccount, output)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = UnpackAddress(MethodAccount, nil)
	assert.Error(t, err)
}

func TestParseAccountCreated(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	salt := [32]byte{0x05}
	event := RegistryABI.Events[EventAccountCreated]

	data, err := event.Inputs.NonIndexed().Pack(account, salt, testChain)
	require.NoError(t, err)

	log := types.Log{
		Address: DefaultRegistryAddress,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(testImpl.Bytes()),
			common.BytesToHash(testNFT.Bytes()),
			common.BigToHash(big.NewInt(7)),
		},
		Data: data,
	}

	ev, err := ParseAccountCreated(log)
	require.NoError(t, err)
	assert.Equal(t, account, ev.Account)
	assert.Equal(t, testImpl, ev.Implementation)
	assert.Equal(t, salt, ev.Salt)
	assert.Equal(t, testChain, ev.ChainId)
	assert.Equal(t, testNFT, ev.TokenContract)
	assert.Equal(t, big.NewInt(7), ev.TokenId)

	found, ok := FindAccountCreated(DefaultRegistryAddress, []*types.Log{nil, {Address: testNFT}, &log})
	require.True(t, ok)
	assert.Equal(t, account, found.Account)

	_, ok = FindAccountCreated(testNFT, []*types.Log{&log})
	assert.False(t, ok)

	_, err = ParseAccountCreated(types.Log{Topics: []common.Hash{{0x01}}})
	assert.ErrorIs(t, err, ErrNoAccountCreatedEvent)
}

func TestRevertErrorName(t *testing.T) {
	id := RegistryABI.Errors[ErrorCreationFailed].ID
	selector := id[:4]

	name, ok := RevertErrorName(selector)
	require.True(t, ok)
	assert.Equal(t, ErrorCreationFailed, name)

	_, ok = RevertErrorName([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.False(t, ok)

	_, ok = RevertErrorName([]byte{0x01})
	assert.False(t, ok)
}
