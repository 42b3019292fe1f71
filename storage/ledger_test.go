package storage

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tba-provisioner/interfaces"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, backend.Available(ctx))
	assert.Equal(t, "file://"+dir, backend.LocationURI())

	key := interfaces.RecordKey{Kind: interfaces.AccountRecord, ID: "1-0xabc"}

	_, err = backend.Fetch(ctx, key)
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)

	require.NoError(t, backend.Store(ctx, key, []byte("first")))
	require.NoError(t, backend.Store(ctx, key, []byte("second")))

	data, err := backend.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	_, err = os.Stat(filepath.Join(dir, "accounts", "1-0xabc.json"))
	assert.NoError(t, err)

	err = backend.Store(ctx, interfaces.RecordKey{Kind: interfaces.AccountRecord, ID: "../escape"}, []byte("x"))
	assert.Error(t, err)
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())
	dir := t.TempDir()

	backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation("file://" + dir))
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	backend, err = factory.StorageBackendFor("s3://AKID:SECRET@bucket/prefix/?region=eu-west-1&endpoint=http://localhost:9000")
	require.NoError(t, err)
	assert.Equal(t, "s3-bucket", backend.Name())
	assert.NotContains(t, backend.LocationURI(), "SECRET")

	backend, err = factory.StorageBackendFor("vault://localhost:8200/secret/tba?tls=false&token=root")
	require.NoError(t, err)
	assert.Equal(t, "vault-secret-tba", backend.Name())

	_, err = factory.StorageBackendFor("ipfs://localhost:5001")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StorageBackendFor("s3:///no-bucket")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"ipfs://nope", interfaces.StorageBackendLocation("file://" + dir)})
	require.NoError(t, err)
	assert.Equal(t, "multi:[file://"+dir+"]", multi.LocationURI())

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"ipfs://nope"})
	assert.Error(t, err)
}

func TestLedger_Implementations(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)
	ledger := NewLedger(backend, discardLogger())
	ctx := context.Background()

	initCode := common.FromHex("0x6001600c60003960016000f300")
	chainID := big.NewInt(11155111)

	_, err = ledger.CachedImplementation(ctx, chainID, initCode)
	assert.True(t, IsNotFound(err))

	txHash := common.HexToHash("0x01")
	require.NoError(t, ledger.RecordImplementation(ctx, initCode, ImplementationEntry{
		ChainID:  chainID,
		Address:  common.HexToAddress("0xAAAA000000000000000000000000000000001111"),
		DeployTx: &txHash,
	}))

	entry, err := ledger.CachedImplementation(ctx, chainID, initCode)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xAAAA000000000000000000000000000000001111"), entry.Address)
	assert.Equal(t, 0, chainID.Cmp(entry.ChainID))
	assert.Equal(t, txHash, *entry.DeployTx)
	assert.False(t, entry.RecordedAt.IsZero())

	// other chain and other init code miss
	_, err = ledger.CachedImplementation(ctx, big.NewInt(1), initCode)
	assert.True(t, IsNotFound(err))
	_, err = ledger.CachedImplementation(ctx, chainID, append(initCode, 0x00))
	assert.True(t, IsNotFound(err))
}

func TestLedger_Accounts(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)
	ledger := NewLedger(backend, discardLogger())
	ctx := context.Background()

	tuple := interfaces.NewAccountTuple(
		common.HexToAddress("0xAAAA000000000000000000000000000000001111"),
		interfaces.Salt{},
		big.NewInt(11155111),
		interfaces.NftIdentity{Contract: common.HexToAddress("0x6B57b7eDF751829DfB2AeCcF578D6d24C33a45A2"), TokenID: big.NewInt(1)},
	)
	account := common.HexToAddress("0x4f668C8349AF42E35e2DA76c527f092f91525a1c")
	registry := common.HexToAddress("0x000000006551c19487814612e58FE06813775758")
	txHash := common.HexToHash("0xfeed")

	created := NewAccountEntry(registry, tuple, &interfaces.TbaRecord{DerivedAddress: account, Created: true, TxHash: &txHash})
	require.NoError(t, ledger.RecordAccount(ctx, created))

	// a later no-op observation keeps the creating transaction
	require.NoError(t, ledger.RecordAccount(ctx, NewAccountEntry(registry, tuple, &interfaces.TbaRecord{DerivedAddress: account})))

	entry, err := ledger.Account(ctx, tuple.ChainID, account)
	require.NoError(t, err)
	assert.True(t, entry.Created)
	require.NotNil(t, entry.TxHash)
	assert.Equal(t, txHash, *entry.TxHash)
	assert.Equal(t, tuple.Salt.String(), entry.Salt)
	assert.Equal(t, 0, entry.TokenID.Cmp(big.NewInt(1)))
}
