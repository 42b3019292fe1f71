package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tba-provisioner/bindings/erc6551"
	"github.com/ruteri/tba-provisioner/chain"
	"github.com/ruteri/tba-provisioner/interfaces"
	"github.com/ruteri/tba-provisioner/metrics"
	"github.com/ruteri/tba-provisioner/provisioner"
	"github.com/ruteri/tba-provisioner/registry"
	"github.com/ruteri/tba-provisioner/storage"
)

var (
	sepolia                = big.NewInt(11155111)
	testNFT                = common.HexToAddress("0x6B57b7eDF751829DfB2AeCcF578D6d24C33a45A2")
	implementationBytecode = common.FromHex("0x6001600c60003960016000f300")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func token(id int64) interfaces.NftIdentity {
	return interfaces.NftIdentity{Contract: testNFT, TokenID: big.NewInt(id)}
}

func deployments(m *chain.MockChainClient) int {
	n := 0
	for _, tx := range m.SentTransactions() {
		if tx.To == nil {
			n++
		}
	}
	return n
}

func setupWorkflow(t *testing.T) (*Workflow, *chain.MockChainClient) {
	t.Helper()
	m := chain.NewMockChainClient(sepolia)
	m.SetTransactOpts()

	log := testLogger()
	w := New(m,
		provisioner.NewImplementationProvisioner(m, log),
		registry.NewAccountRegistrar(m, erc6551.DefaultRegistryAddress, log),
		erc6551.DefaultRegistryAddress,
		log)
	return w, m
}

func setupLedger(t *testing.T) *storage.Ledger {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	return storage.NewLedger(backend, testLogger())
}

func TestRun_DeployThenReuse(t *testing.T) {
	w, m := setupWorkflow(t)
	ctx := context.Background()

	res, err := w.Run(ctx, Request{
		ChainID:        sepolia,
		Implementation: interfaces.DeployFresh{Bytecode: implementationBytecode},
		Nft:            token(1),
	})
	require.NoError(t, err)

	implAddr := crypto.CreateAddress(chain.MockSender, 0)
	assert.Equal(t, implAddr, res.Implementation.Address)
	assert.NotNil(t, res.Implementation.DeployTx)
	assert.False(t, res.ImplementationCached)
	assert.Equal(t, 0, sepolia.Cmp(res.ChainID))
	assert.Equal(t, erc6551.DefaultRegistryAddress, res.Registry)

	expected := erc6551.ComputeAccountAddress(erc6551.DefaultRegistryAddress, implAddr, [32]byte{}, sepolia, testNFT, big.NewInt(1))
	assert.Equal(t, expected, res.Account.DerivedAddress)
	assert.True(t, res.Account.Created)
	require.NotNil(t, res.Account.TxHash)

	again, err := w.Run(ctx, Request{
		Implementation: interfaces.ExistingAddress{Ref: interfaces.ImplementationRef{Address: implAddr}},
		Nft:            token(1),
	})
	require.NoError(t, err)
	assert.Nil(t, again.Implementation.DeployTx)
	assert.Equal(t, expected, again.Account.DerivedAddress)
	assert.False(t, again.Account.Created)
	assert.Nil(t, again.Account.TxHash)

	assert.Equal(t, 1, m.AccountsCreated())
	assert.Equal(t, 1, deployments(m))
}

func TestRun_ChainMismatch(t *testing.T) {
	w, m := setupWorkflow(t)

	_, err := w.Run(context.Background(), Request{
		ChainID:        big.NewInt(1),
		Implementation: interfaces.DeployFresh{Bytecode: implementationBytecode},
		Nft:            token(1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrChainMismatch)

	var provErr *interfaces.ProvisioningError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, opProvision, provErr.Op)
	assert.Empty(t, m.SentTransactions())
}

func TestRun_ImplementationFailure(t *testing.T) {
	w, m := setupWorkflow(t)
	m.FailDeployments = true

	failures := metrics.Failures.WithLabelValues(opImplementation, "deployment_failed")
	before := testutil.ToFloat64(failures)

	_, err := w.Run(context.Background(), Request{
		Implementation: interfaces.DeployFresh{Bytecode: implementationBytecode},
		Nft:            token(1),
	})
	assert.ErrorIs(t, err, interfaces.ErrDeploymentFailed)
	assert.Equal(t, 0, m.AccountsCreated())
	assert.Len(t, m.SentTransactions(), 1)
	assert.Equal(t, before+1, testutil.ToFloat64(failures))
}

func TestRun_ReuseCachedImplementation(t *testing.T) {
	w, m := setupWorkflow(t)
	ledger := setupLedger(t)
	w.SetLedger(ledger)
	w.SetReuseCachedImplementation(true)
	ctx := context.Background()

	first, err := w.Run(ctx, Request{
		Implementation: interfaces.DeployFresh{Bytecode: implementationBytecode},
		Nft:            token(1),
	})
	require.NoError(t, err)
	assert.False(t, first.ImplementationCached)

	second, err := w.Run(ctx, Request{
		Implementation: interfaces.DeployFresh{Bytecode: implementationBytecode},
		Nft:            token(2),
	})
	require.NoError(t, err)
	assert.True(t, second.ImplementationCached)
	assert.Equal(t, first.Implementation.Address, second.Implementation.Address)
	assert.Equal(t, first.Implementation.DeployTx, second.Implementation.DeployTx)
	assert.True(t, second.Account.Created)
	assert.NotEqual(t, first.Account.DerivedAddress, second.Account.DerivedAddress)
	assert.Equal(t, 1, deployments(m))

	entry, err := ledger.Account(ctx, sepolia, second.Account.DerivedAddress)
	require.NoError(t, err)
	assert.True(t, entry.Created)
	assert.Equal(t, first.Implementation.Address, entry.Implementation)
	assert.Equal(t, 0, entry.TokenID.Cmp(big.NewInt(2)))
}

func TestRun_StaleCachedImplementation(t *testing.T) {
	w, m := setupWorkflow(t)
	ledger := setupLedger(t)
	w.SetLedger(ledger)
	w.SetReuseCachedImplementation(true)
	ctx := context.Background()

	// recorded on a chain that has since been reset
	stale := common.HexToAddress("0x00000000000000000000000000000000000057a1")
	require.NoError(t, ledger.RecordImplementation(ctx, implementationBytecode, storage.ImplementationEntry{
		ChainID: sepolia,
		Address: stale,
	}))

	res, err := w.Run(ctx, Request{
		Implementation: interfaces.DeployFresh{Bytecode: implementationBytecode},
		Nft:            token(1),
	})
	require.NoError(t, err)
	assert.False(t, res.ImplementationCached)
	assert.NotEqual(t, stale, res.Implementation.Address)
	assert.Equal(t, 1, deployments(m))

	// the fresh deployment replaces the stale entry
	entry, err := ledger.CachedImplementation(ctx, sepolia, implementationBytecode)
	require.NoError(t, err)
	assert.Equal(t, res.Implementation.Address, entry.Address)
}

func TestEnsureAccount_Failures(t *testing.T) {
	impl := common.HexToAddress("0xAAAA000000000000000000000000000000001111")
	account := common.HexToAddress("0x4f668C8349AF42E35e2DA76c527f092f91525a1c")

	newWorkflow := func(accounts interfaces.AccountRegistrar) *Workflow {
		m := chain.NewMockChainClient(sepolia)
		return New(m, provisioner.NewImplementationProvisioner(m, testLogger()), accounts, erc6551.DefaultRegistryAddress, testLogger())
	}

	t.Run("registrar error passes through", func(t *testing.T) {
		tuple := interfaces.NewAccountTuple(impl, interfaces.Salt{}, sepolia, token(1))
		registrarErr := &interfaces.ProvisioningError{
			Op:             opAccount,
			Tuple:          &tuple,
			DerivedAddress: &account,
			Err:            interfaces.ErrCreationReverted,
		}

		accounts := new(registry.MockRegistrar)
		accounts.On("EnsureAccount", mock.Anything, tuple).Return(nil, registrarErr)

		_, err := newWorkflow(accounts).EnsureAccount(context.Background(), sepolia, impl, token(1), interfaces.Salt{})
		assert.Same(t, registrarErr, err)
		accounts.AssertNotCalled(t, "DeriveAddress", mock.Anything, mock.Anything)
	})

	t.Run("read back failure after creation", func(t *testing.T) {
		txHash := common.HexToHash("0xfeed")
		accounts := new(registry.MockRegistrar)
		accounts.On("EnsureAccount", mock.Anything, mock.Anything).
			Return(&interfaces.TbaRecord{DerivedAddress: account, Created: true, TxHash: &txHash}, nil)
		accounts.On("DeriveAddress", mock.Anything, mock.Anything).
			Return(common.Address{}, fmt.Errorf("%w: dial", interfaces.ErrTransientChainError))

		record, err := newWorkflow(accounts).EnsureAccount(context.Background(), sepolia, impl, token(1), interfaces.Salt{})
		assert.Nil(t, record)
		assert.ErrorIs(t, err, interfaces.ErrTransientChainError)

		var provErr *interfaces.ProvisioningError
		require.True(t, errors.As(err, &provErr))
		require.NotNil(t, provErr.TxHash)
		assert.Equal(t, txHash, *provErr.TxHash)
		require.NotNil(t, provErr.DerivedAddress)
		assert.Equal(t, account, *provErr.DerivedAddress)
		require.NotNil(t, provErr.Tuple)
		assert.Equal(t, impl, provErr.Tuple.Implementation)
		accounts.AssertExpectations(t)
	})

	t.Run("read back mismatch", func(t *testing.T) {
		accounts := new(registry.MockRegistrar)
		accounts.On("EnsureAccount", mock.Anything, mock.Anything).Return(&interfaces.TbaRecord{DerivedAddress: account}, nil)
		accounts.On("DeriveAddress", mock.Anything, mock.Anything).Return(common.HexToAddress("0x01"), nil)

		_, err := newWorkflow(accounts).EnsureAccount(context.Background(), sepolia, impl, token(1), interfaces.Salt{})
		assert.ErrorIs(t, err, interfaces.ErrRegistryInvariantViolation)

		var provErr *interfaces.ProvisioningError
		require.True(t, errors.As(err, &provErr))
		require.NotNil(t, provErr.DerivedAddress)
		assert.Equal(t, account, *provErr.DerivedAddress)
		accounts.AssertExpectations(t)
	})
}
