package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/tba-provisioner/bindings/erc6551"
	"github.com/ruteri/tba-provisioner/interfaces"
)

// MockRegistryCode is the placeholder code installed at mock registry addresses.
var MockRegistryCode = common.FromHex("0x6551")

// MockSender is the account the mock signs transactions as.
var MockSender = common.HexToAddress("0x5E4dE7000000000000000000000000000000C0DE")

// SentTx records a transaction accepted by the mock.
type SentTx struct {
	Hash common.Hash
	To   *common.Address
	Data []byte
}

// MockChainClient is an in-memory chain with ERC-6551 registries. Account
// addresses follow the same CREATE2 derivation as the deployed registry.
// It is safe for concurrent use.
type MockChainClient struct {
	mutex            sync.Mutex
	chainID          *big.Int
	nonce            uint64
	blockNumber      uint64
	registries       map[common.Address]bool
	code             map[common.Address][]byte
	receipts         map[common.Hash]*types.Receipt
	pending          []SentTx
	sent             []SentTx
	accountsCreated  int
	allowTransacting bool

	// RevertOnExisting makes createAccount revert with AccountCreationFailed
	// when the account already exists instead of returning it.
	RevertOnExisting bool

	// MisreportedAccount, when set, is the address the registry creates and
	// reports instead of the derived one.
	MisreportedAccount common.Address

	// WithholdReceipts keeps submitted transactions pending until
	// ReleasePending is called.
	WithholdReceipts bool

	// FailDeployments makes contract creations revert.
	FailDeployments bool

	// ReceiptTimeout bounds WaitForReceipt; zero waits for ctx.
	ReceiptTimeout time.Duration

	// AfterGetCode and AfterSend run outside the lock after the respective call.
	AfterGetCode func(addr common.Address)
	AfterSend    func(txHash common.Hash)
}

// NewMockChainClient creates a mock chain with a registry at the canonical address.
// The client starts read-only; call SetTransactOpts to allow transactions.
func NewMockChainClient(chainID *big.Int) *MockChainClient {
	m := &MockChainClient{
		chainID:    new(big.Int).Set(chainID),
		registries: make(map[common.Address]bool),
		code:       make(map[common.Address][]byte),
		receipts:   make(map[common.Hash]*types.Receipt),
	}
	m.InstallRegistry(erc6551.DefaultRegistryAddress)
	return m
}

// SetTransactOpts enables transactions.
func (m *MockChainClient) SetTransactOpts() {
	m.allowTransacting = true
}

// InstallRegistry places a registry at addr.
func (m *MockChainClient) InstallRegistry(addr common.Address) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.registries[addr] = true
	m.code[addr] = MockRegistryCode
}

// SetCode places arbitrary code at addr.
func (m *MockChainClient) SetCode(addr common.Address, code []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.code[addr] = common.CopyBytes(code)
}

// SentTransactions returns the transactions accepted so far.
func (m *MockChainClient) SentTransactions() []SentTx {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]SentTx(nil), m.sent...)
}

// AccountsCreated returns how many accounts the registries created.
func (m *MockChainClient) AccountsCreated() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.accountsCreated
}

// ReleasePending executes withheld transactions in submission order.
func (m *MockChainClient) ReleasePending() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, tx := range m.pending {
		m.execute(tx)
	}
	m.pending = nil
}

func (m *MockChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrTransientChainError, err)
	}
	return new(big.Int).Set(m.chainID), nil
}

func (m *MockChainClient) Deploy(ctx context.Context, bytecode []byte) (common.Address, common.Hash, error) {
	if !m.allowTransacting {
		return common.Address{}, common.Hash{}, interfaces.ErrNoTransactOpts
	}
	if err := ctx.Err(); err != nil {
		return common.Address{}, common.Hash{}, fmt.Errorf("%w: %w", interfaces.ErrTransientChainError, err)
	}

	m.mutex.Lock()
	addr := crypto.CreateAddress(MockSender, m.nonce)
	tx := m.submit(nil, bytecode)
	m.mutex.Unlock()

	if m.AfterSend != nil {
		m.AfterSend(tx.Hash)
	}
	return addr, tx.Hash, nil
}

func (m *MockChainClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrTransientChainError, err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.registries[to] {
		return nil, nil
	}

	method, args, err := decodeRegistryCall(data)
	if err != nil {
		return nil, &interfaces.RevertError{}
	}
	return method.Outputs.Pack(m.reportedAccount(to, args))
}

func (m *MockChainClient) SendTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if !m.allowTransacting {
		return common.Hash{}, interfaces.ErrNoTransactOpts
	}
	if err := ctx.Err(); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", interfaces.ErrTransientChainError, err)
	}

	m.mutex.Lock()
	if len(m.code[to]) == 0 {
		m.mutex.Unlock()
		return common.Hash{}, fmt.Errorf("%w: %s", interfaces.ErrNotAContract, to.Hex())
	}
	tx := m.submit(&to, data)
	m.mutex.Unlock()

	if m.AfterSend != nil {
		m.AfterSend(tx.Hash)
	}
	return tx.Hash, nil
}

func (m *MockChainClient) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if m.ReceiptTimeout > 0 {
		timer := time.NewTimer(m.ReceiptTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m.mutex.Lock()
		receipt, ok := m.receipts[txHash]
		m.mutex.Unlock()
		if ok {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("%w: %s", interfaces.ErrInclusionTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}

func (m *MockChainClient) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrTransientChainError, err)
	}

	m.mutex.Lock()
	code := common.CopyBytes(m.code[addr])
	m.mutex.Unlock()

	if m.AfterGetCode != nil {
		m.AfterGetCode(addr)
	}
	return code, nil
}

// submit must be called with the mutex held.
func (m *MockChainClient) submit(to *common.Address, data []byte) SentTx {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], m.nonce)
	m.nonce++

	tx := SentTx{
		Hash: crypto.Keccak256Hash(MockSender.Bytes(), nonce[:], data),
		To:   to,
		Data: common.CopyBytes(data),
	}
	m.sent = append(m.sent, tx)

	if m.WithholdReceipts {
		m.pending = append(m.pending, tx)
	} else {
		m.execute(tx)
	}
	return tx
}

// execute applies tx and stores its receipt. Must be called with the mutex held.
func (m *MockChainClient) execute(tx SentTx) {
	m.blockNumber++
	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash,
		BlockNumber: new(big.Int).SetUint64(m.blockNumber),
		GasUsed:     21000,
	}

	switch {
	case tx.To == nil:
		addr := crypto.CreateAddress(MockSender, m.sentNonce(tx.Hash))
		receipt.ContractAddress = addr
		if m.FailDeployments || len(tx.Data) == 0 {
			receipt.Status = types.ReceiptStatusFailed
		} else {
			m.code[addr] = common.CopyBytes(tx.Data)
		}
	case m.registries[*tx.To]:
		m.executeRegistryCall(*tx.To, tx.Data, receipt)
	}

	for _, l := range receipt.Logs {
		l.TxHash = tx.Hash
		l.BlockNumber = m.blockNumber
	}
	m.receipts[tx.Hash] = receipt
}

func (m *MockChainClient) executeRegistryCall(registry common.Address, data []byte, receipt *types.Receipt) {
	method, args, err := decodeRegistryCall(data)
	if err != nil || method.Name != erc6551.MethodCreateAccount {
		receipt.Status = types.ReceiptStatusFailed
		return
	}

	account := m.reportedAccount(registry, args)
	if len(m.code[account]) > 0 {
		if m.RevertOnExisting {
			receipt.Status = types.ReceiptStatusFailed
		}
		return
	}

	m.code[account] = erc6551.AccountRuntimeCode(args.implementation, args.salt, args.chainID, args.tokenContract, args.tokenID)
	m.accountsCreated++

	event := erc6551.RegistryABI.Events[erc6551.EventAccountCreated]
	eventData, err := event.Inputs.NonIndexed().Pack(account, args.salt, args.chainID)
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
		return
	}

	receipt.Logs = append(receipt.Logs, &types.Log{
		Address: registry,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(args.implementation.Bytes()),
			common.BytesToHash(args.tokenContract.Bytes()),
			common.BigToHash(args.tokenID),
		},
		Data: eventData,
	})
}

func (m *MockChainClient) reportedAccount(registry common.Address, args registryArgs) common.Address {
	if m.MisreportedAccount != (common.Address{}) {
		return m.MisreportedAccount
	}
	return erc6551.ComputeAccountAddress(registry, args.implementation, args.salt, args.chainID, args.tokenContract, args.tokenID)
}

func (m *MockChainClient) sentNonce(hash common.Hash) uint64 {
	for i, tx := range m.sent {
		if tx.Hash == hash {
			return uint64(i)
		}
	}
	return 0
}

type registryArgs struct {
	implementation common.Address
	salt           [32]byte
	chainID        *big.Int
	tokenContract  common.Address
	tokenID        *big.Int
}

func decodeRegistryCall(data []byte) (*abi.Method, registryArgs, error) {
	if len(data) < 4 {
		return nil, registryArgs{}, errors.New("calldata too short")
	}
	method, err := erc6551.RegistryABI.MethodById(data[:4])
	if err != nil {
		return nil, registryArgs{}, err
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, registryArgs{}, err
	}
	if len(values) != 5 {
		return nil, registryArgs{}, errors.New("unexpected argument count")
	}

	args := registryArgs{
		implementation: values[0].(common.Address),
		salt:           values[1].([32]byte),
		chainID:        values[2].(*big.Int),
		tokenContract:  values[3].(common.Address),
		tokenID:        values[4].(*big.Int),
	}
	return method, args, nil
}
