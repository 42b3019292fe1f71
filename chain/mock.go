package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// MockClient mocks the ChainClient interface
type MockClient struct {
	mock.Mock
}

// ChainID mocks the ChainID method
func (m *MockClient) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

// Deploy mocks the Deploy method
func (m *MockClient) Deploy(ctx context.Context, bytecode []byte) (common.Address, common.Hash, error) {
	args := m.Called(ctx, bytecode)
	return args.Get(0).(common.Address), args.Get(1).(common.Hash), args.Error(2)
}

// Call mocks the Call method
func (m *MockClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	args := m.Called(ctx, to, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// SendTx mocks the SendTx method
func (m *MockClient) SendTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	args := m.Called(ctx, to, data)
	return args.Get(0).(common.Hash), args.Error(1)
}

// WaitForReceipt mocks the WaitForReceipt method
func (m *MockClient) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

// GetCode mocks the GetCode method
func (m *MockClient) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
