package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/ruteri/tba-provisioner/interfaces"
)

// MockRegistrar mocks the account registrar
type MockRegistrar struct {
	mock.Mock
}

// DeriveAddress mocks the DeriveAddress method
func (m *MockRegistrar) DeriveAddress(ctx context.Context, tuple interfaces.AccountTuple) (common.Address, error) {
	args := m.Called(ctx, tuple)
	return args.Get(0).(common.Address), args.Error(1)
}

// EnsureAccount mocks the EnsureAccount method
func (m *MockRegistrar) EnsureAccount(ctx context.Context, tuple interfaces.AccountTuple) (*interfaces.TbaRecord, error) {
	args := m.Called(ctx, tuple)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.TbaRecord), args.Error(1)
}
