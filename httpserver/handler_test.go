package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tba-provisioner/bindings/erc6551"
	"github.com/ruteri/tba-provisioner/chain"
	"github.com/ruteri/tba-provisioner/interfaces"
	"github.com/ruteri/tba-provisioner/provisioner"
	"github.com/ruteri/tba-provisioner/registry"
	"github.com/ruteri/tba-provisioner/workflow"
)

var (
	testChainID        = big.NewInt(11155111)
	testImplementation = common.HexToAddress("0xAAAA000000000000000000000000000000001111")
	testNFT            = common.HexToAddress("0x6B57b7eDF751829DfB2AeCcF578D6d24C33a45A2")
	testAccount        = common.HexToAddress("0x4f668C8349AF42E35e2DA76c527f092f91525a1c")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newChainHandler wires the handler to an in-memory chain.
func newChainHandler(t *testing.T) (*Handler, *chain.MockChainClient) {
	t.Helper()
	m := chain.NewMockChainClient(testChainID)
	m.SetTransactOpts()
	m.SetCode(testImplementation, []byte{0x60, 0x00})

	log := testLogger()
	accounts := registry.NewAccountRegistrar(m, erc6551.DefaultRegistryAddress, log)
	wf := workflow.New(m, provisioner.NewImplementationProvisioner(m, log), accounts, erc6551.DefaultRegistryAddress, log)
	return NewHandler(accounts, wf, testChainID, testImplementation, log), m
}

func newMockHandler(accounts *registry.MockRegistrar) *Handler {
	m := chain.NewMockChainClient(testChainID)
	wf := workflow.New(m, provisioner.NewImplementationProvisioner(m, testLogger()), accounts, erc6551.DefaultRegistryAddress, testLogger())
	return NewHandler(accounts, wf, testChainID, testImplementation, testLogger())
}

func router(h *Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/api/v1/account", h.HandleDeriveAccount)
	mux.Post("/api/v1/account", h.HandleEnsureAccount)
	return mux
}

func postAccount(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, AccountResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/account", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp AccountResponse
	if w.Code < 300 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHandleDeriveAccount(t *testing.T) {
	h, m := newChainHandler(t)
	mux := router(h)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/account?nft_contract=%s&token_id=1", testNFT.Hex()), nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp AccountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testAccount, resp.Account)
	assert.Equal(t, testImplementation, resp.Implementation)
	assert.Equal(t, "11155111", resp.ChainID)
	assert.Equal(t, "1", resp.TokenID)
	assert.Equal(t, interfaces.Salt{}.String(), resp.Salt)
	assert.Nil(t, resp.Created)
	assert.Empty(t, m.SentTransactions())

	// hex token id and explicit salt
	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/account?nft_contract=%s&token_id=0x01&salt=0x01", testNFT.Hex()), nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, testAccount, resp.Account)
	assert.Equal(t, "1", resp.TokenID)
}

func TestHandleDeriveAccount_BadRequest(t *testing.T) {
	accounts := new(registry.MockRegistrar)
	mux := router(newMockHandler(accounts))

	tests := []struct {
		name  string
		query string
	}{
		{name: "missing nft contract", query: "token_id=1"},
		{name: "malformed nft contract", query: "nft_contract=0x1234&token_id=1"},
		{name: "missing token id", query: "nft_contract=" + testNFT.Hex()},
		{name: "negative token id", query: "nft_contract=" + testNFT.Hex() + "&token_id=-1"},
		{name: "token id overflows", query: "nft_contract=" + testNFT.Hex() + "&token_id=0x1" + fmt.Sprintf("%064x", 0)},
		{name: "salt too long", query: "nft_contract=" + testNFT.Hex() + "&token_id=1&salt=0x" + fmt.Sprintf("%066x", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/account?"+tt.query, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	accounts.AssertNotCalled(t, "DeriveAddress", mock.Anything, mock.Anything)
}

func TestHandleEnsureAccount(t *testing.T) {
	h, m := newChainHandler(t)
	mux := router(h)
	body := fmt.Sprintf(`{"nft_contract":"%s","token_id":"1"}`, testNFT.Hex())

	w, resp := postAccount(t, mux, body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, testAccount, resp.Account)
	require.NotNil(t, resp.Created)
	assert.True(t, *resp.Created)
	assert.NotNil(t, resp.TxHash)

	w, resp = postAccount(t, mux, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testAccount, resp.Account)
	require.NotNil(t, resp.Created)
	assert.False(t, *resp.Created)
	assert.Nil(t, resp.TxHash)

	assert.Equal(t, 1, m.AccountsCreated())

	w, _ = postAccount(t, mux, `{"nft_contract":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEnsureAccount_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "creation reverted", err: interfaces.ErrCreationReverted, status: http.StatusUnprocessableEntity},
		{name: "invalid tuple", err: interfaces.ErrInvalidTuple, status: http.StatusBadRequest},
		{name: "transient", err: interfaces.ErrTransientChainError, status: http.StatusBadGateway},
		{name: "inclusion timeout", err: interfaces.ErrInclusionTimeout, status: http.StatusGatewayTimeout},
		{name: "outcome unknown", err: interfaces.ErrOutcomeUnknown, status: http.StatusGatewayTimeout},
		{name: "invariant violation", err: interfaces.ErrRegistryInvariantViolation, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := new(registry.MockRegistrar)
			accounts.On("EnsureAccount", mock.Anything, mock.Anything).
				Return(nil, &interfaces.ProvisioningError{Op: "ensure account", Err: tt.err})

			w, _ := postAccount(t, router(newMockHandler(accounts)), fmt.Sprintf(`{"nft_contract":"%s","token_id":"7"}`, testNFT.Hex()))
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.err.Error())
			accounts.AssertExpectations(t)
		})
	}
}
