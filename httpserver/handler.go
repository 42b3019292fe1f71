package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/ruteri/tba-provisioner/interfaces"
)

// maxBodySize is the maximum allowed request body size (64KB).
const maxBodySize = 64 * 1024

// AccountProvisioner creates accounts and reads them back from the registry.
// It is implemented by workflow.Workflow.
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, chainID *big.Int, implementation common.Address, nft interfaces.NftIdentity, salt interfaces.Salt) (*interfaces.TbaRecord, error)
}

// AccountRequest is the body of POST /api/v1/account. TokenID is a decimal
// or 0x-prefixed hex string, Salt an optional hex string.
type AccountRequest struct {
	NftContract string `json:"nft_contract"`
	TokenID     string `json:"token_id"`
	Salt        string `json:"salt,omitempty"`
}

// AccountResponse describes a token-bound account.
type AccountResponse struct {
	Account        common.Address `json:"account"`
	Implementation common.Address `json:"implementation"`
	ChainID        string         `json:"chain_id"`
	NftContract    common.Address `json:"nft_contract"`
	TokenID        string         `json:"token_id"`
	Salt           string         `json:"salt"`
	Created        *bool          `json:"created,omitempty"`
	TxHash         *common.Hash   `json:"tx_hash,omitempty"`
}

// Handler serves account derivation and creation for one implementation on
// one chain.
type Handler struct {
	accounts       interfaces.AccountRegistrar
	provisioner    AccountProvisioner
	chainID        *big.Int
	implementation common.Address
	log            *slog.Logger
}

// NewHandler creates a handler. Derivation goes through accounts, creation
// through provisioner.
func NewHandler(accounts interfaces.AccountRegistrar, provisioner AccountProvisioner, chainID *big.Int, implementation common.Address, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		accounts:       accounts,
		provisioner:    provisioner,
		chainID:        chainID,
		implementation: implementation,
		log:            log,
	}
}

// HandleDeriveAccount returns the account address of an NFT without
// touching chain state.
//
// URL format: GET /api/v1/account?nft_contract=0x...&token_id=1[&salt=0x...]
func (h *Handler) HandleDeriveAccount(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	nft, salt, err := parseAccountRequest(AccountRequest{
		NftContract: query.Get("nft_contract"),
		TokenID:     query.Get("token_id"),
		Salt:        query.Get("salt"),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tuple := interfaces.NewAccountTuple(h.implementation, salt, h.chainID, nft)
	account, err := h.accounts.DeriveAddress(r.Context(), tuple)
	if err != nil {
		h.log.Error("Derivation failed", "err", err, "tuple", tuple)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.writeJSON(w, http.StatusOK, h.response(tuple, account))
}

// HandleEnsureAccount creates the account of an NFT unless it exists.
// Repeating the request is safe; only the creating call reports created.
//
// URL format: POST /api/v1/account
// Request body: AccountRequest as JSON
func (h *Handler) HandleEnsureAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	nft, salt, err := parseAccountRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, err := h.provisioner.EnsureAccount(r.Context(), h.chainID, h.implementation, nft, salt)
	if err != nil {
		h.log.Error("Account provisioning failed", "err", err,
			slog.String("nftContract", nft.Contract.Hex()),
			slog.String("tokenId", nft.TokenID.String()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	tuple := interfaces.NewAccountTuple(h.implementation, salt, h.chainID, nft)
	resp := h.response(tuple, record.DerivedAddress)
	resp.Created = &record.Created
	resp.TxHash = record.TxHash

	status := http.StatusOK
	if record.Created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) response(tuple interfaces.AccountTuple, account common.Address) *AccountResponse {
	return &AccountResponse{
		Account:        account,
		Implementation: tuple.Implementation,
		ChainID:        tuple.ChainID.String(),
		NftContract:    tuple.TokenContract,
		TokenID:        tuple.TokenID.String(),
		Salt:           tuple.Salt.String(),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func parseAccountRequest(req AccountRequest) (interfaces.NftIdentity, interfaces.Salt, error) {
	if !common.IsHexAddress(req.NftContract) {
		return interfaces.NftIdentity{}, interfaces.Salt{}, fmt.Errorf("invalid nft_contract %q", req.NftContract)
	}

	tokenID, ok := math.ParseBig256(req.TokenID)
	if !ok || req.TokenID == "" || tokenID.Sign() < 0 {
		return interfaces.NftIdentity{}, interfaces.Salt{}, fmt.Errorf("invalid token_id %q", req.TokenID)
	}

	salt, err := interfaces.ParseSalt(req.Salt)
	if err != nil {
		return interfaces.NftIdentity{}, interfaces.Salt{}, err
	}

	return interfaces.NftIdentity{
		Contract: common.HexToAddress(req.NftContract),
		TokenID:  tokenID,
	}, salt, nil
}

// statusFor maps provisioning errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrInvalidTuple):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrCreationReverted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrOutcomeUnknown),
		errors.Is(err, interfaces.ErrInclusionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, interfaces.ErrTransientChainError),
		errors.Is(err, interfaces.ErrNotAContract):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
