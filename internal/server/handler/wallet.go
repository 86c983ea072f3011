package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/service"
)

// WalletHandler serves the wallet registry and all wallet-scoped queries.
type WalletHandler struct {
	wallets *service.WalletService
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler with the given service and logger.
func NewWalletHandler(wallets *service.WalletService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		logger:  logHandler(logger, "wallet"),
	}
}

// listWalletsResponse wraps the list wallets response.
type listWalletsResponse struct {
	Wallets []domain.TrackedWallet `json:"wallets"`
}

// ListWallets returns every tracked wallet.
// GET /api/wallets
func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.wallets.Wallets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list wallets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list wallets")
		return
	}
	if wallets == nil {
		wallets = []domain.TrackedWallet{}
	}
	writeJSON(w, http.StatusOK, listWalletsResponse{Wallets: wallets})
}

// addWalletRequest is the body for adding a wallet to the tracked set.
type addWalletRequest struct {
	Address string `json:"address"`
}

// AddWallet adds a wallet address to the tracked set. The scheduler picks it
// up on its next reconcile pass.
// POST /api/wallets
func (h *WalletHandler) AddWallet(w http.ResponseWriter, r *http.Request) {
	var req addWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	if err := h.wallets.AddWallet(r.Context(), req.Address); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: add wallet failed",
				slog.String("address", req.Address),
				slog.String("error", err.Error()),
			)
			writeError(w, status, "failed to add wallet")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"address": req.Address, "status": "tracking"})
}

// RemoveWallet removes a wallet from the tracked set. Stored transactions and
// positions are kept.
// DELETE /api/wallets/{address}
func (h *WalletHandler) RemoveWallet(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")

	if err := h.wallets.RemoveWallet(r.Context(), address); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: remove wallet failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
			writeError(w, status, "failed to remove wallet")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// listTransactionsResponse wraps transaction list responses.
type listTransactionsResponse struct {
	Transactions []domain.ClassifiedTransaction `json:"transactions"`
}

// ListTransactions returns a wallet's most recent classified transactions.
// GET /api/wallets/{address}/transactions
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	h.listTransactions(w, r, h.wallets.LastTransactions)
}

// ListBuys returns a wallet's recent BUY transactions.
// GET /api/wallets/{address}/buys
func (h *WalletHandler) ListBuys(w http.ResponseWriter, r *http.Request) {
	h.listTransactions(w, r, h.wallets.Buys)
}

// ListSells returns a wallet's recent SELL transactions.
// GET /api/wallets/{address}/sells
func (h *WalletHandler) ListSells(w http.ResponseWriter, r *http.Request) {
	h.listTransactions(w, r, h.wallets.Sells)
}

type txListFunc func(ctx context.Context, address string, limit int) ([]domain.ClassifiedTransaction, error)

func (h *WalletHandler) listTransactions(w http.ResponseWriter, r *http.Request, list txListFunc) {
	address := pathParam(r, "address")
	limit := parseLimit(r)

	txs, err := list(r.Context(), address, limit)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: list transactions failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
			writeError(w, status, "failed to list transactions")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	if txs == nil {
		txs = []domain.ClassifiedTransaction{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Transactions: txs})
}

// GetInfo returns the aggregate holdings and PnL picture for one wallet on
// one network. The network query parameter defaults to ETH.
// GET /api/wallets/{address}/info?network=ETH
func (h *WalletHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	network, err := parseNetwork(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.wallets.WalletInfo(r.Context(), address, network)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: wallet info failed",
				slog.String("address", address),
				slog.String("network", string(network)),
				slog.String("error", err.Error()),
			)
			writeError(w, status, "failed to build wallet info")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// GetPnL returns realized PnL for one wallet, optionally narrowed by the
// token and since query parameters (since is RFC 3339).
// GET /api/wallets/{address}/pnl?token=0x...&since=2026-01-01T00:00:00Z
func (h *WalletHandler) GetPnL(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	token := r.URL.Query().Get("token")

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	report, err := h.wallets.PnL(r.Context(), address, token, since)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: pnl failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
			writeError(w, status, "failed to compute pnl")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// listTopTokensResponse wraps the top tokens response.
type listTopTokensResponse struct {
	Tokens []domain.TokenHolding `json:"tokens"`
}

// ListTopTokens ranks a wallet's current holdings by USD value or amount.
// GET /api/wallets/{address}/toptokens?network=ETH&by=value&limit=10
func (h *WalletHandler) ListTopTokens(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	network, err := parseNetwork(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	by := domain.TokenSort(r.URL.Query().Get("by"))
	switch by {
	case "":
		by = domain.TokenSortValue
	case domain.TokenSortValue, domain.TokenSortAmount:
	default:
		writeError(w, http.StatusBadRequest, "by must be value or amount")
		return
	}

	tokens, err := h.wallets.TopTokens(r.Context(), address, network, by, parseLimit(r))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: top tokens failed",
				slog.String("address", address),
				slog.String("network", string(network)),
				slog.String("error", err.Error()),
			)
			writeError(w, status, "failed to rank tokens")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	if tokens == nil {
		tokens = []domain.TokenHolding{}
	}
	writeJSON(w, http.StatusOK, listTopTokensResponse{Tokens: tokens})
}
