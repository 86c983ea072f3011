package handler

import (
	"log/slog"
	"net/http"

	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/service"
)

// GasHandler serves the cached gas samples.
type GasHandler struct {
	wallets *service.WalletService
	logger  *slog.Logger
}

// NewGasHandler creates a GasHandler with the given service and logger.
func NewGasHandler(wallets *service.WalletService, logger *slog.Logger) *GasHandler {
	return &GasHandler{
		wallets: wallets,
		logger:  logHandler(logger, "gas"),
	}
}

// listGasResponse wraps the gas samples response.
type listGasResponse struct {
	Samples []domain.GasSample `json:"samples"`
}

// ListGas returns the most recent gas sample per network. Networks that have
// not been sampled yet are omitted.
// GET /api/gas
func (h *GasHandler) ListGas(w http.ResponseWriter, r *http.Request) {
	samples, err := h.wallets.Gas(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list gas failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read gas samples")
		return
	}
	if samples == nil {
		samples = []domain.GasSample{}
	}
	writeJSON(w, http.StatusOK, listGasResponse{Samples: samples})
}
