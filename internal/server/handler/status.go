package handler

import (
	"log/slog"
	"net/http"

	"github.com/chainpulse/walletmon/internal/service"
)

// StatusHandler serves the running-system summary for dashboards.
type StatusHandler struct {
	wallets *service.WalletService
	logger  *slog.Logger
}

// NewStatusHandler creates a StatusHandler with the given service and logger.
func NewStatusHandler(wallets *service.WalletService, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		wallets: wallets,
		logger:  logHandler(logger, "status"),
	}
}

// GetStatus responds with uptime, the configured networks, and the size of
// the tracked wallet set.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.wallets.Status(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: status failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to build status")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
