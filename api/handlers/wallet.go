package handlers

import (
	"net/http"

	"github.com/AlfredDev/alfred/api"
	"github.com/AlfredDev/alfred/types"
	"github.com/AlfredDev/alfred/wallet"
	"go.uber.org/zap"
)

// =============================================================================
// 💰 WalletHandler — balance and transfer endpoints
// =============================================================================

// WalletHandler exposes read and transfer operations over the credit
// ledger. It never reserves or settles credits itself — that happens only
// as a side effect of a completion request via ChatHandler.
type WalletHandler struct {
	store  *wallet.Store
	mgr    *wallet.Manager
	logger *zap.Logger
}

// NewWalletHandler builds a WalletHandler.
func NewWalletHandler(store *wallet.Store, mgr *wallet.Manager, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{store: store, mgr: mgr, logger: logger}
}

// HandleGetBalance serves GET /v1/wallets/{id}.
func (h *WalletHandler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "wallet id is required", h.logger)
		return
	}

	requester, _ := types.TenantID(r.Context())
	if requester != "" && requester != id {
		roles, _ := types.Roles(r.Context())
		if !hasRole(roles, "admin") {
			WriteErrorMessage(w, http.StatusForbidden, types.ErrForbidden, "cannot view another tenant's wallet", h.logger)
			return
		}
	}

	wlt, err := h.store.GetWallet(r.Context(), id)
	if err != nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "wallet not found", h.logger)
		return
	}

	WriteSuccess(w, api.WalletView{
		ID:        wlt.ID,
		ParentID:  derefParent(wlt.ParentID),
		Balance:   wlt.BalanceUnits,
		Held:      wlt.ReservedUnits,
		Available: wlt.Available(),
		UpdatedAt: wlt.UpdatedAt,
	})
}

// HandleTransfer serves POST /v1/wallets/transfer, moving credits between
// two wallets under the caller's tenant authority.
func (h *WalletHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.TransferRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Amount <= 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "transfer amount must be positive", h.logger)
		return
	}

	requester, _ := types.TenantID(r.Context())
	if requester != "" && requester != req.FromWalletID {
		roles, _ := types.Roles(r.Context())
		if !hasRole(roles, "admin") {
			WriteErrorMessage(w, http.StatusForbidden, types.ErrForbidden, "cannot transfer from another tenant's wallet", h.logger)
			return
		}
	}

	if err := h.mgr.Transfer(r.Context(), req.FromWalletID, req.ToWalletID, req.Amount, req.Reason); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrTransferLimit, "transfer failed: "+err.Error(), h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"status": "completed"})
}

func derefParent(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
