package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
	"github.com/brojonat/kromer/service/metrics"
	"github.com/brojonat/kromer/service/sched"
)

// requireInternalKey guards the internal routes. An unset key disables
// them entirely; both cases answer 404 so the surface stays invisible.
func requireInternalKey(key string, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			writeJSON(w, map[string]any{
				"ok":      false,
				"error":   "route_not_found",
				"message": "Route not found",
			}, http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	}
}

// handleMint credits a wallet from the welfare pool, creating the
// wallet row if it does not exist yet. This is how currency enters
// circulation.
func handleMint(store *db.Store, bc *Broadcaster, signals *sched.Notifier, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	type mintRequest struct {
		Address string          `json:"address"`
		Amount  decimal.Decimal `json:"amount"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req mintRequest
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("invalid mint request body")
			writeError(w, err)
			return
		}
		if !krist.IsValidAddress(req.Address) {
			writeError(w, kerr.Param("address", "invalid address"))
			return
		}
		if !req.Amount.IsPositive() {
			writeError(w, kerr.Param("amount", "amount must be greater than zero"))
			return
		}

		if _, err := store.GetOrCreateWallet(r.Context(), req.Address); err != nil {
			logger.Error("failed to ensure wallet for mint", "error", err, "address", req.Address)
			writeError(w, err)
			return
		}

		txn, err := store.Transfer(r.Context(), db.TransferParams{
			From:   krist.WelfareAddress,
			To:     req.Address,
			Amount: req.Amount,
			Type:   db.TransactionTypeMined,
		})
		if m != nil {
			m.RecordTransfer(string(db.TransactionTypeMined), err)
		}
		if err != nil {
			logger.Error("failed to mint", "error", err, "address", req.Address)
			writeError(w, err)
			return
		}

		wallet, err := store.GetWallet(r.Context(), req.Address)
		if err != nil {
			logger.Error("failed to get wallet after mint", "error", err, "address", req.Address)
			writeError(w, err)
			return
		}

		logger.Info("minted", "address", req.Address, "amount", req.Amount, "transaction_id", txn.ID)
		bc.Transaction(r.Context(), txn)
		signals.Notify()
		writeData(w, toWalletView(wallet, nil))
	}
}
