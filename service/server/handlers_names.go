package server

import (
	"log/slog"
	"net/http"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
	"github.com/brojonat/kromer/service/metrics"
)

const maxNameDataLength = 255

// handleListNames returns a page of names ordered alphabetically.
func handleListNames(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		names, err := store.ListNames(r.Context(), db.ListNamesParams{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("failed to list names", "error", err)
			writeError(w, err)
			return
		}
		total, err := store.CountNames(r.Context())
		if err != nil {
			logger.Error("failed to count names", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(names), "total": total, "names": toKristNames(names),
		}, http.StatusOK)
	}
}

// handleNewestNames returns names ordered by registration, newest first.
func handleNewestNames(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		names, err := store.NewestNames(r.Context(), db.ListNamesParams{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("failed to list newest names", "error", err)
			writeError(w, err)
			return
		}
		total, err := store.CountNames(r.Context())
		if err != nil {
			logger.Error("failed to count names", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(names), "total": total, "names": toKristNames(names),
		}, http.StatusOK)
	}
}

// handleNameCost returns the fixed name purchase cost.
func handleNameCost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "name_cost": krist.NameCost}, http.StatusOK)
	}
}

// handleNameBonus returns the count of names with an unpaid purchase
// balance.
func handleNameBonus(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bonus, err := store.NameBonus(r.Context())
		if err != nil {
			logger.Error("failed to get name bonus", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "name_bonus": bonus}, http.StatusOK)
	}
}

// handleCheckName reports whether a name is free to register.
func handleCheckName(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := krist.NormalizeName(r.PathValue("name"))
		if !krist.IsValidName(name) {
			writeError(w, kerr.Param("name", "invalid name"))
			return
		}
		exists, err := store.NameExists(r.Context(), name)
		if err != nil {
			logger.Error("failed to check name", "error", err, "name", name)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "available": !exists}, http.StatusOK)
	}
}

// handleGetName returns one name.
func handleGetName(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := krist.NormalizeName(r.PathValue("name"))
		n, err := store.GetName(r.Context(), name)
		if err != nil {
			if !kerr.IsKind(err, kerr.KindNameNotFound) {
				logger.Error("failed to get name", "error", err, "name", name)
			}
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "name": toKristName(n)}, http.StatusOK)
	}
}

// handleRegisterName purchases a name for the key holder's wallet.
func handleRegisterName(store *db.Store, bc *Broadcaster, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	type registerRequest struct {
		PrivateKey string `json:"privatekey"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		name := krist.NormalizeName(r.PathValue("name"))
		if !krist.IsValidName(name) {
			writeError(w, kerr.Param("name", "invalid name"))
			return
		}
		var req registerRequest
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("invalid name registration body")
			writeError(w, err)
			return
		}
		wallet, err := authWallet(r.Context(), store, req.PrivateKey)
		if err != nil {
			writeError(w, err)
			return
		}

		n, txn, err := store.RegisterName(r.Context(), name, wallet.Address)
		if m != nil {
			m.RecordTransfer(string(db.TransactionTypeNamePurchase), err)
		}
		if err != nil {
			if kerr.HTTPStatus(err) >= http.StatusInternalServerError {
				logger.Error("failed to register name", "error", err, "name", name)
			} else {
				logger.Debug("name registration rejected", "error", kerr.KindOf(err), "name", name)
			}
			writeError(w, err)
			return
		}

		logger.Info("name registered", "name", n.Name, "owner", n.Owner)
		bc.Transaction(r.Context(), txn)
		bc.Name(r.Context(), n)
		writeJSON(w, map[string]any{"ok": true, "name": toKristName(n)}, http.StatusOK)
	}
}

// handleTransferName moves a name to another wallet.
func handleTransferName(store *db.Store, bc *Broadcaster, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	type transferRequest struct {
		Address    string `json:"address"`
		PrivateKey string `json:"privatekey"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		name := krist.NormalizeName(r.PathValue("name"))
		var req transferRequest
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("invalid name transfer body")
			writeError(w, err)
			return
		}
		if !krist.IsValidAddress(req.Address) {
			writeError(w, kerr.Param("address", "invalid recipient address"))
			return
		}
		wallet, err := authWallet(r.Context(), store, req.PrivateKey)
		if err != nil {
			writeError(w, err)
			return
		}

		n, txn, err := store.TransferName(r.Context(), name, wallet.Address, req.Address)
		if m != nil {
			m.RecordTransfer(string(db.TransactionTypeNameTransfer), err)
		}
		if err != nil {
			if kerr.HTTPStatus(err) >= http.StatusInternalServerError {
				logger.Error("failed to transfer name", "error", err, "name", name)
			} else {
				logger.Debug("name transfer rejected", "error", kerr.KindOf(err), "name", name)
			}
			writeError(w, err)
			return
		}

		logger.Info("name transferred", "name", n.Name, "owner", n.Owner)
		bc.Transaction(r.Context(), txn)
		bc.Name(r.Context(), n)
		writeJSON(w, map[string]any{"ok": true, "name": toKristName(n)}, http.StatusOK)
	}
}

// handleUpdateNameData sets or clears a name's data record.
func handleUpdateNameData(store *db.Store, bc *Broadcaster, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	type updateRequest struct {
		A          *string `json:"a"`
		PrivateKey string  `json:"privatekey"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		name := krist.NormalizeName(r.PathValue("name"))
		var req updateRequest
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("invalid name update body")
			writeError(w, err)
			return
		}
		if req.A != nil && len(*req.A) > maxNameDataLength {
			writeError(w, kerr.Param("a", "data record too long"))
			return
		}
		wallet, err := authWallet(r.Context(), store, req.PrivateKey)
		if err != nil {
			writeError(w, err)
			return
		}

		n, txn, err := store.UpdateNameData(r.Context(), name, wallet.Address, req.A)
		if m != nil {
			m.RecordTransfer(string(db.TransactionTypeNameARecord), err)
		}
		if err != nil {
			if kerr.HTTPStatus(err) >= http.StatusInternalServerError {
				logger.Error("failed to update name data", "error", err, "name", name)
			} else {
				logger.Debug("name update rejected", "error", kerr.KindOf(err), "name", name)
			}
			writeError(w, err)
			return
		}

		logger.Info("name data updated", "name", n.Name)
		bc.Transaction(r.Context(), txn)
		bc.Name(r.Context(), n)
		writeJSON(w, map[string]any{"ok": true, "name": toKristName(n)}, http.StatusOK)
	}
}
