package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
	"github.com/brojonat/kromer/service/metrics"
	"github.com/brojonat/kromer/service/sched"
)

// recipient is a transfer destination resolved from the wire. A name
// recipient carries the CommonMeta routing fields for the ledger row.
type recipient struct {
	Address      string
	SentName     *string
	SentMetaname *string
}

// resolveRecipient turns the "to" field of a transfer into a wallet
// address. It accepts a plain address, "name.kro", or
// "metaname@name.kro"; name forms route to the name owner's wallet.
func resolveRecipient(ctx context.Context, store *db.Store, to string) (recipient, error) {
	if krist.IsValidAddress(to) {
		return recipient{Address: to}, nil
	}
	nd := krist.ParseNameData(to)
	if nd.Name == "" {
		return recipient{}, kerr.Param("to", "to must be an address or a registered name")
	}
	name, err := store.GetName(ctx, krist.NormalizeName(nd.Name))
	if err != nil {
		return recipient{}, err
	}
	rcp := recipient{Address: name.Owner, SentName: &name.Name}
	if nd.Metaname != "" {
		meta := nd.Metaname
		rcp.SentMetaname = &meta
	}
	return rcp, nil
}

// authWallet resolves a private key to its wallet. Missing and locked
// wallets both come back as the same auth failure so the caller cannot
// distinguish them.
func authWallet(ctx context.Context, store *db.Store, privateKey string) (*db.Wallet, error) {
	if privateKey == "" {
		return nil, kerr.MissingParam("privatekey")
	}
	wallet, err := store.GetWallet(ctx, krist.MakeV2Address(privateKey))
	if err != nil {
		if kerr.IsKind(err, kerr.KindWalletNotFound) {
			return nil, kerr.ErrAuthFailed
		}
		return nil, err
	}
	if wallet.Locked {
		return nil, kerr.ErrAuthFailed
	}
	return wallet, nil
}

// sendTransaction verifies the sender key, resolves the recipient, and
// moves the funds. Shared by the HTTP endpoint and the websocket
// dispatcher.
func sendTransaction(ctx context.Context, store *db.Store, privateKey, to string, amount decimal.Decimal, metadata *string) (*db.Transaction, error) {
	if to == "" {
		return nil, kerr.MissingParam("to")
	}
	if !amount.IsPositive() {
		return nil, kerr.Param("amount", "amount must be greater than zero")
	}

	wallet, err := authWallet(ctx, store, privateKey)
	if err != nil {
		return nil, err
	}

	rcp, err := resolveRecipient(ctx, store, to)
	if err != nil {
		return nil, err
	}

	return store.Transfer(ctx, db.TransferParams{
		From:         wallet.Address,
		To:           rcp.Address,
		Amount:       amount,
		Type:         db.TransactionTypeTransfer,
		Metadata:     metadata,
		SentName:     rcp.SentName,
		SentMetaname: rcp.SentMetaname,
	})
}

// handleListTransactions returns a page of transactions ordered by id.
func handleListTransactions(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		excludeMined := !r.URL.Query().Has("includeMined")
		params := db.ListTransactionsParams{ExcludeMined: excludeMined, Limit: limit, Offset: offset}
		txns, err := store.ListTransactions(r.Context(), params)
		if err != nil {
			logger.Error("failed to list transactions", "error", err)
			writeError(w, err)
			return
		}
		total, err := store.CountTransactions(r.Context(), excludeMined)
		if err != nil {
			logger.Error("failed to count transactions", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(txns), "total": total,
			"transactions": toKristTransactions(txns),
		}, http.StatusOK)
	}
}

// handleLatestTransactions returns transactions newest first.
func handleLatestTransactions(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		excludeMined := !r.URL.Query().Has("includeMined")
		params := db.ListTransactionsParams{ExcludeMined: excludeMined, Limit: limit, Offset: offset}
		txns, err := store.LatestTransactions(r.Context(), params)
		if err != nil {
			logger.Error("failed to list latest transactions", "error", err)
			writeError(w, err)
			return
		}
		total, err := store.CountTransactions(r.Context(), excludeMined)
		if err != nil {
			logger.Error("failed to count transactions", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(txns), "total": total,
			"transactions": toKristTransactions(txns),
		}, http.StatusOK)
	}
}

// handleGetTransaction returns one transaction by id.
func handleGetTransaction(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, kerr.Param("id", "id must be an integer"))
			return
		}
		txn, err := store.GetTransaction(r.Context(), id)
		if err != nil {
			if !kerr.IsKind(err, kerr.KindTransactionNotFound) {
				logger.Error("failed to get transaction", "error", err, "id", id)
			}
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "transaction": toKristTransaction(txn)}, http.StatusOK)
	}
}

// handleMakeTransaction moves funds between wallets, authenticated by
// the sender's private key.
func handleMakeTransaction(store *db.Store, bc *Broadcaster, signals *sched.Notifier, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	type makeRequest struct {
		PrivateKey string          `json:"privatekey"`
		To         string          `json:"to"`
		Amount     decimal.Decimal `json:"amount"`
		Metadata   *string         `json:"metadata"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req makeRequest
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("invalid transaction request body")
			writeError(w, err)
			return
		}

		txn, err := sendTransaction(r.Context(), store, req.PrivateKey, req.To, req.Amount, req.Metadata)
		if m != nil {
			m.RecordTransfer(string(db.TransactionTypeTransfer), err)
		}
		if err != nil {
			if kerr.HTTPStatus(err) >= http.StatusInternalServerError {
				logger.Error("failed to make transaction", "error", err)
			} else {
				logger.Debug("transaction rejected", "error", kerr.KindOf(err))
			}
			writeError(w, err)
			return
		}

		logger.Info("transaction sent", "id", txn.ID, "to", txn.To, "amount", txn.Amount)
		bc.Transaction(r.Context(), txn)
		signals.Notify()
		writeJSON(w, map[string]any{"ok": true, "transaction": toKristTransaction(txn)}, http.StatusOK)
	}
}
