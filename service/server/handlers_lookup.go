package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
)

// splitAddresses parses the comma-separated {addresses} path segment.
func splitAddresses(raw string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		a := strings.TrimSpace(part)
		if a == "" {
			continue
		}
		if !krist.IsValidAddress(a) {
			return nil, kerr.Param("addresses", "invalid address "+a)
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, kerr.Param("addresses", "no addresses given")
	}
	return out, nil
}

// handleLookupAddresses returns the wallets for a set of addresses in
// one shot. Unknown addresses come back as null entries.
func handleLookupAddresses(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addresses, err := splitAddresses(r.PathValue("addresses"))
		if err != nil {
			writeError(w, err)
			return
		}

		found := 0
		results := make(map[string]*kristAddress, len(addresses))
		for _, address := range addresses {
			wallet, err := store.GetWallet(r.Context(), address)
			if err != nil {
				if kerr.IsKind(err, kerr.KindWalletNotFound) {
					results[address] = nil
					continue
				}
				logger.Error("failed to get wallet for lookup", "error", err, "address", address)
				writeError(w, err)
				return
			}
			view := toKristAddress(wallet, nil)
			results[address] = &view
			found++
		}
		writeJSON(w, map[string]any{
			"ok":        true,
			"found":     found,
			"notFound":  len(addresses) - found,
			"addresses": results,
		}, http.StatusOK)
	}
}

// handleLookupTransactions returns transactions touching any of the
// given addresses. Sort column and direction come from the query
// string; mined rows are excluded unless includeMined is present.
func handleLookupTransactions(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addresses, err := splitAddresses(r.PathValue("addresses"))
		if err != nil {
			writeError(w, err)
			return
		}
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}

		q := r.URL.Query()
		params := db.LookupTransactionsParams{
			Limit:        limit,
			Offset:       offset,
			OrderBy:      q.Get("orderBy"),
			Order:        q.Get("order"),
			IncludeMined: q.Has("includeMined"),
		}
		if params.OrderBy == "" {
			params.OrderBy = "id"
		}
		if params.Order == "" {
			params.Order = "DESC"
		}

		txns, total, err := store.LookupTransactions(r.Context(), addresses, params)
		if err != nil {
			logger.Error("failed to lookup transactions", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(txns), "total": total,
			"transactions": toKristTransactions(txns),
		}, http.StatusOK)
	}
}

// handleLookupNames returns the names owned by any of the given
// addresses.
func handleLookupNames(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addresses, err := splitAddresses(r.PathValue("addresses"))
		if err != nil {
			writeError(w, err)
			return
		}
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}

		names, total, err := store.LookupNames(r.Context(), addresses, db.ListNamesParams{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("failed to lookup names", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(names), "total": total, "names": toKristNames(names),
		}, http.StatusOK)
	}
}

// handleNameHistory returns a name's lifecycle events: its purchase,
// ownership moves, and data updates.
func handleNameHistory(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := krist.NormalizeName(r.PathValue("name"))
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		txns, total, err := store.NameHistory(r.Context(), name, db.ListTransactionsParams{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("failed to get name history", "error", err, "name", name)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(txns), "total": total,
			"transactions": toKristTransactions(txns),
		}, http.StatusOK)
	}
}

// handleNameTransactions returns every transaction that touched a
// name, routed payments included.
func handleNameTransactions(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := krist.NormalizeName(r.PathValue("name"))
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		txns, total, err := store.TransactionsToName(r.Context(), name, db.ListTransactionsParams{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("failed to get name transactions", "error", err, "name", name)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(txns), "total": total,
			"transactions": toKristTransactions(txns),
		}, http.StatusOK)
	}
}
