package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/kromer/service/config"
	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
)

const serverVersion = "0.2.0"

// motdPackage identifies the server build in the motd document.
type motdPackage struct {
	Name       string  `json:"name"`
	Version    string  `json:"version"`
	Author     string  `json:"author"`
	License    string  `json:"license"`
	Repository string  `json:"repository"`
	GitHash    *string `json:"git_hash"`
}

// motdConstants is the protocol constant block legacy wallets read.
type motdConstants struct {
	WalletVersion   int     `json:"wallet_version"`
	NonceMaxSize    int     `json:"nonce_max_size"`
	NameCost        int     `json:"name_cost"`
	MinWork         int     `json:"min_work"`
	MaxWork         int     `json:"max_work"`
	WorkFactor      float64 `json:"work_factor"`
	SecondsPerBlock int     `json:"seconds_per_block"`
}

type motdCurrency struct {
	AddressPrefix  string `json:"address_prefix"`
	NameSuffix     string `json:"name_suffix"`
	CurrencyName   string `json:"currency_name"`
	CurrencySymbol string `json:"currency_symbol"`
}

// detailedMotd is the legacy motd document. Mining fields are fixed:
// there is no mining here, but wallets expect the keys to exist.
type detailedMotd struct {
	ServerTime          string        `json:"server_time"`
	Motd                string        `json:"motd"`
	Set                 *string       `json:"set"`
	MotdSet             *string       `json:"motd_set"`
	PublicURL           string        `json:"public_url"`
	PublicWsURL         string        `json:"public_ws_url"`
	MiningEnabled       bool          `json:"mining_enabled"`
	TransactionsEnabled bool          `json:"transactions_enabled"`
	DebugMode           bool          `json:"debug_mode"`
	Work                int           `json:"work"`
	LastBlock           *struct{}     `json:"last_block"`
	Package             motdPackage   `json:"package"`
	Constants           motdConstants `json:"constants"`
	Currency            motdCurrency  `json:"currency"`
	Notice              string        `json:"notice"`
}

func buildMotd(cfg *config.Config) detailedMotd {
	return detailedMotd{
		ServerTime:          time.Now().UTC().Format(time.RFC3339),
		Motd:                "Message of the day",
		PublicURL:           cfg.PublicURL,
		PublicWsURL:         cfg.HTTPScheme() + "://" + cfg.PublicURL + "/api/krist/ws",
		MiningEnabled:       false,
		TransactionsEnabled: true,
		DebugMode:           true,
		Work:                krist.MaxWork,
		Package: motdPackage{
			Name:       "Kromer",
			Version:    serverVersion,
			Author:     "brojonat",
			License:    "MIT",
			Repository: "https://github.com/brojonat/kromer",
		},
		Constants: motdConstants{
			WalletVersion:   krist.WalletVersion,
			NonceMaxSize:    krist.NonceMaxSize,
			NameCost:        krist.NameCost,
			MinWork:         krist.MinWork,
			MaxWork:         krist.MaxWork,
			WorkFactor:      krist.WorkFactor,
			SecondsPerBlock: krist.SecondsPerBlock,
		},
		Currency: motdCurrency{
			AddressPrefix:  krist.AddressPrefix,
			NameSuffix:     krist.NameSuffix,
			CurrencyName:   krist.CurrencyName,
			CurrencySymbol: krist.CurrencySymbol,
		},
		Notice: "Kromer is a synthetic currency with no real-world value",
	}
}

// handleMotd returns the motd document.
func handleMotd(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "motd": buildMotd(cfg)}, http.StatusOK)
	}
}

// handleKristLogin authenticates a private key against the wallet
// table. A key whose wallet is missing or locked yields authed false,
// never an error, so the endpoint does not reveal which it was.
func handleKristLogin(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	type loginRequest struct {
		PrivateKey string `json:"privatekey"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("invalid login request body")
			writeError(w, err)
			return
		}
		if req.PrivateKey == "" {
			writeError(w, kerr.MissingParam("privatekey"))
			return
		}

		address := krist.MakeV2Address(req.PrivateKey)
		wallet, err := store.GetWallet(r.Context(), address)
		if err != nil {
			if kerr.IsKind(err, kerr.KindWalletNotFound) {
				writeJSON(w, map[string]any{"ok": true, "authed": false}, http.StatusOK)
				return
			}
			logger.Error("failed to get wallet for login", "error", err)
			writeError(w, err)
			return
		}
		if wallet.Locked {
			writeJSON(w, map[string]any{"ok": true, "authed": false}, http.StatusOK)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "authed": true, "address": wallet.Address}, http.StatusOK)
	}
}

// handleWalletVersion returns the fixed wallet version.
func handleWalletVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "walletVersion": krist.WalletVersion}, http.StatusOK)
	}
}

// handleSupply returns the circulating money supply.
func handleSupply(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		supply, err := store.Supply(r.Context())
		if err != nil {
			logger.Error("failed to get money supply", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "money_supply": dec(supply)}, http.StatusOK)
	}
}

// handleV2Address derives the address for a private key without
// touching the wallet table.
func handleV2Address(logger *slog.Logger) http.HandlerFunc {
	type v2Request struct {
		PrivateKey string `json:"privatekey"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req v2Request
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("invalid v2 request body")
			writeError(w, err)
			return
		}
		if req.PrivateKey == "" {
			writeError(w, kerr.MissingParam("privatekey"))
			return
		}
		writeJSON(w, map[string]any{"ok": true, "address": krist.MakeV2Address(req.PrivateKey)}, http.StatusOK)
	}
}

// handleListAddresses returns a page of wallets.
func handleListAddresses(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		wallets, err := store.ListWallets(r.Context(), db.ListWalletsParams{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("failed to list wallets", "error", err)
			writeError(w, err)
			return
		}
		total, err := store.CountWallets(r.Context())
		if err != nil {
			logger.Error("failed to count wallets", "error", err)
			writeError(w, err)
			return
		}
		out := make([]kristAddress, len(wallets))
		for i, wlt := range wallets {
			out[i] = toKristAddress(wlt, nil)
		}
		writeJSON(w, map[string]any{"ok": true, "count": len(out), "total": total, "addresses": out}, http.StatusOK)
	}
}

// handleRichAddresses returns wallets ordered by balance.
func handleRichAddresses(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		wallets, err := store.ListRichestWallets(r.Context(), db.ListWalletsParams{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("failed to list richest wallets", "error", err)
			writeError(w, err)
			return
		}
		total, err := store.CountWallets(r.Context())
		if err != nil {
			logger.Error("failed to count wallets", "error", err)
			writeError(w, err)
			return
		}
		out := make([]kristAddress, len(wallets))
		for i, wlt := range wallets {
			out[i] = toKristAddress(wlt, nil)
		}
		writeJSON(w, map[string]any{"ok": true, "count": len(out), "total": total, "addresses": out}, http.StatusOK)
	}
}

// handleGetAddress returns one wallet. With fetchNames=true the view
// includes the owned-name count.
func handleGetAddress(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		wallet, err := store.GetWallet(r.Context(), address)
		if err != nil {
			if !kerr.IsKind(err, kerr.KindWalletNotFound) {
				logger.Error("failed to get wallet", "error", err, "address", address)
			}
			writeError(w, err)
			return
		}

		var names *int64
		if r.URL.Query().Get("fetchNames") == "true" {
			n, err := store.CountNamesByOwner(r.Context(), address)
			if err != nil {
				logger.Error("failed to count names for wallet", "error", err, "address", address)
				writeError(w, err)
				return
			}
			names = &n
		}
		writeJSON(w, map[string]any{"ok": true, "address": toKristAddress(wallet, names)}, http.StatusOK)
	}
}

// handleAddressTransactions returns the transactions touching an
// address, newest first. Mined rows are included only when
// includeMined is present.
func handleAddressTransactions(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if _, err := store.GetWallet(r.Context(), address); err != nil {
			if !kerr.IsKind(err, kerr.KindWalletNotFound) {
				logger.Error("failed to get wallet", "error", err, "address", address)
			}
			writeError(w, err)
			return
		}

		excludeMined := !r.URL.Query().Has("includeMined")
		params := db.ListTransactionsParams{ExcludeMined: excludeMined, Limit: limit, Offset: offset}
		txns, err := store.ListTransactionsByAddress(r.Context(), address, params)
		if err != nil {
			logger.Error("failed to list transactions for address", "error", err, "address", address)
			writeError(w, err)
			return
		}
		total, err := store.CountTransactionsByAddress(r.Context(), address, excludeMined)
		if err != nil {
			logger.Error("failed to count transactions for address", "error", err, "address", address)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(txns), "total": total,
			"transactions": toKristTransactions(txns),
		}, http.StatusOK)
	}
}

// handleAddressNames returns the names owned by an address.
func handleAddressNames(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if _, err := store.GetWallet(r.Context(), address); err != nil {
			if !kerr.IsKind(err, kerr.KindWalletNotFound) {
				logger.Error("failed to get wallet", "error", err, "address", address)
			}
			writeError(w, err)
			return
		}

		names, err := store.ListNamesByOwner(r.Context(), address, db.ListNamesParams{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("failed to list names for address", "error", err, "address", address)
			writeError(w, err)
			return
		}
		total, err := store.CountNamesByOwner(r.Context(), address)
		if err != nil {
			logger.Error("failed to count names for address", "error", err, "address", address)
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"ok": true, "count": len(names), "total": total, "names": toKristNames(names),
		}, http.StatusOK)
	}
}

// handleKristNotFound is the fallback for unknown legacy routes. The
// legacy protocol expects a JSON body, not a bare 404.
func handleKristNotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"ok":      false,
			"error":   "route_not_found",
			"message": "Route not found",
		}, http.StatusNotFound)
	}
}
