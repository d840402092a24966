package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/kromer/service/auth"
	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/ws"
)

// handleV1Login opens a bearer session for a private key.
func handleV1Login(store *db.Store, sessions *auth.Sessions, logger *slog.Logger) http.HandlerFunc {
	type loginRequest struct {
		PrivateKey string `json:"privatekey"`
	}
	type loginResponse struct {
		Token   string    `json:"token"`
		Expires time.Time `json:"expires"`
		Address string    `json:"address"`
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

		id, expires, address, err := sessions.RegisterFromKey(r.Context(), store, req.PrivateKey)
		if err != nil {
			if kerr.HTTPStatus(err) >= http.StatusInternalServerError {
				logger.Error("failed to open session", "error", err)
			} else {
				logger.Debug("login rejected")
			}
			writeError(w, err)
			return
		}

		logger.Info("session opened", "address", address)
		writeData(w, loginResponse{Token: id.String(), Expires: expires, Address: address})
	}
}

// handleV1Logout revokes the bearer session.
func handleV1Logout(sessions *auth.Sessions, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessions.CheckBearer(r)
		if err != nil {
			writeError(w, err)
			return
		}
		address, err := sessions.Revoke(id)
		if err != nil {
			writeError(w, err)
			return
		}
		logger.Info("session revoked", "address", address)
		writeData(w, map[string]any{"address": address})
	}
}

// handleV1GetWallet returns the native wallet view including the
// owned-name count.
func handleV1GetWallet(store *db.Store, logger *slog.Logger) http.HandlerFunc {
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
		names, err := store.CountNamesByOwner(r.Context(), address)
		if err != nil {
			logger.Error("failed to count names for wallet", "error", err, "address", address)
			writeError(w, err)
			return
		}
		writeData(w, toWalletView(wallet, &names))
	}
}

// handleV1SessionCount returns the number of live websocket sessions.
func handleV1SessionCount(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"count": hub.Count()})
	}
}
