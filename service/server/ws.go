package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brojonat/kromer/service/config"
	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
	"github.com/brojonat/kromer/service/metrics"
	"github.com/brojonat/kromer/service/ws"
)

// helloFrame is the first frame a fresh websocket session receives: the
// motd document tagged as a hello.
type helloFrame struct {
	OK   bool   `json:"ok"`
	Type string `json:"type"`
	detailedMotd
}

// helloPayload builds the Hello callback for the gateway.
func helloPayload(cfg *config.Config) func() any {
	return func() any {
		return helloFrame{OK: true, Type: "hello", detailedMotd: buildMotd(cfg)}
	}
}

// handleWsStart issues a one-shot gateway token. With a privatekey in
// the body the session starts authenticated as that wallet; without one
// it starts as a guest. The X-CC-ID header, when parseable, tags the
// session with the caller's computer id.
func handleWsStart(cfg *config.Config, store *db.Store, tokens *ws.Tokens, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	type startRequest struct {
		PrivateKey string `json:"privatekey"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, kerr.New(kerr.KindInvalidParameter, "invalid request body"))
			return
		}

		var req startRequest
		if body := strings.TrimSpace(string(raw)); body != "" {
			if err := json.Unmarshal(raw, &req); err != nil {
				logger.Debug("invalid ws start body")
				writeError(w, kerr.New(kerr.KindInvalidParameter, "invalid request body: must be valid JSON"))
				return
			}
		}

		data := ws.TokenData{Address: krist.GuestAddress}
		if req.PrivateKey != "" {
			wallet, err := authWallet(r.Context(), store, req.PrivateKey)
			if err != nil {
				writeError(w, err)
				return
			}
			data.Address = wallet.Address
			data.PrivateKey = req.PrivateKey
		}

		if ccID := r.Header.Get("X-CC-ID"); ccID != "" {
			id, err := strconv.ParseInt(ccID, 10, 32)
			if err != nil {
				logger.Debug("ignoring unparseable X-CC-ID header")
			} else {
				cid := int32(id)
				data.ComputerID = &cid
			}
		}

		token := tokens.Obtain(data)
		if m != nil {
			m.RecordWSTokenIssued()
		}
		logger.Debug("websocket token issued", "address", data.Address)
		writeJSON(w, map[string]any{
			"ok":      true,
			"url":     cfg.GatewayURL(token.String()),
			"expires": int(ws.TokenExpiration.Seconds()),
		}, http.StatusOK)
	}
}
