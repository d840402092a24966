package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/kromer/service/auth"
	"github.com/brojonat/kromer/service/config"
	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/events"
	"github.com/brojonat/kromer/service/metrics"
	"github.com/brojonat/kromer/service/sched"
	"github.com/brojonat/kromer/service/ws"
)

// Server is the HTTP and websocket front of the currency service.
type Server struct {
	addr     string
	cfg      *config.Config
	store    *db.Store
	sessions *auth.Sessions
	tokens   *ws.Tokens
	hub      *ws.Hub
	signals  *sched.Notifier
	bc       *Broadcaster
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates the server with its dependencies. The relay publisher and
// metrics are optional; nil disables the event relay and the /metrics
// endpoint respectively.
func New(addr string, cfg *config.Config, store *db.Store, sessions *auth.Sessions, tokens *ws.Tokens, hub *ws.Hub, signals *sched.Notifier, relay events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		tokens:   tokens,
		hub:      hub,
		signals:  signals,
		bc:       NewBroadcaster(hub, relay, m, logger),
		metrics:  m,
		logger:   logger,
	}
}

// Broadcaster exposes the event fan-out so the scheduler's lapse hook
// can announce renewal charges.
func (s *Server) Broadcaster() *Broadcaster { return s.bc }

// Start builds the route table and serves until Shutdown or a listener
// error.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Legacy API.
	mux.Handle("GET /api/krist/motd", s.instrument("krist_motd", handleMotd(s.cfg)))
	mux.Handle("POST /api/krist/login", s.instrument("krist_login", handleKristLogin(s.store, s.logger)))
	mux.Handle("GET /api/krist/supply", s.instrument("krist_supply", handleSupply(s.store, s.logger)))
	mux.Handle("GET /api/krist/walletversion", s.instrument("krist_walletversion", handleWalletVersion()))
	mux.Handle("POST /api/krist/v2", s.instrument("krist_v2", handleV2Address(s.logger)))

	mux.Handle("GET /api/krist/addresses", s.instrument("krist_addresses", handleListAddresses(s.store, s.logger)))
	mux.Handle("GET /api/krist/addresses/rich", s.instrument("krist_addresses_rich", handleRichAddresses(s.store, s.logger)))
	mux.Handle("GET /api/krist/addresses/{address}", s.instrument("krist_address", handleGetAddress(s.store, s.logger)))
	mux.Handle("GET /api/krist/addresses/{address}/transactions", s.instrument("krist_address_transactions", handleAddressTransactions(s.store, s.logger)))
	mux.Handle("GET /api/krist/addresses/{address}/names", s.instrument("krist_address_names", handleAddressNames(s.store, s.logger)))

	mux.Handle("GET /api/krist/transactions", s.instrument("krist_transactions", handleListTransactions(s.store, s.logger)))
	mux.Handle("GET /api/krist/transactions/latest", s.instrument("krist_transactions_latest", handleLatestTransactions(s.store, s.logger)))
	mux.Handle("GET /api/krist/transactions/{id}", s.instrument("krist_transaction", handleGetTransaction(s.store, s.logger)))
	mux.Handle("POST /api/krist/transactions", s.instrument("krist_make_transaction", handleMakeTransaction(s.store, s.bc, s.signals, s.metrics, s.logger)))

	mux.Handle("GET /api/krist/names", s.instrument("krist_names", handleListNames(s.store, s.logger)))
	mux.Handle("GET /api/krist/names/new", s.instrument("krist_names_new", handleNewestNames(s.store, s.logger)))
	mux.Handle("GET /api/krist/names/cost", s.instrument("krist_names_cost", handleNameCost()))
	mux.Handle("GET /api/krist/names/bonus", s.instrument("krist_names_bonus", handleNameBonus(s.store, s.logger)))
	mux.Handle("GET /api/krist/names/check/{name}", s.instrument("krist_names_check", handleCheckName(s.store, s.logger)))
	mux.Handle("GET /api/krist/names/{name}", s.instrument("krist_name", handleGetName(s.store, s.logger)))
	mux.Handle("POST /api/krist/names/{name}", s.instrument("krist_register_name", handleRegisterName(s.store, s.bc, s.metrics, s.logger)))
	mux.Handle("POST /api/krist/names/{name}/transfer", s.instrument("krist_transfer_name", handleTransferName(s.store, s.bc, s.metrics, s.logger)))
	mux.Handle("POST /api/krist/names/{name}/update", s.instrument("krist_update_name", handleUpdateNameData(s.store, s.bc, s.metrics, s.logger)))

	mux.Handle("GET /api/krist/lookup/addresses/{addresses}", s.instrument("krist_lookup_addresses", handleLookupAddresses(s.store, s.logger)))
	mux.Handle("GET /api/krist/lookup/transactions/{addresses}", s.instrument("krist_lookup_transactions", handleLookupTransactions(s.store, s.logger)))
	mux.Handle("GET /api/krist/lookup/names/{addresses}", s.instrument("krist_lookup_names", handleLookupNames(s.store, s.logger)))
	mux.Handle("GET /api/krist/lookup/names/{name}/history", s.instrument("krist_name_history", handleNameHistory(s.store, s.logger)))
	mux.Handle("GET /api/krist/lookup/names/{name}/transactions", s.instrument("krist_name_transactions", handleNameTransactions(s.store, s.logger)))

	// Websocket hand-off. The gateway route is deliberately not wrapped
	// in the metrics middleware: the wrapper's response writer cannot be
	// hijacked for the upgrade. Websocket metrics come from the hub.
	dispatch := newDispatcher(s.store, s.bc, s.signals, s.metrics, s.logger)
	mux.Handle("POST /api/krist/ws/start", s.instrument("krist_ws_start", handleWsStart(s.cfg, s.store, s.tokens, s.metrics, s.logger)))
	mux.Handle("GET /api/krist/ws/gateway/{token}", ws.GatewayHandler(ws.GatewayConfig{
		Tokens: s.tokens,
		Hub:    s.hub,
		Hello:  helloPayload(s.cfg),
		Handle: dispatch.Handle,
	}))

	// Anything else under the legacy prefix answers the protocol's JSON
	// 404 instead of the default text one.
	mux.Handle("/api/krist/", handleKristNotFound())

	// Native API.
	mux.Handle("POST /api/v1/login", s.instrument("v1_login", handleV1Login(s.store, s.sessions, s.logger)))
	mux.Handle("POST /api/v1/logout", s.instrument("v1_logout", handleV1Logout(s.sessions, s.logger)))
	mux.Handle("GET /api/v1/wallet/{address}", s.instrument("v1_wallet", handleV1GetWallet(s.store, s.logger)))
	mux.Handle("GET /api/v1/ws/session/count", s.instrument("v1_session_count", handleV1SessionCount(s.hub)))

	mux.Handle("POST /api/v1/contracts", s.instrument("v1_create_contract", handleCreateContract(s.store, s.sessions, s.signals, s.logger)))
	mux.Handle("GET /api/v1/contracts", s.instrument("v1_list_contracts", handleListContracts(s.store, s.logger)))
	mux.Handle("GET /api/v1/contracts/{id}", s.instrument("v1_contract", handleGetContract(s.store, s.logger)))
	mux.Handle("GET /api/v1/contracts/{id}/subscribers", s.instrument("v1_contract_subscribers", handleContractSubscribers(s.store, s.logger)))
	mux.Handle("PATCH /api/v1/contracts/{id}", s.instrument("v1_patch_contract", handlePatchContract(s.store, s.sessions, s.signals, s.logger)))
	mux.Handle("POST /api/v1/contracts/{id}/subscribe", s.instrument("v1_subscribe", handleSubscribe(s.store, s.sessions, s.bc, s.signals, s.metrics, s.logger)))
	mux.Handle("GET /api/v1/subscriptions/{id}", s.instrument("v1_subscription", handleGetSubscription(s.store, s.logger)))
	mux.Handle("POST /api/v1/subscriptions/{id}/cancel", s.instrument("v1_cancel_subscription", handleCancelSubscription(s.store, s.sessions, s.signals, s.logger)))

	// Internal API. Hidden entirely unless the key is configured.
	mux.Handle("POST /api/_internal/mint", requireInternalKey(s.cfg.InternalAPIKey,
		s.instrument("internal_mint", handleMint(s.store, s.bc, s.signals, s.metrics, s.logger))))

	// Health check endpoint
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// instrument wraps a handler in the HTTP metrics middleware when
// metrics are configured.
func (s *Server) instrument(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CC-ID, X-Internal-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}
