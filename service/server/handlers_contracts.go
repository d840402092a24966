package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/auth"
	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
	"github.com/brojonat/kromer/service/metrics"
	"github.com/brojonat/kromer/service/sched"
)

const (
	maxContractTitleLength       = 64
	maxContractDescriptionLength = 500
)

// validateCronExpr checks that expr parses and actually produces a next
// occurrence. Expressions like "* * 30 2 *" parse fine but never fire.
func validateCronExpr(expr string) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return kerr.Param("cron_expr", "invalid cron expression")
	}
	if schedule.Next(time.Now()).IsZero() {
		return kerr.Param("cron_expr", "cron expression never fires")
	}
	return nil
}

func validateAllowList(list []string) error {
	for i, addr := range list {
		if !krist.IsValidAddress(addr) {
			return kerr.Param("allow_list", fmt.Sprintf("invalid address at index %d", i))
		}
	}
	return nil
}

// requireSession resolves the request's bearer token to an address.
func requireSession(sessions *auth.Sessions, r *http.Request) (string, error) {
	id, err := sessions.CheckBearer(r)
	if err != nil {
		return "", err
	}
	address, ok := sessions.GetAddress(id)
	if !ok {
		return "", kerr.ErrInvalidSession
	}
	return address, nil
}

func contractID(r *http.Request) (int32, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 32)
	if err != nil || id < 0 {
		return 0, kerr.Param("id", "id must be a non-negative integer")
	}
	return int32(id), nil
}

// handleCreateContract creates a contract offer owned by the session's
// wallet.
func handleCreateContract(store *db.Store, sessions *auth.Sessions, signals *sched.Notifier, logger *slog.Logger) http.HandlerFunc {
	type createRequest struct {
		Title          string          `json:"title"`
		Description    *string         `json:"description"`
		Price          decimal.Decimal `json:"price"`
		MaxSubscribers *int32          `json:"max_subscribers"`
		AllowList      []string        `json:"allow_list"`
		CronExpr       string          `json:"cron_expr"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		address, err := requireSession(sessions, r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req createRequest
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("invalid contract creation body")
			writeError(w, err)
			return
		}

		if len(req.Title) == 0 || len(req.Title) > maxContractTitleLength {
			writeError(w, kerr.Param("title", fmt.Sprintf("title must be 1 to %d characters", maxContractTitleLength)))
			return
		}
		if req.Description != nil && len(*req.Description) > maxContractDescriptionLength {
			writeError(w, kerr.Param("description", fmt.Sprintf("description must be at most %d characters", maxContractDescriptionLength)))
			return
		}
		if !req.Price.IsPositive() {
			writeError(w, kerr.Param("price", "price must be greater than zero"))
			return
		}
		if req.MaxSubscribers != nil && *req.MaxSubscribers < 0 {
			writeError(w, kerr.Param("max_subscribers", "max_subscribers must not be negative"))
			return
		}
		if err := validateCronExpr(req.CronExpr); err != nil {
			writeError(w, err)
			return
		}
		if err := validateAllowList(req.AllowList); err != nil {
			writeError(w, err)
			return
		}

		contract, err := store.CreateContract(r.Context(), db.CreateContractParams{
			OwnerAddress:   address,
			Title:          req.Title,
			Description:    req.Description,
			Price:          req.Price,
			MaxSubscribers: req.MaxSubscribers,
			AllowList:      req.AllowList,
			CronExpr:       req.CronExpr,
		})
		if err != nil {
			logger.Error("failed to create contract", "error", err)
			writeError(w, err)
			return
		}

		logger.Info("contract created", "contract_id", contract.ID, "owner", contract.OwnerAddress)
		signals.Notify()
		writeData(w, toContractView(contract))
	}
}

// handleListContracts returns a page of contracts, optionally filtered
// by owner address and open status.
func handleListContracts(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}

		q := r.URL.Query()
		params := db.ListContractsParams{
			IsOpen: q.Get("is_open") == "true",
			Limit:  limit,
			Offset: offset,
		}
		if addr := q.Get("address"); addr != "" {
			params.Address = &addr
		}

		contracts, total, err := store.ListContracts(r.Context(), params)
		if err != nil {
			logger.Error("failed to list contracts", "error", err)
			writeError(w, err)
			return
		}
		views := make([]contractView, len(contracts))
		for i, c := range contracts {
			views[i] = toContractView(c)
		}
		writeData(w, paginate(views, total, offset))
	}
}

// handleGetContract returns one contract.
func handleGetContract(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := contractID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		contract, err := store.GetContract(r.Context(), id)
		if err != nil {
			if !kerr.IsKind(err, kerr.KindContractNotFound) {
				logger.Error("failed to get contract", "error", err, "contract_id", id)
			}
			writeError(w, err)
			return
		}
		writeData(w, toContractView(contract))
	}
}

// handleContractSubscribers returns a contract's subscriptions.
func handleContractSubscribers(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := contractID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err)
			return
		}

		exists, err := store.ContractExists(r.Context(), id)
		if err != nil {
			logger.Error("failed to check contract", "error", err, "contract_id", id)
			writeError(w, err)
			return
		}
		if !exists {
			writeError(w, kerr.Newf(kerr.KindContractNotFound, "contract %d not found", id))
			return
		}

		subs, total, err := store.ListContractSubscribers(r.Context(), id, db.ListSubscribersParams{
			IsActive: r.URL.Query().Get("is_active") == "true",
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			logger.Error("failed to list subscribers", "error", err, "contract_id", id)
			writeError(w, err)
			return
		}
		views := make([]subscriptionView, len(subs))
		for i, s := range subs {
			views[i] = toSubscriptionView(s)
		}
		writeData(w, paginate(views, total, offset))
	}
}

// handlePatchContract applies a partial update to a contract. Only the
// owner may patch; scheduling-relevant changes wake the scheduler.
func handlePatchContract(store *db.Store, sessions *auth.Sessions, signals *sched.Notifier, logger *slog.Logger) http.HandlerFunc {
	type patchRequest struct {
		Title          *string            `json:"title"`
		Description    db.Patch[string]   `json:"description"`
		Status         *string            `json:"status"`
		Price          *decimal.Decimal   `json:"price"`
		CronExpr       *string            `json:"cron_expr"`
		MaxSubscribers db.Patch[int32]    `json:"max_subscribers"`
		AllowList      db.Patch[[]string] `json:"allow_list"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		address, err := requireSession(sessions, r)
		if err != nil {
			writeError(w, err)
			return
		}
		id, err := contractID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req patchRequest
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("invalid contract patch body")
			writeError(w, err)
			return
		}

		if req.Title != nil && (len(*req.Title) == 0 || len(*req.Title) > maxContractTitleLength) {
			writeError(w, kerr.Param("title", fmt.Sprintf("title must be 1 to %d characters", maxContractTitleLength)))
			return
		}
		if req.Description.Set && !req.Description.Null && len(req.Description.Value) > maxContractDescriptionLength {
			writeError(w, kerr.Param("description", fmt.Sprintf("description must be at most %d characters", maxContractDescriptionLength)))
			return
		}
		if req.Price != nil && !req.Price.IsPositive() {
			writeError(w, kerr.Param("price", "price must be greater than zero"))
			return
		}
		if req.CronExpr != nil {
			if err := validateCronExpr(*req.CronExpr); err != nil {
				writeError(w, err)
				return
			}
		}
		if req.MaxSubscribers.Set && !req.MaxSubscribers.Null && req.MaxSubscribers.Value < 0 {
			writeError(w, kerr.Param("max_subscribers", "max_subscribers must not be negative"))
			return
		}
		if req.AllowList.Set && !req.AllowList.Null {
			if err := validateAllowList(req.AllowList.Value); err != nil {
				writeError(w, err)
				return
			}
		}

		params := db.PatchContractParams{
			ID:             id,
			OwnerAddress:   address,
			Title:          req.Title,
			Description:    req.Description,
			Price:          req.Price,
			CronExpr:       req.CronExpr,
			MaxSubscribers: req.MaxSubscribers,
			AllowList:      req.AllowList,
		}
		if req.Status != nil {
			status := db.ContractStatus(*req.Status)
			if !db.ValidContractStatus(status) {
				writeError(w, kerr.Param("status", "status must be open, closed, or canceled"))
				return
			}
			params.Status = &status
		}

		contract, resync, err := store.PatchContract(r.Context(), params)
		if err != nil {
			if kerr.HTTPStatus(err) >= http.StatusInternalServerError {
				logger.Error("failed to patch contract", "error", err, "contract_id", id)
			} else {
				logger.Debug("contract patch rejected", "error", kerr.KindOf(err), "contract_id", id)
			}
			writeError(w, err)
			return
		}

		logger.Info("contract patched", "contract_id", contract.ID, "resync", resync)
		if resync {
			signals.Notify()
		}
		writeData(w, toContractView(contract))
	}
}

// handleSubscribe subscribes the session's wallet to a contract. The
// first period is charged immediately.
func handleSubscribe(store *db.Store, sessions *auth.Sessions, bc *Broadcaster, signals *sched.Notifier, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, err := requireSession(sessions, r)
		if err != nil {
			writeError(w, err)
			return
		}
		id, err := contractID(r)
		if err != nil {
			writeError(w, err)
			return
		}

		sub, txn, err := store.CreateSubscription(r.Context(), db.CreateSubscriptionParams{
			ContractID:   id,
			PayerAddress: address,
		})
		if m != nil {
			m.RecordTransfer(string(db.TransactionTypeTransfer), err)
		}
		if err != nil {
			if kerr.HTTPStatus(err) >= http.StatusInternalServerError {
				logger.Error("failed to create subscription", "error", err, "contract_id", id)
			} else {
				logger.Debug("subscription rejected", "error", kerr.KindOf(err), "contract_id", id)
			}
			writeError(w, err)
			return
		}

		logger.Info("subscription created",
			"subscription_id", sub.ID, "contract_id", sub.ContractID, "payer", sub.PayerAddress)
		bc.Transaction(r.Context(), txn)
		signals.Notify()
		writeData(w, toSubscriptionView(sub))
	}
}

// handleGetSubscription returns one subscription.
func handleGetSubscription(store *db.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id < 0 {
			writeError(w, kerr.Param("id", "id must be a non-negative integer"))
			return
		}
		sub, err := store.GetSubscription(r.Context(), id)
		if err != nil {
			if !kerr.IsKind(err, kerr.KindSubNotFound) {
				logger.Error("failed to get subscription", "error", err, "subscription_id", id)
			}
			writeError(w, err)
			return
		}
		writeData(w, toSubscriptionView(sub))
	}
}

// handleCancelSubscription cancels a subscription. Only the payer may
// cancel.
func handleCancelSubscription(store *db.Store, sessions *auth.Sessions, signals *sched.Notifier, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, err := requireSession(sessions, r)
		if err != nil {
			writeError(w, err)
			return
		}
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id < 0 {
			writeError(w, kerr.Param("id", "id must be a non-negative integer"))
			return
		}

		sub, err := store.GetSubscription(r.Context(), id)
		if err != nil {
			if !kerr.IsKind(err, kerr.KindSubNotFound) {
				logger.Error("failed to get subscription", "error", err, "subscription_id", id)
			}
			writeError(w, err)
			return
		}
		if sub.PayerAddress != address {
			writeError(w, kerr.ErrUnauthorized)
			return
		}

		if err := store.CancelSubscription(r.Context(), id); err != nil {
			logger.Error("failed to cancel subscription", "error", err, "subscription_id", id)
			writeError(w, err)
			return
		}

		logger.Info("subscription canceled", "subscription_id", id, "payer", address)
		signals.Notify()
		writeData(w, map[string]any{"subscription_id": id, "status": string(db.SubStatusCanceled)})
	}
}
