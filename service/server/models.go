package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
)

const maxRequestBodySize = 1 << 20 // 1MB - plenty for any request here

// Pagination bounds for listing endpoints. The store clamps again, but
// the request boundary owns the protocol-visible limits.
const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// kristAddress is the legacy wire view of a wallet. Balances go out as
// JSON numbers; timestamps use the legacy millisecond ISO format.
type kristAddress struct {
	Address   string          `json:"address"`
	Balance   float64         `json:"balance"`
	TotalIn   float64         `json:"totalin"`
	TotalOut  float64         `json:"totalout"`
	FirstSeen krist.Timestamp `json:"firstseen"`
	Names     *int64          `json:"names,omitempty"`
}

func toKristAddress(w *db.Wallet, names *int64) kristAddress {
	return kristAddress{
		Address:   w.Address,
		Balance:   dec(w.Balance),
		TotalIn:   dec(w.TotalIn),
		TotalOut:  dec(w.TotalOut),
		FirstSeen: krist.Timestamp(w.CreatedAt),
		Names:     names,
	}
}

// kristTransaction is the legacy wire view of a ledger row.
type kristTransaction struct {
	ID           int64           `json:"id"`
	From         *string         `json:"from"`
	To           string          `json:"to"`
	Value        float64         `json:"value"`
	Time         krist.Timestamp `json:"time"`
	Name         *string         `json:"name"`
	Metadata     *string         `json:"metadata"`
	SentMetaname *string         `json:"sent_metaname"`
	SentName     *string         `json:"sent_name"`
	Type         string          `json:"type"`
}

func toKristTransaction(t *db.Transaction) kristTransaction {
	return kristTransaction{
		ID:           t.ID,
		From:         t.From,
		To:           t.To,
		Value:        dec(t.Amount),
		Time:         krist.Timestamp(t.Date),
		Name:         t.Name,
		Metadata:     t.Metadata,
		SentMetaname: t.SentMetaname,
		SentName:     t.SentName,
		Type:         string(t.Type),
	}
}

func toKristTransactions(txns []*db.Transaction) []kristTransaction {
	out := make([]kristTransaction, len(txns))
	for i, t := range txns {
		out[i] = toKristTransaction(t)
	}
	return out
}

// kristName is the legacy wire view of a registered name. The a record
// rides in the "a" field.
type kristName struct {
	Name        string           `json:"name"`
	Owner       string           `json:"owner"`
	Registered  krist.Timestamp  `json:"registered"`
	Updated     *krist.Timestamp `json:"updated"`
	Transferred *krist.Timestamp `json:"transferred"`
	A           *string          `json:"a"`
	Unpaid      int64            `json:"unpaid"`
}

func toKristName(n *db.Name) kristName {
	return kristName{
		Name:        n.Name,
		Owner:       n.Owner,
		Registered:  krist.Timestamp(n.TimeRegistered),
		Updated:     tsPtr(n.LastUpdated),
		Transferred: tsPtr(n.LastTransferred),
		A:           n.Metadata,
		Unpaid:      n.Unpaid.IntPart(),
	}
}

func toKristNames(names []*db.Name) []kristName {
	out := make([]kristName, len(names))
	for i, n := range names {
		out[i] = toKristName(n)
	}
	return out
}

// walletView is the native wire view of a wallet.
type walletView struct {
	ID        int32     `json:"id"`
	Address   string    `json:"address"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	Locked    bool      `json:"locked"`
	TotalIn   float64   `json:"total_in"`
	TotalOut  float64   `json:"total_out"`
	Names     *int64    `json:"names,omitempty"`
}

func toWalletView(w *db.Wallet, names *int64) walletView {
	return walletView{
		ID:        w.ID,
		Address:   w.Address,
		Balance:   dec(w.Balance),
		CreatedAt: w.CreatedAt,
		Locked:    w.Locked,
		TotalIn:   dec(w.TotalIn),
		TotalOut:  dec(w.TotalOut),
		Names:     names,
	}
}

// contractView is the native wire view of a contract offer.
type contractView struct {
	ID             int32     `json:"contract_id"`
	OwnerAddress   string    `json:"owner_address"`
	Title          string    `json:"title"`
	Description    *string   `json:"description"`
	Status         string    `json:"status"`
	Price          float64   `json:"price"`
	MaxSubscribers *int32    `json:"max_subscribers"`
	AllowList      []string  `json:"allow_list"`
	CronExpr       string    `json:"cron_expr"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toContractView(c *db.Contract) contractView {
	return contractView{
		ID:             c.ID,
		OwnerAddress:   c.OwnerAddress,
		Title:          c.Title,
		Description:    c.Description,
		Status:         string(c.Status),
		Price:          dec(c.Price),
		MaxSubscribers: c.MaxSubscribers,
		AllowList:      c.AllowList,
		CronExpr:       c.CronExpr,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// subscriptionView is the native wire view of a subscription.
type subscriptionView struct {
	ID           int64      `json:"subscription_id"`
	ContractID   int32      `json:"contract_id"`
	PayerAddress string     `json:"payer_address"`
	Status       string     `json:"status"`
	LapsedAt     *time.Time `json:"lapsed_at"`
	StartedAt    time.Time  `json:"started_at"`
}

func toSubscriptionView(s *db.Subscription) subscriptionView {
	return subscriptionView{
		ID:           s.ID,
		ContractID:   s.ContractID,
		PayerAddress: s.PayerAddress,
		Status:       string(s.Status),
		LapsedAt:     s.LapsedAt,
		StartedAt:    s.StartedAt,
	}
}

// paginatedResponse is the native list page shape. Remaining counts the
// entries past the end of Items under the request's filters.
type paginatedResponse[T any] struct {
	Count     int   `json:"count"`
	Remaining int64 `json:"remaining"`
	Items     []T   `json:"items"`
}

func paginate[T any](items []T, total, offset int64) paginatedResponse[T] {
	remaining := total - (offset + int64(len(items)))
	if remaining < 0 {
		remaining = 0
	}
	if items == nil {
		items = []T{}
	}
	return paginatedResponse[T]{Count: len(items), Remaining: remaining, Items: items}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeData writes a native success envelope.
func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, map[string]any{"ok": true, "data": data}, http.StatusOK)
}

// writeError writes the error envelope shared by the legacy and native
// surfaces. The status and stable code come from the error's kind;
// invalid_parameter errors additionally name the offending field.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{
		"ok":      false,
		"error":   string(kerr.KindOf(err)),
		"message": kerr.MessageOf(err),
	}
	var ke *kerr.Error
	if errors.As(err, &ke) && ke.Field != "" {
		body["parameter"] = ke.Field
	}
	writeJSON(w, body, kerr.HTTPStatus(err))
}

// decodeBody decodes a JSON request body with a size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return kerr.New(kerr.KindInvalidParameter, "invalid request body: must be valid JSON")
	}
	return nil
}

// parsePagination reads limit and offset query parameters, applying the
// protocol defaults and bounds.
func parsePagination(r *http.Request) (limit, offset int64, err error) {
	limit = defaultPageLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.ParseInt(s, 10, 64)
		if err != nil || limit < 1 {
			return 0, 0, kerr.Param("limit", "limit must be a positive integer")
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err = strconv.ParseInt(s, 10, 64)
		if err != nil || offset < 0 {
			return 0, 0, kerr.Param("offset", "offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func dec(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func tsPtr(t *time.Time) *krist.Timestamp {
	if t == nil {
		return nil
	}
	ts := krist.Timestamp(*t)
	return &ts
}
