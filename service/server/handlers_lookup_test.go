package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/kromer/service/db"
)

func TestLookupAddresses(t *testing.T) {
	ts := setupTestStore(t)
	handler := handleLookupAddresses(ts.Store, testLogger())

	ts.FundWallet(t, "klookupaa1", "10")
	ts.FundWallet(t, "klookupbb2", "20")

	lookup := func(t *testing.T, addresses string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest("GET", "/api/krist/lookup/addresses/"+addresses, nil)
		req.SetPathValue("addresses", addresses)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("mixes found and missing", func(t *testing.T) {
		w := lookup(t, "klookupaa1,klookupbb2,kmissing01")
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeMap(t, w)
		assert.Equal(t, true, resp["ok"])
		assert.Equal(t, float64(2), resp["found"])
		assert.Equal(t, float64(1), resp["notFound"])

		addresses := resp["addresses"].(map[string]any)
		require.Len(t, addresses, 3)
		assert.Nil(t, addresses["kmissing01"])
		first := addresses["klookupaa1"].(map[string]any)
		assert.Equal(t, 10.0, first["balance"])
	})

	t.Run("invalid address in the list", func(t *testing.T) {
		w := lookup(t, "klookupaa1,garbage")
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeMap(t, w)
		assert.Equal(t, "invalid_parameter", resp["error"])
		assert.Equal(t, "addresses", resp["parameter"])
	})

	t.Run("empty list", func(t *testing.T) {
		w := lookup(t, ",,")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLookupTransactions(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()
	handler := handleLookupTransactions(ts.Store, testLogger())

	ts.FundWallet(t, "kluptxaaa1", "100")
	ts.FundWallet(t, "kluptxbbb2", "100")
	ts.FundWallet(t, "kluptxccc3", "0")

	firstTxn, err := ts.Transfer(ctx, db.TransferParams{
		From: "kluptxaaa1", To: "kluptxccc3", Amount: decimal.NewFromInt(1), Type: db.TransactionTypeTransfer,
	})
	require.NoError(t, err)
	secondTxn, err := ts.Transfer(ctx, db.TransferParams{
		From: "kluptxbbb2", To: "kluptxccc3", Amount: decimal.NewFromInt(2), Type: db.TransactionTypeTransfer,
	})
	require.NoError(t, err)

	lookup := func(t *testing.T, addresses, query string) map[string]any {
		t.Helper()
		req := httptest.NewRequest("GET", "/api/krist/lookup/transactions/"+addresses+query, nil)
		req.SetPathValue("addresses", addresses)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decodeMap(t, w)
	}

	t.Run("default order is id descending", func(t *testing.T) {
		resp := lookup(t, "kluptxccc3", "")
		assert.Equal(t, float64(2), resp["total"])
		txns := resp["transactions"].([]any)
		require.Len(t, txns, 2)
		assert.Equal(t, float64(secondTxn.ID), txns[0].(map[string]any)["id"])
	})

	t.Run("order can be flipped", func(t *testing.T) {
		resp := lookup(t, "kluptxccc3", "?orderBy=id&order=ASC")
		txns := resp["transactions"].([]any)
		require.Len(t, txns, 2)
		assert.Equal(t, float64(firstTxn.ID), txns[0].(map[string]any)["id"])
	})

	t.Run("union over multiple addresses", func(t *testing.T) {
		resp := lookup(t, "kluptxaaa1,kluptxbbb2", "")
		assert.Equal(t, float64(2), resp["total"])
	})
}

func TestLookupNamesAndHistory(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()

	owner := seedWallet(t, ts, "lkn-owner-key", "2000")
	seedWallet(t, ts, "lkn-payer-key", "100")
	ts.FundWallet(t, "klknnewown", "0")

	_, _, err := ts.RegisterName(ctx, "tracked", owner)
	require.NoError(t, err)

	// A routed payment and an ownership move both end up in the history.
	_, err = sendTransaction(ctx, ts.Store, "lkn-payer-key", "till@tracked.kro", decimal.NewFromInt(5), nil)
	require.NoError(t, err)
	_, _, err = ts.TransferName(ctx, "tracked", owner, "klknnewown")
	require.NoError(t, err)

	t.Run("lookup names by owner", func(t *testing.T) {
		handler := handleLookupNames(ts.Store, testLogger())
		req := httptest.NewRequest("GET", "/api/krist/lookup/names/klknnewown", nil)
		req.SetPathValue("addresses", "klknnewown")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeMap(t, w)
		assert.Equal(t, float64(1), resp["total"])
		names := resp["names"].([]any)
		assert.Equal(t, "tracked", names[0].(map[string]any)["name"])
	})

	t.Run("history is the lifecycle only", func(t *testing.T) {
		handler := handleNameHistory(ts.Store, testLogger())
		req := httptest.NewRequest("GET", "/api/krist/lookup/names/tracked/history", nil)
		req.SetPathValue("name", "tracked")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeMap(t, w)
		// Purchase and ownership move; the routed payment is not part
		// of the name's own history.
		assert.Equal(t, float64(2), resp["total"])
	})

	t.Run("transactions include the routed payment", func(t *testing.T) {
		handler := handleNameTransactions(ts.Store, testLogger())
		req := httptest.NewRequest("GET", "/api/krist/lookup/names/tracked/transactions", nil)
		req.SetPathValue("name", "tracked")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeMap(t, w)
		assert.Equal(t, float64(3), resp["total"])
		values := make([]float64, 0, 3)
		for _, raw := range resp["transactions"].([]any) {
			values = append(values, raw.(map[string]any)["value"].(float64))
		}
		assert.Contains(t, values, 5.0)
	})
}
