package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/kromer/service/krist"
)

func TestNameCost(t *testing.T) {
	handler := handleNameCost()

	req := httptest.NewRequest("GET", "/api/krist/names/cost", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeMap(t, w)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, float64(krist.NameCost), resp["name_cost"])
}

func TestCheckName(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()
	handler := handleCheckName(ts.Store, testLogger())

	owner := seedWallet(t, ts, "check-owner-key", "1000")
	_, _, err := ts.RegisterName(ctx, "takenname", owner)
	require.NoError(t, err)

	check := func(t *testing.T, name string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest("GET", "/api/krist/names/check/"+name, nil)
		req.SetPathValue("name", name)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("available", func(t *testing.T) {
		w := check(t, "freename")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decodeMap(t, w)["available"])
	})

	t.Run("taken", func(t *testing.T) {
		w := check(t, "takenname")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, decodeMap(t, w)["available"])
	})

	t.Run("suffix is stripped before the check", func(t *testing.T) {
		w := check(t, "takenname.kro")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, decodeMap(t, w)["available"])
	})

	t.Run("invalid name", func(t *testing.T) {
		w := check(t, "not-valid!")
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeMap(t, w)
		assert.Equal(t, "invalid_parameter", resp["error"])
		assert.Equal(t, "name", resp["parameter"])
	})
}

func TestRegisterNameHandler(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()
	logger := testLogger()
	bc, _ := testDeps(logger)
	handler := handleRegisterName(ts.Store, bc, nil, logger)

	register := func(t *testing.T, name, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest("POST", "/api/krist/names/"+name, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.SetPathValue("name", name)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("purchases the name", func(t *testing.T) {
		owner := seedWallet(t, ts, "reg-owner-key", "600")

		w := register(t, "brandnew", `{"privatekey":"reg-owner-key"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decodeMap(t, w)
		view := resp["name"].(map[string]any)
		assert.Equal(t, "brandnew", view["name"])
		assert.Equal(t, owner, view["owner"])
		assert.Equal(t, float64(krist.NameCost), view["unpaid"])

		wallet, err := ts.GetWallet(ctx, owner)
		require.NoError(t, err)
		assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)), "owner balance = %s", wallet.Balance)
	})

	t.Run("name already taken", func(t *testing.T) {
		seedWallet(t, ts, "reg-late-key", "600")
		w := register(t, "brandnew", `{"privatekey":"reg-late-key"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "name_taken", decodeMap(t, w)["error"])
	})

	t.Run("cannot afford the cost", func(t *testing.T) {
		seedWallet(t, ts, "reg-broke-key", "100")
		w := register(t, "dreamname", `{"privatekey":"reg-broke-key"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "insufficient_funds", decodeMap(t, w)["error"])
	})

	t.Run("unknown key", func(t *testing.T) {
		w := register(t, "anyname", `{"privatekey":"reg-nobody-key"}`)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "auth_failed", decodeMap(t, w)["error"])
	})

	t.Run("invalid name", func(t *testing.T) {
		w := register(t, "UPPER_BAD!", `{"privatekey":"reg-owner-key"}`)
		// Normalization lowercases, but the underscore stays invalid.
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_parameter", decodeMap(t, w)["error"])
	})
}

func TestTransferNameHandler(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()
	logger := testLogger()
	bc, _ := testDeps(logger)
	handler := handleTransferName(ts.Store, bc, nil, logger)

	owner := seedWallet(t, ts, "tn-owner-key", "1000")
	seedWallet(t, ts, "tn-other-key", "1000")
	ts.FundWallet(t, "ktnnewhome", "0")
	_, _, err := ts.RegisterName(ctx, "movingname", owner)
	require.NoError(t, err)

	transfer := func(t *testing.T, name, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest("POST", "/api/krist/names/"+name+"/transfer", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.SetPathValue("name", name)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("only the owner may transfer", func(t *testing.T) {
		w := transfer(t, "movingname", `{"privatekey":"tn-other-key","address":"ktnnewhome"}`)
		require.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "not_name_owner", decodeMap(t, w)["error"])
	})

	t.Run("invalid recipient address", func(t *testing.T) {
		w := transfer(t, "movingname", `{"privatekey":"tn-owner-key","address":"nope"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_parameter", decodeMap(t, w)["error"])
	})

	t.Run("unknown name", func(t *testing.T) {
		w := transfer(t, "phantomname", `{"privatekey":"tn-owner-key","address":"ktnnewhome"}`)
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "name_not_found", decodeMap(t, w)["error"])
	})

	t.Run("moves the name", func(t *testing.T) {
		w := transfer(t, "movingname", `{"privatekey":"tn-owner-key","address":"ktnnewhome"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		view := decodeMap(t, w)["name"].(map[string]any)
		assert.Equal(t, "ktnnewhome", view["owner"])
		assert.NotNil(t, view["transferred"])

		n, err := ts.GetName(ctx, "movingname")
		require.NoError(t, err)
		assert.Equal(t, "ktnnewhome", n.Owner)
	})
}

func TestUpdateNameDataHandler(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()
	logger := testLogger()
	bc, _ := testDeps(logger)
	handler := handleUpdateNameData(ts.Store, bc, nil, logger)

	owner := seedWallet(t, ts, "und-owner-key", "1000")
	_, _, err := ts.RegisterName(ctx, "recordname", owner)
	require.NoError(t, err)

	update := func(t *testing.T, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest("POST", "/api/krist/names/recordname/update", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.SetPathValue("name", "recordname")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("sets the record", func(t *testing.T) {
		w := update(t, `{"privatekey":"und-owner-key","a":"krist.example.com"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		view := decodeMap(t, w)["name"].(map[string]any)
		assert.Equal(t, "krist.example.com", view["a"])
	})

	t.Run("clears the record", func(t *testing.T) {
		w := update(t, `{"privatekey":"und-owner-key"}`)
		require.Equal(t, http.StatusOK, w.Code)
		view := decodeMap(t, w)["name"].(map[string]any)
		assert.Nil(t, view["a"])

		n, err := ts.GetName(ctx, "recordname")
		require.NoError(t, err)
		assert.Nil(t, n.Metadata)
	})

	t.Run("record too long", func(t *testing.T) {
		w := update(t, `{"privatekey":"und-owner-key","a":"`+strings.Repeat("x", 300)+`"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeMap(t, w)
		assert.Equal(t, "invalid_parameter", resp["error"])
		assert.Equal(t, "a", resp["parameter"])
	})
}

func TestListAndNewestNames(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()

	owner := seedWallet(t, ts, "ln-owner-key", "2000")
	_, _, err := ts.RegisterName(ctx, "zebra", owner)
	require.NoError(t, err)
	_, _, err = ts.RegisterName(ctx, "apple", owner)
	require.NoError(t, err)

	t.Run("alphabetical listing", func(t *testing.T) {
		handler := handleListNames(ts.Store, testLogger())
		req := httptest.NewRequest("GET", "/api/krist/names", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeMap(t, w)
		assert.Equal(t, float64(2), resp["total"])
		names := resp["names"].([]any)
		assert.Equal(t, "apple", names[0].(map[string]any)["name"])
	})

	t.Run("newest first", func(t *testing.T) {
		handler := handleNewestNames(ts.Store, testLogger())
		req := httptest.NewRequest("GET", "/api/krist/names/new", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		names := decodeMap(t, w)["names"].([]any)
		require.NotEmpty(t, names)
		assert.Equal(t, "apple", names[0].(map[string]any)["name"])
	})

	t.Run("name bonus counts unpaid names", func(t *testing.T) {
		handler := handleNameBonus(ts.Store, testLogger())
		req := httptest.NewRequest("GET", "/api/krist/names/bonus", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(2), decodeMap(t, w)["name_bonus"])
	})
}
