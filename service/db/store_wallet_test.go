package db

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
)

func TestGetOrCreateWallet(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	wallet, err := store.GetOrCreateWallet(ctx, "kfreshadd1")
	require.NoError(t, err)
	require.NotNil(t, wallet)

	assert.Equal(t, "kfreshadd1", wallet.Address)
	assert.True(t, wallet.Balance.IsZero(), "new wallet balance = %s", wallet.Balance)
	assert.True(t, wallet.TotalIn.IsZero())
	assert.True(t, wallet.TotalOut.IsZero())
	assert.False(t, wallet.Locked)
	assert.WithinDuration(t, time.Now(), wallet.CreatedAt, 5*time.Second)

	// A second call must return the same row, not a new one.
	again, err := store.GetOrCreateWallet(ctx, "kfreshadd1")
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, again.ID)
}

func TestGetWallet(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	store.FundWallet(t, "kgetwalle1", "42.50")

	t.Run("existing wallet", func(t *testing.T) {
		wallet, err := store.GetWallet(ctx, "kgetwalle1")
		require.NoError(t, err)
		assert.Equal(t, "kgetwalle1", wallet.Address)
		assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("42.50")), "balance = %s", wallet.Balance)
	})

	t.Run("missing wallet", func(t *testing.T) {
		_, err := store.GetWallet(ctx, "kmissing99")
		require.Error(t, err)
		assert.True(t, kerr.IsKind(err, kerr.KindWalletNotFound), "got %v", err)
	})
}

func TestListRichestWallets(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	store.FundWallet(t, "krichtop11", "300")
	store.FundWallet(t, "krichmid22", "200")
	store.FundWallet(t, "krichlow33", "100")

	wallets, err := store.ListRichestWallets(ctx, ListWalletsParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, "krichtop11", wallets[0].Address)
	assert.Equal(t, "krichmid22", wallets[1].Address)
}

func TestListWallets(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	store.FundWallet(t, "klistaaa11", "1")
	store.FundWallet(t, "klistbbb22", "2")

	wallets, err := store.ListWallets(ctx, ListWalletsParams{Limit: 10})
	require.NoError(t, err)
	// The welfare wallet is seeded by the schema, so it is included.
	assert.Len(t, wallets, 3)

	n, err := store.CountWallets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSupplyExcludesWelfare(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	store.FundWallet(t, "ksupplyon1", "100")
	store.FundWallet(t, "ksupplytw2", "50")
	store.FundWallet(t, krist.WelfareAddress, "5000")

	supply, err := store.Supply(ctx)
	require.NoError(t, err)
	assert.True(t, supply.Equal(decimal.NewFromInt(150)), "supply = %s", supply)
}
