package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
)

// Wallet represents a currency wallet. Balance is maintained by the
// transfer primitive and protected by a non-negativity check constraint.
type Wallet struct {
	ID        int32
	Address   string
	Balance   decimal.Decimal
	TotalIn   decimal.Decimal
	TotalOut  decimal.Decimal
	CreatedAt time.Time
	Locked    bool
}

const walletColumns = `id, address, balance, total_in, total_out, created_at, locked`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.Address, &w.Balance, &w.TotalIn, &w.TotalOut, &w.CreatedAt, &w.Locked)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWallet retrieves a wallet by its address.
func (s *Store) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE address = $1`, address)
	w, err := scanWallet(row)
	if err != nil {
		return nil, translateErr(err, kerr.KindWalletNotFound, "wallet "+address)
	}
	return w, nil
}

// GetOrCreateWallet retrieves a wallet, creating an empty unlocked one
// when the address is not yet known.
func (s *Store) GetOrCreateWallet(ctx context.Context, address string) (*Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO wallets (address) VALUES ($1)
		 ON CONFLICT (address) DO NOTHING
		 RETURNING `+walletColumns, address)
	w, err := scanWallet(row)
	if err == nil {
		return w, nil
	}
	// Conflict path: the row already existed and RETURNING yielded nothing.
	return s.GetWallet(ctx, address)
}

// ListWalletsParams paginates wallet listings.
type ListWalletsParams struct {
	Limit  int64
	Offset int64
}

// ListWallets retrieves wallets ordered by first-seen time.
func (s *Store) ListWallets(ctx context.Context, params ListWalletsParams) ([]*Wallet, error) {
	return s.listWallets(ctx,
		`SELECT `+walletColumns+` FROM wallets ORDER BY id LIMIT $1 OFFSET $2`, params)
}

// ListRichestWallets retrieves wallets ordered by balance, highest first.
func (s *Store) ListRichestWallets(ctx context.Context, params ListWalletsParams) ([]*Wallet, error) {
	return s.listWallets(ctx,
		`SELECT `+walletColumns+` FROM wallets ORDER BY balance DESC, id LIMIT $1 OFFSET $2`, params)
}

func (s *Store) listWallets(ctx context.Context, q string, params ListWalletsParams) ([]*Wallet, error) {
	rows, err := s.pool.Query(ctx, q, clampLimit(params.Limit), max(params.Offset, 0))
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "list wallets")
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, translateErr(err, kerr.KindStore, "scan wallet")
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// CountWallets returns the total number of wallets.
func (s *Store) CountWallets(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM wallets`).Scan(&n)
	if err != nil {
		return 0, translateErr(err, kerr.KindStore, "count wallets")
	}
	return n, nil
}

// Supply returns the circulating money supply: the sum of all balances
// excluding the welfare wallet.
func (s *Store) Supply(ctx context.Context) (decimal.Decimal, error) {
	var supply decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM wallets WHERE address != $1`,
		krist.WelfareAddress).Scan(&supply)
	if err != nil {
		return decimal.Zero, translateErr(err, kerr.KindStore, "money supply")
	}
	return supply, nil
}

func clampLimit(limit int64) int64 {
	if limit < 1 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
