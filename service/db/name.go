package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
)

// Name is a registered name. Metadata holds the owner-set a record.
// Unpaid is the purchase cost not yet paid out; with mining disabled it
// only ever decreases by administrative action.
type Name struct {
	ID              int32
	Name            string
	Owner           string
	OriginalOwner   string
	TimeRegistered  time.Time
	LastUpdated     *time.Time
	LastTransferred *time.Time
	Unpaid          decimal.Decimal
	Metadata        *string
}

const nameColumns = `id, name, owner, original_owner, time_registered, last_updated, last_transferred, unpaid, metadata`

func scanName(row pgx.Row) (*Name, error) {
	var (
		n           Name
		updated     pgtype.Timestamptz
		transferred pgtype.Timestamptz
		metadata    pgtype.Text
	)
	err := row.Scan(&n.ID, &n.Name, &n.Owner, &n.OriginalOwner, &n.TimeRegistered,
		&updated, &transferred, &n.Unpaid, &metadata)
	if err != nil {
		return nil, err
	}
	n.LastUpdated = timePtrFromPgTimestamptz(updated)
	n.LastTransferred = timePtrFromPgTimestamptz(transferred)
	n.Metadata = stringPtrFromPgtext(metadata)
	return &n, nil
}

// GetName retrieves a name.
func (s *Store) GetName(ctx context.Context, name string) (*Name, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+nameColumns+` FROM names WHERE name = $1`, name)
	n, err := scanName(row)
	if err != nil {
		return nil, translateErr(err, kerr.KindNameNotFound, "name "+name)
	}
	return n, nil
}

// NameExists reports whether a name is registered.
func (s *Store) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM names WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, translateErr(err, kerr.KindStore, "check name "+name)
	}
	return exists, nil
}

// ListNamesParams paginates name listings.
type ListNamesParams struct {
	Limit  int64
	Offset int64
}

// ListNames retrieves names ordered by name.
func (s *Store) ListNames(ctx context.Context, params ListNamesParams) ([]*Name, error) {
	return s.listNames(ctx,
		`SELECT `+nameColumns+` FROM names ORDER BY name LIMIT $1 OFFSET $2`, params)
}

// NewestNames retrieves names ordered by registration time, newest first.
func (s *Store) NewestNames(ctx context.Context, params ListNamesParams) ([]*Name, error) {
	return s.listNames(ctx,
		`SELECT `+nameColumns+` FROM names ORDER BY time_registered DESC LIMIT $1 OFFSET $2`, params)
}

// ListNamesByOwner retrieves the names owned by an address.
func (s *Store) ListNamesByOwner(ctx context.Context, owner string, params ListNamesParams) ([]*Name, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+nameColumns+` FROM names WHERE owner = $3 ORDER BY name LIMIT $1 OFFSET $2`,
		clampLimit(params.Limit), max(params.Offset, 0), owner)
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "list names for "+owner)
	}
	defer rows.Close()
	return collectNames(rows)
}

// LookupNames retrieves names owned by any of the given addresses along
// with the matching total.
func (s *Store) LookupNames(ctx context.Context, owners []string, params ListNamesParams) ([]*Name, int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+nameColumns+` FROM names WHERE owner = ANY($3) ORDER BY name LIMIT $1 OFFSET $2`,
		clampLimit(params.Limit), max(params.Offset, 0), owners)
	if err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "lookup names")
	}
	defer rows.Close()
	names, err := collectNames(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM names WHERE owner = ANY($1)`, owners).Scan(&total)
	if err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "count lookup names")
	}
	return names, total, nil
}

func (s *Store) listNames(ctx context.Context, q string, params ListNamesParams) ([]*Name, error) {
	rows, err := s.pool.Query(ctx, q, clampLimit(params.Limit), max(params.Offset, 0))
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "list names")
	}
	defer rows.Close()
	return collectNames(rows)
}

func collectNames(rows pgx.Rows) ([]*Name, error) {
	var names []*Name
	for rows.Next() {
		n, err := scanName(rows)
		if err != nil {
			return nil, translateErr(err, kerr.KindStore, "scan name")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// CountNames returns the total number of registered names.
func (s *Store) CountNames(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM names`).Scan(&n); err != nil {
		return 0, translateErr(err, kerr.KindStore, "count names")
	}
	return n, nil
}

// CountNamesByOwner returns the number of names an address owns.
func (s *Store) CountNamesByOwner(ctx context.Context, owner string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM names WHERE owner = $1`, owner).Scan(&n)
	if err != nil {
		return 0, translateErr(err, kerr.KindStore, "count names for "+owner)
	}
	return n, nil
}

// NameBonus returns the number of names whose purchase cost has not
// been paid out.
func (s *Store) NameBonus(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM names WHERE unpaid > 0`).Scan(&n)
	if err != nil {
		return 0, translateErr(err, kerr.KindStore, "count unpaid names")
	}
	return n, nil
}

// RegisterName purchases a name for owner. In one database transaction
// the purchase cost moves from the owner to the welfare wallet and the
// name row is created. A duplicate name or an uncovered cost aborts the
// whole purchase.
func (s *Store) RegisterName(ctx context.Context, name, owner string) (*Name, *Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "begin name purchase")
	}
	defer tx.Rollback(ctx)

	txn, err := s.transferTx(ctx, tx, TransferParams{
		From:   owner,
		To:     krist.WelfareAddress,
		Amount: decimal.NewFromInt(krist.NameCost),
		Type:   TransactionTypeNamePurchase,
		Name:   &name,
	})
	if err != nil {
		return nil, nil, err
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO names (name, owner, original_owner, time_registered, unpaid)
		 VALUES ($1, $2, $2, NOW(), $3)
		 RETURNING `+nameColumns, name, owner, decimal.NewFromInt(krist.NameCost))
	n, err := scanName(row)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "insert name")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "commit name purchase")
	}
	return n, txn, nil
}

// TransferName moves a name to a new owner and records the zero-amount
// ledger row. Fails when from does not own the name.
func (s *Store) TransferName(ctx context.Context, name, from, to string) (*Name, *Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "begin name transfer")
	}
	defer tx.Rollback(ctx)

	current, err := s.getNameForUpdate(ctx, tx, name)
	if err != nil {
		return nil, nil, err
	}
	if current.Owner != from {
		return nil, nil, kerr.Newf(kerr.KindNotNameOwner, "address %s does not own name %s", from, name)
	}

	var recipientID int32
	err = tx.QueryRow(ctx, `SELECT id FROM wallets WHERE address = $1`, to).Scan(&recipientID)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindWalletNotFound, "recipient wallet "+to)
	}

	row := tx.QueryRow(ctx,
		`UPDATE names SET owner = $2, last_updated = NOW(), last_transferred = NOW()
		 WHERE name = $1
		 RETURNING `+nameColumns, name, to)
	updated, err := scanName(row)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "update name owner")
	}

	txn, err := insertTransaction(ctx, tx, TransferParams{
		From:     from,
		To:       to,
		Amount:   decimal.Zero,
		Type:     TransactionTypeNameTransfer,
		Name:     &name,
		SentName: &name,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "commit name transfer")
	}
	return updated, txn, nil
}

// UpdateNameData sets or clears a name's a record and records the
// bookkeeping ledger row. Fails when owner does not own the name.
func (s *Store) UpdateNameData(ctx context.Context, name, owner string, data *string) (*Name, *Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "begin name update")
	}
	defer tx.Rollback(ctx)

	current, err := s.getNameForUpdate(ctx, tx, name)
	if err != nil {
		return nil, nil, err
	}
	if current.Owner != owner {
		return nil, nil, kerr.Newf(kerr.KindNotNameOwner, "address %s does not own name %s", owner, name)
	}

	row := tx.QueryRow(ctx,
		`UPDATE names SET metadata = $2, last_updated = NOW()
		 WHERE name = $1
		 RETURNING `+nameColumns, name, pgtextFromStringPtr(data))
	updated, err := scanName(row)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "update name data")
	}

	txn, err := insertTransaction(ctx, tx, TransferParams{
		From:     owner,
		To:       owner,
		Amount:   decimal.Zero,
		Type:     TransactionTypeNameARecord,
		Name:     &name,
		Metadata: data,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "commit name update")
	}
	return updated, txn, nil
}

func (s *Store) getNameForUpdate(ctx context.Context, tx pgx.Tx, name string) (*Name, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+nameColumns+` FROM names WHERE name = $1 FOR UPDATE`, name)
	n, err := scanName(row)
	if err != nil {
		return nil, translateErr(err, kerr.KindNameNotFound, "name "+name)
	}
	return n, nil
}
