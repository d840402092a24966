package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/kerr"
)

// ContractStatus enumerates the contract_status column values.
type ContractStatus string

const (
	ContractStatusOpen     ContractStatus = "open"
	ContractStatusClosed   ContractStatus = "closed"
	ContractStatusCanceled ContractStatus = "canceled"
)

// ValidContractStatus reports whether s names a known contract status.
func ValidContractStatus(s ContractStatus) bool {
	switch s {
	case ContractStatusOpen, ContractStatusClosed, ContractStatusCanceled:
		return true
	}
	return false
}

// Patch is a three-state JSON field for partial updates. A zero Patch
// means the field was absent from the request body, Null means it was
// an explicit JSON null (clear the field), and Set without Null means
// a new value was provided.
type Patch[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// UnmarshalJSON runs only when the field is present in the body, so
// absent fields keep the zero Patch.
func (p *Patch[T]) UnmarshalJSON(data []byte) error {
	p.Set = true
	if string(data) == "null" {
		p.Null = true
		return nil
	}
	return json.Unmarshal(data, &p.Value)
}

// Contract is a contract_offers row joined with its owner's wallet
// address. AllowList is nil when the contract is open to any address,
// and MaxSubscribers is nil when unbounded.
type Contract struct {
	ID             int32
	OwnerAddress   string
	Title          string
	Description    *string
	Status         ContractStatus
	Price          decimal.Decimal
	MaxSubscribers *int32
	AllowList      []string
	CronExpr       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const contractColumns = `w.address,
		c.contract_id,
		c.title,
		c.description,
		c.status,
		c.price,
		c.max_subscribers,
		c.allow_list,
		c.created_at,
		c.updated_at,
		c.cron_expr`

const contractFrom = ` FROM contract_offers AS c LEFT JOIN wallets AS w ON c.owner_id = w.id`

func scanContract(row pgx.Row) (*Contract, error) {
	var (
		c       Contract
		desc    pgtype.Text
		status  string
		maxSubs pgtype.Int4
	)
	err := row.Scan(&c.OwnerAddress, &c.ID, &c.Title, &desc, &status, &c.Price,
		&maxSubs, &c.AllowList, &c.CreatedAt, &c.UpdatedAt, &c.CronExpr)
	if err != nil {
		return nil, err
	}
	c.Description = stringPtrFromPgtext(desc)
	c.Status = ContractStatus(status)
	c.MaxSubscribers = intPtrFromPgint4(maxSubs)
	return &c, nil
}

// CreateContractParams contains the parameters for creating a contract
// offer. Values are validated at the request boundary.
type CreateContractParams struct {
	OwnerAddress   string
	Title          string
	Description    *string
	Price          decimal.Decimal
	MaxSubscribers *int32
	AllowList      []string
	CronExpr       string
}

// CreateContract inserts a new contract offer owned by the given
// wallet and returns it joined with the owner address.
func (s *Store) CreateContract(ctx context.Context, params CreateContractParams) (*Contract, error) {
	row := s.pool.QueryRow(ctx, `WITH c AS (
			INSERT INTO contract_offers (owner_id, title, description, price, max_subscribers, allow_list, cron_expr)
			VALUES ((SELECT id FROM wallets WHERE address = $1), $2, $3, $4, $5, $6, $7)
			RETURNING *
		) SELECT `+contractColumns+` FROM c LEFT JOIN wallets AS w ON c.owner_id = w.id`,
		params.OwnerAddress, params.Title, pgtextFromStringPtr(params.Description),
		params.Price, pgint4FromIntPtr(params.MaxSubscribers), params.AllowList, params.CronExpr)
	c, err := scanContract(row)
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "create contract")
	}
	return c, nil
}

// GetContract retrieves a contract by id.
func (s *Store) GetContract(ctx context.Context, id int32) (*Contract, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contractColumns+contractFrom+` WHERE contract_id = $1`, id)
	c, err := scanContract(row)
	if err != nil {
		return nil, translateErr(err, kerr.KindContractNotFound, fmt.Sprintf("contract %d", id))
	}
	return c, nil
}

// ContractExists reports whether a contract with the given id exists.
func (s *Store) ContractExists(ctx context.Context, id int32) (bool, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM contract_offers WHERE contract_id = $1`, id).Scan(&n)
	if err != nil {
		return false, translateErr(err, kerr.KindStore, "check contract")
	}
	return n > 0, nil
}

// ListContractsParams filters contract listings. Address restricts to
// contracts owned by that wallet; IsOpen restricts to open contracts.
type ListContractsParams struct {
	Address *string
	IsOpen  bool
	Limit   int64
	Offset  int64
}

// ListContracts retrieves contracts ordered by creation time along
// with the total count matching the filters.
func (s *Store) ListContracts(ctx context.Context, params ListContractsParams) ([]*Contract, int64, error) {
	where := ""
	args := []any{}
	switch {
	case params.Address != nil && params.IsOpen:
		where = ` WHERE c.status = 'open' AND w.address = $1`
		args = append(args, *params.Address)
	case params.Address != nil:
		where = ` WHERE w.address = $1`
		args = append(args, *params.Address)
	case params.IsOpen:
		where = ` WHERE c.status = 'open'`
	}

	listQ := fmt.Sprintf(`SELECT %s%s%s ORDER BY c.created_at LIMIT $%d OFFSET $%d`,
		contractColumns, contractFrom, where, len(args)+1, len(args)+2)
	listArgs := append(args, clampLimit(params.Limit), max(params.Offset, 0))

	rows, err := s.pool.Query(ctx, listQ, listArgs...)
	if err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "list contracts")
	}
	defer rows.Close()

	var contracts []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, 0, translateErr(err, kerr.KindStore, "scan contract")
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "list contracts")
	}

	var total int64
	countQ := `SELECT COUNT(*)` + contractFrom + where
	if err := s.pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "count contracts")
	}
	return contracts, total, nil
}

// PatchContractParams describes a partial contract update. Pointer
// fields are no-ops when nil; Patch fields distinguish absent from an
// explicit null, which clears the column. Values are validated at the
// request boundary; OwnerAddress is the authenticated wallet and must
// match the contract owner.
type PatchContractParams struct {
	ID             int32
	OwnerAddress   string
	Title          *string
	Description    Patch[string]
	Status         *ContractStatus
	Price          *decimal.Decimal
	CronExpr       *string
	MaxSubscribers Patch[int32]
	AllowList      Patch[[]string]
}

// PatchContract applies a partial update to a contract while holding a
// row lock. The returned boolean reports whether scheduling-relevant
// fields changed (status closed or canceled, price, cron expression)
// and the subscription scheduler should resync.
func (s *Store) PatchContract(ctx context.Context, params PatchContractParams) (*Contract, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, translateErr(err, kerr.KindStore, "begin contract update")
	}
	defer tx.Rollback(ctx)

	c, err := getContractForUpdate(ctx, tx, params.ID)
	if err != nil {
		return nil, false, err
	}
	if c.OwnerAddress != params.OwnerAddress {
		return nil, false, kerr.ErrUnauthorized
	}

	resync := false

	if params.Title != nil {
		c.Title = *params.Title
	}
	switch {
	case params.Description.Null:
		c.Description = nil
	case params.Description.Set:
		desc := params.Description.Value
		c.Description = &desc
	}
	if params.Status != nil {
		c.Status = *params.Status
		if c.Status == ContractStatusClosed || c.Status == ContractStatusCanceled {
			resync = true
		}
	}
	if params.Price != nil && !params.Price.Equal(c.Price) {
		c.Price = *params.Price
		resync = true
	}
	if params.CronExpr != nil && *params.CronExpr != c.CronExpr {
		c.CronExpr = *params.CronExpr
		resync = true
	}
	switch {
	case params.AllowList.Null:
		c.AllowList = nil
	case params.AllowList.Set:
		c.AllowList = params.AllowList.Value
	}
	switch {
	case params.MaxSubscribers.Null:
		c.MaxSubscribers = nil
	case params.MaxSubscribers.Set:
		maxSubs := params.MaxSubscribers.Value
		c.MaxSubscribers = &maxSubs
	}

	err = tx.QueryRow(ctx, `UPDATE contract_offers SET
			title = $1,
			description = $2,
			status = $3::contract_status,
			price = $4,
			cron_expr = $5,
			max_subscribers = $6,
			allow_list = $7,
			updated_at = NOW()
		WHERE contract_id = $8
		RETURNING updated_at`,
		c.Title, pgtextFromStringPtr(c.Description), string(c.Status), c.Price,
		c.CronExpr, pgint4FromIntPtr(c.MaxSubscribers), c.AllowList, c.ID).Scan(&c.UpdatedAt)
	if err != nil {
		return nil, false, translateErr(err, kerr.KindStore, "update contract")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, translateErr(err, kerr.KindStore, "commit contract update")
	}
	return c, resync, nil
}

func getContractForUpdate(ctx context.Context, tx pgx.Tx, id int32) (*Contract, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+contractColumns+contractFrom+` WHERE contract_id = $1 FOR UPDATE OF c`, id)
	c, err := scanContract(row)
	if err != nil {
		return nil, translateErr(err, kerr.KindContractNotFound, fmt.Sprintf("contract %d", id))
	}
	return c, nil
}
