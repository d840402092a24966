package db

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/kerr"
)

// SubStatus enumerates the subscription_status column values.
type SubStatus string

const (
	SubStatusActive   SubStatus = "active"
	SubStatusPending  SubStatus = "pending"
	SubStatusCanceled SubStatus = "canceled"
)

// Subscription is a subscriptions row joined with the payer's wallet
// address. LapsedAt is the next time the scheduler must act on it; nil
// means the subscription is terminal.
type Subscription struct {
	ID           int64
	ContractID   int32
	PayerAddress string
	Status       SubStatus
	LapsedAt     *time.Time
	StartedAt    time.Time
}

const subscriptionColumns = `w.address,
		s.subscription_id,
		s.contract_id,
		s.status,
		s.lapsed_at,
		s.started_at`

const subscriptionFrom = ` FROM subscriptions AS s LEFT JOIN wallets AS w ON s.wallet_id = w.id`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub      Subscription
		status   string
		lapsedAt pgtype.Timestamptz
	)
	err := row.Scan(&sub.PayerAddress, &sub.ID, &sub.ContractID, &status, &lapsedAt, &sub.StartedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = SubStatus(status)
	sub.LapsedAt = timePtrFromPgTimestamptz(lapsedAt)
	return &sub, nil
}

// CreateSubscriptionParams contains the parameters for subscribing a
// wallet to a contract.
type CreateSubscriptionParams struct {
	ContractID   int32
	PayerAddress string
}

// CreateSubscription subscribes the payer to a contract. The contract
// row is locked while eligibility is checked (contract open, payer on
// the allow list, subscriber cap not reached, no existing active
// subscription), then the first period is charged immediately through
// the ledger and the next lapse is scheduled from the contract's cron
// expression. On any failure nothing is written.
func (s *Store) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, *Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "begin subscription")
	}
	defer tx.Rollback(ctx)

	c, err := getContractForUpdate(ctx, tx, params.ContractID)
	if err != nil {
		return nil, nil, err
	}
	if c.Status != ContractStatusOpen {
		return nil, nil, kerr.Newf(kerr.KindInvalidParameter, "contract %d is not open for subscription", c.ID)
	}
	if c.AllowList != nil && !slices.Contains(c.AllowList, params.PayerAddress) {
		return nil, nil, kerr.ErrUnauthorized
	}

	var payerID int32
	err = tx.QueryRow(ctx, `SELECT id FROM wallets WHERE address = $1`, params.PayerAddress).Scan(&payerID)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindWalletNotFound, "wallet "+params.PayerAddress)
	}

	var active int64
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE contract_id = $1 AND status = 'active'`,
		c.ID).Scan(&active)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "count subscribers")
	}
	if c.MaxSubscribers != nil && active >= int64(*c.MaxSubscribers) {
		return nil, nil, kerr.Newf(kerr.KindInvalidParameter, "contract %d has reached its subscriber limit", c.ID)
	}

	var existing int64
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE contract_id = $1 AND wallet_id = $2 AND status = 'active'`,
		c.ID, payerID).Scan(&existing)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "check existing subscription")
	}
	if existing > 0 {
		return nil, nil, kerr.Newf(kerr.KindInvalidParameter, "wallet %s already has an active subscription to contract %d", params.PayerAddress, c.ID)
	}

	schedule, err := cron.ParseStandard(c.CronExpr)
	if err != nil {
		return nil, nil, kerr.Wrap(kerr.KindStore, "parse stored cron expression", err)
	}
	next := schedule.Next(time.Now().UTC())

	sub := Subscription{
		ContractID:   c.ID,
		PayerAddress: params.PayerAddress,
		Status:       SubStatusActive,
		LapsedAt:     &next,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO subscriptions (contract_id, wallet_id, status, lapsed_at, started_at)
		 VALUES ($1, $2, 'active', $3, NOW())
		 RETURNING subscription_id, started_at`,
		c.ID, payerID, next).Scan(&sub.ID, &sub.StartedAt)
	if err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "insert subscription")
	}

	metadata := fmt.Sprintf("sub_id=%d", sub.ID)
	txn, err := s.transferTx(ctx, tx, TransferParams{
		From:     params.PayerAddress,
		To:       c.OwnerAddress,
		Amount:   c.Price,
		Type:     TransactionTypeTransfer,
		Metadata: &metadata,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, translateErr(err, kerr.KindStore, "commit subscription")
	}
	return &sub, txn, nil
}

// GetSubscription retrieves a subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+subscriptionFrom+` WHERE subscription_id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, translateErr(err, kerr.KindSubNotFound, fmt.Sprintf("subscription %d", id))
	}
	return sub, nil
}

// CancelSubscription marks a subscription canceled and clears its
// lapse time. Exactly one row must change; anything else means the
// stored state no longer matches what the caller saw.
func (s *Store) CancelSubscription(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET lapsed_at = NULL, status = 'canceled' WHERE subscription_id = $1`, id)
	if err != nil {
		return translateErr(err, kerr.KindStore, "cancel subscription")
	}
	if tag.RowsAffected() != 1 {
		return kerr.Newf(kerr.KindDesync, "canceling subscription %d changed %d rows", id, tag.RowsAffected())
	}
	return nil
}

// ListSubscribersParams filters a contract's subscriber listing.
type ListSubscribersParams struct {
	IsActive bool
	Limit    int64
	Offset   int64
}

// ListContractSubscribers retrieves a contract's subscriptions ordered
// by id along with the total count matching the filter.
func (s *Store) ListContractSubscribers(ctx context.Context, contractID int32, params ListSubscribersParams) ([]*Subscription, int64, error) {
	where := ` WHERE s.contract_id = $1`
	if params.IsActive {
		where = ` WHERE s.status = 'active' AND s.contract_id = $1`
	}

	listQ := `SELECT ` + subscriptionColumns + subscriptionFrom + where +
		` ORDER BY s.subscription_id LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, listQ, contractID, clampLimit(params.Limit), max(params.Offset, 0))
	if err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "list subscribers")
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, translateErr(err, kerr.KindStore, "scan subscription")
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "list subscribers")
	}

	var total int64
	countQ := `SELECT COUNT(*)` + subscriptionFrom + where
	if err := s.pool.QueryRow(ctx, countQ, contractID).Scan(&total); err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "count subscribers")
	}
	return subs, total, nil
}

// FetchSoonestLapse returns the earliest lapse time falling within the
// next minute, or nil when no subscription lapses that soon.
func (s *Store) FetchSoonestLapse(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT lapsed_at FROM subscriptions
		 WHERE lapsed_at < (NOW() + INTERVAL '1 MINUTE')
		 ORDER BY lapsed_at LIMIT 1`).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "fetch soonest lapse")
	}
	return &t, nil
}

// LapseAction describes how a lapsed subscription was resolved.
type LapseAction string

const (
	LapseActionCanceled LapseAction = "canceled"
	LapseActionRenewed  LapseAction = "renewed"
)

// LapseOutcome reports how one lapsed subscription was resolved.
// Transaction and NextLapse are set for renewals only.
type LapseOutcome struct {
	SubscriptionID int64
	ContractID     int32
	Action         LapseAction
	Transaction    *Transaction
	NextLapse      *time.Time
}

// lapsedInfo is the joined row the lapse processor works from.
type lapsedInfo struct {
	subscriptionID int64
	contractID     int32
	lapsedAt       time.Time
	payerAddress   string
	ownerAddress   string
	contractStatus ContractStatus
	subStatus      SubStatus
	price          decimal.Decimal
	cronExpr       string
	allowList      []string
}

// ProcessOneLapsed resolves the soonest subscription whose lapse time
// falls within the next ten seconds, renewing or canceling it
// according to contract and subscription status. It returns nil when
// nothing has lapsed. Renewal charges the payer through the ledger in
// the same transaction that advances lapsed_at, so a crash mid-renewal
// leaves the subscription unprocessed rather than half-charged. A
// renewal that fails with insufficient funds or an allow list
// exclusion is rolled back and the subscription is canceled instead.
func (s *Store) ProcessOneLapsed(ctx context.Context) (*LapseOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "begin lapse processing")
	}
	defer tx.Rollback(ctx)

	info, err := fetchOneLapsed(ctx, tx)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}

	if lapseShouldCancel(info.contractStatus, info.subStatus) {
		if err := cancelSubscriptionTx(ctx, tx, info.subscriptionID); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, translateErr(err, kerr.KindStore, "commit lapse cancel")
		}
		return &LapseOutcome{
			SubscriptionID: info.subscriptionID,
			ContractID:     info.contractID,
			Action:         LapseActionCanceled,
		}, nil
	}

	outcome, err := s.continueSubTx(ctx, tx, info)
	if err != nil {
		if kerr.IsKind(err, kerr.KindInsufficientFunds) || kerr.IsKind(err, kerr.KindUnauthorized) {
			tx.Rollback(ctx)
			if cErr := s.CancelSubscription(ctx, info.subscriptionID); cErr != nil {
				return nil, cErr
			}
			return &LapseOutcome{
				SubscriptionID: info.subscriptionID,
				ContractID:     info.contractID,
				Action:         LapseActionCanceled,
			}, nil
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateErr(err, kerr.KindStore, "commit lapse renewal")
	}
	return outcome, nil
}

func fetchOneLapsed(ctx context.Context, tx pgx.Tx) (*lapsedInfo, error) {
	var (
		info           lapsedInfo
		contractStatus string
		subStatus      string
	)
	err := tx.QueryRow(ctx, `SELECT
			s.subscription_id,
			s.lapsed_at,
			s.status,
			c.contract_id,
			c.status,
			c.price,
			c.cron_expr,
			c.allow_list,
			payer.address,
			owner.address
		FROM subscriptions AS s
		LEFT JOIN contract_offers AS c ON s.contract_id = c.contract_id
		LEFT JOIN wallets AS payer ON s.wallet_id = payer.id
		LEFT JOIN wallets AS owner ON c.owner_id = owner.id
		WHERE s.lapsed_at < (NOW() + INTERVAL '10 SECONDS')
		ORDER BY s.lapsed_at LIMIT 1
		FOR UPDATE OF s`).Scan(
		&info.subscriptionID, &info.lapsedAt, &subStatus,
		&info.contractID, &contractStatus, &info.price, &info.cronExpr,
		&info.allowList, &info.payerAddress, &info.ownerAddress)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "fetch lapsed subscription")
	}
	info.contractStatus = ContractStatus(contractStatus)
	info.subStatus = SubStatus(subStatus)
	return &info, nil
}

// lapseShouldCancel decides how a lapsed subscription resolves: a
// canceled contract always cancels the subscription, and only active
// subscriptions under a live contract renew.
func lapseShouldCancel(contract ContractStatus, sub SubStatus) bool {
	if contract == ContractStatusCanceled {
		return true
	}
	return sub != SubStatusActive
}

func cancelSubscriptionTx(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE subscriptions SET lapsed_at = NULL, status = 'canceled' WHERE subscription_id = $1`, id)
	if err != nil {
		return translateErr(err, kerr.KindStore, "cancel subscription")
	}
	if tag.RowsAffected() != 1 {
		return kerr.Newf(kerr.KindDesync, "canceling subscription %d changed %d rows", id, tag.RowsAffected())
	}
	return nil
}

func (s *Store) continueSubTx(ctx context.Context, tx pgx.Tx, info *lapsedInfo) (*LapseOutcome, error) {
	if info.allowList != nil && !slices.Contains(info.allowList, info.payerAddress) {
		return nil, kerr.Newf(kerr.KindUnauthorized, "address %s is no longer on the contract allow list", info.payerAddress)
	}

	metadata := fmt.Sprintf("sub_id=%d", info.subscriptionID)
	txn, err := s.transferTx(ctx, tx, TransferParams{
		From:     info.payerAddress,
		To:       info.ownerAddress,
		Amount:   info.price,
		Type:     TransactionTypeTransfer,
		Metadata: &metadata,
	})
	if err != nil {
		return nil, err
	}

	schedule, err := cron.ParseStandard(info.cronExpr)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindStore, "parse stored cron expression", err)
	}
	next := schedule.Next(info.lapsedAt)

	_, err = tx.Exec(ctx,
		`UPDATE subscriptions SET lapsed_at = $1 WHERE subscription_id = $2`,
		next, info.subscriptionID)
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "advance lapse time")
	}

	return &LapseOutcome{
		SubscriptionID: info.subscriptionID,
		ContractID:     info.contractID,
		Action:         LapseActionRenewed,
		Transaction:    txn,
		NextLapse:      &next,
	}, nil
}
