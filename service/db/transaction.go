package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/kerr"
)

// TransactionType enumerates the transaction_type column values.
type TransactionType string

const (
	TransactionTypeMined        TransactionType = "mined"
	TransactionTypeNamePurchase TransactionType = "name_purchase"
	TransactionTypeNameARecord  TransactionType = "name_a_record"
	TransactionTypeNameTransfer TransactionType = "name_transfer"
	TransactionTypeTransfer     TransactionType = "transfer"
	TransactionTypeUnknown      TransactionType = "unknown"
)

// Transaction is an append-only ledger row.
type Transaction struct {
	ID           int64
	From         *string
	To           string
	Amount       decimal.Decimal
	Type         TransactionType
	Date         time.Time
	Metadata     *string
	Name         *string
	SentMetaname *string
	SentName     *string
}

// TransferParams contains the parameters for the transfer primitive.
type TransferParams struct {
	From         string
	To           string
	Amount       decimal.Decimal
	Type         TransactionType
	Metadata     *string
	Name         *string
	SentMetaname *string
	SentName     *string
}

const transactionColumns = `id, "from", "to", amount, transaction_type, date, metadata, name, sent_metaname, sent_name`

const insertTransactionSQL = `INSERT INTO transactions ("from", "to", amount, transaction_type, date, metadata, name, sent_metaname, sent_name)
	 VALUES ($1, $2, $3, $4::transaction_type, NOW(), $5, $6, $7, $8)
	 RETURNING ` + transactionColumns

// queryRower is satisfied by both pgxpool.Pool and pgx.Tx so ledger row
// inserts can run pooled or inside a caller's transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTransaction(ctx context.Context, q queryRower, params TransferParams) (*Transaction, error) {
	row := q.QueryRow(ctx, insertTransactionSQL,
		params.From, params.To, params.Amount, string(transferType(params.Type)),
		pgtextFromStringPtr(params.Metadata), pgtextFromStringPtr(params.Name),
		pgtextFromStringPtr(params.SentMetaname), pgtextFromStringPtr(params.SentName))
	result, err := scanTransaction(row)
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "insert transaction")
	}
	return result, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t        Transaction
		from     pgtype.Text
		typ      string
		metadata pgtype.Text
		name     pgtype.Text
		sentMeta pgtype.Text
		sentName pgtype.Text
	)
	err := row.Scan(&t.ID, &from, &t.To, &t.Amount, &typ, &t.Date,
		&metadata, &name, &sentMeta, &sentName)
	if err != nil {
		return nil, err
	}
	t.From = stringPtrFromPgtext(from)
	t.Type = TransactionType(typ)
	t.Metadata = stringPtrFromPgtext(metadata)
	t.Name = stringPtrFromPgtext(name)
	t.SentMetaname = stringPtrFromPgtext(sentMeta)
	t.SentName = stringPtrFromPgtext(sentName)
	return &t, nil
}

// Transfer atomically moves amount from one wallet to another and
// records the ledger row. In a single database transaction it debits
// the sender (balance down, total_out up), credits the recipient
// (balance up, total_in up), and inserts the transactions row. On any
// failure the whole operation is a no-op. A balance check violation
// surfaces as an insufficient funds error.
func (s *Store) Transfer(ctx context.Context, params TransferParams) (*Transaction, error) {
	if !params.Amount.IsPositive() {
		return nil, kerr.Param("amount", "transaction amount must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "begin transfer")
	}
	defer tx.Rollback(ctx)

	result, err := s.transferTx(ctx, tx, params)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateErr(err, kerr.KindStore, "commit transfer")
	}
	return result, nil
}

// transferTx is the ledger step shared by manual transfers, name
// purchases, and subscription renewals. It runs inside the caller's
// transaction so callers can attach further writes atomically.
func (s *Store) transferTx(ctx context.Context, tx pgx.Tx, params TransferParams) (*Transaction, error) {
	var senderID int32
	err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE address = $1`, params.From).Scan(&senderID)
	if err != nil {
		return nil, translateErr(err, kerr.KindWalletNotFound, "sender wallet "+params.From)
	}

	var recipientID int32
	err = tx.QueryRow(ctx, `SELECT id FROM wallets WHERE address = $1`, params.To).Scan(&recipientID)
	if err != nil {
		return nil, translateErr(err, kerr.KindWalletNotFound, "recipient wallet "+params.To)
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET balance = balance - $2, total_out = total_out + $2 WHERE id = $1`,
		senderID, params.Amount)
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "debit sender")
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $2, total_in = total_in + $2 WHERE id = $1`,
		recipientID, params.Amount)
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "credit recipient")
	}

	return insertTransaction(ctx, tx, params)
}

// TransferNoBalanceUpdate inserts only the transactions row. Used where
// balance bookkeeping is handled elsewhere, e.g. name ownership changes.
func (s *Store) TransferNoBalanceUpdate(ctx context.Context, params TransferParams) (*Transaction, error) {
	return insertTransaction(ctx, s.pool, params)
}

func transferType(t TransactionType) TransactionType {
	switch t {
	case TransactionTypeMined, TransactionTypeNamePurchase, TransactionTypeNameARecord,
		TransactionTypeNameTransfer, TransactionTypeTransfer:
		return t
	default:
		return TransactionTypeUnknown
	}
}

// GetTransaction retrieves a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, translateErr(err, kerr.KindTransactionNotFound, fmt.Sprintf("transaction %d", id))
	}
	return t, nil
}

// ListTransactionsParams paginates transaction listings.
type ListTransactionsParams struct {
	ExcludeMined bool
	Limit        int64
	Offset       int64
}

// ListTransactions retrieves transactions ordered by id ascending.
func (s *Store) ListTransactions(ctx context.Context, params ListTransactionsParams) ([]*Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY id LIMIT $1 OFFSET $2`
	if params.ExcludeMined {
		q = `SELECT ` + transactionColumns + ` FROM transactions
			 WHERE transaction_type != 'mined' ORDER BY id LIMIT $1 OFFSET $2`
	}
	return s.listTransactions(ctx, q, clampLimit(params.Limit), max(params.Offset, 0))
}

// LatestTransactions retrieves transactions ordered by date, newest first.
func (s *Store) LatestTransactions(ctx context.Context, params ListTransactionsParams) ([]*Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY date DESC LIMIT $1 OFFSET $2`
	if params.ExcludeMined {
		q = `SELECT ` + transactionColumns + ` FROM transactions
			 WHERE transaction_type != 'mined' ORDER BY date DESC LIMIT $1 OFFSET $2`
	}
	return s.listTransactions(ctx, q, clampLimit(params.Limit), max(params.Offset, 0))
}

// CountTransactions returns the total number of transactions.
func (s *Store) CountTransactions(ctx context.Context, excludeMined bool) (int64, error) {
	q := `SELECT COUNT(*) FROM transactions`
	if excludeMined {
		q = `SELECT COUNT(*) FROM transactions WHERE transaction_type != 'mined'`
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, translateErr(err, kerr.KindStore, "count transactions")
	}
	return n, nil
}

// ListTransactionsByAddress retrieves transactions where the address is
// sender or recipient, newest first.
func (s *Store) ListTransactionsByAddress(ctx context.Context, address string, params ListTransactionsParams) ([]*Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions
		 WHERE ("from" = $3 OR "to" = $3) ORDER BY date DESC LIMIT $1 OFFSET $2`
	if params.ExcludeMined {
		q = `SELECT ` + transactionColumns + ` FROM transactions
			 WHERE ("from" = $3 OR "to" = $3) AND transaction_type != 'mined'
			 ORDER BY date DESC LIMIT $1 OFFSET $2`
	}
	return s.listTransactions(ctx, q, clampLimit(params.Limit), max(params.Offset, 0), address)
}

// CountTransactionsByAddress counts transactions touching the address.
func (s *Store) CountTransactionsByAddress(ctx context.Context, address string, excludeMined bool) (int64, error) {
	q := `SELECT COUNT(*) FROM transactions WHERE ("from" = $1 OR "to" = $1)`
	if excludeMined {
		q += ` AND transaction_type != 'mined'`
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q, address).Scan(&n); err != nil {
		return 0, translateErr(err, kerr.KindStore, "count transactions for "+address)
	}
	return n, nil
}

// LookupTransactionsParams drives the multi-address lookup endpoint.
// OrderBy and Order are validated against whitelists; anything else
// falls back to id ascending.
type LookupTransactionsParams struct {
	Limit        int64
	Offset       int64
	OrderBy      string
	Order        string
	IncludeMined bool
}

// LookupTransactions retrieves transactions touching any of the given
// addresses along with the matching total.
func (s *Store) LookupTransactions(ctx context.Context, addresses []string, params LookupTransactionsParams) ([]*Transaction, int64, error) {
	orderBy := lookupOrderColumn(params.OrderBy)
	order := "ASC"
	if params.Order == "DESC" || params.Order == "desc" {
		order = "DESC"
	}

	minedFilter := ""
	if !params.IncludeMined {
		minedFilter = ` AND transaction_type != 'mined'`
	}

	q := fmt.Sprintf(
		`SELECT %s FROM transactions WHERE ("from" = ANY($3) OR "to" = ANY($3))%s ORDER BY %s %s LIMIT $1 OFFSET $2`,
		transactionColumns, minedFilter, orderBy, order)
	items, err := s.listTransactions(ctx, q, clampLimit(params.Limit), max(params.Offset, 0), addresses)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	countQ := fmt.Sprintf(
		`SELECT COUNT(*) FROM transactions WHERE ("from" = ANY($1) OR "to" = ANY($1))%s`, minedFilter)
	if err := s.pool.QueryRow(ctx, countQ, addresses).Scan(&total); err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "count lookup transactions")
	}
	return items, total, nil
}

// nameHistoryTypes are the ledger row types that describe a name's own
// lifecycle rather than traffic routed through it.
const nameHistoryTypes = `('name_purchase', 'name_a_record', 'name_transfer')`

// NameHistory retrieves a name's lifecycle events (purchase, ownership
// moves, data updates), newest first, along with the matching total.
func (s *Store) NameHistory(ctx context.Context, name string, params ListTransactionsParams) ([]*Transaction, int64, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions
		 WHERE (name = $3 OR sent_name = $3) AND transaction_type IN ` + nameHistoryTypes + `
		 ORDER BY date DESC LIMIT $1 OFFSET $2`
	items, err := s.listTransactions(ctx, q, clampLimit(params.Limit), max(params.Offset, 0), name)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	countQ := `SELECT COUNT(*) FROM transactions
		 WHERE (name = $1 OR sent_name = $1) AND transaction_type IN ` + nameHistoryTypes
	if err := s.pool.QueryRow(ctx, countQ, name).Scan(&total); err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "count name history")
	}
	return items, total, nil
}

// TransactionsToName retrieves every transaction that touched a name,
// lifecycle events and routed payments alike, newest first, along with
// the matching total.
func (s *Store) TransactionsToName(ctx context.Context, name string, params ListTransactionsParams) ([]*Transaction, int64, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions
		 WHERE (name = $3 OR sent_name = $3) ORDER BY date DESC LIMIT $1 OFFSET $2`
	items, err := s.listTransactions(ctx, q, clampLimit(params.Limit), max(params.Offset, 0), name)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	countQ := `SELECT COUNT(*) FROM transactions WHERE name = $1 OR sent_name = $1`
	if err := s.pool.QueryRow(ctx, countQ, name).Scan(&total); err != nil {
		return nil, 0, translateErr(err, kerr.KindStore, "count name transactions")
	}
	return items, total, nil
}

// lookupOrderColumn whitelists sortable columns, mapping the protocol's
// "time"/"value" aliases onto the real column names.
func lookupOrderColumn(orderBy string) string {
	switch orderBy {
	case "id", "from", "to", "sent_name", "sent_metaname":
		return `"` + orderBy + `"`
	case "value":
		return "amount"
	case "time", "date":
		return "date"
	default:
		return "id"
	}
}

func (s *Store) listTransactions(ctx context.Context, q string, args ...any) ([]*Transaction, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, translateErr(err, kerr.KindStore, "list transactions")
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, translateErr(err, kerr.KindStore, "scan transaction")
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
