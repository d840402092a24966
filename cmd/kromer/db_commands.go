package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/kromer/service/db"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply schema migrations",
		Action: func(c *cli.Context) error {
			dbURL, err := databaseURL(c)
			if err != nil {
				return err
			}
			if err := db.Migrate(dbURL); err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func listWalletsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-wallets",
		Usage:   "List wallets",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "richest",
				Aliases: []string{"r"},
				Usage:   "Order by balance, highest first",
			},
			&cli.Int64Flag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of wallets",
				Value:   50,
			},
			&cli.Int64Flag{
				Name:  "offset",
				Usage: "Number of wallets to skip",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			params := db.ListWalletsParams{
				Limit:  c.Int64("limit"),
				Offset: c.Int64("offset"),
			}
			var wallets []*db.Wallet
			if c.Bool("richest") {
				wallets, err = store.ListRichestWallets(context.Background(), params)
			} else {
				wallets, err = store.ListWallets(context.Background(), params)
			}
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(wallets)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tBALANCE\tTOTAL IN\tTOTAL OUT\tLOCKED\tFIRSTSEEN")
			for _, wallet := range wallets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
					wallet.Address,
					wallet.Balance.String(),
					wallet.TotalIn.String(),
					wallet.TotalOut.String(),
					wallet.Locked,
					wallet.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d wallets\n", len(wallets))
			return nil
		},
	}
}

func getWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-wallet",
		Usage:     "Get wallet details",
		Aliases:   []string{"get"},
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			address := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallet, err := store.GetWallet(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(wallet)
			}

			// Pretty output
			fmt.Printf("Address:    %s\n", wallet.Address)
			fmt.Printf("Balance:    %s\n", wallet.Balance.String())
			fmt.Printf("Total In:   %s\n", wallet.TotalIn.String())
			fmt.Printf("Total Out:  %s\n", wallet.TotalOut.String())
			fmt.Printf("Locked:     %v\n", wallet.Locked)
			fmt.Printf("First Seen: %s\n", wallet.CreatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List transactions",
		Aliases: []string{"txs"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Filter by wallet address (sender or recipient)",
			},
			&cli.BoolFlag{
				Name:  "latest",
				Usage: "Order by date, newest first",
			},
			&cli.BoolFlag{
				Name:  "include-mined",
				Usage: "Include mint transactions",
			},
			&cli.Int64Flag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions",
				Value:   50,
			},
			&cli.Int64Flag{
				Name:  "offset",
				Usage: "Number of transactions to skip",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			params := db.ListTransactionsParams{
				ExcludeMined: !c.Bool("include-mined"),
				Limit:        c.Int64("limit"),
				Offset:       c.Int64("offset"),
			}

			var transactions []*db.Transaction
			if address := c.String("address"); address != "" {
				transactions, err = store.ListTransactionsByAddress(context.Background(), address, params)
			} else if c.Bool("latest") {
				transactions, err = store.LatestTransactions(context.Background(), params)
			} else {
				transactions, err = store.ListTransactions(context.Background(), params)
			}
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(transactions)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tFROM\tTO\tAMOUNT\tDATE")
			for _, tx := range transactions {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					tx.ID,
					tx.Type,
					formatFrom(tx.From),
					tx.To,
					tx.Amount.String(),
					tx.Date.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(transactions))
			return nil
		},
	}
}

// databaseURL resolves the connection string from the flag or env.
func databaseURL(c *cli.Context) (string, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return "", fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}
	return dbURL, nil
}

// getStore connects to the database. The pool comes from db.NewPool so
// NUMERIC columns scan into decimals.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL, err := databaseURL(c)
	if err != nil {
		return nil, nil, err
	}

	pool, err := db.NewPool(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatFrom renders a transaction sender; mint rows have none.
func formatFrom(from *string) string {
	if from != nil && *from != "" {
		return *from
	}
	return "(mint)"
}
