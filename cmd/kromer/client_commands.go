package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/kromer/client"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the kromer service",
		Subcommands: []*cli.Command{
			sendCommand(),
			addressCommand(),
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send funds to an address or name",
		ArgsUsage: "TO AMOUNT",
		Description: `Send funds from the wallet derived from --privatekey. TO is an
address or a name, optionally with a metaname prefix.

Examples:
  kromer client send kqxhx5yn9z 25
  kromer client send shop@reactor.kro 12.5 --metadata 'order=42'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"KROMER_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:    "privatekey",
				Aliases: []string{"p"},
				Usage:   "Sending wallet's private key",
				EnvVars: []string{"KROMER_PRIVATE_KEY"},
			},
			&cli.StringFlag{
				Name:    "metadata",
				Aliases: []string{"m"},
				Usage:   "Metadata to attach to the transaction",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   30 * time.Second,
				Usage:   "Request timeout",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: TO AMOUNT")
			}

			to := c.Args().Get(0)
			amount, err := decimal.NewFromString(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().Get(1), err)
			}

			privateKey := c.String("privatekey")
			if privateKey == "" {
				return fmt.Errorf("privatekey is required (set KROMER_PRIVATE_KEY env var or use --privatekey)")
			}

			cl := newAPIClient(c)
			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			txn, err := cl.MakeTransaction(ctx, privateKey, to, amount, c.String("metadata"))
			if err != nil {
				return fmt.Errorf("failed to send transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			fmt.Printf("Transaction #%d\n", txn.ID)
			fmt.Printf("  From:   %s\n", formatFrom(txn.From))
			fmt.Printf("  To:     %s\n", txn.To)
			fmt.Printf("  Amount: %v\n", txn.Value)
			fmt.Printf("  Time:   %s\n", txn.Time.Format(time.RFC3339))
			if txn.SentName != nil {
				fmt.Printf("  Name:   %s\n", *txn.SentName)
			}
			if txn.Metadata != nil && *txn.Metadata != "" {
				fmt.Printf("  Metadata: %s\n", *txn.Metadata)
			}
			return nil
		},
	}
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:      "address",
		Usage:     "Look up an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"KROMER_SERVER_URL"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   30 * time.Second,
				Usage:   "Request timeout",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			cl := newAPIClient(c)
			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			addr, err := cl.GetAddress(ctx, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to look up address: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(addr)
			}

			fmt.Printf("Address:    %s\n", addr.Address)
			fmt.Printf("Balance:    %v\n", addr.Balance)
			fmt.Printf("Total In:   %v\n", addr.TotalIn)
			fmt.Printf("Total Out:  %v\n", addr.TotalOut)
			fmt.Printf("First Seen: %s\n", addr.FirstSeen.Format(time.RFC3339))
			return nil
		},
	}
}

// newAPIClient builds a client against the command's --server flag,
// logging only errors to stderr.
func newAPIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	httpClient := &http.Client{Timeout: c.Duration("timeout") + 5*time.Second}
	return client.NewClient(c.String("server"), httpClient, logger)
}
