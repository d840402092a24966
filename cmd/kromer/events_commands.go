package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/kromer/service/events"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// tailCommand streams ledger events from JetStream.
func tailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Stream ledger events from NATS JetStream",
		Description: `Stream events the server mirrors to JetStream: transactions, name
changes, and blocks. By default every kind is streamed; use --kind to
narrow to one, and --jq to filter on the event payload.

Examples:
  kromer events tail
  kromer events tail --kind transaction --json
  kromer events tail --kind transaction --jq '.value > 100'
  kromer events tail --jq '.to == "kqxhx5yn9z"' --durable --consumer-name my-bot`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "kind",
				Aliases: []string{"k"},
				Usage:   "Event kind to stream (transaction, name, block); empty streams all",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "Only print events whose payload satisfies this jq expression (repeatable, all must match)",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "kromer-cli",
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			kind := c.String("kind")
			jqFilters := c.StringSlice("jq")
			durable := c.Bool("durable")
			consumerName := c.String("consumer-name")
			jsonOutput := c.Bool("json")

			subject := events.StreamSubjects
			switch kind {
			case "":
			case events.KindTransaction, events.KindName, events.KindBlock:
				subject = events.SubjectFor(kind)
			default:
				return fmt.Errorf("unknown event kind %q (want transaction, name, or block)", kind)
			}

			// Compile jq filters
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			// Connect to NATS
			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			if !jsonOutput {
				fmt.Printf("Subscribing to: %s\n", subject)
				fmt.Printf("  NATS: %s\n", natsURL)
				if durable {
					fmt.Printf("  Consumer: %s (durable)\n", consumerName)
				}
				for _, filter := range jqFilters {
					fmt.Printf("  jq Filter: %s\n", filter)
				}
				fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
			}

			// Create consumer config
			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if durable {
				consumerConfig.Durable = consumerName
				consumerConfig.Name = consumerName
			}

			cons, err := js.CreateOrUpdateConsumer(context.Background(), events.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			// Setup signal handling for graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			// Receive messages
			msgChan := make(chan jetstream.Msg, 10)

			// Start consuming in background
			go func() {
				_, _ = cons.Consume(func(msg jetstream.Msg) {
					msgChan <- msg
				})
			}()

			count := 0
			for {
				select {
				case msg := <-msgChan:
					var event events.Event
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						if !jsonOutput {
							fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						}
						msg.Ack()
						continue
					}

					if !matchesFilters(event.Data, compiledJQFilters) {
						msg.Ack()
						continue
					}

					count++

					if jsonOutput {
						// Output raw JSON
						fmt.Println(string(msg.Data()))
					} else {
						// Human-friendly output
						payload, _ := json.MarshalIndent(event.Data, "", "  ")
						fmt.Printf("─────────────────────────────────────────────────────\n")
						fmt.Printf("Event #%d (%s)\n", count, event.Event)
						fmt.Printf("Published: %s\n", event.PublishedAt.Format(time.RFC3339))
						fmt.Printf("%s\n\n", payload)
					}

					msg.Ack()

				case <-sigChan:
					if !jsonOutput {
						fmt.Printf("\n\nReceived %d events\n", count)
						fmt.Println("Shutting down...")
					}
					return nil
				}
			}
		},
	}
}

// matchesFilters reports whether every compiled jq filter evaluates to
// a truthy value against the event payload.
func matchesFilters(payload any, filters []*gojq.Code) bool {
	for _, code := range filters {
		iter := code.Run(payload)
		v, ok := iter.Next()
		if !ok {
			// No result means the filter failed
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the KROMER_EVENTS JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  kromer events inspect-stream`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			// Connect to NATS
			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			// Get stream info
			stream, err := js.Stream(context.Background(), events.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(info, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Printf("Stream: %s\n", info.Config.Name)
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Description:  %s\n", info.Config.Description)
				fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
				fmt.Printf("Messages:     %d\n", info.State.Msgs)
				fmt.Printf("Bytes:        %d\n", info.State.Bytes)
				fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
				fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
				fmt.Printf("Consumers:    %d\n", info.State.Consumers)
				fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
				fmt.Printf("Storage:      %s\n", info.Config.Storage)
				fmt.Printf("\n")
			}

			return nil
		},
	}
}
