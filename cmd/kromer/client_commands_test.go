package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func newClientTestApp() *cli.App {
	return &cli.App{
		Name:     "kromer",
		Commands: []*cli.Command{clientCommands()},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
			},
		},
	}
}

func TestSendCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/krist/transactions", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "send-test-key", body["privatekey"])
		assert.Equal(t, "kbobtarget", body["to"])
		assert.Equal(t, "12.5", body["amount"])
		assert.Equal(t, "order=42", body["metadata"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"transaction":{"id":9,"from":"kqxhx5yn9z","to":"kbobtarget","value":12.5,"time":"2025-06-01T00:00:00.000Z","type":"transfer","metadata":"order=42"}}`)
	}))
	defer server.Close()

	app := newClientTestApp()
	err := app.Run([]string{
		"kromer", "client", "send", "kbobtarget", "12.5",
		"--server", server.URL,
		"--privatekey", "send-test-key",
		"--metadata", "order=42",
	})
	require.NoError(t, err)
}

func TestSendCommand_MissingKey(t *testing.T) {
	os.Unsetenv("KROMER_PRIVATE_KEY")

	app := newClientTestApp()
	err := app.Run([]string{"kromer", "client", "send", "kbobtarget", "12.5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "privatekey is required")
}

func TestSendCommand_BadAmount(t *testing.T) {
	app := newClientTestApp()
	err := app.Run([]string{
		"kromer", "client", "send", "kbobtarget", "twelve",
		"--privatekey", "send-test-key",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")
}

func TestSendCommand_InsufficientFunds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error":"insufficient_funds","message":"Insufficient funds"}`)
	}))
	defer server.Close()

	app := newClientTestApp()
	err := app.Run([]string{
		"kromer", "client", "send", "kbobtarget", "1000000",
		"--server", server.URL,
		"--privatekey", "send-test-key",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient_funds")
}

func TestAddressCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/krist/addresses/kqxhx5yn9z", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"address":{"address":"kqxhx5yn9z","balance":750.5,"totalin":1000,"totalout":249.5,"firstseen":"2025-01-15T10:30:00.000Z"}}`)
	}))
	defer server.Close()

	app := newClientTestApp()
	err := app.Run([]string{"kromer", "client", "address", "kqxhx5yn9z", "--server", server.URL})
	require.NoError(t, err)
}

func TestAddressCommand_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"ok":false,"error":"address_not_found","message":"Address not found"}`)
	}))
	defer server.Close()

	app := newClientTestApp()
	err := app.Run([]string{"kromer", "client", "address", "kmissing99", "--server", server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address_not_found")
}
