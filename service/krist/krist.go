// Package krist implements the pieces of the legacy Krist protocol the
// server emulates: v2 address derivation, address/name validation, and
// the CommonMeta recipient format. Protocol constants live here so the
// motd endpoint and the name routes agree on them.
package krist

// Protocol constants surfaced by the motd endpoint.
const (
	AddressPrefix  = "k"
	NameSuffix     = "kro"
	CurrencyName   = "Kromer"
	CurrencySymbol = "KRO"

	WalletVersion   = 3
	NameCost        = 500
	NonceMaxSize    = 500
	MinWork         = 50
	MaxWork         = 500
	WorkFactor      = 500.0
	SecondsPerBlock = 5000
)

// WelfareAddress holds the server's pool of unissued currency. It is
// excluded from the money supply and is the counterparty for name
// purchases and minting.
const WelfareAddress = "serverwelf"

// GuestAddress is the sentinel address of an unauthenticated websocket
// session.
const GuestAddress = "guest"
