package krist

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func doubleSHA256(s string) string {
	return sha256Hex(sha256Hex(s))
}

// hexToBase36 maps a byte onto the krist address alphabet [0-9a-z], with
// values past the alphabet collapsing to 'e'.
func hexToBase36(input int) byte {
	b := 48 + input/7
	switch {
	case b+39 > 122:
		return 'e'
	case b > 57:
		return byte(b + 39)
	default:
		return byte(b)
	}
}

// MakeV2Address derives the v2 address for a private key. The scheme is
// the historical krist one: nine "protein" bytes are peeled off a
// double-sha256 hash chain, then emitted in an order driven by further
// rounds of the chain.
func MakeV2Address(privateKey string) string {
	var protein [9]string
	stick := doubleSHA256(privateKey)

	for i := 0; i < 9; i++ {
		protein[i] = stick[:2]
		stick = doubleSHA256(stick)
	}

	addr := []byte(AddressPrefix)
	for n := 0; n < 9; {
		link, err := strconv.ParseInt(stick[2*n:2*n+2], 16, 32)
		if err != nil {
			// The chain is always lowercase hex; unreachable.
			panic("krist: non-hex digest: " + stick)
		}
		idx := int(link) % 9
		if protein[idx] == "" {
			stick = sha256Hex(stick)
			continue
		}
		v, _ := strconv.ParseInt(protein[idx], 16, 32)
		addr = append(addr, hexToBase36(int(v)))
		protein[idx] = ""
		n++
	}
	return string(addr)
}
