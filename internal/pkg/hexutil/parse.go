// Package hexutil parses the hex quantities and data strings returned by
// Ethereum JSON-RPC nodes.
//
// Node responses are inconsistent about the 0x prefix, so every helper here
// accepts both forms.
package hexutil

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseInt64 parses a hex-encoded quantity to int64.
func ParseInt64(hexNum string) (int64, error) {
	return strconv.ParseInt(trim(hexNum), 16, 64)
}

// ParseUint64 parses a hex-encoded quantity to uint64.
func ParseUint64(hexNum string) (uint64, error) {
	return strconv.ParseUint(trim(hexNum), 16, 64)
}

// DecodeData decodes a hex data string. "0x" and "" decode to an empty,
// non-nil slice, which is what a node returns for a call to an address
// without code.
func DecodeData(data string) ([]byte, error) {
	s := trim(data)
	if len(s)%2 == 1 {
		return nil, fmt.Errorf("odd length hex data %q", data)
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hex data: %w", err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// EncodeQuantity renders n as a 0x-prefixed hex quantity.
func EncodeQuantity(n int64) string {
	return "0x" + strconv.FormatInt(n, 16)
}

func trim(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
