package entity

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// CallIDLength is the size in bytes of a CallID.
const CallIDLength = 32

// CallID is the content hash identifying a (chain, target, function, arguments, block)
// tuple. It is the primary key of every result cache.
type CallID [CallIDLength]byte

// CallIDFromBytes converts a stored key back into a CallID.
func CallIDFromBytes(b []byte) (CallID, error) {
	var id CallID
	if len(b) != CallIDLength {
		return id, fmt.Errorf("call id must be %d bytes, got %d", CallIDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseCallID parses a hex CallID, with or without 0x prefix.
func ParseCallID(s string) (CallID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return CallID{}, fmt.Errorf("parsing call id: %w", err)
	}
	return CallIDFromBytes(b)
}

// Bytes returns a copy of the id as a slice.
func (id CallID) Bytes() []byte {
	out := make([]byte, CallIDLength)
	copy(out, id[:])
	return out
}

// Hex returns the 0x-prefixed hex form.
func (id CallID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id CallID) String() string {
	return id.Hex()
}

// IsZero reports whether id was never set.
func (id CallID) IsZero() bool {
	return id == CallID{}
}
