package testutil

import (
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/multicallcache/internal/domain/entity"
)

// DiscardLogger returns an slog.Logger that writes to io.Discard.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RecordID returns a deterministic CallID for index i.
func RecordID(i int) entity.CallID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i))
	return entity.CallID(crypto.Keccak256Hash(buf[:]))
}

// MakeRecord returns a valid record for index i. Every third record is a revert.
func MakeRecord(i int) *entity.CallRecord {
	success := i%3 != 0
	var response []byte
	if success {
		response = []byte{byte(i), byte(i >> 8), 0xff}
	}
	r, err := entity.NewCallRecord(
		RecordID(i),
		"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		"balanceOf(address)(uint256)",
		"(0x2F0b23f53734252Bda2277357e97e1517d6B042A)",
		[]byte{0x01, 0x02},
		int64(19_000_000+i),
		1,
		success,
		response,
	)
	if err != nil {
		panic(err)
	}
	return r
}

// MakeRecords returns records 0..n-1.
func MakeRecords(n int) []*entity.CallRecord {
	out := make([]*entity.CallRecord, n)
	for i := range out {
		out[i] = MakeRecord(i)
	}
	return out
}
