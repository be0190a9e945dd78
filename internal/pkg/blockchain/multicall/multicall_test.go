package multicall

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
)

const (
	weth   = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdc   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	holder = "0x2F0b23f53734252Bda2277357e97e1517d6B042A"
	empty  = "0x0000000000000000000000000000000000000000"
)

// fakeAggregator answers tryAggregate requests from a table of per-target
// behaviours: a return value, a revert, or no code at all.
type fakeAggregator struct {
	calls    int
	lastData []byte
	reverts  map[common.Address]bool
	returns  map[common.Address][]byte
	err      error
}

func (f *fakeAggregator) Call(ctx context.Context, to common.Address, data []byte, block int64) ([]byte, error) {
	f.calls++
	f.lastData = data
	if f.err != nil {
		return nil, f.err
	}
	_, calls, err := DecodeRequest(data)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(calls))
	for i, c := range calls {
		switch {
		case f.reverts[c.Target]:
			results[i] = Result{Success: false, ReturnData: []byte{0x08, 0xc3, 0x79, 0xa0}}
		default:
			results[i] = Result{Success: true, ReturnData: f.returns[c.Target]}
		}
	}
	return EncodeResults(results)
}

func uint256Word(n int64) []byte {
	return common.LeftPadBytes(big.NewInt(n).Bytes(), 32)
}

func newCall(t *testing.T, target, label string) *callspec.CallSpec {
	t.Helper()
	c, err := callspec.NewSingle(target, "balanceOf(address)(uint256)", []any{holder}, label, nil)
	if err != nil {
		t.Fatalf("NewSingle: %v", err)
	}
	return c
}

// --- Test: construction ---

func TestNewBatch_RejectsDuplicateLabels(t *testing.T) {
	_, err := NewBatch(nil, []*callspec.CallSpec{newCall(t, weth, "bal"), newCall(t, usdc, "bal")})
	if !errors.Is(err, ErrDuplicateLabel) {
		t.Errorf("expected ErrDuplicateLabel, got %v", err)
	}
}

func TestNewBatch_RejectsEmpty(t *testing.T) {
	if _, err := NewBatch(nil, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestNewBatch_DefaultsToMulticall3(t *testing.T) {
	b, err := NewBatch(nil, []*callspec.CallSpec{newCall(t, weth, "a")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Aggregator().Address() != blockchain.Multicall3 {
		t.Errorf("expected Multicall3, got %s", b.Aggregator().Address().Hex())
	}
}

// --- Test: calldata ---

func TestBuildCalldata_RoundTrip(t *testing.T) {
	a, b := newCall(t, weth, "a"), newCall(t, usdc, "b")
	batch, err := NewBatch(NewAggregator(blockchain.Multicall2), []*callspec.CallSpec{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := batch.BuildCalldata()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data[:4], []byte{0xbc, 0xe3, 0x8b, 0xd7}) {
		t.Errorf("expected tryAggregate selector, got %x", data[:4])
	}

	requireSuccess, calls, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if requireSuccess {
		t.Error("expected requireSuccess=false")
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Target != a.Target() || !bytes.Equal(calls[0].CallData, a.Calldata()) {
		t.Errorf("call 0 mismatch: %+v", calls[0])
	}
	if calls[1].Target != b.Target() || !bytes.Equal(calls[1].CallData, b.Calldata()) {
		t.Errorf("call 1 mismatch: %+v", calls[1])
	}
}

// --- Test: execution ---

func TestExecute_FailureIsolation(t *testing.T) {
	ok1, bad, ok2, noCode := newCall(t, weth, "weth"), newCall(t, usdc, "usdc"), newCall(t, holder, "other"), newCall(t, empty, "nothing")
	fake := &fakeAggregator{
		reverts: map[common.Address]bool{common.HexToAddress(usdc): true},
		returns: map[common.Address][]byte{
			common.HexToAddress(weth):   uint256Word(100),
			common.HexToAddress(holder): uint256Word(7),
		},
	}

	batch, err := NewBatch(nil, []*callspec.CallSpec{ok1, bad, ok2, noCode})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results, err := NewClient(fake).Execute(context.Background(), batch, 19_000_000)
	if err != nil {
		t.Fatalf("batch should not fail on a single revert: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("expected 1 request, got %d", fake.calls)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Block != 19_000_000 {
			t.Errorf("result %d: expected block 19000000, got %d", i, r.Block)
		}
	}

	row, err := Reassemble(results)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if v, ok := row["weth"].(*big.Int); !ok || v.Int64() != 100 {
		t.Errorf("expected weth=100, got %v", row["weth"])
	}
	if v, ok := row["other"].(*big.Int); !ok || v.Int64() != 7 {
		t.Errorf("expected other=7, got %v", row["other"])
	}
	if row["usdc"] != callspec.CallFailed {
		t.Errorf("expected CallFailed for usdc, got %v", row["usdc"])
	}
	if row["nothing"] != callspec.NotAContract {
		t.Errorf("expected NotAContract, got %v", row["nothing"])
	}
	if _, ok := row[callspec.ReservedLabel]; ok {
		t.Error("Reassemble should leave the block to the caller")
	}
}

func TestExecute_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	batch, _ := NewBatch(nil, []*callspec.CallSpec{newCall(t, weth, "a")})

	_, err := NewClient(&fakeAggregator{err: boom}).Execute(context.Background(), batch, -1)
	if !errors.Is(err, boom) {
		t.Errorf("expected transport error to be wrapped, got %v", err)
	}
}

func TestDecode_ResultCountMismatch(t *testing.T) {
	batch, _ := NewBatch(nil, []*callspec.CallSpec{newCall(t, weth, "a"), newCall(t, usdc, "b")})
	ret, err := EncodeResults([]Result{{Success: true, ReturnData: uint256Word(1)}})
	if err != nil {
		t.Fatalf("EncodeResults: %v", err)
	}
	if _, err := batch.Decode(ret, 1); !errors.Is(err, ErrResultCountMismatch) {
		t.Errorf("expected ErrResultCountMismatch, got %v", err)
	}
}

func TestSplit(t *testing.T) {
	calls := []*callspec.CallSpec{newCall(t, weth, "a"), newCall(t, usdc, "b"), newCall(t, holder, "c")}
	batch, _ := NewBatch(nil, calls)

	left, right := batch.Split()
	if left.Len() != 1 || right.Len() != 2 {
		t.Errorf("expected 1/2 split, got %d/%d", left.Len(), right.Len())
	}
	if right.Calls()[0] != calls[1] {
		t.Error("split should preserve order")
	}

	single, _ := NewBatch(nil, calls[:1])
	l, r := single.Split()
	if l != single || r != nil {
		t.Error("expected single-call batch not to split")
	}
}
