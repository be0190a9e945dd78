package main

import (
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
)

const balanceEntry = `
  - target: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    signature: "balanceOf(address)(uint256)"
    args: ["0x2F0b23f53734252Bda2277357e97e1517d6B042A"]
    labels: [bal]
`

func TestLoadJob_Blocks(t *testing.T) {
	path := writeFile(t, "job.yaml", "blocks: [30, 10]\nrange: {from: 100, to: 120, step: 10}\ncalls:"+balanceEntry)

	j, err := loadJob(path)
	if err != nil {
		t.Fatalf("loadJob: %v", err)
	}
	want := []int64{30, 10, 100, 110, 120}
	if len(j.blocks) != len(want) {
		t.Fatalf("expected %v, got %v", want, j.blocks)
	}
	for i := range want {
		if j.blocks[i] != want[i] {
			t.Errorf("block %d: expected %d, got %d", i, want[i], j.blocks[i])
		}
	}
	if len(j.calls) != 1 || j.calls[0].Labels()[0] != "bal" {
		t.Errorf("unexpected calls %v", j.calls)
	}
}

func TestLoadJob_JSON(t *testing.T) {
	path := writeFile(t, "job.json", `{
  "latest": true,
  "calls": [{
    "target": "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc",
    "signature": "getReserves()(uint112,uint112,uint32)",
    "labels": ["r0", "r1", "ts"],
    "handlers": ["string", "scale:6", "identity"]
  }]
}`)

	j, err := loadJob(path)
	if err != nil {
		t.Fatalf("loadJob: %v", err)
	}
	if !j.latest || len(j.blocks) != 0 {
		t.Errorf("expected latest job, got %+v", j)
	}
	if got := j.calls[0].Labels(); len(got) != 3 {
		t.Errorf("expected 3 labels, got %v", got)
	}
}

func TestLoadJob_LargeIntegerArgsKeepPrecision(t *testing.T) {
	path := writeFile(t, "job.yaml", `blocks: [1]
calls:
  - target: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
    signature: "quote(uint256,uint256[])(uint256)"
    args: [1000000000000000000000000, [0x10, 115792089237316195423570985008687907853269984665640564039457584007913129639935]]
    labels: [out]
`)

	j, err := loadJob(path)
	if err != nil {
		t.Fatalf("loadJob: %v", err)
	}
	args := j.calls[0].Args()
	amount, ok := args[0].(*big.Int)
	if !ok {
		t.Fatalf("expected *big.Int, got %T", args[0])
	}
	if amount.String() != "1000000000000000000000000" {
		t.Errorf("expected 10^24, got %s", amount)
	}
	list, ok := args[1].([]*big.Int)
	if !ok || len(list) != 2 {
		t.Fatalf("expected two *big.Int elements, got %T %v", args[1], args[1])
	}
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if list[0].Int64() != 16 || list[1].Cmp(maxUint256) != 0 {
		t.Errorf("unexpected list %v", list)
	}
}

func TestLoadJob_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		wantIs  error
	}{
		{name: "no calls", body: "blocks: [1]\n", wantErr: "job has no calls"},
		{name: "no blocks", body: "calls:" + balanceEntry, wantErr: "job needs blocks"},
		{name: "latest and blocks", body: "latest: true\nblocks: [1]\ncalls:" + balanceEntry, wantErr: "latest cannot be combined"},
		{name: "reversed range", body: "range: {from: 10, to: 5}\ncalls:" + balanceEntry, wantErr: "invalid range"},
		{name: "negative step", body: "range: {from: 1, to: 5, step: -1}\ncalls:" + balanceEntry, wantErr: "step must be positive"},
		{name: "huge range", body: "range: {from: 0, to: 5000000}\ncalls:" + balanceEntry, wantErr: "more than"},
		{
			name:    "float beyond exact range",
			body:    "blocks: [1]\ncalls:\n  - target: \"0x1F98431c8aD98523631AE4a59f267346ea31F984\"\n    signature: \"f(uint256)(uint256)\"\n    args: [1.0e+24]\n    labels: [out]\n",
			wantErr: "quote large integers",
		},
		{name: "unknown key", body: "block: [1]\ncalls:" + balanceEntry, wantErr: "failed to decode job file"},
		{
			name:    "unknown handler",
			body:    "blocks: [1]\ncalls:" + balanceEntry + "    handlers: [hex]\n",
			wantErr: "call 0",
		},
		{
			name:   "bad target",
			body:   "blocks: [1]\ncalls:\n  - target: nowhere\n    signature: \"totalSupply()(uint256)\"\n    labels: [s]\n",
			wantIs: callspec.ErrInvalidTarget,
		},
		{
			name:   "handler arity",
			body:   "blocks: [1]\ncalls:" + balanceEntry + "    handlers: [string, string]\n",
			wantIs: callspec.ErrLabelHandlerArityMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadJob(writeFile(t, "job.yaml", tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("expected %v, got %v", tt.wantIs, err)
			}
		})
	}
}

func TestLoadJob_MissingFile(t *testing.T) {
	if _, err := loadJob(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
