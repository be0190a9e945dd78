package callspec

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func TestScaleByDecimals(t *testing.T) {
	wei, _ := new(big.Int).SetString("1234500000000000000", 10)
	v, err := ScaleByDecimals(18).Apply(wei)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		t.Fatalf("expected decimal.Decimal, got %T", v)
	}
	if !d.Equal(decimal.RequireFromString("1.2345")) {
		t.Errorf("expected 1.2345, got %s", d)
	}

	if _, err := ScaleByDecimals(18).Apply("nope"); err == nil {
		t.Error("expected error for non-integer input")
	}
}

func TestToFloat(t *testing.T) {
	v, err := ToFloat().Apply(uint32(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 7.0 {
		t.Errorf("expected 7.0, got %v", v)
	}
}

func TestToChecksumAddress(t *testing.T) {
	v, err := ToChecksumAddress().Apply(common.HexToAddress(weth))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != weth {
		t.Errorf("expected %s, got %v", weth, v)
	}
	if _, err := ToChecksumAddress().Apply(big.NewInt(1)); err == nil {
		t.Error("expected error for non-address")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"big int", big.NewInt(-12), "-12"},
		{"address", common.HexToAddress(weth), weth},
		{"bytes", []byte{0xca, 0xfe}, "0xcafe"},
		{"fixed bytes", [2]byte{0xbe, 0xef}, "0xbeef"},
		{"list", []*big.Int{big.NewInt(1), big.NewInt(2)}, "[1,2]"},
		{"sentinel", CallFailed, "CallFailed"},
		{"bool", true, "true"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatValue(tc.value); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestParseHandler(t *testing.T) {
	tests := []struct {
		spec    string
		name    string
		wantErr bool
	}{
		{"", "identity", false},
		{"identity", "identity", false},
		{"string", "string", false},
		{"float", "float", false},
		{"address", "address", false},
		{"scale:18", "scale:18", false},
		{"scale:-1", "", true},
		{"scale:x", "", true},
		{"sqrt", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.spec, func(t *testing.T) {
			h, err := ParseHandler(tc.spec)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.Name() != tc.name {
				t.Errorf("expected name %s, got %s", tc.name, h.Name())
			}
		})
	}
}
