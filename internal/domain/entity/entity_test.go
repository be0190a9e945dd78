package entity

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func testID(b byte) CallID {
	var id CallID
	id[0] = b
	id[31] = b
	return id
}

func TestCallID_HexRoundTrip(t *testing.T) {
	id := testID(0xab)
	hex := id.Hex()
	if !strings.HasPrefix(hex, "0x") || len(hex) != 66 {
		t.Fatalf("unexpected hex form %s", hex)
	}
	parsed, err := ParseCallID(hex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != id {
		t.Errorf("expected %s, got %s", id, parsed)
	}
	if _, err := ParseCallID("0x1234"); err == nil {
		t.Error("expected error for short id")
	}
}

func TestCallIDFromBytes(t *testing.T) {
	id := testID(7)
	got, err := CallIDFromBytes(id.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != id {
		t.Errorf("expected %s, got %s", id, got)
	}
	if _, err := CallIDFromBytes([]byte{1}); err == nil {
		t.Error("expected length error")
	}
}

func TestNewCallRecord(t *testing.T) {
	tests := []struct {
		name    string
		id      CallID
		target  string
		block   int64
		chainID uint64
		wantErr bool
	}{
		{"valid", testID(1), "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 100, 1, false},
		{"zero id", CallID{}, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 100, 1, true},
		{"empty target", testID(1), "", 100, 1, true},
		{"negative block", testID(1), "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", -1, 1, true},
		{"zero chain", testID(1), "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 100, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCallRecord(tc.id, tc.target, "totalSupply()(uint256)", "()", nil, tc.block, tc.chainID, true, []byte{1})
			if tc.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewCallRecord_DropsRevertData(t *testing.T) {
	r, err := NewCallRecord(testID(1), "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "f()(uint256)", "()", nil, 1, 1, false, []byte{0x08, 0xc3, 0x79, 0xa0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Response != nil {
		t.Errorf("expected nil response for reverted call, got %x", r.Response)
	}
	if r.Result().Status() != StatusReverted {
		t.Errorf("expected reverted status, got %s", r.Result().Status())
	}
}

func TestNewLookup_PreservesOrderAndCollapsesDuplicates(t *testing.T) {
	a, b, c := testID(1), testID(2), testID(3)
	results := map[CallID]CachedResult{
		c: {ID: c, Success: true, Response: []byte{3}},
		a: {ID: a, Success: false},
	}

	l := NewLookup([]CallID{a, b, a, c, b}, results)

	if len(l.Found) != 2 || l.Found[0].ID != a || l.Found[1].ID != c {
		t.Errorf("unexpected found order: %+v", l.Found)
	}
	if len(l.Missing) != 1 || l.Missing[0] != b {
		t.Errorf("unexpected missing: %v", l.Missing)
	}
	if l.Complete() {
		t.Error("expected incomplete lookup")
	}
	if _, ok := l.ByID()[c]; !ok {
		t.Error("expected c in index")
	}
}

func TestRow_MarshalBytesAsHex(t *testing.T) {
	row := Row{Block: 1, Values: map[string]any{
		"data":   []byte{0xde, 0xad},
		"hash":   [4]byte{0x01, 0x02, 0x03, 0x04},
		"nested": []any{[2]byte{0xab, 0xcd}, "x", []byte{}},
		"roots":  [][1]byte{{0x0f}},
		"nums":   []uint64{1, 2},
	}}

	got, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"block":1,"data":"0xdead","hash":"0x01020304","nested":["0xabcd","x","0x"],"nums":[1,2],"roots":["0x0f"]}`
	if string(got) != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestStatus_String(t *testing.T) {
	if StatusPending.String() != "pending" || StatusSuccess.String() != "success" || StatusReverted.String() != "reverted" {
		t.Error("unexpected status names")
	}
	if Status(9).String() != "status(9)" {
		t.Errorf("unexpected unknown status name %s", Status(9))
	}
}

func TestRow_MarshalAndLabels(t *testing.T) {
	row := Row{Block: 19000000, Values: map[string]any{"supply": "100", "balance": 7}}
	if got := row.Labels(); len(got) != 2 || got[0] != "balance" || got[1] != "supply" {
		t.Errorf("unexpected labels %v", got)
	}

	var buf bytes.Buffer
	if err := WriteJSONLines(&buf, []Row{row, {Block: 19000001, Values: map[string]any{}}}); err != nil {
		t.Fatalf("WriteJSONLines: %v", err)
	}
	want := "{\"balance\":7,\"block\":19000000,\"supply\":\"100\"}\n{\"block\":19000001}\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}
