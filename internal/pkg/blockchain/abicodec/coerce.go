package abicodec

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/multicallcache/internal/pkg/hexutil"
)

var bigIntType = reflect.TypeOf((*big.Int)(nil))

// maxExactFloat is 2^53. Every integer up to this magnitude is exact in a float64.
const maxExactFloat = 1 << 53

// coerce returns v converted to t.GetType().
func coerce(t abi.Type, v any) (reflect.Value, error) {
	if v == nil {
		return reflect.Value{}, errors.New("nil value")
	}
	target := t.GetType()
	if rv := reflect.ValueOf(v); rv.Type() == target {
		switch t.T {
		case abi.IntTy, abi.UintTy, abi.SliceTy, abi.ArrayTy, abi.TupleTy:
			// re-checked below: ranges and nested components
		default:
			return rv, nil
		}
	}

	switch t.T {
	case abi.IntTy, abi.UintTy:
		return coerceInt(t, v)
	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return reflect.ValueOf(b), nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("invalid bool %q", b)
			}
			return reflect.ValueOf(parsed), nil
		}
	case abi.StringTy:
		if s, ok := v.(string); ok {
			return reflect.ValueOf(s), nil
		}
	case abi.AddressTy:
		return coerceAddress(v)
	case abi.BytesTy:
		b, err := toBytes(v)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil
	case abi.FixedBytesTy, abi.HashTy, abi.FunctionTy:
		return coerceFixedBytes(target, v)
	case abi.SliceTy, abi.ArrayTy:
		return coerceList(t, target, v)
	case abi.TupleTy:
		return coerceTuple(t, target, v)
	default:
		return reflect.Value{}, fmt.Errorf("unsupported type %s", t.String())
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t.String())
}

func coerceInt(t abi.Type, v any) (reflect.Value, error) {
	x, err := toBigInt(v)
	if err != nil {
		return reflect.Value{}, err
	}
	unsigned := t.T == abi.UintTy
	if !fitsInt(x, t.Size, unsigned) {
		return reflect.Value{}, fmt.Errorf("value %s out of range for %s", x, t.String())
	}

	target := t.GetType()
	if target == bigIntType {
		return reflect.ValueOf(x), nil
	}
	out := reflect.New(target).Elem()
	if unsigned {
		out.SetUint(x.Uint64())
	} else {
		out.SetInt(x.Int64())
	}
	return out, nil
}

func fitsInt(x *big.Int, size int, unsigned bool) bool {
	if unsigned {
		return x.Sign() >= 0 && x.BitLen() <= size
	}
	if x.Sign() >= 0 {
		return x.BitLen() < size
	}
	// -2^(size-1) is the smallest representable value.
	return new(big.Int).Add(x, big.NewInt(1)).BitLen() < size
}

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, errors.New("nil *big.Int")
		}
		return new(big.Int).Set(n), nil
	case big.Int:
		return new(big.Int).Set(&n), nil
	case string:
		x, ok := new(big.Int).SetString(strings.TrimSpace(n), 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", n)
		}
		return x, nil
	case json.Number:
		return toBigInt(string(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return nil, fmt.Errorf("non-integral number %v", n)
		}
		if math.Abs(n) > maxExactFloat {
			return nil, fmt.Errorf("number %v is beyond exact float64 precision; quote large integers", n)
		}
		x, _ := big.NewFloat(n).Int(nil)
		return x, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return new(big.Int).SetUint64(rv.Uint()), nil
	}
	return nil, fmt.Errorf("cannot use %T as integer", v)
}

func coerceAddress(v any) (reflect.Value, error) {
	switch a := v.(type) {
	case common.Address:
		return reflect.ValueOf(a), nil
	case *common.Address:
		if a == nil {
			return reflect.Value{}, errors.New("nil address")
		}
		return reflect.ValueOf(*a), nil
	case string:
		if !common.IsHexAddress(a) {
			return reflect.Value{}, fmt.Errorf("invalid address %q", a)
		}
		return reflect.ValueOf(common.HexToAddress(a)), nil
	case [20]byte:
		return reflect.ValueOf(common.Address(a)), nil
	case []byte:
		if len(a) != common.AddressLength {
			return reflect.Value{}, fmt.Errorf("address must be %d bytes, got %d", common.AddressLength, len(a))
		}
		return reflect.ValueOf(common.BytesToAddress(a)), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as address", v)
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return append([]byte{}, b...), nil
	case string:
		if !strings.HasPrefix(b, "0x") && !strings.HasPrefix(b, "0X") {
			return nil, fmt.Errorf("bytes string %q must be 0x-prefixed hex", b)
		}
		return hexutil.DecodeData(b)
	case common.Hash:
		return b.Bytes(), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, rv.Len())
		for i := range out {
			out[i] = byte(rv.Index(i).Uint())
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot use %T as bytes", v)
}

func coerceFixedBytes(target reflect.Type, v any) (reflect.Value, error) {
	b, err := toBytes(v)
	if err != nil {
		return reflect.Value{}, err
	}
	size := target.Len()
	if len(b) > size {
		return reflect.Value{}, fmt.Errorf("%d bytes do not fit in bytes%d", len(b), size)
	}
	out := reflect.New(target).Elem()
	for i, c := range b {
		out.Index(i).SetUint(uint64(c))
	}
	return out, nil
}

func coerceList(t abi.Type, target reflect.Type, v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t.String())
	}
	n := rv.Len()

	var out reflect.Value
	if t.T == abi.ArrayTy {
		if n != t.Size {
			return reflect.Value{}, fmt.Errorf("%s needs %d element(s), got %d", t.String(), t.Size, n)
		}
		out = reflect.New(target).Elem()
	} else {
		out = reflect.MakeSlice(target, n, n)
	}

	for i := 0; i < n; i++ {
		elem, err := coerce(*t.Elem, rv.Index(i).Interface())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i).Set(elem)
	}
	return out, nil
}

// coerceTuple accepts a list of component values in order, or any struct
// whose fields line up positionally with the components.
func coerceTuple(t abi.Type, target reflect.Type, v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, errors.New("nil tuple")
		}
		rv = rv.Elem()
	}

	var component func(i int) any
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Len() != len(t.TupleElems) {
			return reflect.Value{}, fmt.Errorf("%s needs %d component(s), got %d", t.String(), len(t.TupleElems), rv.Len())
		}
		component = func(i int) any { return rv.Index(i).Interface() }
	case reflect.Struct:
		if rv.NumField() != len(t.TupleElems) {
			return reflect.Value{}, fmt.Errorf("%s needs %d component(s), struct has %d field(s)", t.String(), len(t.TupleElems), rv.NumField())
		}
		for i := 0; i < rv.NumField(); i++ {
			if !rv.Field(i).CanInterface() {
				return reflect.Value{}, fmt.Errorf("tuple struct %T has unexported field %d", v, i)
			}
		}
		component = func(i int) any { return rv.Field(i).Interface() }
	default:
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t.String())
	}

	out := reflect.New(target).Elem()
	for i, elem := range t.TupleElems {
		cv, err := coerce(*elem, component(i))
		if err != nil {
			return reflect.Value{}, fmt.Errorf("component %d: %w", i, err)
		}
		out.Field(i).Set(cv)
	}
	return out, nil
}

// render writes v, already coerced to t, in canonical form.
func render(t abi.Type, v reflect.Value) string {
	switch t.T {
	case abi.IntTy, abi.UintTy:
		if x, ok := v.Interface().(*big.Int); ok {
			return x.String()
		}
		if t.T == abi.UintTy {
			return strconv.FormatUint(v.Uint(), 10)
		}
		return strconv.FormatInt(v.Int(), 10)
	case abi.BoolTy:
		return strconv.FormatBool(v.Bool())
	case abi.StringTy:
		return strconv.Quote(v.String())
	case abi.AddressTy:
		return v.Interface().(common.Address).Hex()
	case abi.BytesTy:
		return "0x" + hex.EncodeToString(v.Bytes())
	case abi.FixedBytesTy, abi.HashTy, abi.FunctionTy:
		b := make([]byte, v.Len())
		for i := range b {
			b[i] = byte(v.Index(i).Uint())
		}
		return "0x" + hex.EncodeToString(b)
	case abi.SliceTy, abi.ArrayTy:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = render(*t.Elem, v.Index(i))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case abi.TupleTy:
		parts := make([]string, len(t.TupleElems))
		for i, elem := range t.TupleElems {
			parts[i] = render(*elem, v.Field(i))
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	return fmt.Sprint(v.Interface())
}
