package callspec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Handler transforms one decoded output value. Handlers must be pure: the same
// input always yields the same output and nothing else is touched.
type Handler interface {
	// Name identifies the transform. Built-in handlers return a name that
	// ParseHandler accepts.
	Name() string
	Apply(value any) (any, error)
}

var errUnsupportedValue = errors.New("unsupported value type")

type identity struct{}

// Identity returns decoded values unchanged.
func Identity() Handler { return identity{} }

func (identity) Name() string                 { return "identity" }
func (identity) Apply(value any) (any, error) { return value, nil }

type toString struct{}

// ToString renders values as strings: integers in decimal, addresses
// checksummed, byte strings as 0x hex.
func ToString() Handler { return toString{} }

func (toString) Name() string { return "string" }
func (toString) Apply(value any) (any, error) {
	return FormatValue(value), nil
}

type toFloat struct{}

// ToFloat converts integer values to float64.
func ToFloat() Handler { return toFloat{} }

func (toFloat) Name() string { return "float" }
func (toFloat) Apply(value any) (any, error) {
	x, err := asBigInt(value)
	if err != nil {
		return nil, err
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f, nil
}

type scaleByDecimals struct {
	decimals int32
}

// ScaleByDecimals divides an integer by 10^decimals and returns a decimal.Decimal,
// e.g. a raw 18-decimal token balance into whole tokens.
func ScaleByDecimals(decimals int32) Handler {
	return scaleByDecimals{decimals: decimals}
}

func (s scaleByDecimals) Name() string { return fmt.Sprintf("scale:%d", s.decimals) }
func (s scaleByDecimals) Apply(value any) (any, error) {
	x, err := asBigInt(value)
	if err != nil {
		return nil, err
	}
	return decimal.NewFromBigInt(x, -s.decimals), nil
}

type checksumAddress struct{}

// ToChecksumAddress renders an address output in its checksummed string form.
func ToChecksumAddress() Handler { return checksumAddress{} }

func (checksumAddress) Name() string { return "address" }
func (checksumAddress) Apply(value any) (any, error) {
	addr, ok := value.(common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an address", errUnsupportedValue, value)
	}
	return addr.Hex(), nil
}

type funcHandler struct {
	name string
	fn   func(any) (any, error)
}

// Func wraps a caller-supplied pure function as a Handler.
func Func(name string, fn func(any) (any, error)) Handler {
	return funcHandler{name: name, fn: fn}
}

func (f funcHandler) Name() string { return f.name }

// Apply runs the wrapped function. A panic is returned as an error.
func (f funcHandler) Apply(value any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			if e, ok := r.(error); ok {
				err = fmt.Errorf("handler panicked: %w", e)
				return
			}
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return f.fn(value)
}

// ParseHandler returns the built-in handler named by spec: "identity" (or
// empty), "string", "float", "address" or "scale:<decimals>".
func ParseHandler(spec string) (Handler, error) {
	spec = strings.TrimSpace(spec)
	switch spec {
	case "", "identity":
		return Identity(), nil
	case "string":
		return ToString(), nil
	case "float":
		return ToFloat(), nil
	case "address":
		return ToChecksumAddress(), nil
	}
	if rest, ok := strings.CutPrefix(spec, "scale:"); ok {
		n, err := strconv.ParseInt(rest, 10, 32)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid decimals in handler %q", spec)
		}
		return ScaleByDecimals(int32(n)), nil
	}
	return nil, fmt.Errorf("unknown handler %q", spec)
}

func asBigInt(value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("%w: nil *big.Int", errUnsupportedValue)
		}
		return v, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint()), nil
	}
	return nil, fmt.Errorf("%w: %T is not an integer", errUnsupportedValue, value)
}

// FormatValue renders a decoded value without knowing its ABI type.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case *big.Int:
		return v.String()
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case []byte:
		return "0x" + hex.EncodeToString(v)
	case Sentinel:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			for i := range b {
				b[i] = byte(rv.Index(i).Uint())
			}
			return "0x" + hex.EncodeToString(b)
		}
		fallthrough
	case reflect.Slice:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = FormatValue(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprint(value)
}
