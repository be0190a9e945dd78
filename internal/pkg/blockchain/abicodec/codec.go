package abicodec

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Encode returns selector || abi(args). With no args it returns the selector alone.
func (s *Signature) Encode(args ...any) ([]byte, error) {
	out := make([]byte, 4, 4+32*len(args))
	copy(out, s.Selector[:])
	if len(args) == 0 {
		return out, nil
	}
	body, err := s.EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	return append(out, body...), nil
}

// EncodeArgs returns the ABI encoding of args against the input types, without the selector.
func (s *Signature) EncodeArgs(args ...any) ([]byte, error) {
	coerced, err := s.Coerce(args...)
	if err != nil {
		return nil, err
	}
	body, err := s.Inputs.Pack(coerced...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncodingFailed, s.Function, err)
	}
	return body, nil
}

// EncodeOutputs encodes values as return data for the output types. It is
// what a contract implementing the signature would return.
func (s *Signature) EncodeOutputs(values ...any) ([]byte, error) {
	coerced, err := coerceAll(s.Outputs, values)
	if err != nil {
		return nil, err
	}
	data, err := s.Outputs.Pack(coerced...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s outputs: %w", ErrEncodingFailed, s.Raw, err)
	}
	return data, nil
}

// Coerce converts args into the exact Go types go-ethereum expects for the
// input types. The result is safe to pass to Inputs.Pack.
func (s *Signature) Coerce(args ...any) ([]any, error) {
	return coerceAll(s.Inputs, args)
}

// Decode decodes return data against the output types. Tuples are returned as
// []any, and arrays of tuples as []any of []any.
func (s *Signature) Decode(data []byte) ([]any, error) {
	return decodeAll(s.Outputs, data)
}

// DecodeArgs decodes an ABI body produced by EncodeArgs back into arguments.
func (s *Signature) DecodeArgs(data []byte) ([]any, error) {
	return decodeAll(s.Inputs, data)
}

// CanonicalArgs renders args as a stable string, e.g. (0xC02a...,[1,2],"x").
// Logically equal arguments render identically regardless of the Go types
// they were supplied as.
func (s *Signature) CanonicalArgs(args ...any) (string, error) {
	coerced, err := s.Coerce(args...)
	if err != nil {
		return "", err
	}
	return renderAll(s.Inputs, coerced), nil
}

// CanonicalOutputs renders decoded output values the same way CanonicalArgs renders arguments.
func (s *Signature) CanonicalOutputs(values ...any) (string, error) {
	coerced, err := coerceAll(s.Outputs, values)
	if err != nil {
		return "", err
	}
	return renderAll(s.Outputs, coerced), nil
}

func coerceAll(args abi.Arguments, values []any) ([]any, error) {
	if len(values) != len(args) {
		return nil, fmt.Errorf("%w: expected %d argument(s), got %d", ErrEncodingFailed, len(args), len(values))
	}
	out := make([]any, len(values))
	for i, v := range values {
		rv, err := coerce(args[i].Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d (%s): %w", ErrEncodingFailed, i, args[i].Type.String(), err)
		}
		out[i] = rv.Interface()
	}
	return out, nil
}

func decodeAll(args abi.Arguments, data []byte) ([]any, error) {
	if len(args) == 0 {
		return []any{}, nil
	}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodingFailed, err)
	}
	if len(values) != len(args) {
		return nil, fmt.Errorf("%w: expected %d value(s), got %d", ErrDecodingFailed, len(args), len(values))
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = normalize(args[i].Type, reflect.ValueOf(v))
	}
	return out, nil
}

func renderAll(args abi.Arguments, values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = render(args[i].Type, reflect.ValueOf(v))
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// normalize turns go-ethereum's generated tuple structs into []any so callers
// never depend on reflection-built types.
func normalize(t abi.Type, v reflect.Value) any {
	for v.Kind() == reflect.Pointer && t.T == abi.TupleTy {
		v = v.Elem()
	}
	switch t.T {
	case abi.TupleTy:
		out := make([]any, len(t.TupleElems))
		for i, elem := range t.TupleElems {
			out[i] = normalize(*elem, v.Field(i))
		}
		return out
	case abi.SliceTy, abi.ArrayTy:
		if containsTuple(*t.Elem) {
			out := make([]any, v.Len())
			for i := range out {
				out[i] = normalize(*t.Elem, v.Index(i))
			}
			return out
		}
	}
	return v.Interface()
}

func containsTuple(t abi.Type) bool {
	switch t.T {
	case abi.TupleTy:
		return true
	case abi.SliceTy, abi.ArrayTy:
		return containsTuple(*t.Elem)
	}
	return false
}
