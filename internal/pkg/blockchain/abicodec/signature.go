// Package abicodec parses human-readable function signatures of the form
// name(inputTypes)(outputTypes) and encodes and decodes call data for them.
//
// Tuple types are written in parenthesised form, e.g.
// getReserves()((uint112,uint112,uint32)) or f((address,uint256)[])(bool).
// The shorthand types uint, int and byte are accepted and canonicalised to
// uint256, int256 and bytes1 before the selector is computed.
package abicodec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrMalformedSignature is returned when a signature cannot be parsed.
	ErrMalformedSignature = errors.New("malformed signature")
	// ErrEncodingFailed wraps argument type and arity errors.
	ErrEncodingFailed = errors.New("encoding failed")
	// ErrDecodingFailed wraps errors from decoding return data.
	ErrDecodingFailed = errors.New("decoding failed")
)

var arraySuffix = regexp.MustCompile(`^(\[[0-9]*\])*$`)

// Signature is a parsed function signature. It is immutable once parsed.
type Signature struct {
	// Raw is the text the signature was parsed from.
	Raw string
	// Name is the function name.
	Name string
	// Function is the canonical name(types) form the selector is derived from.
	Function string
	// Selector is the first four bytes of keccak256(Function).
	Selector [4]byte

	Inputs  abi.Arguments
	Outputs abi.Arguments
}

// Parse parses text into a Signature. Both the input and the output group are required.
func Parse(text string) (*Signature, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)

	name, groups, err := splitGroups(compact)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrMalformedSignature, text, err)
	}
	if len(groups) != 2 {
		return nil, fmt.Errorf("%w %q: expected input and output groups, found %d group(s)", ErrMalformedSignature, text, len(groups))
	}
	if !isIdentifier(name) {
		return nil, fmt.Errorf("%w %q: invalid function name %q", ErrMalformedSignature, text, name)
	}

	inputs, err := parseArguments(groups[0])
	if err != nil {
		return nil, fmt.Errorf("%w %q: inputs: %w", ErrMalformedSignature, text, err)
	}
	outputs, err := parseArguments(groups[1])
	if err != nil {
		return nil, fmt.Errorf("%w %q: outputs: %w", ErrMalformedSignature, text, err)
	}

	types := make([]string, len(inputs))
	for i, arg := range inputs {
		types[i] = arg.Type.String()
	}
	function := name + "(" + strings.Join(types, ",") + ")"

	sig := &Signature{
		Raw:      text,
		Name:     name,
		Function: function,
		Inputs:   inputs,
		Outputs:  outputs,
	}
	copy(sig.Selector[:], crypto.Keccak256([]byte(function))[:4])
	return sig, nil
}

// MustParse is like Parse but panics on error. Intended for package-level
// signatures that are known to be valid.
func MustParse(text string) *Signature {
	sig, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return sig
}

// String returns the raw signature text.
func (s *Signature) String() string {
	return s.Raw
}

// splitGroups returns the function name and the outermost parenthesised
// groups that follow it, tracking depth so nested tuple groups stay intact.
func splitGroups(s string) (string, []string, error) {
	var (
		name   string
		groups []string
		depth  int
		start  = -1
	)
	for i, ch := range s {
		switch ch {
		case '(':
			if depth == 0 {
				if start < 0 && len(groups) == 0 {
					name = s[:i]
				}
				start = i
			}
			depth++
		case ')':
			if depth == 0 {
				return "", nil, fmt.Errorf("unbalanced ')' at offset %d", i)
			}
			depth--
			if depth == 0 {
				groups = append(groups, s[start:i+1])
			}
		default:
			if depth == 0 && (len(groups) > 0 || start >= 0) {
				return "", nil, fmt.Errorf("unexpected %q at offset %d", ch, i)
			}
		}
	}
	if depth != 0 {
		return "", nil, errors.New("unbalanced '('")
	}
	return name, groups, nil
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$':
		case unicode.IsLetter(r) && r < unicode.MaxASCII:
		case i > 0 && unicode.IsDigit(r) && r < unicode.MaxASCII:
		default:
			return false
		}
	}
	return true
}

// splitTopLevel splits the contents of a parenthesised group on commas that
// are not nested inside another group. "()" yields no elements.
func splitTopLevel(group string) ([]string, error) {
	if len(group) < 2 || group[0] != '(' || group[len(group)-1] != ')' {
		return nil, fmt.Errorf("group %q is not parenthesised", group)
	}
	inner := group[1 : len(group)-1]
	if inner == "" {
		return nil, nil
	}

	var parts []string
	depth, start := 0, 0
	for i, ch := range inner {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, inner[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, inner[start:])
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("empty type in %q", group)
		}
	}
	return parts, nil
}

func parseArguments(group string) (abi.Arguments, error) {
	parts, err := splitTopLevel(group)
	if err != nil {
		return nil, err
	}
	args := make(abi.Arguments, 0, len(parts))
	for _, part := range parts {
		m, err := marshaling(part, "")
		if err != nil {
			return nil, err
		}
		typ, err := abi.NewType(m.Type, "", m.Components)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", part, err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args, nil
}

// marshaling converts a textual type into the form abi.NewType accepts.
// Tuple components get positional names because go-ethereum builds a Go
// struct for every tuple and refuses anonymous fields.
func marshaling(typ, name string) (abi.ArgumentMarshaling, error) {
	if strings.HasPrefix(typ, "tuple(") {
		typ = typ[len("tuple"):]
	}
	if !strings.HasPrefix(typ, "(") {
		base, suffix := typ, ""
		if idx := strings.IndexByte(typ, '['); idx >= 0 {
			base, suffix = typ[:idx], typ[idx:]
		}
		if !arraySuffix.MatchString(suffix) {
			return abi.ArgumentMarshaling{}, fmt.Errorf("invalid array suffix in %q", typ)
		}
		switch base {
		case "uint":
			base = "uint256"
		case "int":
			base = "int256"
		case "byte":
			base = "bytes1"
		case "":
			return abi.ArgumentMarshaling{}, fmt.Errorf("missing base type in %q", typ)
		}
		return abi.ArgumentMarshaling{Name: name, Type: base + suffix}, nil
	}

	depth, end := 0, -1
	for i, ch := range typ {
		if ch == '(' {
			depth++
		} else if ch == ')' {
			depth--
			if depth == 0 {
				end = i
				break
			}
		}
	}
	if end < 0 {
		return abi.ArgumentMarshaling{}, fmt.Errorf("unbalanced tuple %q", typ)
	}
	suffix := typ[end+1:]
	if !arraySuffix.MatchString(suffix) {
		return abi.ArgumentMarshaling{}, fmt.Errorf("invalid array suffix in %q", typ)
	}

	parts, err := splitTopLevel(typ[:end+1])
	if err != nil {
		return abi.ArgumentMarshaling{}, err
	}
	if len(parts) == 0 {
		return abi.ArgumentMarshaling{}, fmt.Errorf("empty tuple %q", typ)
	}
	components := make([]abi.ArgumentMarshaling, len(parts))
	for i, part := range parts {
		components[i], err = marshaling(part, fmt.Sprintf("f%d", i))
		if err != nil {
			return abi.ArgumentMarshaling{}, err
		}
	}
	return abi.ArgumentMarshaling{Name: name, Type: "tuple" + suffix, Components: components}, nil
}
