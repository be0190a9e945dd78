// Package callspec describes single read-only contract calls: what to call,
// how to label and transform the outputs, and the content hash that
// identifies the call at a given block on a given chain.
package callspec

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/abicodec"
)

// BlockLatest marks a call evaluated at the chain head. It cannot form a CallID.
const BlockLatest int64 = -1

// ReservedLabel is the output key holding the block number of a result row.
const ReservedLabel = "block"

var (
	ErrInvalidTarget             = errors.New("invalid target address")
	ErrNoLabels                  = errors.New("call has no output labels")
	ErrInvalidLabel              = errors.New("invalid output label")
	ErrLabelHandlerArityMismatch = errors.New("label and handler counts differ")
	ErrReturnArityMismatch       = errors.New("return value count does not match labels")
	ErrMissingBlock              = errors.New("block number required")
	ErrMissingChainID            = errors.New("chain id required")
	ErrHandlerFailed             = errors.New("output handler failed")
	ErrNotEvaluated              = errors.New("call has not been evaluated")
)

// HandlerError is returned when an output handler fails. It carries the raw
// decoded value the handler was given.
type HandlerError struct {
	Label   string
	Handler string
	Value   any
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for label %q failed on %s (%T): %v", e.Handler, e.Label, FormatValue(e.Value), e.Value, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Is(target error) bool { return target == ErrHandlerFailed }

// CallSpec is one logical read-only call. It is immutable and may be
// evaluated at any number of blocks.
type CallSpec struct {
	target        common.Address
	signature     *abicodec.Signature
	args          []any
	labels        []string
	handlers      []Handler
	calldata      []byte
	argsCanonical string
	argsExact     []byte
}

// New builds a CallSpec. args must match the signature's inputs; labels must
// match its outputs one to one, and handlers must match labels one to one.
func New(target, signature string, args []any, labels []string, handlers []Handler) (*CallSpec, error) {
	if !common.IsHexAddress(target) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	sig, err := abicodec.Parse(signature)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoLabels, signature)
	}
	if len(labels) != len(handlers) {
		return nil, fmt.Errorf("%w: %d label(s), %d handler(s)", ErrLabelHandlerArityMismatch, len(labels), len(handlers))
	}
	if len(labels) != len(sig.Outputs) {
		return nil, fmt.Errorf("%w: %s returns %d value(s), %d label(s) given", ErrReturnArityMismatch, signature, len(sig.Outputs), len(labels))
	}
	for i, label := range labels {
		if label == "" || label == ReservedLabel {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
		}
		if handlers[i] == nil {
			return nil, fmt.Errorf("%w: nil handler for label %q", ErrLabelHandlerArityMismatch, label)
		}
	}

	coerced, err := sig.Coerce(args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", signature, err)
	}
	calldata, err := sig.Encode(coerced...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", signature, err)
	}
	exact, err := sig.EncodeArgs(coerced...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", signature, err)
	}
	canonical, err := sig.CanonicalArgs(coerced...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", signature, err)
	}

	return &CallSpec{
		target:        common.HexToAddress(target),
		signature:     sig,
		args:          coerced,
		labels:        append([]string(nil), labels...),
		handlers:      append([]Handler(nil), handlers...),
		calldata:      calldata,
		argsCanonical: canonical,
		argsExact:     exact,
	}, nil
}

// NewSingle builds a CallSpec for a function with one output. A nil handler
// means Identity.
func NewSingle(target, signature string, args []any, label string, handler Handler) (*CallSpec, error) {
	if handler == nil {
		handler = Identity()
	}
	return New(target, signature, args, []string{label}, []Handler{handler})
}

// MustNew is like New but panics on error.
func MustNew(target, signature string, args []any, labels []string, handlers []Handler) *CallSpec {
	c, err := New(target, signature, args, labels, handlers)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *CallSpec) Target() common.Address          { return c.target }
func (c *CallSpec) Signature() *abicodec.Signature { return c.signature }
func (c *CallSpec) ArgumentsCanonical() string     { return c.argsCanonical }

// Args returns the coerced arguments.
func (c *CallSpec) Args() []any { return append([]any(nil), c.args...) }

// Labels returns the output labels in output order.
func (c *CallSpec) Labels() []string { return append([]string(nil), c.labels...) }

// Calldata returns selector || abi(args).
func (c *CallSpec) Calldata() []byte { return append([]byte(nil), c.calldata...) }

// ArgumentsExact returns the ABI encoding of the arguments.
func (c *CallSpec) ArgumentsExact() []byte { return append([]byte(nil), c.argsExact...) }

func (c *CallSpec) String() string {
	return c.target.Hex() + "." + c.signature.Raw + c.argsCanonical
}

// ToID returns the CallID of this call at block on chainID. The hash input is
// the concatenation of the decimal chain id, checksummed target, raw
// signature, canonical arguments and decimal block.
func (c *CallSpec) ToID(chainID uint64, block int64) (entity.CallID, error) {
	if block < 0 {
		return entity.CallID{}, fmt.Errorf("%w: %s", ErrMissingBlock, c)
	}
	if chainID == 0 {
		return entity.CallID{}, ErrMissingChainID
	}
	var buf []byte
	buf = strconv.AppendUint(buf, chainID, 10)
	buf = append(buf, c.target.Hex()...)
	buf = append(buf, c.signature.Raw...)
	buf = append(buf, c.argsCanonical...)
	buf = strconv.AppendInt(buf, block, 10)
	return entity.CallID(crypto.Keccak256Hash(buf)), nil
}

// DecodeOutput decodes the return data of a successful call into
// label → handled value. Empty return data is what an address without code
// returns; every label then maps to NotAContract and no decoding is attempted.
func (c *CallSpec) DecodeOutput(raw []byte) (map[string]any, error) {
	out := make(map[string]any, len(c.labels))
	if len(raw) == 0 {
		for _, label := range c.labels {
			out[label] = NotAContract
		}
		return out, nil
	}

	values, err := c.signature.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	if len(values) != len(c.labels) {
		return nil, fmt.Errorf("%w: %s decoded %d value(s) for %d label(s)", ErrReturnArityMismatch, c, len(values), len(c.labels))
	}

	for i, label := range c.labels {
		h := c.handlers[i]
		v, err := h.Apply(values[i])
		if err != nil {
			return nil, &HandlerError{Label: label, Handler: h.Name(), Value: values[i], Err: err}
		}
		out[label] = v
	}
	return out, nil
}

// Outcome maps an evaluated status and response to label → value: decoded
// output on success, CallFailed for every label on revert.
func (c *CallSpec) Outcome(status entity.Status, response []byte) (map[string]any, error) {
	switch status {
	case entity.StatusSuccess:
		return c.DecodeOutput(response)
	case entity.StatusReverted:
		out := make(map[string]any, len(c.labels))
		for _, label := range c.labels {
			out[label] = CallFailed
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotEvaluated, c)
	}
}
