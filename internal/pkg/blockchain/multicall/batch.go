// Package multicall packs many CallSpecs into one tryAggregate call and
// demultiplexes the aggregate result back into per-call results.
package multicall

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/abicodec"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
)

// TryAggregateSignature is the aggregator function used for every batch. With
// requireSuccess=false a reverting call yields (false, revertData) instead of
// aborting the batch.
const TryAggregateSignature = "tryAggregate(bool,(address,bytes)[])((bool,bytes)[])"

var tryAggregate = abicodec.MustParse(TryAggregateSignature)

var (
	ErrEmptyBatch          = errors.New("batch has no calls")
	ErrDuplicateLabel      = errors.New("duplicate output label")
	ErrResultCountMismatch = errors.New("aggregate result count does not match calls")
)

// Aggregator is a deployed contract exposing tryAggregate.
type Aggregator struct {
	address   common.Address
	signature *abicodec.Signature
}

// NewAggregator returns an Aggregator at address.
func NewAggregator(address common.Address) *Aggregator {
	return &Aggregator{address: address, signature: tryAggregate}
}

// DefaultAggregator returns the Multicall3 deployment.
func DefaultAggregator() *Aggregator {
	return NewAggregator(blockchain.Multicall3)
}

func (a *Aggregator) Address() common.Address { return a.address }

func (a *Aggregator) Signature() *abicodec.Signature { return a.signature }

// ValidateLabels rejects calls whose output labels collide, within one call or
// across calls. Labels must be unique to flatten results into one row.
func ValidateLabels(calls []*callspec.CallSpec) error {
	seen := make(map[string]int)
	for i, c := range calls {
		if c == nil {
			return fmt.Errorf("call %d is nil", i)
		}
		for _, label := range c.Labels() {
			if prev, ok := seen[label]; ok {
				return fmt.Errorf("%w: %q used by call %d and call %d", ErrDuplicateLabel, label, prev, i)
			}
			seen[label] = i
		}
	}
	return nil
}

// Batch is a fixed list of calls evaluated together in one aggregate call.
type Batch struct {
	aggregator *Aggregator
	calls      []*callspec.CallSpec
}

// NewBatch validates calls and returns a Batch against aggregator.
func NewBatch(aggregator *Aggregator, calls []*callspec.CallSpec) (*Batch, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}
	if aggregator == nil {
		aggregator = DefaultAggregator()
	}
	if err := ValidateLabels(calls); err != nil {
		return nil, err
	}
	return &Batch{
		aggregator: aggregator,
		calls:      append([]*callspec.CallSpec(nil), calls...),
	}, nil
}

func (b *Batch) Aggregator() *Aggregator { return b.aggregator }

// Calls returns the calls in aggregate order.
func (b *Batch) Calls() []*callspec.CallSpec {
	return append([]*callspec.CallSpec(nil), b.calls...)
}

func (b *Batch) Len() int { return len(b.calls) }

// Split halves the batch. It returns nil for the second half when the batch
// holds a single call.
func (b *Batch) Split() (*Batch, *Batch) {
	if len(b.calls) < 2 {
		return b, nil
	}
	mid := len(b.calls) / 2
	return &Batch{aggregator: b.aggregator, calls: b.calls[:mid:mid]},
		&Batch{aggregator: b.aggregator, calls: b.calls[mid:]}
}

// BuildCalldata encodes tryAggregate(false, [(target, calldata)...]).
func (b *Batch) BuildCalldata() ([]byte, error) {
	pairs := make([]any, len(b.calls))
	for i, c := range b.calls {
		pairs[i] = []any{c.Target(), c.Calldata()}
	}
	data, err := b.aggregator.signature.Encode(false, pairs)
	if err != nil {
		return nil, fmt.Errorf("building aggregate calldata for %d call(s): %w", len(b.calls), err)
	}
	return data, nil
}

// Decode splits the aggregate return data into one RawResult per call,
// positionally aligned with the batch.
func (b *Batch) Decode(ret []byte, block int64) ([]callspec.RawResult, error) {
	values, err := b.aggregator.signature.Decode(ret)
	if err != nil {
		return nil, fmt.Errorf("decoding aggregate result at block %d: %w", block, err)
	}
	items, ok := values[0].([]any)
	if !ok {
		return nil, fmt.Errorf("decoding aggregate result at block %d: unexpected %T", block, values[0])
	}
	if len(items) != len(b.calls) {
		return nil, fmt.Errorf("%w: %d call(s), %d result(s) at block %d", ErrResultCountMismatch, len(b.calls), len(items), block)
	}

	results := make([]callspec.RawResult, len(items))
	for i, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("decoding aggregate result %d at block %d: unexpected %T", i, block, item)
		}
		success, _ := pair[0].(bool)
		data, _ := pair[1].([]byte)
		results[i] = callspec.NewRawResult(b.calls[i], block, success, data)
	}
	return results, nil
}

// Reassemble merges evaluated results into one label → value map. Reverted
// calls contribute CallFailed for each of their labels. The caller adds the block.
func Reassemble(results []callspec.RawResult) (map[string]any, error) {
	out := make(map[string]any)
	for _, r := range results {
		values, err := r.Values()
		if err != nil {
			return nil, err
		}
		for label, v := range values {
			if _, dup := out[label]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, label)
			}
			out[label] = v
		}
	}
	return out, nil
}
