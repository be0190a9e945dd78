package callspec

import (
	"github.com/archon-research/multicallcache/internal/domain/entity"
)

// Sentinel marks a label whose value could not be produced. Sentinels are
// data, not errors: a batch with failing calls still yields a full row.
type Sentinel string

const (
	// CallFailed marks every label of a call that reverted.
	CallFailed Sentinel = "CallFailed"
	// NotAContract marks every label of a call to an address without code.
	NotAContract Sentinel = "NotAContract"
)

func (s Sentinel) String() string { return string(s) }

// RawResult is one call evaluated (or to be evaluated) at one block.
type RawResult struct {
	Call     *CallSpec
	Block    int64
	Status   entity.Status
	Response []byte // nil unless Status is StatusSuccess
}

// NewRawResult records the aggregator's verdict for call at block.
func NewRawResult(call *CallSpec, block int64, success bool, response []byte) RawResult {
	r := RawResult{Call: call, Block: block, Status: entity.StatusFromSuccess(success)}
	if success {
		r.Response = response
	}
	return r
}

// Values returns the label → value view of the result.
func (r RawResult) Values() (map[string]any, error) {
	return r.Call.Outcome(r.Status, r.Response)
}

// ToRecord converts the result into its durable form.
func (r RawResult) ToRecord(chainID uint64) (*entity.CallRecord, error) {
	if r.Status == entity.StatusPending {
		return nil, ErrNotEvaluated
	}
	id, err := r.Call.ToID(chainID, r.Block)
	if err != nil {
		return nil, err
	}
	return entity.NewCallRecord(
		id,
		r.Call.target.Hex(),
		r.Call.signature.Raw,
		r.Call.argsCanonical,
		r.Call.argsExact,
		r.Block,
		chainID,
		r.Status == entity.StatusSuccess,
		r.Response,
	)
}
