package entity

import (
	"fmt"
)

// Status is the outcome of evaluating one call at one block.
type Status int

const (
	// StatusPending means the call has not been evaluated yet.
	StatusPending Status = iota
	// StatusSuccess means the call returned normally.
	StatusSuccess
	// StatusReverted means the call reverted inside the aggregator.
	StatusReverted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusReverted:
		return "reverted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusFromSuccess maps a stored success flag to a Status.
func StatusFromSuccess(success bool) Status {
	if success {
		return StatusSuccess
	}
	return StatusReverted
}

// CallRecord is the durable form of one evaluated call. Records are written
// once per CallID and never updated.
type CallRecord struct {
	ID                 CallID
	Target             string // checksummed address
	Signature          string // raw signature text
	ArgumentsCanonical string // human-readable, stable rendering of the arguments
	ArgumentsExact     []byte // ABI encoding of the arguments, enough to rebuild them
	Block              int64
	ChainID            uint64
	Success            bool
	Response           []byte // nil when Success is false
}

// NewCallRecord creates a validated CallRecord. The response of a reverted
// call is discarded.
func NewCallRecord(id CallID, target, signature, argsCanonical string, argsExact []byte, block int64, chainID uint64, success bool, response []byte) (*CallRecord, error) {
	r := &CallRecord{
		ID:                 id,
		Target:             target,
		Signature:          signature,
		ArgumentsCanonical: argsCanonical,
		ArgumentsExact:     argsExact,
		Block:              block,
		ChainID:            chainID,
		Success:            success,
	}
	if success {
		r.Response = append([]byte{}, response...)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *CallRecord) validate() error {
	if r.ID.IsZero() {
		return fmt.Errorf("id must be set")
	}
	if r.Target == "" {
		return fmt.Errorf("target must not be empty")
	}
	if r.Signature == "" {
		return fmt.Errorf("signature must not be empty")
	}
	if r.Block < 0 {
		return fmt.Errorf("block must be non-negative, got %d", r.Block)
	}
	if r.ChainID == 0 {
		return fmt.Errorf("chainID must be positive")
	}
	return nil
}

// Result returns the cache lookup view of the record.
func (r *CallRecord) Result() CachedResult {
	return CachedResult{ID: r.ID, Success: r.Success, Response: r.Response}
}
