package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Transport error classes. Adapters wrap their failures in one of these so the
// fetch pipeline can apply a single retry policy regardless of transport.
var (
	// ErrRateLimited means the node refused the request for rate reasons (HTTP 429). Retryable.
	ErrRateLimited = errors.New("rate limited")
	// ErrPayloadTooLarge means the request or its result exceeded a node limit.
	// Retrying the same request cannot succeed; it must be split.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrTransient covers timeouts, connection failures and 5xx responses. Retryable.
	ErrTransient = errors.New("transient transport error")
)

// NodeError is a JSON-RPC error object returned by the node. It is not retried.
type NodeError struct {
	Code    int
	Message string
	Data    string
}

func (e *NodeError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("node error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("node error %d: %s", e.Code, e.Message)
}

// EthCaller is the minimal node surface the fetch pipeline needs.
type EthCaller interface {
	// Call performs eth_call against to with data at block. block < 0 means "latest".
	// Empty return data is returned as an empty, non-nil slice.
	Call(ctx context.Context, to common.Address, data []byte, block int64) ([]byte, error)

	// ChainID returns the chain id of the node.
	ChainID(ctx context.Context) (uint64, error)

	// BlockNumber returns the number of the block with the given tag
	// ("latest", "finalized", "safe").
	BlockNumber(ctx context.Context, tag string) (int64, error)
}

// IsRetryable reports whether err belongs to a retryable transport class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
