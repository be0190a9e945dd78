package multicall

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
)

// Caller performs a single eth_call. block < 0 means the chain head.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte, block int64) ([]byte, error)
}

// Multicaller evaluates a batch at a block in one request.
type Multicaller interface {
	Execute(ctx context.Context, batch *Batch, block int64) ([]callspec.RawResult, error)
}

// Client executes batches through a Caller. It does not retry; retry policy
// belongs to whoever schedules the requests.
type Client struct {
	caller Caller
}

var _ Multicaller = (*Client)(nil)

// NewClient returns a Client issuing requests through caller.
func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

// Execute builds the aggregate calldata, performs the call and decodes the result.
func (c *Client) Execute(ctx context.Context, batch *Batch, block int64) ([]callspec.RawResult, error) {
	data, err := batch.BuildCalldata()
	if err != nil {
		return nil, err
	}

	ret, err := c.caller.Call(ctx, batch.Aggregator().Address(), data, block)
	if err != nil {
		return nil, fmt.Errorf("aggregate call at address=%s block=%s calls=%d: %w",
			batch.Aggregator().Address().Hex(), blockString(block), batch.Len(), err)
	}

	return batch.Decode(ret, block)
}

func blockString(block int64) string {
	if block < 0 {
		return "latest"
	}
	return fmt.Sprintf("%d", block)
}
