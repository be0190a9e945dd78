package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/abicodec"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/multicall"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// Method answers one function of a simulated contract. ok=false means revert.
type Method func(block int64, args []byte) (ret []byte, ok bool)

// Contract maps selectors to methods. Unknown selectors revert.
type Contract map[[4]byte]Method

// Request is one eth_call received by a SimulatedChain.
type Request struct {
	To    common.Address
	Block int64
	Calls int // inner calls when To is the aggregator
}

// SimulatedChain is an in-process node implementing outbound.EthCaller.
// It runs tryAggregate itself, counts requests and can inject failures.
type SimulatedChain struct {
	mu                 sync.Mutex
	chainID            uint64
	head               int64
	finalized          int64
	aggregator         common.Address
	contracts          map[common.Address]Contract
	maxCallsPerRequest int
	failures           []error
	requests           []Request
	chainIDCalls       int
}

var _ outbound.EthCaller = (*SimulatedChain)(nil)

// NewSimulatedChain returns a chain with Multicall3 as aggregator.
func NewSimulatedChain(chainID uint64, head, finalized int64) *SimulatedChain {
	return &SimulatedChain{
		chainID:    chainID,
		head:       head,
		finalized:  finalized,
		aggregator: blockchain.Multicall3,
		contracts:  make(map[common.Address]Contract),
	}
}

// Deploy places contract at addr.
func (c *SimulatedChain) Deploy(addr common.Address, contract Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[addr] = contract
}

// SetHead moves the chain head and the finalized block.
func (c *SimulatedChain) SetHead(head, finalized int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head, c.finalized = head, finalized
}

// SetMaxCallsPerRequest makes aggregate requests with more than n inner calls
// fail with outbound.ErrPayloadTooLarge. 0 disables the limit.
func (c *SimulatedChain) SetMaxCallsPerRequest(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxCallsPerRequest = n
}

// FailNext makes the next len(errs) calls return errs in order.
func (c *SimulatedChain) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
}

// CallCount returns how many eth_call requests were received, failed ones included.
func (c *SimulatedChain) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns every eth_call received.
func (c *SimulatedChain) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

// ChainIDCalls returns how many times ChainID was queried.
func (c *SimulatedChain) ChainIDCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chainIDCalls
}

// Call implements outbound.EthCaller.
func (c *SimulatedChain) Call(ctx context.Context, to common.Address, data []byte, block int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	req := Request{To: to, Block: block}
	if to == c.aggregator {
		if _, calls, err := multicall.DecodeRequest(data); err == nil {
			req.Calls = len(calls)
		}
	}
	c.requests = append(c.requests, req)
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		c.mu.Unlock()
		return nil, err
	}
	limit := c.maxCallsPerRequest
	c.mu.Unlock()

	if limit > 0 && req.Calls > limit {
		return nil, fmt.Errorf("%w: %d calls exceed %d", outbound.ErrPayloadTooLarge, req.Calls, limit)
	}
	return c.Execute(to, data, block)
}

// Execute evaluates a call without recording it.
func (c *SimulatedChain) Execute(to common.Address, data []byte, block int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if block < 0 {
		block = c.head
	}
	if block > c.head {
		return nil, &outbound.NodeError{Code: -32000, Message: "header not found"}
	}

	if to == c.aggregator {
		_, calls, err := multicall.DecodeRequest(data)
		if err != nil {
			return nil, &outbound.NodeError{Code: 3, Message: "execution reverted"}
		}
		results := make([]multicall.Result, len(calls))
		for i, call := range calls {
			ret, ok := c.run(call.Target, call.CallData, block)
			results[i] = multicall.Result{Success: ok, ReturnData: ret}
		}
		return multicall.EncodeResults(results)
	}

	ret, ok := c.run(to, data, block)
	if !ok {
		return nil, &outbound.NodeError{Code: 3, Message: "execution reverted"}
	}
	return ret, nil
}

// run executes one inner call. An address without code succeeds with empty data.
func (c *SimulatedChain) run(to common.Address, data []byte, block int64) ([]byte, bool) {
	contract, deployed := c.contracts[to]
	if !deployed {
		return []byte{}, true
	}
	if len(data) < 4 {
		return nil, false
	}
	method, ok := contract[[4]byte(data[:4])]
	if !ok {
		return nil, false
	}
	return method(block, data[4:])
}

// ChainID implements outbound.EthCaller.
func (c *SimulatedChain) ChainID(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainIDCalls++
	return c.chainID, nil
}

// BlockNumber implements outbound.EthCaller.
func (c *SimulatedChain) BlockNumber(ctx context.Context, tag string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch tag {
	case blockchain.BlockTagLatest, "":
		return c.head, nil
	case blockchain.BlockTagFinalized, "safe":
		return c.finalized, nil
	}
	return 0, fmt.Errorf("unknown block tag %q", tag)
}

var (
	balanceOfSig   = abicodec.MustParse("balanceOf(address)(uint256)")
	totalSupplySig = abicodec.MustParse("totalSupply()(uint256)")
)

// TokenContract returns an ERC20-like contract whose balanceOf and
// totalSupply are computed from the block. Holders whose balance function
// returns nil make balanceOf revert.
func TokenContract(balance func(holder common.Address, block int64) *big.Int, supply func(block int64) *big.Int) Contract {
	return Contract{
		balanceOfSig.Selector: func(block int64, args []byte) ([]byte, bool) {
			decoded, err := balanceOfSig.DecodeArgs(args)
			if err != nil {
				return nil, false
			}
			v := balance(decoded[0].(common.Address), block)
			if v == nil {
				return nil, false
			}
			ret, err := balanceOfSig.EncodeOutputs(v)
			return ret, err == nil
		},
		totalSupplySig.Selector: func(block int64, args []byte) ([]byte, bool) {
			ret, err := totalSupplySig.EncodeOutputs(supply(block))
			return ret, err == nil
		},
	}
}

// BlockBalance is a balance function returning block * multiplier for every holder.
func BlockBalance(multiplier int64) func(common.Address, int64) *big.Int {
	return func(_ common.Address, block int64) *big.Int {
		return big.NewInt(block * multiplier)
	}
}
