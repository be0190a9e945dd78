package fetch_pipeline

import (
	"fmt"
	"sync"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/multicall"
)

// pair is one call evaluated at one block.
type pair struct {
	call  *callspec.CallSpec
	block int64
	id    entity.CallID
}

// plan is the cartesian product of calls and blocks, block-major.
type plan struct {
	calls  []*callspec.CallSpec
	blocks []int64
	pairs  []pair
}

func newPlan(chainID uint64, calls []*callspec.CallSpec, blocks []int64) (*plan, error) {
	p := &plan{
		calls:  calls,
		blocks: blocks,
		pairs:  make([]pair, 0, len(calls)*len(blocks)),
	}
	for _, block := range blocks {
		for _, c := range calls {
			id, err := c.ToID(chainID, block)
			if err != nil {
				return nil, err
			}
			p.pairs = append(p.pairs, pair{call: c, block: block, id: id})
		}
	}
	return p, nil
}

func (p *plan) size() int { return len(p.pairs) }

func (p *plan) ids() []entity.CallID {
	ids := make([]entity.CallID, len(p.pairs))
	for i, pr := range p.pairs {
		ids[i] = pr.id
	}
	return ids
}

// missing returns the pairs whose id is in ids, in plan order.
func (p *plan) missing(ids []entity.CallID) []pair {
	set := make(map[entity.CallID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	var out []pair
	for _, pr := range p.pairs {
		if _, ok := set[pr.id]; ok {
			out = append(out, pr)
		}
	}
	return out
}

// reassemble builds one row per block from cached and live results.
func (p *plan) reassemble(found map[entity.CallID]entity.CachedResult, live *liveResults) ([]entity.Row, error) {
	rows := make([]entity.Row, 0, len(p.blocks))
	n := len(p.calls)
	for i, block := range p.blocks {
		results := make([]callspec.RawResult, n)
		for j, pr := range p.pairs[i*n : (i+1)*n] {
			if cached, ok := found[pr.id]; ok {
				results[j] = callspec.RawResult{
					Call:     pr.call,
					Block:    block,
					Status:   cached.Status(),
					Response: cached.Response,
				}
				continue
			}
			r, ok := live.get(pr.call, block)
			if !ok {
				return nil, fmt.Errorf("%w: %s at block %d", ErrIncompleteFetch, pr.call, block)
			}
			results[j] = r
		}

		values, err := multicall.Reassemble(results)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", block, err)
		}
		rows = append(rows, entity.Row{Block: block, Values: values})
	}
	return rows, nil
}

// job is one aggregate request.
type job struct {
	block int64
	batch *multicall.Batch
}

// buildJobs groups pairs by block and chunks each group into batches of at
// most MaxCallsPerRequest calls. Blocks keep the order of their first pair.
func (s *Service) buildJobs(pairs []pair) ([]job, error) {
	var order []int64
	byBlock := make(map[int64][]*callspec.CallSpec)
	for _, pr := range pairs {
		if _, ok := byBlock[pr.block]; !ok {
			order = append(order, pr.block)
		}
		byBlock[pr.block] = append(byBlock[pr.block], pr.call)
	}

	var jobs []job
	for _, block := range order {
		calls := byBlock[block]
		for start := 0; start < len(calls); start += s.config.MaxCallsPerRequest {
			end := min(start+s.config.MaxCallsPerRequest, len(calls))
			batch, err := multicall.NewBatch(s.config.Aggregator, calls[start:end])
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", block, err)
			}
			jobs = append(jobs, job{block: block, batch: batch})
		}
	}
	return jobs, nil
}

type liveKey struct {
	call  *callspec.CallSpec
	block int64
}

// liveResults holds the results fetched by one invocation.
type liveResults struct {
	mu      sync.Mutex
	results map[liveKey]callspec.RawResult
}

func newLiveResults() *liveResults {
	return &liveResults{results: make(map[liveKey]callspec.RawResult)}
}

func (l *liveResults) add(results []callspec.RawResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range results {
		l.results[liveKey{call: r.Call, block: r.Block}] = r
	}
}

func (l *liveResults) get(call *callspec.CallSpec, block int64) (callspec.RawResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.results[liveKey{call: call, block: block}]
	return r, ok
}
