package multicall

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Call is one (target, calldata) pair inside a tryAggregate request.
type Call struct {
	Target   common.Address
	CallData []byte
}

// Result is one (success, returnData) pair inside a tryAggregate response.
type Result struct {
	Success    bool
	ReturnData []byte
}

// DecodeRequest decodes tryAggregate calldata. It is the aggregator side of
// BuildCalldata and is used by simulated nodes.
func DecodeRequest(data []byte) (bool, []Call, error) {
	if len(data) < 4 || [4]byte(data[:4]) != tryAggregate.Selector {
		return false, nil, fmt.Errorf("not a tryAggregate call")
	}
	args, err := tryAggregate.DecodeArgs(data[4:])
	if err != nil {
		return false, nil, err
	}
	requireSuccess, _ := args[0].(bool)
	items, _ := args[1].([]any)

	calls := make([]Call, len(items))
	for i, item := range items {
		pair := item.([]any)
		calls[i] = Call{Target: pair[0].(common.Address), CallData: pair[1].([]byte)}
	}
	return requireSuccess, calls, nil
}

// EncodeResults encodes tryAggregate return data.
func EncodeResults(results []Result) ([]byte, error) {
	pairs := make([]any, len(results))
	for i, r := range results {
		data := r.ReturnData
		if data == nil {
			data = []byte{}
		}
		pairs[i] = []any{r.Success, data}
	}
	return tryAggregate.EncodeOutputs(pairs)
}
