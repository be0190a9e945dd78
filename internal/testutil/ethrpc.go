package testutil

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain"
	"github.com/archon-research/multicallcache/internal/pkg/hexutil"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// MockNode is an HTTP JSON-RPC node backed by a SimulatedChain.
type MockNode struct {
	*httptest.Server
	Chain *SimulatedChain

	mu       sync.Mutex
	statuses []int
	methods  []string
}

// StartMockNode serves eth_call, eth_chainId, eth_blockNumber and
// eth_getBlockByNumber from chain. The server is closed on test cleanup.
//
// Chain errors map to HTTP the way hosted providers report them:
// ErrPayloadTooLarge → 413, ErrRateLimited → 429, ErrTransient → 503,
// NodeError → JSON-RPC error object.
func StartMockNode(t *testing.T, chain *SimulatedChain) *MockNode {
	t.Helper()
	n := &MockNode{Chain: chain}
	n.Server = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.Server.Close)
	return n
}

// FailNextHTTP makes the next requests answer with the given HTTP statuses
// before reaching the chain.
func (n *MockNode) FailNextHTTP(statuses ...int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, statuses...)
}

// Methods returns the JSON-RPC methods received, in order.
func (n *MockNode) Methods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.methods...)
}

func (n *MockNode) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
		return
	}

	n.mu.Lock()
	n.methods = append(n.methods, req.Method)
	status := 0
	if len(n.statuses) > 0 {
		status = n.statuses[0]
		n.statuses = n.statuses[1:]
	}
	n.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	switch req.Method {
	case "eth_call":
		to, data, block, err := parseEthCall(req.Params)
		if err != nil {
			WriteRPCError(w, req.ID, -32602, err.Error())
			return
		}
		ret, err := n.Chain.Call(ctx, to, data, block)
		if err != nil {
			writeChainError(w, req.ID, err)
			return
		}
		resultJSON, _ := json.Marshal("0x" + hex.EncodeToString(ret))
		WriteRPCResult(w, req.ID, resultJSON)

	case "eth_chainId":
		id, _ := n.Chain.ChainID(ctx)
		resultJSON, _ := json.Marshal(fmt.Sprintf("0x%x", id))
		WriteRPCResult(w, req.ID, resultJSON)

	case "eth_blockNumber":
		head, _ := n.Chain.BlockNumber(ctx, blockchain.BlockTagLatest)
		resultJSON, _ := json.Marshal(hexutil.EncodeQuantity(head))
		WriteRPCResult(w, req.ID, resultJSON)

	case "eth_getBlockByNumber":
		var params []json.RawMessage
		var tag string
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 || json.Unmarshal(params[0], &tag) != nil {
			WriteRPCError(w, req.ID, -32602, "invalid params")
			return
		}
		var number int64
		if strings.HasPrefix(tag, "0x") {
			number, _ = hexutil.ParseInt64(tag)
		} else {
			var err error
			number, err = n.Chain.BlockNumber(ctx, tag)
			if err != nil {
				WriteRPCError(w, req.ID, -32602, err.Error())
				return
			}
		}
		writeBlockHeaderResponse(w, req.ID, number)

	default:
		WriteRPCError(w, req.ID, -32601, "method not found: "+req.Method)
	}
}

func writeChainError(w http.ResponseWriter, id json.RawMessage, err error) {
	var nodeErr *outbound.NodeError
	switch {
	case errors.As(err, &nodeErr):
		WriteRPCError(w, id, nodeErr.Code, nodeErr.Message)
	case errors.Is(err, outbound.ErrPayloadTooLarge):
		http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, outbound.ErrRateLimited):
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

func parseEthCall(params json.RawMessage) (common.Address, []byte, int64, error) {
	var p []json.RawMessage
	if err := json.Unmarshal(params, &p); err != nil || len(p) < 2 {
		return common.Address{}, nil, 0, errors.New("eth_call expects [call, block]")
	}
	var call struct {
		To    common.Address `json:"to"`
		Data  string         `json:"data"`
		Input string         `json:"input"`
	}
	if err := json.Unmarshal(p[0], &call); err != nil {
		return common.Address{}, nil, 0, err
	}
	// go-ethereum may use "data" or "input" for the calldata field
	dataHex := call.Data
	if dataHex == "" {
		dataHex = call.Input
	}
	data, err := hexutil.DecodeData(dataHex)
	if err != nil {
		return common.Address{}, nil, 0, err
	}

	var tag string
	if err := json.Unmarshal(p[1], &tag); err != nil {
		return common.Address{}, nil, 0, err
	}
	block := int64(-1)
	if tag != blockchain.BlockTagLatest {
		block, err = hexutil.ParseInt64(tag)
		if err != nil {
			return common.Address{}, nil, 0, err
		}
	}
	return call.To, data, block, nil
}

// WriteRPCResult writes a JSON-RPC success response.
func WriteRPCResult(w http.ResponseWriter, id, result json.RawMessage) {
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"result":  result,
	})
}

// WriteRPCError writes a JSON-RPC error response.
func WriteRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	errJSON, _ := json.Marshal(map[string]any{"code": code, "message": message})
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"error":   json.RawMessage(errJSON),
	})
}

func writeBlockHeaderResponse(w http.ResponseWriter, id json.RawMessage, blockNum int64) {
	header := map[string]string{
		"parentHash":       fmt.Sprintf("0x%064x", blockNum-1),
		"sha3Uncles":       "0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347",
		"miner":            "0x0000000000000000000000000000000000000000",
		"stateRoot":        "0x0000000000000000000000000000000000000000000000000000000000000000",
		"transactionsRoot": "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
		"receiptsRoot":     "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
		"logsBloom":        "0x" + strings.Repeat("0", 512),
		"difficulty":       "0x0",
		"number":           hexutil.EncodeQuantity(blockNum),
		"gasLimit":         "0x1c9c380",
		"gasUsed":          "0x0",
		"timestamp":        hexutil.EncodeQuantity(1700000000 + blockNum*12),
		"extraData":        "0x",
		"mixHash":          "0x0000000000000000000000000000000000000000000000000000000000000000",
		"nonce":            "0x0000000000000000",
		"baseFeePerGas":    "0x0",
	}
	headerJSON, _ := json.Marshal(header)
	WriteRPCResult(w, id, json.RawMessage(headerJSON))
}
