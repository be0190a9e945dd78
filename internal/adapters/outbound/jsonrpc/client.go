// Package jsonrpc implements outbound.EthCaller over plain HTTP JSON-RPC.
//
// The client performs exactly one HTTP round trip per call and classifies
// every failure into the outbound transport error taxonomy. It never retries;
// the fetch pipeline owns the retry policy.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain"
	"github.com/archon-research/multicallcache/internal/pkg/hexutil"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.EthCaller
var _ outbound.EthCaller = (*Client)(nil)

// ClientConfig holds configuration for the HTTP RPC client.
type ClientConfig struct {
	// HTTPURL is the JSON-RPC endpoint URL.
	HTTPURL string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// GasLimit is sent as the gas field of every eth_call. Zero omits it.
	GasLimit uint64

	// Headers are added to every request (e.g. an API key header).
	Headers map[string]string
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		Timeout:  30 * time.Second,
		GasLimit: blockchain.DefaultGasLimit,
	}
}

// Client implements outbound.EthCaller using HTTP JSON-RPC.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a new HTTP RPC client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HTTPURL == "" {
		return nil, errors.New("HTTPURL is required")
	}

	defaults := ClientConfigDefaults()
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// callParams is the transaction object of eth_call.
type callParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
	Gas  string `json:"gas,omitempty"`
}

// Call performs eth_call. block < 0 queries the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte, block int64) ([]byte, error) {
	params := callParams{
		To:   to.Hex(),
		Data: "0x" + common.Bytes2Hex(data),
	}
	if c.config.GasLimit > 0 {
		params.Gas = fmt.Sprintf("0x%x", c.config.GasLimit)
	}

	tag := blockchain.BlockTagLatest
	if block >= 0 {
		tag = hexutil.EncodeQuantity(block)
	}

	resp, err := c.call(ctx, "eth_call", []interface{}{params, tag})
	if err != nil {
		return nil, err
	}

	var result string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse call result: %w", err)
	}
	return hexutil.DecodeData(result)
}

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	resp, err := c.call(ctx, "eth_chainId", []interface{}{})
	if err != nil {
		return 0, err
	}

	var result string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return 0, fmt.Errorf("failed to parse chain id: %w", err)
	}
	return hexutil.ParseUint64(result)
}

// BlockNumber returns the number of the block with the given tag.
func (c *Client) BlockNumber(ctx context.Context, tag string) (int64, error) {
	if tag == "" || tag == blockchain.BlockTagLatest {
		resp, err := c.call(ctx, "eth_blockNumber", []interface{}{})
		if err != nil {
			return 0, err
		}
		var result string
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return 0, fmt.Errorf("failed to parse block number: %w", err)
		}
		return hexutil.ParseInt64(result)
	}

	resp, err := c.call(ctx, "eth_getBlockByNumber", []interface{}{tag, false})
	if err != nil {
		return 0, err
	}
	if resp.Result == nil || string(resp.Result) == "null" {
		return 0, fmt.Errorf("block not found: %s", tag)
	}

	var header struct {
		Number string `json:"number"`
	}
	if err := json.Unmarshal(resp.Result, &header); err != nil {
		return 0, fmt.Errorf("failed to parse block: %w", err)
	}
	return hexutil.ParseInt64(header.Number)
}

// call makes one HTTP JSON-RPC call and classifies its failure.
func (c *Client) call(ctx context.Context, method string, params []interface{}) (*jsonRPCResponse, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      int(c.nextID.Add(1)),
		Method:  method,
		Params:  params,
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.HTTPURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: HTTP request failed: %w", outbound.ErrTransient, err)
	}
	defer httpResp.Body.Close()

	respBytes, readErr := io.ReadAll(httpResp.Body)

	if err := classifyStatus(httpResp.StatusCode, respBytes); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", outbound.ErrTransient, readErr)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, classifyRPCError(rpcResp.Error)
	}
	return &rpcResp, nil
}

// classifyStatus maps a non-200 HTTP status to the transport taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", outbound.ErrRateLimited, status)
	case status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: HTTP %d", outbound.ErrPayloadTooLarge, status)
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d: server error", outbound.ErrTransient, status)
	default:
		return fmt.Errorf("HTTP %d: %s", status, truncate(string(body), 200))
	}
}

// Node error messages that mean the batch was too big to evaluate in one call.
var payloadTooLargeMessages = []string{
	"too large",
	"response size",
	"size limit",
	"exceeds the limit",
	"out of gas",
	"gas required exceeds",
	"execution timeout",
}

var rateLimitedMessages = []string{
	"rate limit",
	"too many requests",
	"exceeded its compute units",
	"capacity exceeded",
}

// classifyRPCError maps a JSON-RPC error object to the transport taxonomy.
// Errors that are also size or rate signals still unwrap to *outbound.NodeError.
func classifyRPCError(e *jsonRPCError) error {
	nodeErr := &outbound.NodeError{Code: e.Code, Message: e.Message}
	if len(e.Data) > 0 && string(e.Data) != "null" {
		var s string
		if json.Unmarshal(e.Data, &s) == nil {
			nodeErr.Data = s
		} else {
			nodeErr.Data = string(e.Data)
		}
	}

	msg := strings.ToLower(e.Message)
	if e.Code == 429 || containsAny(msg, rateLimitedMessages) {
		return fmt.Errorf("%w: %w", outbound.ErrRateLimited, nodeErr)
	}
	if containsAny(msg, payloadTooLargeMessages) {
		return fmt.Errorf("%w: %w", outbound.ErrPayloadTooLarge, nodeErr)
	}
	return nodeErr
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
