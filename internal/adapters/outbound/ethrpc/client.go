// Package ethrpc implements outbound.EthCaller on top of go-ethereum's rpc and
// ethclient packages. It accepts any endpoint go-ethereum can dial (http,
// https, ws, wss, ipc) and maps go-ethereum errors into the outbound
// transport taxonomy.
package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/multicallcache/internal/pkg/blockchain"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.EthCaller
var _ outbound.EthCaller = (*Client)(nil)

// Config holds configuration for the go-ethereum client.
type Config struct {
	// URL is the node endpoint.
	URL string
	// Timeout bounds each HTTP request.
	// Default: 30s
	Timeout time.Duration
	// GasLimit is sent with every eth_call. Zero lets the node choose.
	GasLimit uint64
	// Headers are added to every HTTP request.
	Headers map[string]string
}

// ConfigDefaults returns a Config with default values.
func ConfigDefaults() Config {
	return Config{
		Timeout:  30 * time.Second,
		GasLimit: blockchain.DefaultGasLimit,
	}
}

// Client is an outbound.EthCaller backed by ethclient.
type Client struct {
	rpc      *rpc.Client
	eth      *ethclient.Client
	gasLimit uint64
	logger   *slog.Logger
}

// Dial connects to cfg.URL.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("node URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = ConfigDefaults().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []rpc.ClientOption{
		rpc.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if len(cfg.Headers) > 0 {
		headers := make(http.Header, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers.Set(k, v)
		}
		opts = append(opts, rpc.WithHeaders(headers))
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}

	return &Client{
		rpc:      rpcClient,
		eth:      ethclient.NewClient(rpcClient),
		gasLimit: cfg.GasLimit,
		logger:   logger.With("component", "ethrpc"),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Call performs eth_call. block < 0 queries the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte, block int64) ([]byte, error) {
	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
		Gas:  c.gasLimit,
	}
	var number *big.Int
	if block >= 0 {
		number = big.NewInt(block)
	}

	ret, err := c.eth.CallContract(ctx, msg, number)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if ret == nil {
		ret = []byte{}
	}
	return ret, nil
}

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, classify(ctx, err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s out of range", id)
	}
	return id.Uint64(), nil
}

// BlockNumber returns the number of the block with the given tag.
func (c *Client) BlockNumber(ctx context.Context, tag string) (int64, error) {
	var number rpc.BlockNumber
	switch tag {
	case "", blockchain.BlockTagLatest:
		n, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return 0, classify(ctx, err)
		}
		return int64(n), nil
	case blockchain.BlockTagFinalized:
		number = rpc.FinalizedBlockNumber
	case "safe":
		number = rpc.SafeBlockNumber
	default:
		return 0, fmt.Errorf("unsupported block tag %q", tag)
	}

	header, err := c.eth.HeaderByNumber(ctx, big.NewInt(number.Int64()))
	if err != nil {
		return 0, classify(ctx, err)
	}
	return header.Number.Int64(), nil
}

// classify maps go-ethereum errors to the transport taxonomy.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", outbound.ErrTransient, err)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", outbound.ErrRateLimited, err)
		case httpErr.StatusCode == http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%w: %w", outbound.ErrPayloadTooLarge, err)
		case httpErr.StatusCode >= 500:
			return fmt.Errorf("%w: %w", outbound.ErrTransient, err)
		default:
			return err
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		nodeErr := &outbound.NodeError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
			nodeErr.Data = fmt.Sprint(dataErr.ErrorData())
		}
		msg := strings.ToLower(nodeErr.Message)
		switch {
		case nodeErr.Code == 429 || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
			return fmt.Errorf("%w: %w", outbound.ErrRateLimited, nodeErr)
		case strings.Contains(msg, "too large") || strings.Contains(msg, "response size") ||
			strings.Contains(msg, "out of gas") || strings.Contains(msg, "gas required exceeds"):
			return fmt.Errorf("%w: %w", outbound.ErrPayloadTooLarge, nodeErr)
		}
		return nodeErr
	}

	if errors.Is(err, ethereum.NotFound) {
		return err
	}

	// anything else failed below the JSON-RPC layer: dial, write or read
	return fmt.Errorf("%w: %w", outbound.ErrTransient, err)
}
