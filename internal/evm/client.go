// Package evm talks to the execution layer over JSON-RPC: read calls,
// signed transactions and receipt polling.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"trigger-keeper/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultMaxDelay   = 10 * time.Second
)

// Client wraps ethclient with per-call timeouts and retries. JSON-RPC
// errors returned by the node (reverts, bad params) are not retried.
type Client struct {
	eth        *ethclient.Client
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// Dial connects to an execution-layer RPC endpoint.
func Dial(ctx context.Context, endpoint string, opts ...ClientOption) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	c := &Client{
		eth:        eth,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// do runs fn with a per-attempt timeout, retrying transport failures with
// exponential backoff.
func (c *Client) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	defer observability.ObserveRPCCall(method, time.Now())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = c.maxDelay
	b.MaxElapsedTime = 0

	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) || errors.Is(err, ethereum.NotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Call executes a read-only call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	return out, err
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.do(ctx, "eth_chainId", func(ctx context.Context) error {
		var err error
		id, err = c.eth.ChainID(ctx)
		return err
	})
	return id, err
}

// PendingNonce returns the next nonce for account, pending transactions included.
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.do(ctx, "eth_getTransactionCount", func(ctx context.Context) error {
		var err error
		nonce, err = c.eth.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// GasPrice returns the node's suggested legacy gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.do(ctx, "eth_gasPrice", func(ctx context.Context) error {
		var err error
		price, err = c.eth.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// Send broadcasts a signed transaction. It is attempted once: a resend of
// the same signed bytes is harmless but a timeout does not prove rejection.
func (c *Client) Send(ctx context.Context, tx *types.Transaction) error {
	defer observability.ObserveRPCCall("eth_sendRawTransaction", time.Now())

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.eth.SendTransaction(callCtx, tx); err != nil {
		return fmt.Errorf("eth_sendRawTransaction: %w", err)
	}
	return nil
}

// Receipt returns the receipt for hash, or ethereum.NotFound while pending.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var r *types.Receipt
	err := c.do(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var err error
		r, err = c.eth.TransactionReceipt(ctx, hash)
		return err
	})
	return r, err
}

// WaitReceipt polls for the receipt of hash every poll interval until it
// appears or ctx ends.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash, poll time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		r, err := c.Receipt(ctx, hash)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
