// Package ledger provides a client for the on-chain Access Ledger: the
// contract recording which accounts have paid for which events.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Mostlyu/avax-nfl-predictor/pkg/wallet"
)

const (
	// DefaultChainID is the Avalanche Fuji testnet.
	DefaultChainID = 43113

	// DefaultPollInterval is the settlement poll cadence.
	DefaultPollInterval = 2 * time.Second

	// DefaultSettleTimeout bounds the settlement wait. The contract
	// itself imposes no ceiling; an unbounded wait is a footgun, so the
	// client always carries one.
	DefaultSettleTimeout = 5 * time.Minute
)

// DefaultPrice is the fallback prediction price (0.1 AVAX in wei), used
// only when the contract's advertised price cannot be read.
var DefaultPrice = new(big.Int).Mul(big.NewInt(1e17), big.NewInt(1))

// Backend is the subset of an Ethereum node client the ledger needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client talks to the Access Ledger contract.
type Client struct {
	backend  Backend
	contract *bind.BoundContract
	address  common.Address
	chainID  *big.Int
	wallet   *wallet.Wallet

	fallbackRPC   string
	defaultPrice  *big.Int
	pollInterval  time.Duration
	settleTimeout time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithWallet sets the signing wallet for purchase/withdraw calls.
func WithWallet(w *wallet.Wallet) Option {
	return func(c *Client) {
		c.wallet = w
	}
}

// WithChainID sets the expected chain ID.
func WithChainID(id int64) Option {
	return func(c *Client) {
		c.chainID = big.NewInt(id)
	}
}

// WithFallbackRPC sets an alternate endpoint tried once when the primary
// endpoint serves the wrong chain.
func WithFallbackRPC(url string) Option {
	return func(c *Client) {
		c.fallbackRPC = url
	}
}

// WithDefaultPrice sets the price used when the contract read fails.
func WithDefaultPrice(wei *big.Int) Option {
	return func(c *Client) {
		c.defaultPrice = wei
	}
}

// WithPollInterval sets the settlement poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithSettleTimeout sets the settlement wait ceiling. Zero disables it.
func WithSettleTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.settleTimeout = d
	}
}

// NewClient builds a client over an existing backend. The backend's
// chain is not re-validated; use Dial when connecting by URL.
func NewClient(backend Backend, contractAddr common.Address, opts ...Option) (*Client, error) {
	parsed, err := contractABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract ABI: %w", err)
	}

	c := &Client{
		backend:       backend,
		address:       contractAddr,
		chainID:       big.NewInt(DefaultChainID),
		defaultPrice:  DefaultPrice,
		pollInterval:  DefaultPollInterval,
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.contract = bind.NewBoundContract(contractAddr, parsed, backend, backend, backend)
	return c, nil
}

// Dial connects to an RPC endpoint and validates its chain ID. When the
// primary endpoint serves the wrong chain, the fallback endpoint (if
// configured) is tried once before giving up with ErrWrongNetwork.
func Dial(ctx context.Context, rpcURL string, contractAddr common.Address, opts ...Option) (*Client, error) {
	c, err := NewClient(nil, contractAddr, opts...)
	if err != nil {
		return nil, err
	}

	backend, err := dialAndVerify(ctx, rpcURL, c.chainID)
	if err != nil && c.fallbackRPC != "" {
		backend, err = dialAndVerify(ctx, c.fallbackRPC, c.chainID)
	}
	if err != nil {
		return nil, err
	}

	c.backend = backend
	parsed, _ := contractABI()
	c.contract = bind.NewBoundContract(contractAddr, parsed, backend, backend, backend)
	return c, nil
}

func dialAndVerify(ctx context.Context, url string, want *big.Int) (*ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	got, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("read chain id from %s: %w", url, err)
	}
	if got.Cmp(want) != 0 {
		ec.Close()
		return nil, fmt.Errorf("%w: endpoint %s serves chain %s, want %s", ErrWrongNetwork, url, got, want)
	}
	return ec, nil
}

// Account returns the address purchases are signed with, or the zero
// address when no wallet is configured.
func (c *Client) Account() common.Address {
	if c.wallet == nil {
		return common.Address{}
	}
	return c.wallet.Address()
}

// PollInterval returns the configured settlement poll cadence.
func (c *Client) PollInterval() time.Duration {
	return c.pollInterval
}

// Price returns the contract's advertised prediction price in wei.
func (c *Client) Price(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "predictionPrice"); err != nil {
		return nil, fmt.Errorf("read predictionPrice: %w", err)
	}
	return out[0].(*big.Int), nil
}

// PriceOrDefault returns the advertised price, falling back to the
// configured default when the read fails. The second return reports
// whether the contract's own value was used.
func (c *Client) PriceOrDefault(ctx context.Context) (*big.Int, bool) {
	price, err := c.Price(ctx)
	if err != nil {
		return new(big.Int).Set(c.defaultPrice), false
	}
	return price, true
}

// CanAccess reports whether the account has paid for the event. The
// read always hits the chain; access grants are never cached because a
// payment may settle out-of-band between checks.
func (c *Client) CanAccess(ctx context.Context, account common.Address, eventID int64) (bool, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "canAccessPrediction", account, big.NewInt(eventID))
	if err != nil {
		return false, fmt.Errorf("read canAccessPrediction: %w", err)
	}
	return out[0].(bool), nil
}

// Owner returns the contract owner.
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "owner"); err != nil {
		return common.Address{}, fmt.Errorf("read owner: %w", err)
	}
	return out[0].(common.Address), nil
}

// Purchase submits a single payment transaction for the event and
// returns its hash. It never retries; re-submitting is always an
// explicit caller decision.
func (c *Client) Purchase(ctx context.Context, eventID int64, amount *big.Int) (common.Hash, error) {
	if c.wallet == nil {
		return common.Hash{}, errors.New("no wallet configured")
	}

	opts, err := c.wallet.TransactorOpts(c.chainID)
	if err != nil {
		return common.Hash{}, err
	}
	opts.Context = ctx
	opts.Value = amount

	tx, err := c.contract.Transact(opts, "purchasePrediction", big.NewInt(eventID))
	if err != nil {
		if ctx.Err() != nil {
			return common.Hash{}, ctx.Err()
		}
		return common.Hash{}, classifySendError(err)
	}
	return tx.Hash(), nil
}

// WaitSettled polls for the transaction receipt at the configured
// interval until it is mined, the ceiling elapses (ErrSettlementTimeout)
// or ctx is cancelled.
func (c *Client) WaitSettled(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if c.settleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.settleTimeout, ErrSettlementTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			return nil, fmt.Errorf("poll receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, ctx.Err()) {
				return nil, cause
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Withdraw drains accumulated fees to the owner and returns the tx hash.
func (c *Client) Withdraw(ctx context.Context) (common.Hash, error) {
	if c.wallet == nil {
		return common.Hash{}, errors.New("no wallet configured")
	}

	opts, err := c.wallet.TransactorOpts(c.chainID)
	if err != nil {
		return common.Hash{}, err
	}
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, "withdraw")
	if err != nil {
		return common.Hash{}, classifyWithdrawError(err)
	}
	return tx.Hash(), nil
}
