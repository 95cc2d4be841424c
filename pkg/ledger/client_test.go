package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Mostlyu/avax-nfl-predictor/pkg/wallet"
)

var contractAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")

// fakeBackend scripts the node side of the ledger client. View calls are
// answered per method name; receipts appear after receiptAfter polls.
type fakeBackend struct {
	mu sync.Mutex

	callOutputs map[string][]byte
	callErr     error

	estimateErr error
	sent        []*types.Transaction

	receipt      *types.Receipt
	receiptAfter int
	polls        int
}

func (b *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (b *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x01}, nil
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.callErr != nil {
		return nil, b.callErr
	}

	parsed, err := contractABI()
	if err != nil {
		return nil, err
	}
	if len(msg.Data) < 4 {
		return nil, errors.New("call data too short")
	}
	for name, method := range parsed.Methods {
		if bytes.Equal(method.ID, msg.Data[:4]) {
			if out, ok := b.callOutputs[name]; ok {
				return out, nil
			}
			return nil, errors.New("no scripted output for " + name)
		}
	}
	return nil, errors.New("unknown method selector")
}

func (b *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(25_000_000_000), Number: big.NewInt(1)}, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(25_000_000_000), nil
}

func (b *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 100_000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(DefaultChainID), nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls++
	if b.receipt != nil && b.polls > b.receiptAfter {
		return b.receipt, nil
	}
	return nil, ethereum.NotFound
}

func packOutput(t *testing.T, method string, vals ...interface{}) []byte {
	t.Helper()
	parsed, err := contractABI()
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}
	out, err := parsed.Methods[method].Outputs.Pack(vals...)
	if err != nil {
		t.Fatalf("pack %s output: %v", method, err)
	}
	return out
}

func testWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	w, err := wallet.New(hex.EncodeToString(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("build wallet: %v", err)
	}
	return w
}

func TestPrice(t *testing.T) {
	want := new(big.Int).Set(DefaultPrice)
	backend := &fakeBackend{callOutputs: map[string][]byte{
		"predictionPrice": packOutput(t, "predictionPrice", want),
	}}
	client, err := NewClient(backend, contractAddr)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	price, err := client.Price(context.Background())
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}
	if price.Cmp(want) != 0 {
		t.Errorf("Wrong price: %s", price)
	}
}

func TestPriceOrDefaultFallback(t *testing.T) {
	backend := &fakeBackend{callErr: errors.New("connection refused")}
	client, err := NewClient(backend, contractAddr, WithDefaultPrice(big.NewInt(42)))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	price, fromContract := client.PriceOrDefault(context.Background())
	if fromContract {
		t.Error("Expected the fallback price")
	}
	if price.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("Wrong fallback price: %s", price)
	}
}

func TestCanAccess(t *testing.T) {
	backend := &fakeBackend{callOutputs: map[string][]byte{
		"canAccessPrediction": packOutput(t, "canAccessPrediction", true),
	}}
	client, err := NewClient(backend, contractAddr)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	granted, err := client.CanAccess(context.Background(), common.HexToAddress("0x1"), 401)
	if err != nil {
		t.Fatalf("CanAccess failed: %v", err)
	}
	if !granted {
		t.Error("Expected access granted")
	}
}

func TestOwner(t *testing.T) {
	want := common.HexToAddress("0x3333333333333333333333333333333333333333")
	backend := &fakeBackend{callOutputs: map[string][]byte{
		"owner": packOutput(t, "owner", want),
	}}
	client, err := NewClient(backend, contractAddr)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	owner, err := client.Owner(context.Background())
	if err != nil {
		t.Fatalf("Owner failed: %v", err)
	}
	if owner != want {
		t.Errorf("Wrong owner: %s", owner.Hex())
	}
}

func TestPurchaseSendsValue(t *testing.T) {
	backend := &fakeBackend{}
	client, err := NewClient(backend, contractAddr, WithWallet(testWallet(t)))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	amount := big.NewInt(1e17)
	txHash, err := client.Purchase(context.Background(), 401, amount)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if txHash == (common.Hash{}) {
		t.Error("Expected a transaction hash")
	}

	if len(backend.sent) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Value().Cmp(amount) != 0 {
		t.Errorf("Wrong value: %s", tx.Value())
	}
	if tx.To() == nil || *tx.To() != contractAddr {
		t.Errorf("Wrong recipient: %v", tx.To())
	}
}

func TestPurchaseNoWallet(t *testing.T) {
	backend := &fakeBackend{}
	client, err := NewClient(backend, contractAddr)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Purchase(context.Background(), 401, big.NewInt(1)); err == nil {
		t.Fatal("Expected error without a wallet")
	}
}

func TestPurchaseClassifiesReverts(t *testing.T) {
	tests := []struct {
		node string
		want error
	}{
		{"execution reverted: Insufficient payment", ErrInsufficientPayment},
		{"execution reverted: Already purchased", ErrAlreadyPurchased},
		{"insufficient funds for gas * price + value", ErrInsufficientFunds},
	}

	for _, tt := range tests {
		backend := &fakeBackend{estimateErr: errors.New(tt.node)}
		client, err := NewClient(backend, contractAddr, WithWallet(testWallet(t)))
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}

		_, err = client.Purchase(context.Background(), 401, big.NewInt(1))
		if !errors.Is(err, tt.want) {
			t.Errorf("%q: expected %v, got %v", tt.node, tt.want, err)
		}
	}
}

func TestWithdrawClassifiesReverts(t *testing.T) {
	backend := &fakeBackend{estimateErr: errors.New("execution reverted: Not the contract owner")}
	client, err := NewClient(backend, contractAddr, WithWallet(testWallet(t)))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Withdraw(context.Background()); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}
}

func TestWaitSettled(t *testing.T) {
	backend := &fakeBackend{
		receipt:      &types.Receipt{Status: types.ReceiptStatusSuccessful},
		receiptAfter: 2,
	}
	client, err := NewClient(backend, contractAddr, WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	receipt, err := client.WaitSettled(context.Background(), common.HexToHash("0xabc"))
	if err != nil {
		t.Fatalf("WaitSettled failed: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Errorf("Wrong status: %d", receipt.Status)
	}
	if backend.polls < 3 {
		t.Errorf("Expected at least 3 polls, got %d", backend.polls)
	}
}

func TestWaitSettledTimeout(t *testing.T) {
	backend := &fakeBackend{} // receipt never appears
	client, err := NewClient(backend, contractAddr,
		WithPollInterval(5*time.Millisecond),
		WithSettleTimeout(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.WaitSettled(context.Background(), common.HexToHash("0xabc"))
	if !errors.Is(err, ErrSettlementTimeout) {
		t.Fatalf("Expected ErrSettlementTimeout, got %v", err)
	}
}

func TestWaitSettledCancelled(t *testing.T) {
	backend := &fakeBackend{}
	client, err := NewClient(backend, contractAddr, WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	_, err = client.WaitSettled(ctx, common.HexToHash("0xabc"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestAccount(t *testing.T) {
	backend := &fakeBackend{}
	w := testWallet(t)

	client, err := NewClient(backend, contractAddr, WithWallet(w))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Account() != w.Address() {
		t.Error("Account should match the wallet address")
	}

	readonly, err := NewClient(backend, contractAddr)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if readonly.Account() != (common.Address{}) {
		t.Error("Read-only client should report the zero address")
	}
}
