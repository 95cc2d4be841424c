// ledgerctl is an operator tool for the Access Ledger contract: read
// the advertised price, check grants, and withdraw accumulated fees
// (owner only).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/Mostlyu/avax-nfl-predictor/pkg/ledger"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/wallet"
)

// defaultRPC is the public Avalanche Fuji endpoint.
const defaultRPC = "https://api.avax-test.network/ext/bc/C/rpc"

var (
	rpcURL       = flag.String("rpc", "", "Avalanche RPC endpoint (or AVAX_RPC_URL env)")
	rpcFallback  = flag.String("rpc-fallback", "", "Fallback RPC endpoint (or AVAX_RPC_FALLBACK env)")
	contractAddr = flag.String("contract", "", "Access Ledger contract address (or CONTRACT_ADDRESS env)")
	chainID      = flag.Int64("chain", ledger.DefaultChainID, "Expected chain ID")
	privateKey   = flag.String("key", "", "Private key for withdraw (or PRIVATE_KEY env)")
	timeout      = flag.Duration("timeout", 2*time.Minute, "Overall command timeout")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ledgerctl [flags] <command> [args]

Commands:
  price                    print the advertised prediction price
  owner                    print the contract owner
  access <address> <id>    check the grant for (account, event)
  withdraw                 withdraw accumulated fees (owner only)

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	_ = godotenv.Load()
	flag.Usage = usage
	flag.Parse()

	log.SetFlags(0)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := dial(ctx)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	switch args[0] {
	case "price":
		runPrice(ctx, client)
	case "owner":
		runOwner(ctx, client)
	case "access":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		runAccess(ctx, client, args[1], args[2])
	case "withdraw":
		runWithdraw(ctx, client)
	default:
		usage()
		os.Exit(2)
	}
}

func dial(ctx context.Context) (*ledger.Client, error) {
	contract := envDefault(*contractAddr, "CONTRACT_ADDRESS")
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid or missing contract address %q", contract)
	}

	opts := []ledger.Option{ledger.WithChainID(*chainID)}
	if fb := envDefault(*rpcFallback, "AVAX_RPC_FALLBACK"); fb != "" {
		opts = append(opts, ledger.WithFallbackRPC(fb))
	}
	if key := envDefault(*privateKey, "PRIVATE_KEY"); key != "" {
		w, err := wallet.New(key)
		if err != nil {
			return nil, fmt.Errorf("load wallet: %w", err)
		}
		opts = append(opts, ledger.WithWallet(w))
	}

	rpc := envDefault(*rpcURL, "AVAX_RPC_URL")
	if rpc == "" {
		rpc = defaultRPC
	}
	return ledger.Dial(ctx, rpc, common.HexToAddress(contract), opts...)
}

func envDefault(flagVal, envKey string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv(envKey)
}

func runPrice(ctx context.Context, client *ledger.Client) {
	price, err := client.Price(ctx)
	if err != nil {
		log.Fatalf("read price: %v", err)
	}
	fmt.Printf("%s AVAX (%s wei)\n", decimal.NewFromBigInt(price, -18), price)
}

func runOwner(ctx context.Context, client *ledger.Client) {
	owner, err := client.Owner(ctx)
	if err != nil {
		log.Fatalf("read owner: %v", err)
	}
	fmt.Println(owner.Hex())
}

func runAccess(ctx context.Context, client *ledger.Client, addr, id string) {
	if !common.IsHexAddress(addr) {
		log.Fatalf("invalid address: %s", addr)
	}
	eventID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		log.Fatalf("invalid event id: %s", id)
	}

	granted, err := client.CanAccess(ctx, common.HexToAddress(addr), eventID)
	if err != nil {
		log.Fatalf("read access: %v", err)
	}
	if granted {
		fmt.Printf("%s has access to event %d\n", addr, eventID)
	} else {
		fmt.Printf("%s has NO access to event %d\n", addr, eventID)
	}
}

func runWithdraw(ctx context.Context, client *ledger.Client) {
	txHash, err := client.Withdraw(ctx)
	switch {
	case errors.Is(err, ledger.ErrNotOwner):
		log.Fatal("withdraw: this key is not the contract owner")
	case errors.Is(err, ledger.ErrNothingToWithdraw):
		log.Fatal("withdraw: contract balance is zero")
	case err != nil:
		log.Fatalf("withdraw: %v", err)
	}

	fmt.Printf("withdraw submitted: %s\n", txHash.Hex())

	receipt, err := client.WaitSettled(ctx, txHash)
	if err != nil {
		log.Fatalf("waiting for settlement: %v", err)
	}
	fmt.Printf("mined in block %s (status %d)\n", receipt.BlockNumber, receipt.Status)
}
