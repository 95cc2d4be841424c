// predictord is the NFL prediction daemon. It serves the upcoming-game
// schedule and drives the purchase-gated prediction retrieval flow
// against the Access Ledger contract on Avalanche.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Mostlyu/avax-nfl-predictor/pkg/flow"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/ledger"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/metrics"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/prediction"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/schedule"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/store"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/streaming"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// defaultRPC is the public Avalanche Fuji endpoint.
const defaultRPC = "https://api.avax-test.network/ext/bc/C/rpc"

var (
	// Flags (env vars of the same meaning act as defaults)
	httpAddr      = flag.String("http", ":8080", "HTTP server address")
	apiBase       = flag.String("api", "", "Prediction API base URL (or API_BASE_URL env)")
	rpcURL        = flag.String("rpc", "", "Avalanche RPC endpoint (or AVAX_RPC_URL env)")
	rpcFallback   = flag.String("rpc-fallback", "", "Fallback RPC endpoint tried on wrong-network (or AVAX_RPC_FALLBACK env)")
	contractAddr  = flag.String("contract", "", "Access Ledger contract address (or CONTRACT_ADDRESS env)")
	chainID       = flag.Int64("chain", ledger.DefaultChainID, "Expected chain ID")
	privateKey    = flag.String("key", "", "Private key for purchases (or PRIVATE_KEY env)")
	cachePath     = flag.String("cache", "nfl_data.db", "Schedule/prediction cache path")
	pollInterval  = flag.Duration("poll-interval", ledger.DefaultPollInterval, "Settlement poll interval")
	settleTimeout = flag.Duration("settle-timeout", ledger.DefaultSettleTimeout, "Settlement wait ceiling (0 disables)")
	verbose       = flag.Bool("verbose", false, "Verbose logging")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("Starting NFL prediction daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d, err := newDaemon(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize daemon: %v", err)
	}
	defer d.store.Close()

	d.flow.OnTransition(func(t *flow.Transition) {
		if *verbose || t.To == flow.StateFailed {
			if t.Error != "" {
				log.Printf("[FLOW] event %d: %s -> %s (%s)", t.EventID, t.From, t.To, t.Error)
			} else {
				log.Printf("[FLOW] event %d: %s -> %s", t.EventID, t.From, t.To)
			}
		}
		d.observeTransition(t)
		d.hub.BroadcastTransition(t)
	})

	go d.hub.Run()

	server := d.newServer()
	go func() {
		log.Printf("HTTP server listening on %s", *httpAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Warm the schedule cache so the first /schedule hit is fast.
	if err := d.manager.EnsureFresh(ctx); err != nil {
		log.Printf("[SCHEDULE] initial refresh failed: %v", err)
	}

	<-sigCh
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	cancel()

	log.Println("Goodbye!")
}

type daemon struct {
	scheduleClient *schedule.Client
	manager        *schedule.Manager
	store          *store.Store
	ledger         *ledger.Client
	flow           *flow.Flow
	metrics        *metrics.FlowMetrics
	hub            *streaming.Hub

	// per-session timing for stage latency metrics
	mu         sync.Mutex
	stageSince map[string]time.Time
	flowSince  map[string]time.Time
}

func newDaemon(ctx context.Context) (*daemon, error) {
	d := &daemon{
		metrics:    metrics.NewFlowMetrics(),
		hub:        streaming.NewHub(),
		stageSince: make(map[string]time.Time),
		flowSince:  make(map[string]time.Time),
	}

	base := envDefault(*apiBase, "API_BASE_URL")
	var schedOpts []schedule.ClientOption
	var predOpts []prediction.ClientOption
	if base != "" {
		schedOpts = append(schedOpts, schedule.WithBaseURL(base))
		predOpts = append(predOpts, prediction.WithBaseURL(base))
	}
	d.scheduleClient = schedule.NewClient(schedOpts...)
	predictionClient := prediction.NewClient(predOpts...)

	st, err := store.Open(*cachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	d.store = st
	d.manager = schedule.NewManager(d.scheduleClient, st)

	contract := envDefault(*contractAddr, "CONTRACT_ADDRESS")
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid or missing contract address %q", contract)
	}

	opts := []ledger.Option{
		ledger.WithChainID(*chainID),
		ledger.WithPollInterval(*pollInterval),
		ledger.WithSettleTimeout(*settleTimeout),
	}
	if fb := envDefault(*rpcFallback, "AVAX_RPC_FALLBACK"); fb != "" {
		opts = append(opts, ledger.WithFallbackRPC(fb))
	}

	key := envDefault(*privateKey, "PRIVATE_KEY")
	if key != "" {
		w, err := wallet.New(key)
		if err != nil {
			return nil, fmt.Errorf("load wallet: %w", err)
		}
		opts = append(opts, ledger.WithWallet(w))
		log.Printf("Wallet loaded (address: %s)", w.AddressHex())
	} else {
		log.Println("No private key provided - ledger client in read-only mode")
	}

	rpc := envDefault(*rpcURL, "AVAX_RPC_URL")
	if rpc == "" {
		rpc = defaultRPC
	}
	lc, err := ledger.Dial(ctx, rpc, common.HexToAddress(contract), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to ledger: %w", err)
	}
	d.ledger = lc

	// Unlocked predictions are cached locally; the flow only reaches
	// this source after the access grant is confirmed on-chain.
	d.flow = flow.New(lc, &cachingSource{store: st, client: predictionClient, metrics: d.metrics})

	return d, nil
}

// envDefault returns the flag value, falling back to an env var.
func envDefault(flagVal, envKey string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv(envKey)
}

// cachingSource serves unlocked predictions from the local cache,
// fetching and caching on a miss.
type cachingSource struct {
	store   *store.Store
	client  *prediction.Client
	metrics *metrics.FlowMetrics
}

func (s *cachingSource) Get(ctx context.Context, eventID int64) (*prediction.Prediction, error) {
	if p, err := s.store.CachedPrediction(eventID); err == nil {
		s.metrics.RecordPredictionFetch("cached")
		return p, nil
	}

	p, err := s.client.Get(ctx, eventID)
	if err != nil {
		s.metrics.RecordPredictionFetch("error")
		return nil, err
	}
	s.metrics.RecordPredictionFetch("ok")

	if err := s.store.CachePrediction(eventID, p); err != nil {
		log.Printf("[CACHE] failed to cache prediction %d: %v", eventID, err)
	}
	return p, nil
}

// observeTransition feeds stage and run timings into metrics.
func (d *daemon) observeTransition(t *flow.Transition) {
	now := time.Now()

	if t.From == flow.StateSubmittingPayment && t.To == flow.StateAwaitingSettlement {
		d.metrics.RecordPurchase("ok")
	}
	if t.Failure != nil {
		switch t.Failure.Reason {
		case flow.ReasonPaymentCancelled, flow.ReasonInsufficientFunds, flow.ReasonPurchaseFailed:
			d.metrics.RecordPurchase(string(t.Failure.Reason))
		}
	}

	d.mu.Lock()
	if since, ok := d.stageSince[t.SessionID]; ok {
		elapsed := now.Sub(since).Seconds()
		d.metrics.RecordStage(string(t.From), elapsed)
		if t.From == flow.StateAwaitingSettlement {
			d.metrics.RecordSettlementWait(elapsed)
		}
	}
	if _, ok := d.flowSince[t.SessionID]; !ok {
		d.flowSince[t.SessionID] = now
	}
	if t.To.Terminal() {
		started := d.flowSince[t.SessionID]
		delete(d.stageSince, t.SessionID)
		delete(d.flowSince, t.SessionID)
		d.mu.Unlock()

		outcome := "done"
		if t.Failure != nil {
			outcome = string(t.Failure.Reason)
		}
		d.metrics.RecordFlowRun(outcome, now.Sub(started).Seconds())
		return
	}
	d.stageSince[t.SessionID] = now
	d.mu.Unlock()
}

func (d *daemon) newServer() *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/schedule", d.handleSchedule)
	mux.HandleFunc("/predict/", d.handlePredict)
	mux.HandleFunc("/price", d.handlePrice)
	mux.HandleFunc("/access", d.handleAccess)
	mux.HandleFunc("/status", d.handleStatus)

	mux.Handle("/metrics", promhttp.HandlerFor(d.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		d.hub.ServeWS(w, r)
		d.metrics.UpdateStreamClients(d.hub.ClientCount())
	})

	return &http.Server{
		Addr:        *httpAddr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// Write timeout must cover a full purchase + settlement wait.
		WriteTimeout: *settleTimeout + time.Minute,
	}
}

func (d *daemon) handleSchedule(w http.ResponseWriter, r *http.Request) {
	games, err := d.manager.UpcomingGames(r.Context())
	if err != nil {
		d.metrics.RecordScheduleFetch("error")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	d.metrics.RecordScheduleFetch("ok")
	d.hub.BroadcastSchedule(len(games))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"schedule": games,
	})
}

func (d *daemon) handlePredict(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/predict/")
	eventID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid event id",
		})
		return
	}

	// The zero address means "not connected"; the flow rejects it with
	// the specific not_connected failure rather than a generic 400.
	var account common.Address
	if acct := r.URL.Query().Get("account"); common.IsHexAddress(acct) {
		account = common.HexToAddress(acct)
	}

	game, err := d.manager.GameByID(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"success": false,
				"error":   "game not found",
			})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	pred, err := d.flow.Run(r.Context(), account, game)
	if err != nil {
		status := http.StatusBadGateway
		body := map[string]interface{}{"success": false, "error": err.Error()}

		var failure *flow.Failure
		switch {
		case errors.As(err, &failure):
			body["error"] = failure.Message
			body["reason"] = failure.Reason
			status = failureStatus(failure.Reason)
		case errors.Is(err, flow.ErrSuperseded):
			status = http.StatusConflict
			body["error"] = "superseded by a newer request"
		}
		writeJSON(w, status, body)
		return
	}

	d.hub.BroadcastPrediction(eventID, pred)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"prediction": pred,
	})
}

func failureStatus(reason flow.Reason) int {
	switch reason {
	case flow.ReasonNotConnected:
		return http.StatusUnauthorized
	case flow.ReasonInsufficientFunds, flow.ReasonPaymentCancelled:
		return http.StatusPaymentRequired
	case flow.ReasonPredictionUnavailable:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func (d *daemon) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, fromContract := d.ledger.PriceOrDefault(r.Context())
	if fromContract {
		d.metrics.RecordLedgerRead("price", "ok")
	} else {
		d.metrics.RecordLedgerRead("price", "fallback")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"price_wei":     price.String(),
		"price_avax":    weiToAVAX(price).String(),
		"from_contract": fromContract,
	})
}

func (d *daemon) handleAccess(w http.ResponseWriter, r *http.Request) {
	acct := r.URL.Query().Get("account")
	if !common.IsHexAddress(acct) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid account address",
		})
		return
	}
	eventID, err := strconv.ParseInt(r.URL.Query().Get("event"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid event id",
		})
		return
	}

	granted, err := d.ledger.CanAccess(r.Context(), common.HexToAddress(acct), eventID)
	if err != nil {
		d.metrics.RecordLedgerRead("access", "error")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	d.metrics.RecordLedgerRead("access", "ok")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"access":  granted,
	})
}

func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	s := d.flow.Current()
	if s == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"state": string(flow.StateIdle)})
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// weiToAVAX converts a wei amount to whole AVAX for display.
func weiToAVAX(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -18)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
