package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"stockwatch/internal/broker/kis"
	"stockwatch/internal/config"
	"stockwatch/internal/kvstore"
	"stockwatch/internal/market"
	"stockwatch/internal/watch"
)

var (
	cfgFile string
	envFile string
	codeArg string
	format  string
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	rootCmd := &cobra.Command{
		Use:   "stockwatch",
		Short: "Korean stock watch-list with intraday price logs",
		Long: `Stockwatch tracks a fixed watch-list of KRX stocks through the KIS Open API:

  - daily OHLC and current price per stock
  - 5-minute price log between 09:30 and 10:30 KST
  - morning conditions against the previous day's middle price

Examples:
  stockwatch serve --config config.yaml
  stockwatch daemon
  stockwatch backfill
  stockwatch logs --code 005930`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json")
	rootCmd.PersistentFlags().StringVar(&codeArg, "code", "", "comma-separated stock codes (default: watch-list)")

	rootCmd.AddCommand(
		serveCmd(),
		daemonCmd(),
		logPricesCmd(),
		backfillCmd(),
		stocksCmd(),
		logsCmd(),
		deleteLogCmd(),
		tokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app 명령 공통 의존성
type app struct {
	cfg     *config.Config
	store   kvstore.Store
	clock   *market.Clock
	tokens  *kis.TokenManager
	client  *kis.Client
	service *watch.Service
}

func newApp() (*app, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("[MAIN] failed to load %s: %v", envFile, err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := kvstore.Open(kvstore.Options{
		Backend:  cfg.Store.Backend,
		RedisURL: cfg.Store.RedisURL,
		Dir:      cfg.Store.Dir,
		SQLite:   cfg.Store.SQLite,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}

	creds := kis.Credentials{AppKey: cfg.KIS.AppKey, AppSecret: cfg.KIS.AppSecret}
	tokens := kis.NewTokenManager(creds, kis.NewIssuer(creds, cfg.KIS.BaseURL), store)
	client := kis.NewClient(creds, tokens, kis.ClientOptions{
		BaseURL:           cfg.KIS.BaseURL,
		RequestsPerMinute: cfg.KIS.RateLimit,
		Timeout:           cfg.KIS.Timeout,
	})

	clock := market.NewClock(nil)
	service := watch.NewService(client, tokens, store, clock, watch.Options{
		Codes: cfg.Watch.Codes,
		Names: cfg.Watch.Names,
	})

	log.Printf("[MAIN] store=%s codes=%v", cfg.Store.Backend, cfg.Watch.Codes)
	return &app{
		cfg:     cfg,
		store:   store,
		clock:   clock,
		tokens:  tokens,
		client:  client,
		service: service,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Printf("[MAIN] closing store: %v", err)
	}
}

// signalContext SIGINT/SIGTERM에서 취소되는 컨텍스트
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
