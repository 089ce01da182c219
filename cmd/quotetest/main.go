package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"stockwatch/internal/broker/kis"
	"stockwatch/internal/condition"
	"stockwatch/internal/config"
	"stockwatch/internal/kvstore"
	"stockwatch/internal/market"
	"stockwatch/internal/pricelog"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	code := flag.String("code", "005930", "stock code")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	creds := kis.Credentials{AppKey: cfg.KIS.AppKey, AppSecret: cfg.KIS.AppSecret}
	if !creds.Valid() {
		log.Fatal("No KIS credentials (set KIS_APP_KEY / KIS_APP_SECRET)")
	}

	store, err := kvstore.Open(kvstore.Options{
		Backend:  cfg.Store.Backend,
		RedisURL: cfg.Store.RedisURL,
		Dir:      cfg.Store.Dir,
		SQLite:   cfg.Store.SQLite,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	tokens := kis.NewTokenManager(creds, kis.NewIssuer(creds, cfg.KIS.BaseURL), store)
	client := kis.NewClient(creds, tokens, kis.ClientOptions{BaseURL: cfg.KIS.BaseURL})
	ctx := context.Background()

	fmt.Println("=== KIS Domestic Quote Test ===")

	// 1. Token
	fmt.Println("\n[1] Access token")
	start := time.Now()
	tok, err := tokens.Token(ctx)
	if err != nil {
		log.Fatalf("    ERROR: %v", err)
	}
	fmt.Printf("    OK: issued %s, age %s (%s)\n",
		tok.IssuedAt.Format(time.DateTime), tok.Age(time.Now()).Round(time.Second), time.Since(start))

	// 2. Current price
	fmt.Printf("\n[2] Quote %s\n", *code)
	q, err := client.Quote(ctx, *code)
	if err != nil {
		fmt.Printf("    ERROR: %v\n", err)
	} else {
		fmt.Printf("    OK: name=%q price=%v\n", q.Name, q.Price)
	}

	// 3. Daily prices
	fmt.Printf("\n[3] Daily prices %s\n", *code)
	days, err := client.DailyPrices(ctx, *code)
	if err != nil || len(days) < 2 {
		fmt.Printf("    ERROR: %v (%d rows)\n", err, len(days))
		return
	}
	latest, prev := days[0], days[1]
	fmt.Printf("    OK: %d rows, latest %s O=%d H=%d L=%d C=%d\n",
		len(days), latest.Date, latest.Open, latest.High, latest.Low, latest.Close)
	fmt.Printf("    prev %s middle=%.1f\n", prev.Date, prev.Middle())

	// 4. Minute data and conditions
	latestDate, _ := market.ToLogDate(latest.Date)
	prevDate, _ := market.ToLogDate(prev.Date)
	fmt.Printf("\n[4] Intraday %s / %s\n", latestDate, prevDate)
	latestSnaps, err := client.Intraday(ctx, *code, latestDate, market.WindowEnd)
	if err != nil {
		fmt.Printf("    ERROR: %v\n", err)
		return
	}
	prevSnaps, err := client.Intraday(ctx, *code, prevDate, market.WindowEnd)
	if err != nil {
		fmt.Printf("    ERROR: %v\n", err)
		return
	}
	fmt.Printf("    OK: %d / %d rows\n", len(latestSnaps), len(prevSnaps))

	slots := pricelog.ExtractSlots(latestSnaps, market.LogSlots)
	for _, slot := range market.LogSlots {
		fmt.Printf("    %s %v\n", slot, slots[slot])
	}

	r := condition.Compute(latestSnaps, prevSnaps, prev.Middle())
	fmt.Printf("    conditions: c1=%v c2=%v c3=%v (volume %d vs %d)\n",
		r.Condition1, r.Condition2, r.Condition3, r.LatestVolume, r.PrevVolume)

	fmt.Println("\n=== Test Complete ===")
}
