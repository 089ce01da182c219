package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"stockwatch/internal/config"
	"stockwatch/internal/daemon"
	"stockwatch/internal/pricelog"
	"stockwatch/internal/web"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			srv := web.NewServer(a.service, a.cfg.Server.CronSecret)
			ctx, stop := signalContext()
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(a.cfg.Server.Port) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				fmt.Println("\nShutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	return cmd
}

func daemonCmd() *cobra.Command {
	var noBackfill bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Record prices and backfill on the configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := daemon.DefaultConfig()
			cfg.LogCrons = a.cfg.Schedule.LogCrons
			cfg.BackfillCron = a.cfg.Schedule.Backfill
			cfg.BackfillOnStart = !noBackfill

			d := daemon.NewDaemon(cfg, a.service, daemon.NewRunTracker(a.store, a.clock))
			ctx, stop := signalContext()
			defer stop()
			return d.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&noBackfill, "no-backfill", false, "skip the backfill pass at startup")
	return cmd
}

func logPricesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log-prices",
		Short: "Record the current slot once (for external cron)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			run, err := a.service.LogPrices(ctx)
			if err != nil {
				return err
			}
			if format == "json" {
				return outputJSON(run)
			}
			if run.Message != "" {
				fmt.Println(run.Message)
				return nil
			}

			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Code", "Time", "Price", "Error"}),
			)
			for _, code := range sortedKeys(run.Results) {
				r := run.Results[code]
				table.Append([]string{code, r.Time, formatPrice(r.Price.Int64, r.Price.Valid), r.Error})
			}
			fmt.Printf("%s %s (run %s)\n", run.Date, run.Time, run.RunID)
			return table.Render()
		},
	}
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Fill today's missing log slots from minute data (after 11:00 KST)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			codes := a.cfg.Watch.Codes
			if codeArg != "" {
				codes = config.SplitCodes(codeArg)
			}

			ctx, stop := signalContext()
			defer stop()

			bar := progressbar.NewOptions(len(codes),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Backfilling"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]█[reset]",
					SaucerHead:    "[green]█[reset]",
					SaucerPadding: "░",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)

			var results []*pricelog.BackfillResult
			failed := make(map[string]error)
			for _, code := range codes {
				res, err := a.service.FetchToday(ctx, code)
				bar.Add(1)
				if err != nil {
					failed[code] = err
					continue
				}
				results = append(results, res)
			}
			bar.Finish()
			fmt.Println()

			if format == "json" {
				errs := make(map[string]string, len(failed))
				for code, err := range failed {
					errs[code] = err.Error()
				}
				return outputJSON(map[string]any{"results": results, "errors": errs})
			}

			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Code", "Date", "Status", "Slots", "Note"}),
			)
			for _, r := range results {
				table.Append([]string{r.Code, r.Date, r.Status, fmt.Sprintf("%d/%d", r.Filled, len(r.Prices)), r.Reason})
			}
			for _, code := range sortedKeys(failed) {
				table.Append([]string{code, "", "error", "", failed[code].Error()})
			}
			return table.Render()
		},
	}
}

func stocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stocks",
		Short: "Show the previous trading day for the watch-list",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			codes := a.cfg.Watch.Codes
			if codeArg != "" {
				codes = config.SplitCodes(codeArg)
			}

			ctx, stop := signalContext()
			defer stop()

			res, err := a.service.Stocks(ctx, codes)
			if err != nil {
				return err
			}
			if format == "json" {
				return outputJSON(res)
			}

			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Code", "Name", "Date", "Open", "High", "Low", "Close", "Latest Close"}),
			)
			for _, code := range sortedKeys(res.Results) {
				s := res.Results[code]
				table.Append([]string{
					code, s.Name, s.Date,
					formatPrice(s.Open, true), formatPrice(s.High, true), formatPrice(s.Low, true),
					formatPrice(s.Close, true), formatPrice(s.PrevClose, true),
				})
			}
			if err := table.Render(); err != nil {
				return err
			}
			for _, code := range sortedKeys(res.Errors) {
				fmt.Printf("  %s: %s\n", code, res.Errors[code])
			}
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Print the stored price log of a stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			if codeArg == "" {
				return fmt.Errorf("--code is required")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			logs, err := a.service.LogEntries(context.Background(), codeArg)
			if err != nil {
				return err
			}
			if format == "json" {
				return outputJSON(logs)
			}
			if len(logs) == 0 {
				fmt.Printf("No logs for %s.\n", codeArg)
				return nil
			}

			header := []string{"Date", "C1", "C2", "C3"}
			slots := []string{"0930", "0940", "0950", "1000", "1010", "1020", "1030"}
			header = append(header, slots...)
			table := tablewriter.NewTable(os.Stdout, tablewriter.WithHeader(header))
			for _, e := range logs {
				row := []string{e.Date, formatBool(e.Condition1), formatBool(e.Condition2), formatBool(e.Condition3)}
				for _, slot := range slots {
					p := e.Prices[slot]
					row = append(row, formatPrice(p.Int64, p.Valid))
				}
				table.Append(row)
			}
			return table.Render()
		},
	}
}

func deleteLogCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "delete-log",
		Short: "Delete one day from a stock's price log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if codeArg == "" || date == "" {
				return fmt.Errorf("--code and --date are required")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.service.DeleteLog(context.Background(), codeArg, date)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no log for %s on %s", codeArg, date)
			}
			fmt.Printf("Deleted %s %s\n", codeArg, date)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "log date (YYYY-MM-DD)")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show (or issue) the shared access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.tokens.Token(context.Background())
			if err != nil {
				return err
			}

			now := a.clock.Now()
			masked := t.Value
			if len(masked) > 12 {
				masked = masked[:6] + "..." + masked[len(masked)-6:]
			}
			fmt.Printf("key:       %s\n", a.tokens.Key())
			fmt.Printf("token:     %s\n", masked)
			fmt.Printf("issued:    %s (%s ago)\n", t.IssuedAt.In(a.clock.Location()).Format(time.DateTime), t.Age(now).Round(time.Second))
			if !t.ExpiresAt.IsZero() {
				fmt.Printf("expires:   %s\n", t.ExpiresAt.In(a.clock.Location()).Format(time.DateTime))
			}
			return nil
		},
	}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatPrice(p int64, valid bool) string {
	if !valid {
		return "-"
	}
	s := fmt.Sprintf("%d", p)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 && s[i-1] != '-' {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatBool(b *bool) string {
	switch {
	case b == nil:
		return "-"
	case *b:
		return "O"
	default:
		return "X"
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
