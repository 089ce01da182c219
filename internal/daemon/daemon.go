package daemon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"stockwatch/internal/broker/kis"
	"stockwatch/internal/market"
	"stockwatch/internal/pricelog"
	"stockwatch/internal/watch"
)

// Config 데몬 설정
type Config struct {
	// 가격 기록 스케줄 (초 단위 포함 cron 식, KST)
	LogCrons []string
	// 당일 백필 스케줄
	BackfillCron string

	// 한 작업의 최대 실행 시간
	JobTimeout time.Duration

	// 시작 직후 백필 한 번 실행
	BackfillOnStart bool
}

// DefaultConfig 기본 설정
func DefaultConfig() Config {
	return Config{
		LogCrons: []string{
			"0 30-55/5 9 * * 1-5",
			"0 0-30/5 10 * * 1-5",
		},
		BackfillCron:    "0 5 11 * * 1-5",
		JobTimeout:      2 * time.Minute,
		BackfillOnStart: true,
	}
}

// Jobs 데몬이 호출하는 작업 (watch.Service)
type Jobs interface {
	LogPrices(ctx context.Context) (*watch.LogRun, error)
	BackfillAll(ctx context.Context, progress func(code string)) ([]*pricelog.BackfillResult, map[string]error)
}

// Daemon 가격 기록/백필 스케줄러
type Daemon struct {
	config  Config
	jobs    Jobs
	tracker *RunTracker
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDaemon 생성자
func NewDaemon(cfg Config, jobs Jobs, tracker *RunTracker) *Daemon {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		config:  cfg,
		jobs:    jobs,
		tracker: tracker,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(market.KSTLocation()),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register 스케줄 등록
func (d *Daemon) Register() error {
	for _, spec := range d.config.LogCrons {
		if _, err := d.cron.AddFunc(spec, d.logPricesJob); err != nil {
			return fmt.Errorf("register log-prices %q: %w", spec, err)
		}
	}
	if d.config.BackfillCron != "" {
		if _, err := d.cron.AddFunc(d.config.BackfillCron, d.backfillJob); err != nil {
			return fmt.Errorf("register backfill %q: %w", d.config.BackfillCron, err)
		}
	}
	log.Printf("[DAEMON] %d schedules registered", len(d.cron.Entries()))
	return nil
}

// Run ctx가 끝나거나 Stop이 호출될 때까지 스케줄 실행
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Register(); err != nil {
		return err
	}

	d.cron.Start()
	log.Println("[DAEMON] scheduler started")
	for _, e := range d.cron.Entries() {
		log.Printf("[DAEMON] next run: %s", e.Next.Format("2006-01-02 15:04:05 MST"))
	}

	if d.config.BackfillOnStart {
		go d.backfillJob()
	}

	select {
	case <-ctx.Done():
	case <-d.ctx.Done():
	}
	return d.shutdown()
}

// Stop 데몬 중지
func (d *Daemon) Stop() {
	d.cancel()
}

func (d *Daemon) shutdown() error {
	d.cancel()
	stopped := d.cron.Stop()
	<-stopped.Done()
	log.Println("[DAEMON] scheduler stopped")
	return nil
}

func (d *Daemon) logPricesJob() {
	ctx, cancel := context.WithTimeout(d.ctx, d.config.JobTimeout)
	defer cancel()

	run, err := d.jobs.LogPrices(ctx)
	if err != nil {
		log.Printf("[DAEMON] log-prices failed: %v", err)
		d.record(JobRecord{Job: JobLogPrices, Status: "error", Error: err.Error()})
		return
	}

	rec := JobRecord{Job: JobLogPrices, RunID: run.RunID, Status: run.Status}
	for _, r := range run.Results {
		if r.Error != "" {
			rec.Failed++
		} else {
			rec.Succeeded++
		}
	}
	log.Printf("[DAEMON] log-prices %s: %s (%d ok, %d failed)", run.Time, run.Status, rec.Succeeded, rec.Failed)
	d.record(rec)
}

func (d *Daemon) backfillJob() {
	ctx, cancel := context.WithTimeout(d.ctx, d.config.JobTimeout)
	defer cancel()

	results, failed := d.jobs.BackfillAll(ctx, nil)
	rec := JobRecord{Job: JobBackfill, Status: "done", Succeeded: len(results), Failed: len(failed)}
	for code, err := range failed {
		if kis.IsFatal(err) {
			rec.Status = "error"
			rec.Error = fmt.Sprintf("%s: %v", code, err)
		}
	}
	if len(results) > 0 && results[0].Status == pricelog.StatusSkipped {
		rec.Status = pricelog.StatusSkipped
	}
	log.Printf("[DAEMON] backfill: %s (%d ok, %d failed)", rec.Status, rec.Succeeded, rec.Failed)
	d.record(rec)
}

func (d *Daemon) record(rec JobRecord) {
	if d.tracker == nil {
		return
	}
	if err := d.tracker.Record(d.ctx, rec); err != nil {
		log.Printf("[DAEMON] failed to record %s run: %v", rec.Job, err)
	}
}
