package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/wonny/kisradar/internal/collector"
	"github.com/wonny/kisradar/internal/external/kis"
	"github.com/wonny/kisradar/internal/marketcal"
	"github.com/wonny/kisradar/pkg/redis"
)

var scheduleSpec string

// scheduleCmd runs the collector on a cron schedule.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "수집 스케줄러 실행",
	Long: `장 마감 후 정기 수집을 스케줄합니다.

기본 스케줄: 평일 16:00 KST (장 마감 후 확정치 수집).

Example:
  go run ./cmd/kisradar schedule
  go run ./cmd/kisradar schedule --cron "30 15 * * 1-5"`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleSpec, "cron", "0 16 * * 1-5", "cron 표현식 (KST)")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	rankAPI := kis.NewRankAPI(rt.client, rt.logger)
	detailAPI := kis.NewDetailAPI(rt.client, rt.logger, rt.cfg.Screener.PaceInterval)

	var cache *redis.Cache
	if rt.redis.Enabled() {
		cache = redis.NewCache(rt.redis, "kisradar")
	}

	c := collector.New(rt.cfg.Screener, rankAPI, detailAPI, nil, cache, rt.logger)

	scheduler := cron.New(cron.WithLocation(marketcal.KST))
	_, err = scheduler.AddFunc(scheduleSpec, func() {
		if _, err := c.Run(context.Background()); err != nil {
			rt.logger.WithError(err).Error("scheduled collection failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", scheduleSpec, err)
	}

	scheduler.Start()
	rt.logger.WithField("cron", scheduleSpec).Info("scheduler started")
	fmt.Printf("스케줄러 실행 중 (cron: %s, KST). Ctrl+C로 종료.\n", scheduleSpec)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx := scheduler.Stop()
	<-ctx.Done()
	rt.logger.Info("scheduler stopped")

	return nil
}
