package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/kisradar/internal/collector"
	"github.com/wonny/kisradar/internal/external/kis"
	"github.com/wonny/kisradar/pkg/database"
	"github.com/wonny/kisradar/pkg/redis"
)

var (
	collectExcludeETF bool
	collectUseDB      bool
)

// collectCmd runs the full collection pipeline.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "전체 수집 실행 (순위 + 종목 상세 + 기준 평가)",
	Long: `전체 수집 파이프라인을 실행합니다.

이 명령어는:
- 코스피/코스닥 거래량/등락률 Top30 수집
- 고유 종목별 상세 데이터 수집 (시세, 호가, 수급, 차트, 재무 등)
- 분석용 통합 포맷 변환 + 7개 기준 평가
- JSON 산출물 저장 (kis_latest.json, criteria_data.json)

Example:
  go run ./cmd/kisradar collect
  go run ./cmd/kisradar collect --exclude-etf=false
  go run ./cmd/kisradar collect --db`,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().BoolVar(&collectExcludeETF, "exclude-etf", true, "ETF/ETN 제외")
	collectCmd.Flags().BoolVar(&collectUseDB, "db", false, "Postgres에 런 스냅샷 저장")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()

	cfg := rt.cfg.Screener
	cfg.ExcludeETF = collectExcludeETF

	rankAPI := kis.NewRankAPI(rt.client, rt.logger)
	detailAPI := kis.NewDetailAPI(rt.client, rt.logger, cfg.PaceInterval)

	var repo *collector.Repository
	if collectUseDB {
		db, err := database.New(rt.cfg)
		if err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
		defer db.Close()

		repo = collector.NewRepository(db, rt.logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	var cache *redis.Cache
	if rt.redis.Enabled() {
		cache = redis.NewCache(rt.redis, "kisradar")
	}

	c := collector.New(cfg, rankAPI, detailAPI, repo, cache, rt.logger)
	result, err := c.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("수집 완료: %d개 종목, %.1f초\n",
		result.Meta.TotalUniqueStocks, result.Meta.DurationSeconds)

	allMet := 0
	for _, r := range result.Criteria {
		if r.AllMet {
			allMet++
		}
	}
	fmt.Printf("기준 전체 충족: %d/%d\n", allMet, len(result.Criteria))

	return nil
}
