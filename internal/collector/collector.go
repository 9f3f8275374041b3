// Package collector orchestrates a full screening run: rankings, per-stock
// facets, normalization, criteria evaluation and artifact persistence.
package collector

import (
	"context"
	"time"

	"github.com/wonny/kisradar/internal/criteria"
	"github.com/wonny/kisradar/internal/external/kis"
	"github.com/wonny/kisradar/internal/marketcal"
	"github.com/wonny/kisradar/internal/transform"
	"github.com/wonny/kisradar/pkg/config"
	"github.com/wonny/kisradar/pkg/logger"
	"github.com/wonny/kisradar/pkg/redis"
)

// RunMeta summarizes one collection run.
type RunMeta struct {
	CollectedAt       time.Time `json:"collected_at"`
	DurationSeconds   float64   `json:"collection_duration_seconds"`
	TotalUniqueStocks int       `json:"total_unique_stocks"`
	KOSPICount        int       `json:"kospi_count"`
	KOSDAQCount       int       `json:"kosdaq_count"`
	ExcludeETF        bool      `json:"exclude_etf"`
	FailedFacetStocks int       `json:"failed_facet_stocks"`
}

// RunResult bundles everything a run produced.
type RunResult struct {
	Meta         RunMeta                     `json:"meta"`
	Rankings     *kis.Rankings               `json:"rankings"`
	StockDetails map[string]*kis.StockDetail `json:"stock_details"`
	Stocks       *transform.Output           `json:"-"`
	Criteria     map[string]criteria.Result  `json:"-"`
}

// Collector wires the collection pipeline.
// ⭐ SSOT: 수집 런 오케스트레이션은 여기서만
type Collector struct {
	cfg        config.ScreenerConfig
	rankAPI    *kis.RankAPI
	detailAPI  *kis.DetailAPI
	normalizer *transform.Normalizer
	artifacts  *ArtifactWriter
	repo       *Repository  // optional snapshot store
	cache      *redis.Cache // optional run-meta cache
	logger     *logger.Logger
}

// New builds a collector. repo and cache may be nil.
func New(
	cfg config.ScreenerConfig,
	rankAPI *kis.RankAPI,
	detailAPI *kis.DetailAPI,
	repo *Repository,
	cache *redis.Cache,
	log *logger.Logger,
) *Collector {
	return &Collector{
		cfg:        cfg,
		rankAPI:    rankAPI,
		detailAPI:  detailAPI,
		normalizer: transform.NewNormalizer(log),
		artifacts:  NewArtifactWriter(cfg.OutputDir, log),
		repo:       repo,
		cache:      cache,
		logger:     log,
	}
}

// Run executes the full pipeline and persists artifacts. Partial facet
// failures never abort the run; ranking collection failure does.
func (c *Collector) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	c.logger.WithField("exclude_etf", c.cfg.ExcludeETF).Info("collection run started")

	rankings, err := c.rankAPI.TopStocks(ctx, c.cfg.ExcludeETF)
	if err != nil {
		return nil, err
	}
	c.logger.WithField("unique_stocks", rankings.UniqueStockCount).Info("rankings collected")

	details, err := c.detailAPI.FetchMany(ctx, rankings.UniqueStockCodes, c.cfg.ChartDays)
	if err != nil {
		return nil, err
	}

	detailMap := make(map[string]*kis.StockDetail, len(details))
	failedFacetStocks := 0
	for _, d := range details {
		detailMap[d.StockCode] = d
		if d.ErrCount() > 0 {
			failedFacetStocks++
		}
	}

	collectedAt := time.Now().In(marketcal.KST)
	result := &RunResult{
		Meta: RunMeta{
			CollectedAt:       collectedAt,
			DurationSeconds:   time.Since(start).Seconds(),
			TotalUniqueStocks: rankings.UniqueStockCount,
			KOSPICount:        len(rankings.Volume.KOSPI),
			KOSDAQCount:       len(rankings.Volume.KOSDAQ),
			ExcludeETF:        c.cfg.ExcludeETF,
			FailedFacetStocks: failedFacetStocks,
		},
		Rankings:     rankings,
		StockDetails: detailMap,
	}

	result.Stocks = c.normalizer.Normalize(rankings, details, collectedAt)

	evaluator := criteria.NewEvaluator(rankings, c.logger)
	result.Criteria = evaluator.EvaluateAll(details)

	if err := c.artifacts.WriteRun(result); err != nil {
		return nil, err
	}

	c.persistSnapshot(ctx, result)
	c.cacheRunMeta(ctx, result)

	c.logger.WithFields(map[string]interface{}{
		"duration_seconds": result.Meta.DurationSeconds,
		"stocks":           result.Meta.TotalUniqueStocks,
	}).Info("collection run complete")

	return result, nil
}

// persistSnapshot stores the run summary in Postgres when configured.
// DB 실패는 경고로 강등한다: 파일 산출물이 1차 저장소다.
func (c *Collector) persistSnapshot(ctx context.Context, result *RunResult) {
	if c.repo == nil {
		return
	}
	if err := c.repo.SaveRun(ctx, result); err != nil {
		c.logger.WithError(err).Warn("snapshot persist failed")
	}
}

// cacheRunMeta publishes run metadata for other processes.
func (c *Collector) cacheRunMeta(ctx context.Context, result *RunResult) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, "last_run", result.Meta, redis.TTLRun); err != nil {
		c.logger.WithError(err).Warn("run meta cache failed")
	}
}
