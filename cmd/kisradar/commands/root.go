package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/kisradar/internal/external/kis"
	"github.com/wonny/kisradar/internal/tokenstore"
	"github.com/wonny/kisradar/pkg/config"
	"github.com/wonny/kisradar/pkg/httputil"
	"github.com/wonny/kisradar/pkg/logger"
	"github.com/wonny/kisradar/pkg/redis"
)

var (
	// Global flags
	env     string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kisradar",
	Short: "kisradar - 한국 주식 스크리너 데이터 수집기",
	Long: `kisradar CLI

한국투자증권 OpenAPI 기반 KOSPI/KOSDAQ 스크리너.
거래량/등락률 순위 수집, 종목 상세 데이터 수집, 7개 기준 평가까지.

Usage:
  go run ./cmd/kisradar [command]

Examples:
  go run ./cmd/kisradar collect
  go run ./cmd/kisradar rank --market KOSPI --limit 10
  go run ./cmd/kisradar stock 005930
  go run ./cmd/kisradar token status`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// runtime bundles the shared wiring every command needs.
type runtime struct {
	cfg     *config.Config
	logger  *logger.Logger
	redis   *redis.Client
	session *kis.Session
	client  *kis.Client
}

// newRuntime loads config and wires the session/client stack. Redis is
// optional: 비활성이면 로컬 파일 캐시만 사용한다.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if env != "" {
		cfg.Env = env
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log := logger.New(cfg)

	redisClient, err := redis.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	var stores []tokenstore.Store
	if redisClient.Enabled() {
		stores = append(stores, tokenstore.NewRedisStore(redisClient))
	}
	stores = append(stores, tokenstore.NewFileStore(cfg.Screener.TokenCachePath))

	httpClient := httputil.New(log)

	session, err := kis.NewSession(cfg.KIS, httpClient, log, stores...)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		logger:  log,
		redis:   redisClient,
		session: session,
		client:  kis.NewClient(session, httpClient, log),
	}, nil
}

// Close releases shared resources.
func (r *runtime) Close() {
	if r.redis != nil {
		r.redis.Close()
	}
}
