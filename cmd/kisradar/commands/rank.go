package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/kisradar/internal/external/kis"
)

var (
	rankMarket     string
	rankLimit      int
	rankCategory   string
	rankDirection  string
	rankExcludeETF bool
)

// rankCmd queries market rankings without the full pipeline.
var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "거래량/등락률 순위 조회",
	Long: `시장 순위를 조회합니다.

Example:
  go run ./cmd/kisradar rank --market KOSPI --limit 10
  go run ./cmd/kisradar rank --category fluctuation --direction DOWN
  go run ./cmd/kisradar rank --market ALL --exclude-etf=false`,
	RunE: runRank,
}

func init() {
	rankCmd.Flags().StringVar(&rankMarket, "market", "ALL", "시장 (ALL|KOSPI|KOSDAQ)")
	rankCmd.Flags().IntVar(&rankLimit, "limit", 30, "조회 건수")
	rankCmd.Flags().StringVar(&rankCategory, "category", "volume", "순위 종류 (volume|fluctuation)")
	rankCmd.Flags().StringVar(&rankDirection, "direction", "UP", "등락률 방향 (UP|DOWN)")
	rankCmd.Flags().BoolVar(&rankExcludeETF, "exclude-etf", true, "ETF/ETN 제외")
	rootCmd.AddCommand(rankCmd)
}

func runRank(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	rankAPI := kis.NewRankAPI(rt.client, rt.logger)
	market := kis.Market(strings.ToUpper(rankMarket))

	var stocks []kis.RankedStock
	switch strings.ToLower(rankCategory) {
	case "fluctuation":
		stocks, err = rankAPI.FluctuationRank(ctx, market, rankDirection, rankLimit, rankExcludeETF)
	default:
		stocks, err = rankAPI.VolumeRank(ctx, market, rankLimit, rankExcludeETF)
	}
	if err != nil {
		return err
	}

	for _, s := range stocks {
		fmt.Printf("%3d. [%s] %s (%s) %d원 %+.2f%% 거래량 %d\n",
			s.Rank, s.Market, s.Name, s.Code, s.Price, s.ChangeRate, s.Volume)
	}
	fmt.Printf("총 %d개\n", len(stocks))

	return nil
}
