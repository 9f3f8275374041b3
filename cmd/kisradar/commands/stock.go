package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/kisradar/internal/external/kis"
)

var stockJSON bool

// stockCmd fetches every facet for one instrument.
var stockCmd = &cobra.Command{
	Use:   "stock [종목코드]",
	Short: "단일 종목 상세 데이터 조회",
	Long: `단일 종목의 모든 facet을 수집합니다.

Example:
  go run ./cmd/kisradar stock 005930
  go run ./cmd/kisradar stock 005930 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStock,
}

func init() {
	stockCmd.Flags().BoolVar(&stockJSON, "json", false, "JSON 전체 출력")
	rootCmd.AddCommand(stockCmd)
}

func runStock(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	code := args[0]
	detailAPI := kis.NewDetailAPI(rt.client, rt.logger, rt.cfg.Screener.PaceInterval)

	detail, err := detailAPI.FetchAll(context.Background(), code, rt.cfg.Screener.ChartDays)
	if err != nil {
		return err
	}

	if stockJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	}

	fmt.Printf("[%s] %s\n", detail.StockCode, detail.StockName)
	if cp := detail.CurrentPrice; cp != nil {
		fmt.Printf("  현재가: %d원 (%+d, %+.2f%%)\n", cp.Price, cp.ChangePrice, cp.ChangeRate)
		fmt.Printf("  거래량: %d / 거래대금: %d\n", cp.Volume, cp.TradingValue)
		fmt.Printf("  PER %.2f / PBR %.2f / 시가총액 %d억원\n", cp.PER, cp.PBR, cp.MarketCap)
	}
	if fs := detail.FlowSummary; fs != nil {
		fmt.Printf("  수급(5일): 외국인 %+d / 기관 %+d\n", fs.Sum5d.ForeignNet, fs.Sum5d.InstitutionNet)
	}
	if detail.ErrCount() > 0 {
		fmt.Printf("  실패 facet: %d개\n", detail.ErrCount())
		for facet, msg := range detail.FacetErrors {
			fmt.Printf("    - %s: %s\n", facet, msg)
		}
	}

	return nil
}
