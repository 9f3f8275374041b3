package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wonny/kisradar/internal/collector"
	"github.com/wonny/kisradar/internal/criteria"
	"github.com/wonny/kisradar/internal/external/kis"
	"github.com/wonny/kisradar/pkg/config"
	"github.com/wonny/kisradar/pkg/logger"
)

var evaluateInput string

// evaluateCmd re-runs criteria evaluation over an existing run artifact,
// without touching the API.
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "저장된 수집 결과로 기준 재평가",
	Long: `API 호출 없이 저장된 kis_latest.json으로 7개 기준을 재평가합니다.

Example:
  go run ./cmd/kisradar evaluate
  go run ./cmd/kisradar evaluate --input results/kis/kis_data_20260829_160000.json`,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateInput, "input", "", "입력 파일 (기본: <output-dir>/kis_latest.json)")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg)

	input := evaluateInput
	if input == "" {
		input = filepath.Join(cfg.Screener.OutputDir, "kis_latest.json")
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}

	var run collector.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
		return fmt.Errorf("failed to parse %s: %w", input, err)
	}

	details := make([]*kis.StockDetail, 0, len(run.StockDetails))
	for _, d := range run.StockDetails {
		details = append(details, d)
	}
	sort.Slice(details, func(i, j int) bool {
		return details[i].StockCode < details[j].StockCode
	})

	evaluator := criteria.NewEvaluator(run.Rankings, log)
	results := evaluator.EvaluateAll(details)

	output := filepath.Join(cfg.Screener.OutputDir, "criteria_data.json")
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	allMet := 0
	for code, r := range results {
		if r.AllMet {
			allMet++
			name := ""
			if d, ok := run.StockDetails[code]; ok {
				name = d.StockName
			}
			fmt.Printf("ALL MET: %s %s\n", code, name)
		}
	}
	fmt.Printf("평가 완료: %d개 종목, 전체 충족 %d개 → %s\n", len(results), allMet, output)

	return nil
}
