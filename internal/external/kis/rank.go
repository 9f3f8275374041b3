package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/kisradar/internal/marketcal"
	"github.com/wonny/kisradar/pkg/logger"
)

const volumeRankPath = "/uapi/domestic-stock/v1/quotations/volume-rank"
const trVolumeRank = "FHPST01710000"

// priceBins subdivides the price axis so the 30-row-per-call cap can be
// worked around. 15개 구간 → 최대 450개/시장 수집 가능.
var priceBins = [][2]string{
	{"", "500"},
	{"500", "1000"},
	{"1000", "2000"},
	{"2000", "3000"},
	{"3000", "5000"},
	{"5000", "7000"},
	{"7000", "10000"},
	{"10000", "15000"},
	{"15000", "20000"},
	{"20000", "30000"},
	{"30000", "50000"},
	{"50000", "70000"},
	{"70000", "100000"},
	{"100000", "150000"},
	{"150000", ""},
}

// etfKeywords marks ETF/ETN issuer brands and product words in 종목명.
var etfKeywords = []string{
	"KODEX", "TIGER", "KBSTAR", "ARIRANG", "HANARO",
	"SOL", "KINDEX", "KOSEF", "ACE", "PLUS", "RISE",
	"ETN", "ETF", "선물", "인버스", "레버리지",
	"채권", "국채", "회사채", "액티브",
}

// RankAPI reconstructs market-wide rankings from the capped volume-rank
// endpoint. ⭐ SSOT: 순위 데이터는 여기서만 생성
type RankAPI struct {
	client *Client
	logger *logger.Logger
}

// NewRankAPI returns a rank enumerator over the given client.
func NewRankAPI(client *Client, log *logger.Logger) *RankAPI {
	return &RankAPI{client: client, logger: log}
}

// rawRankRow is the wire shape of one volume-rank entry.
type rawRankRow struct {
	Code         string `json:"mksc_shrn_iscd"`
	Name         string `json:"hts_kor_isnm"`
	Price        string `json:"stck_prpr"`
	ChangePrice  string `json:"prdy_vrss"`
	ChangeRate   string `json:"prdy_ctrt"`
	Volume       string `json:"acml_vol"`
	VolumeRate   string `json:"vol_inrt"`
	TradingValue string `json:"acml_tr_pbmn"`
}

// fetchBin queries one market/price-bin slice (단건 최대 30개).
func (r *RankAPI) fetchBin(ctx context.Context, marketCode, priceMin, priceMax string) ([]rawRankRow, error) {
	params := map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_COND_SCR_DIV_CODE":  "20171",
		"FID_INPUT_ISCD":         marketCode,
		"FID_DIV_CLS_CODE":       "0",
		"FID_BLNG_CLS_CODE":      "0",
		"FID_TRGT_CLS_CODE":      "0",
		"FID_TRGT_EXLS_CLS_CODE": "0",
		"FID_INPUT_PRICE_1":      priceMin,
		"FID_INPUT_PRICE_2":      priceMax,
		"FID_VOL_CNT":            "",
		"FID_INPUT_DATE_1":       "",
	}

	env, err := r.client.Call(ctx, volumeRankPath, trVolumeRank, params)
	if err != nil {
		return nil, err
	}

	var rows []rawRankRow
	if len(env.Output) > 0 {
		if err := json.Unmarshal(env.Output, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode volume rank output: %w", err)
		}
	}
	return rows, nil
}

// collectExtended walks all price bins for one market, deduplicates by code
// and re-sorts by volume. Individual bin failures are logged and skipped:
// 일부 구간 실패는 전체 수집을 막지 않는다.
func (r *RankAPI) collectExtended(ctx context.Context, marketCode string) ([]rawRankRow, error) {
	var all []rawRankRow
	seen := make(map[string]struct{})
	failed := 0

	for _, bin := range priceBins {
		rows, err := r.fetchBin(ctx, marketCode, bin[0], bin[1])
		if err != nil {
			failed++
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"market_code": marketCode,
				"price_min":   bin[0],
				"price_max":   bin[1],
			}).Warn("price bin fetch failed, skipping")
			continue
		}
		for _, row := range rows {
			if row.Code == "" {
				continue
			}
			if _, ok := seen[row.Code]; ok {
				continue
			}
			seen[row.Code] = struct{}{}
			all = append(all, row)
		}
	}

	if failed == len(priceBins) {
		return nil, fmt.Errorf("all %d price bins failed for market %s", len(priceBins), marketCode)
	}
	if failed > 0 {
		r.logger.WithFields(map[string]interface{}{
			"market_code": marketCode,
			"failed_bins": failed,
		}).Warn("partial bin coverage")
	}

	sort.SliceStable(all, func(i, j int) bool {
		return parseInt(all[i].Volume) > parseInt(all[j].Volume)
	})

	return all, nil
}

// IsETForETN reports whether a code/name pair looks like an ETF or ETN.
// Heuristic: Q-prefix ETN codes, issuer keyword in the name, or malformed
// 00-prefixed codes with non-digit tails (0000D0 같은 형태).
func IsETForETN(code, name string) bool {
	if strings.HasPrefix(code, "Q") {
		return true
	}
	for _, kw := range etfKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	if strings.HasPrefix(code, "00") && len(code) > 2 {
		if !isAllDigits(code[2:]) {
			return true
		}
	}
	return false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// VolumeRank returns the top stocks by accumulated volume. ALL merges KOSPI
// and KOSDAQ (first occurrence wins on duplicate codes), re-sorts across
// markets, applies the ETF filter, then renumbers and truncates.
func (r *RankAPI) VolumeRank(ctx context.Context, market Market, limit int, excludeETF bool) ([]RankedStock, error) {
	var boards []Market
	switch market {
	case MarketKOSPI, MarketKOSDAQ:
		boards = []Market{market}
	default:
		boards = []Market{MarketKOSPI, MarketKOSDAQ}
	}

	type taggedRow struct {
		rawRankRow
		market Market
	}

	var all []taggedRow
	seen := make(map[string]struct{})

	for _, board := range boards {
		code := marketCodes[board]

		var rows []rawRankRow
		var err error
		if excludeETF {
			rows, err = r.collectExtended(ctx, code)
		} else {
			rows, err = r.fetchBin(ctx, code, "", "")
		}
		if err != nil {
			return nil, fmt.Errorf("volume rank fetch failed for %s: %w", board, err)
		}

		for _, row := range rows {
			if row.Code == "" {
				continue
			}
			if _, ok := seen[row.Code]; ok {
				continue
			}
			seen[row.Code] = struct{}{}
			all = append(all, taggedRow{rawRankRow: row, market: board})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return parseInt(all[i].Volume) > parseInt(all[j].Volume)
	})

	var parsed []RankedStock
	for _, row := range all {
		isETF := IsETForETN(row.Code, row.Name)
		if excludeETF && isETF {
			continue
		}

		parsed = append(parsed, RankedStock{
			Rank:         len(parsed) + 1,
			Code:         row.Code,
			Name:         row.Name,
			Market:       row.market,
			Price:        parseInt(row.Price),
			ChangePrice:  parseInt(row.ChangePrice),
			ChangeRate:   parseFloat(row.ChangeRate),
			Volume:       parseInt(row.Volume),
			VolumeRate:   parseFloat(row.VolumeRate),
			TradingValue: parseInt(row.TradingValue),
			IsETF:        isETF,
		})

		if len(parsed) >= limit {
			break
		}
	}

	return parsed, nil
}

// FluctuationRank derives a change-rate ranking from the volume-rank
// superset. 등락률순위 전용 API가 불안정하므로 거래량 데이터를 재정렬한다.
// UP keeps strictly positive rates, DOWN strictly negative.
func (r *RankAPI) FluctuationRank(ctx context.Context, market Market, direction string, limit int, excludeETF bool) ([]RankedStock, error) {
	superset, err := r.VolumeRank(ctx, market, 500, excludeETF)
	if err != nil {
		return nil, err
	}

	dir := strings.ToUpper(direction)

	var filtered []RankedStock
	for _, s := range superset {
		if dir == "UP" && s.ChangeRate > 0 {
			filtered = append(filtered, s)
		} else if dir == "DOWN" && s.ChangeRate < 0 {
			filtered = append(filtered, s)
		}
	}

	if dir == "UP" {
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].ChangeRate > filtered[j].ChangeRate
		})
	} else {
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].ChangeRate < filtered[j].ChangeRate
		})
	}

	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	for i := range filtered {
		filtered[i].Rank = i + 1
		filtered[i].Direction = dir
	}

	return filtered, nil
}

// VolumeTop30 is the per-board volume ranking bundle.
type VolumeTop30 struct {
	KOSPI       []RankedStock `json:"kospi"`
	KOSDAQ      []RankedStock `json:"kosdaq"`
	CollectedAt time.Time     `json:"collected_at"`
	Category    string        `json:"category"`
	ExcludeETF  bool          `json:"exclude_etf"`
}

// FluctuationTop30 is the per-board/per-direction change-rate bundle.
type FluctuationTop30 struct {
	KOSPIUp     []RankedStock `json:"kospi_up"`
	KOSPIDown   []RankedStock `json:"kospi_down"`
	KOSDAQUp    []RankedStock `json:"kosdaq_up"`
	KOSDAQDown  []RankedStock `json:"kosdaq_down"`
	CollectedAt time.Time     `json:"collected_at"`
	Category    string        `json:"category"`
	ExcludeETF  bool          `json:"exclude_etf"`
}

// Top30ByVolume collects top-30 volume rankings for KOSPI and KOSDAQ.
func (r *RankAPI) Top30ByVolume(ctx context.Context, excludeETF bool) (*VolumeTop30, error) {
	kospi, err := r.VolumeRank(ctx, MarketKOSPI, 30, excludeETF)
	if err != nil {
		return nil, err
	}
	kosdaq, err := r.VolumeRank(ctx, MarketKOSDAQ, 30, excludeETF)
	if err != nil {
		return nil, err
	}
	return &VolumeTop30{
		KOSPI:       kospi,
		KOSDAQ:      kosdaq,
		CollectedAt: time.Now().In(marketcal.KST),
		Category:    "volume",
		ExcludeETF:  excludeETF,
	}, nil
}

// Top30ByFluctuation collects both directions for both boards.
func (r *RankAPI) Top30ByFluctuation(ctx context.Context, excludeETF bool) (*FluctuationTop30, error) {
	out := &FluctuationTop30{
		CollectedAt: time.Now().In(marketcal.KST),
		Category:    "fluctuation",
		ExcludeETF:  excludeETF,
	}

	var err error
	if out.KOSPIUp, err = r.FluctuationRank(ctx, MarketKOSPI, "UP", 30, excludeETF); err != nil {
		return nil, err
	}
	if out.KOSPIDown, err = r.FluctuationRank(ctx, MarketKOSPI, "DOWN", 30, excludeETF); err != nil {
		return nil, err
	}
	if out.KOSDAQUp, err = r.FluctuationRank(ctx, MarketKOSDAQ, "UP", 30, excludeETF); err != nil {
		return nil, err
	}
	if out.KOSDAQDown, err = r.FluctuationRank(ctx, MarketKOSDAQ, "DOWN", 30, excludeETF); err != nil {
		return nil, err
	}

	return out, nil
}

// Rankings is the combined ranking collection output.
type Rankings struct {
	Volume           *VolumeTop30      `json:"volume"`
	Fluctuation      *FluctuationTop30 `json:"fluctuation"`
	UniqueStockCodes []string          `json:"unique_stock_codes"`
	UniqueStockCount int               `json:"unique_stock_count"`
	CollectedAt      time.Time         `json:"collected_at"`
}

// TopStocks collects volume and fluctuation rankings plus the deduplicated
// code universe that the detail fetch pass will iterate.
func (r *RankAPI) TopStocks(ctx context.Context, excludeETF bool) (*Rankings, error) {
	r.logger.WithField("exclude_etf", excludeETF).Info("collecting volume top30")
	volume, err := r.Top30ByVolume(ctx, excludeETF)
	if err != nil {
		return nil, err
	}

	r.logger.WithField("exclude_etf", excludeETF).Info("collecting fluctuation top30")
	fluctuation, err := r.Top30ByFluctuation(ctx, excludeETF)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var codes []string
	for _, group := range [][]RankedStock{
		volume.KOSPI, volume.KOSDAQ,
		fluctuation.KOSPIUp, fluctuation.KOSPIDown,
		fluctuation.KOSDAQUp, fluctuation.KOSDAQDown,
	} {
		for _, s := range group {
			if _, ok := seen[s.Code]; ok {
				continue
			}
			seen[s.Code] = struct{}{}
			codes = append(codes, s.Code)
		}
	}

	return &Rankings{
		Volume:           volume,
		Fluctuation:      fluctuation,
		UniqueStockCodes: codes,
		UniqueStockCount: len(codes),
		CollectedAt:      time.Now().In(marketcal.KST),
	}, nil
}
