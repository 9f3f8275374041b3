// Package transform flattens collected rankings and per-stock facets into
// canonical per-instrument records for downstream analysis.
package transform

import (
	"time"

	"github.com/wonny/kisradar/internal/external/kis"
	"github.com/wonny/kisradar/internal/indicator"
	"github.com/wonny/kisradar/internal/marketcal"
	"github.com/wonny/kisradar/pkg/logger"
)

// RankingInfo is the volume-ranking slice of a canonical record.
type RankingInfo struct {
	VolumeRank       *int    `json:"volume_rank"`
	Volume           *int64  `json:"volume"`
	VolumeRateVsPrev *float64 `json:"volume_rate_vs_prev"`
	TradingValue     *int64  `json:"trading_value"`
	Description      string  `json:"description"`
}

// PriceInfo is the current price and range slice.
type PriceInfo struct {
	Current       int64   `json:"current"`
	Change        int64   `json:"change"`
	ChangeRatePct float64 `json:"change_rate_pct"`
	Open          int64   `json:"open"`
	High          int64   `json:"high"`
	Low           int64   `json:"low"`
	PrevClose     int64   `json:"prev_close"`
	High52w       int64   `json:"high_52week"`
	Low52w        int64   `json:"low_52week"`
}

// TradingInfo is the turnover slice.
type TradingInfo struct {
	Volume            int64   `json:"volume"`
	TradingValue      int64   `json:"trading_value"`
	VolumeTurnoverPct float64 `json:"volume_turnover_pct"`
}

// MarketInfo is the capitalization slice.
type MarketInfo struct {
	MarketCapBillion  int64   `json:"market_cap_billion"`
	SharesOutstanding int64   `json:"shares_outstanding"`
	ForeignHoldingPct float64 `json:"foreign_holding_pct"`
}

// Valuation is the multiples slice. PEG is defined only with a positive
// EPS growth rate.
type Valuation struct {
	PER float64  `json:"per"`
	PBR float64  `json:"pbr"`
	EPS float64  `json:"eps"`
	BPS float64  `json:"bps"`
	PEG *float64 `json:"peg"`
}

// OrderBook is the condensed depth slice. BidAskRatio over 100 means bid
// pressure dominates.
type OrderBook struct {
	TotalAskVolume int64           `json:"total_ask_volume"`
	TotalBidVolume int64           `json:"total_bid_volume"`
	BidAskRatio    *float64        `json:"bid_ask_ratio"`
	BestAsk        *kis.PriceLevel `json:"best_ask"`
	BestBid        *kis.PriceLevel `json:"best_bid"`
	Description    string          `json:"description"`
}

// FlowDay is one day of investor flows in canonical naming. Nil fields mean
// not observable (개인 순매수는 장중 추정이 불가능하다).
type FlowDay struct {
	Date           string `json:"date"`
	ForeignNet     *int64 `json:"foreign_net"`
	InstitutionNet *int64 `json:"institution_net"`
	IndividualNet  *int64 `json:"individual_net"`
}

// InvestorFlow is the short-horizon flow slice. Today's row is replaced by
// the intraday estimate when one was collected.
type InvestorFlow struct {
	Today       FlowDay   `json:"today"`
	Sum5Days    FlowSums  `json:"sum_5_days"`
	DailyTrend  []FlowDay `json:"daily_trend"`
	IsEstimated bool      `json:"is_estimated,omitempty"`
	Description string    `json:"description"`
}

// FlowSums is a summed flow window.
type FlowSums struct {
	ForeignNet     int64 `json:"foreign_net"`
	InstitutionNet int64 `json:"institution_net"`
	IndividualNet  int64 `json:"individual_net"`
}

// ForeignInstitution is the longer-horizon flow summary slice.
type ForeignInstitution struct {
	Today       FlowDay  `json:"today"`
	Sum5Days    FlowSums `json:"sum_5_days"`
	Sum20Days   FlowSums `json:"sum_20_days"`
	Description string   `json:"description"`
}

// HistoryDay is one display candle of price history.
type HistoryDay struct {
	Date   string `json:"date"`
	Open   int64  `json:"open"`
	High   int64  `json:"high"`
	Low    int64  `json:"low"`
	Close  int64  `json:"close"`
	Volume int64  `json:"volume"`
}

// PriceHistory is the chart slice: display-ordered recent candles
// (newest-first) plus RSI computed over the full chronological series.
type PriceHistory struct {
	Days  []HistoryDay `json:"days"`
	Count int          `json:"count"`
	RSI14 *float64     `json:"rsi_14"`
}

// Fundamental is the merged financial-statement slice, present only when at
// least one ratio resolved.
type Fundamental struct {
	ROE            *float64 `json:"roe"`
	OPM            *float64 `json:"opm"`
	DebtRatio      *float64 `json:"debt_ratio"`
	EPSGrowthRate  *float64 `json:"eps_growth_rate"`
	SalesGrowth    *float64 `json:"sales_growth"`
	OpProfitGrowth *float64 `json:"op_profit_growth"`
	LatestPeriod   string   `json:"latest_year"`
}

// CanonicalRecord is one instrument's flattened view.
type CanonicalRecord struct {
	Code    string     `json:"code"`
	Name    string     `json:"name"`
	Market  kis.Market `json:"market"`

	Ranking            RankingInfo         `json:"ranking"`
	Price              PriceInfo           `json:"price"`
	Trading            TradingInfo         `json:"trading"`
	MarketInfo         MarketInfo          `json:"market_info"`
	Valuation          Valuation           `json:"valuation"`
	OrderBook          *OrderBook          `json:"order_book,omitempty"`
	InvestorFlow       *InvestorFlow       `json:"investor_flow,omitempty"`
	ForeignInstitution *ForeignInstitution `json:"foreign_institution,omitempty"`
	PriceHistory       *PriceHistory       `json:"price_history,omitempty"`
	Fundamental        *Fundamental        `json:"fundamental,omitempty"`
}

// Output is the normalized bundle keyed by stock code.
type Output struct {
	Meta   OutputMeta                  `json:"meta"`
	Stocks map[string]*CanonicalRecord `json:"stocks"`
}

// OutputMeta describes the transformation run.
type OutputMeta struct {
	FormatVersion       string    `json:"format_version"`
	OriginalCollectedAt time.Time `json:"original_collected_at"`
	TransformedAt       time.Time `json:"transformed_at"`
	TotalStocks         int       `json:"total_stocks"`
	DataSource          string    `json:"data_source"`
}

// Normalizer merges rankings and details into canonical records.
// ⭐ SSOT: 분석용 통합 포맷 생성은 여기서만
type Normalizer struct {
	logger *logger.Logger
}

// NewNormalizer returns a normalizer.
func NewNormalizer(log *logger.Logger) *Normalizer {
	return &Normalizer{logger: log}
}

// rankingEntry indexes ranked stocks by code for the merge.
type rankingEntry struct {
	market kis.Market
	name   string
	stock  kis.RankedStock
}

func buildRankingMap(rankings *kis.Rankings) map[string]rankingEntry {
	idx := make(map[string]rankingEntry)
	if rankings == nil || rankings.Volume == nil {
		return idx
	}
	for _, s := range rankings.Volume.KOSPI {
		idx[s.Code] = rankingEntry{market: kis.MarketKOSPI, name: s.Name, stock: s}
	}
	for _, s := range rankings.Volume.KOSDAQ {
		idx[s.Code] = rankingEntry{market: kis.MarketKOSDAQ, name: s.Name, stock: s}
	}
	return idx
}

// Normalize flattens every collected detail into a canonical record.
func (n *Normalizer) Normalize(rankings *kis.Rankings, details []*kis.StockDetail, collectedAt time.Time) *Output {
	rankingIdx := buildRankingMap(rankings)

	stocks := make(map[string]*CanonicalRecord, len(details))
	for _, detail := range details {
		stocks[detail.StockCode] = n.normalizeOne(detail, rankingIdx)
	}

	n.logger.WithField("total_stocks", len(stocks)).Info("normalization complete")

	return &Output{
		Meta: OutputMeta{
			FormatVersion:       "2.0",
			OriginalCollectedAt: collectedAt,
			TransformedAt:       time.Now().In(marketcal.KST),
			TotalStocks:         len(stocks),
			DataSource:          "한국투자증권 OpenAPI",
		},
		Stocks: stocks,
	}
}

func (n *Normalizer) normalizeOne(detail *kis.StockDetail, rankingIdx map[string]rankingEntry) *CanonicalRecord {
	rec := &CanonicalRecord{
		Code:   detail.StockCode,
		Market: "UNKNOWN",
	}

	entry, ranked := rankingIdx[detail.StockCode]
	if ranked {
		rec.Market = entry.market
		rec.Name = entry.name
		rank := entry.stock.Rank
		volume := entry.stock.Volume
		volumeRate := entry.stock.VolumeRate
		tradingValue := entry.stock.TradingValue
		rec.Ranking = RankingInfo{
			VolumeRank:       &rank,
			Volume:           &volume,
			VolumeRateVsPrev: &volumeRate,
			TradingValue:     &tradingValue,
		}
	}
	rec.Ranking.Description = "거래량 기준 시장 내 순위 (1=최다 거래량)"

	if rec.Name == "" {
		rec.Name = detail.StockName
	}

	if cp := detail.CurrentPrice; cp != nil {
		rec.Price = PriceInfo{
			Current:       cp.Price,
			Change:        cp.ChangePrice,
			ChangeRatePct: cp.ChangeRate,
			Open:          cp.Open,
			High:          cp.High,
			Low:           cp.Low,
			PrevClose:     cp.PrevClose,
			High52w:       cp.High52w,
			Low52w:        cp.Low52w,
		}
		rec.Trading = TradingInfo{
			Volume:            cp.Volume,
			TradingValue:      cp.TradingValue,
			VolumeTurnoverPct: cp.VolumeTurnover,
		}
		rec.MarketInfo = MarketInfo{
			MarketCapBillion:  cp.MarketCap,
			SharesOutstanding: cp.SharesOutstanding,
			ForeignHoldingPct: cp.ForeignRatio,
		}
		rec.Valuation = Valuation{
			PER: cp.PER,
			PBR: cp.PBR,
			EPS: cp.EPS,
			BPS: cp.BPS,
		}
	}

	rec.OrderBook = transformOrderBook(detail.AskingPrice)
	rec.InvestorFlow = transformInvestorFlow(detail.InvestorTrend, detail.InvestorEstimate)
	rec.ForeignInstitution = transformForeignInstitution(detail.FlowSummary)
	rec.PriceHistory = transformPriceHistory(detail.DailyChart)

	rec.Fundamental = BuildFundamental(detail.FinancialRatio, detail.IncomeStatement)
	if rec.Fundamental != nil && detail.CurrentPrice != nil {
		rec.Valuation.PEG = indicator.PEG(detail.CurrentPrice.PER, rec.Fundamental.EPSGrowthRate)
	}

	return rec
}

func transformOrderBook(ap *kis.AskingPrice) *OrderBook {
	if ap == nil {
		return nil
	}

	ob := &OrderBook{
		TotalAskVolume: ap.TotalAskVolume,
		TotalBidVolume: ap.TotalBidVolume,
		Description:    "bid_ask_ratio > 100: 매수세 우위, < 100: 매도세 우위",
	}
	if ap.TotalAskVolume > 0 {
		ratio := round2(float64(ap.TotalBidVolume) / float64(ap.TotalAskVolume) * 100)
		ob.BidAskRatio = &ratio
	}
	if len(ap.Asks) > 0 {
		ask := ap.Asks[0]
		ob.BestAsk = &ask
	}
	if len(ap.Bids) > 0 {
		bid := ap.Bids[0]
		ob.BestBid = &bid
	}
	return ob
}

func transformInvestorFlow(trend *kis.InvestorTrend, est *kis.InvestorEstimate) *InvestorFlow {
	if trend == nil || len(trend.Daily) == 0 {
		return nil
	}

	recent := trend.Daily
	if len(recent) > 5 {
		recent = recent[:5]
	}

	flow := &InvestorFlow{
		Description: "양수=순매수, 음수=순매도. foreign=외국인, institution=기관, individual=개인",
	}

	var sum FlowSums
	for _, day := range recent {
		sum.ForeignNet += day.ForeignNet
		sum.InstitutionNet += day.InstitutionNet
		sum.IndividualNet += day.IndividualNet
		flow.DailyTrend = append(flow.DailyTrend, toFlowDay(day))
	}
	flow.Sum5Days = sum

	today := recent[0]
	if est != nil && est.IsEstimated {
		// 장중 추정치로 당일 행을 대체. 개인은 추정 불가.
		foreign, inst := est.ForeignNet, est.InstitutionNet
		flow.Today = FlowDay{
			Date:           today.Date,
			ForeignNet:     &foreign,
			InstitutionNet: &inst,
		}
		flow.IsEstimated = true
	} else {
		flow.Today = toFlowDay(today)
	}

	return flow
}

func toFlowDay(day kis.InvestorDay) FlowDay {
	foreign, inst, indiv := day.ForeignNet, day.InstitutionNet, day.IndividualNet
	return FlowDay{
		Date:           day.Date,
		ForeignNet:     &foreign,
		InstitutionNet: &inst,
		IndividualNet:  &indiv,
	}
}

func transformForeignInstitution(summary *kis.FlowSummary) *ForeignInstitution {
	if summary == nil {
		return nil
	}
	return &ForeignInstitution{
		Today:       toFlowDay(summary.Today),
		Sum5Days:    FlowSums(summary.Sum5d),
		Sum20Days:   FlowSums(summary.Sum20d),
		Description: "양수=순매수, 음수=순매도. 5일/20일 누적 합계",
	}
}

// ChronologicalCloses converts newest-first candles to an oldest-first close
// series for indicator math. Zero closes are dropped.
func ChronologicalCloses(candles []kis.OHLCV) []float64 {
	closes := make([]float64, 0, len(candles))
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].Close > 0 {
			closes = append(closes, float64(candles[i].Close))
		}
	}
	return closes
}

func transformPriceHistory(chart *kis.DailyChart) *PriceHistory {
	if chart == nil || len(chart.Candles) == 0 {
		return nil
	}

	// RSI는 표시 구간이 아니라 전체 이력으로 계산한다.
	rsi := indicator.RSI(ChronologicalCloses(chart.Candles), 14)

	recent := chart.Candles
	if len(recent) > 20 {
		recent = recent[:20]
	}

	history := &PriceHistory{Count: len(recent), RSI14: rsi}
	for _, c := range recent {
		history.Days = append(history.Days, HistoryDay{
			Date:   c.Date,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	return history
}
