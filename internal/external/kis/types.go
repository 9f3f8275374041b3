package kis

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Market identifies a Korean exchange board.
type Market string

const (
	MarketAll    Market = "ALL"
	MarketKOSPI  Market = "KOSPI"
	MarketKOSDAQ Market = "KOSDAQ"
)

// marketCodes maps a board to the FID_INPUT_ISCD market code.
// "0000" (전종목) exists upstream but is unreliable, so it is never used;
// ALL queries KOSPI and KOSDAQ separately and merges.
var marketCodes = map[Market]string{
	MarketKOSPI:  "0001",
	MarketKOSDAQ: "1001",
}

// Envelope is the common KIS response wrapper.
// status_code("rt_cd") == "0" signals success; payload arrives in one of
// output / output1 / output2 depending on the operation.
type Envelope struct {
	RtCd    string          `json:"rt_cd"`
	MsgCd   string          `json:"msg_cd"`
	Msg1    string          `json:"msg1"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
	Output2 json.RawMessage `json:"output2"`
}

// OK reports envelope-level success.
func (e *Envelope) OK() bool {
	return e.RtCd == "0"
}

// Facet names used as keys for per-facet error markers.
const (
	FacetCurrentPrice     = "current_price"
	FacetAskingPrice      = "asking_price"
	FacetInvestorTrend    = "investor_trend"
	FacetMemberTrading    = "member_trading"
	FacetDailyPrice       = "daily_price"
	FacetDailyChart       = "daily_chart"
	FacetFinancialRatio   = "financial_ratio"
	FacetIncomeStatement  = "income_statement"
	FacetProgramTrading   = "program_trading"
	FacetInvestorEstimate = "investor_trend_estimate"
)

// RankedStock is one entry of a reconstructed market ranking.
type RankedStock struct {
	Rank         int     `json:"rank"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Market       Market  `json:"market"`
	Price        int64   `json:"current_price"`
	ChangePrice  int64   `json:"change_price"`
	ChangeRate   float64 `json:"change_rate"`
	Volume       int64   `json:"volume"`
	VolumeRate   float64 `json:"volume_rate"`
	TradingValue int64   `json:"trading_value"`
	IsETF        bool    `json:"is_etf"`
	Direction    string  `json:"direction,omitempty"` // UP/DOWN, 등락률 순위에서만
}

// OHLCV is one trading session. Wire order is newest-first; conversion to
// chronological order for indicator math is always explicit.
type OHLCV struct {
	Date         string  `json:"date"` // YYYYMMDD
	Open         int64   `json:"open"`
	High         int64   `json:"high"`
	Low          int64   `json:"low"`
	Close        int64   `json:"close"`
	Volume       int64   `json:"volume"`
	TradingValue int64   `json:"trading_value"`
	ChangeRate   float64 `json:"change_rate"`
}

// CurrentPrice is the 주식현재가 시세 facet.
type CurrentPrice struct {
	StockCode         string  `json:"stock_code"`
	StockName         string  `json:"stock_name"`
	Price             int64   `json:"current_price"`
	ChangePrice       int64   `json:"change_price"`
	ChangeRate        float64 `json:"change_rate"`
	ChangeSign        string  `json:"change_sign"` // 1:상승 2:하락 3:보합
	Open              int64   `json:"open_price"`
	High              int64   `json:"high_price"`
	Low               int64   `json:"low_price"`
	PrevClose         int64   `json:"prev_close"`
	Volume            int64   `json:"volume"`
	TradingValue      int64   `json:"trading_value"`
	High52w           int64   `json:"high_52week"`
	Low52w            int64   `json:"low_52week"`
	PER               float64 `json:"per"`
	PBR               float64 `json:"pbr"`
	EPS               float64 `json:"eps"`
	BPS               float64 `json:"bps"`
	MarketCap         int64   `json:"market_cap"` // 억원
	SharesOutstanding int64   `json:"shares_outstanding"`
	ForeignRatio      float64 `json:"foreign_ratio"`
	VolumeTurnover    float64 `json:"volume_turnover"`
}

// PriceLevel is one order book level.
type PriceLevel struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
}

// AskingPrice is the 호가/예상체결 facet (10 levels each side).
type AskingPrice struct {
	Asks               []PriceLevel `json:"ask_prices"`
	Bids               []PriceLevel `json:"bid_prices"`
	TotalAskVolume     int64        `json:"total_ask_volume"`
	TotalBidVolume     int64        `json:"total_bid_volume"`
	ExpectedPrice      int64        `json:"expected_price"`
	ExpectedVolume     int64        `json:"expected_volume"`
	ExpectedChangeRate float64      `json:"expected_change_rate"`
}

// InvestorDay is one session of investor net flows.
type InvestorDay struct {
	Date           string  `json:"date"`
	ClosePrice     int64   `json:"close_price"`
	ChangeRate     float64 `json:"change_rate"`
	ForeignNet     int64   `json:"foreign_net"`
	InstitutionNet int64   `json:"institution_net"`
	IndividualNet  int64   `json:"individual_net"`
}

// InvestorTrend is the 투자자 동향 facet (최근 30일, newest-first).
type InvestorTrend struct {
	Daily []InvestorDay `json:"daily_investor_trend"`
}

// InvestorEstimate is the intraday 외인/기관 추정 집계 facet.
// Only available during market hours; values are gateway estimates.
type InvestorEstimate struct {
	ForeignNet     int64  `json:"foreign_net"`
	InstitutionNet int64  `json:"institution_net"`
	AsOf           string `json:"as_of"` // HHMM bucket
	IsEstimated    bool   `json:"is_estimated"`
}

// MemberPosition is one broker's buy or sell position.
type MemberPosition struct {
	MemberName string  `json:"member_name"`
	Volume     int64   `json:"volume"`
	Ratio      float64 `json:"ratio"`
}

// MemberTrading is the 회원사 매매현황 facet (상위 5개사).
type MemberTrading struct {
	SellMembers     []MemberPosition `json:"sell_members"`
	BuyMembers      []MemberPosition `json:"buy_members"`
	GlobalSellTotal int64            `json:"global_sell_total"`
	GlobalBuyTotal  int64            `json:"global_buy_total"`
	GlobalNet       int64            `json:"global_net"`
}

// DailyChart is the 기간별 시세 facet.
type DailyChart struct {
	StockName string  `json:"stock_name"`
	Period    string  `json:"period"`
	Candles   []OHLCV `json:"ohlcv"` // newest-first
}

// FinancialRatioRow is one fiscal period of the 재무비율 facet.
type FinancialRatioRow struct {
	Period         string  `json:"period"` // 결산년월 (stac_yymm)
	ROE            float64 `json:"roe"`
	EPS            float64 `json:"eps"`
	BPS            float64 `json:"bps"`
	DebtRatio      float64 `json:"debt_ratio"`
	SalesGrowth    float64 `json:"sales_growth"`
	OpProfitGrowth float64 `json:"op_profit_growth"`
}

// IncomeRow is one fiscal period of the 손익계산서 facet.
type IncomeRow struct {
	Period          string `json:"period"`
	Sales           int64  `json:"sales"`
	OperatingProfit int64  `json:"operating_profit"`
	NetIncome       int64  `json:"net_income"`
}

// ProgramInterval is one reported interval of program trading.
type ProgramInterval struct {
	Time       string `json:"time"` // HHMMSS
	BuyVolume  int64  `json:"buy_volume"`
	SellVolume int64  `json:"sell_volume"`
	NetVolume  int64  `json:"net_volume"`
}

// ProgramTrading is the 프로그램매매추이 facet.
type ProgramTrading struct {
	Intervals []ProgramInterval `json:"program_trading"`
}

// FlowSum aggregates investor net flows over a window.
type FlowSum struct {
	ForeignNet     int64 `json:"foreign_net"`
	InstitutionNet int64 `json:"institution_net"`
	IndividualNet  int64 `json:"individual_net"`
}

// FlowSummary is derived from InvestorTrend (no extra API call).
type FlowSummary struct {
	Today  InvestorDay `json:"today"`
	Sum5d  FlowSum     `json:"summary_5d"`
	Sum20d FlowSum     `json:"summary_20d"`
}

// StockDetail aggregates every facet for one instrument. A facet that
// failed is nil here with its message recorded in FacetErrors; the detail
// as a whole is always returned.
type StockDetail struct {
	StockCode   string    `json:"stock_code"`
	StockName   string    `json:"stock_name,omitempty"`
	CollectedAt time.Time `json:"collected_at"`

	CurrentPrice     *CurrentPrice       `json:"current_price,omitempty"`
	AskingPrice      *AskingPrice        `json:"asking_price,omitempty"`
	InvestorTrend    *InvestorTrend      `json:"investor_trend,omitempty"`
	InvestorEstimate *InvestorEstimate   `json:"investor_trend_estimate,omitempty"`
	MemberTrading    *MemberTrading      `json:"member_trading,omitempty"`
	DailyPrices      []OHLCV             `json:"daily_prices,omitempty"`
	DailyChart       *DailyChart         `json:"daily_chart,omitempty"`
	FinancialRatio   []FinancialRatioRow `json:"financial_ratio,omitempty"`
	IncomeStatement  []IncomeRow         `json:"income_statement,omitempty"`
	ProgramTrading   *ProgramTrading     `json:"program_trading,omitempty"`
	FlowSummary      *FlowSummary        `json:"foreign_institution_summary,omitempty"`

	FacetErrors map[string]string `json:"facet_errors,omitempty"`
}

// ErrCount returns the number of failed facets.
func (d *StockDetail) ErrCount() int {
	return len(d.FacetErrors)
}

// parseInt converts KIS numeric strings, tolerating empty values.
// 빈 문자열/결측은 0으로 처리한다.
func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some fields arrive as "123.00"
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return v
}

// parseFloat converts KIS numeric strings, tolerating empty values.
func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
