// Package criteria evaluates collected instruments against seven
// independent screening rules.
//
// 기준:
//  1. 전고점 돌파
//  2. 끼 보유 (급등 이력)
//  3. 심리적 저항선 돌파
//  4. 이동평균선 정배열
//  5. 외국인/기관 수급
//  6. 프로그램 매매
//  7. 거래대금 TOP30
package criteria

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wonny/kisradar/internal/external/kis"
	"github.com/wonny/kisradar/pkg/logger"
)

// tickBoundaries are 호가 단위 경계 prices treated as psychological
// resistance.
var tickBoundaries = []int64{
	1000, 2000, 3000, 4000, 5000,
	10000, 20000, 30000, 40000, 50000,
	100000, 200000, 300000, 400000, 500000,
	1000000,
}

// roundLevels are round-number 매물대 prices.
var roundLevels = []int64{
	1000, 2000, 3000, 5000,
	10000, 20000, 30000, 50000,
	100000, 150000, 200000, 250000, 300000, 400000, 500000,
	600000, 700000, 800000, 900000, 1000000,
}

// maPeriods for the alignment rule, short to long.
var maPeriods = []int{5, 10, 20, 60, 120}

// Check is the base outcome of one rule.
type Check struct {
	Met    bool   `json:"met"`
	Reason string `json:"reason"`
}

// HighBreakout is rule 1 with the 52-week marker.
type HighBreakout struct {
	Check
	Is52wHigh bool `json:"is_52w_high"`
}

// MomentumHistory is rule 2 with its component flags.
type MomentumHistory struct {
	Check
	HadLimitUp   bool `json:"had_limit_up"`
	Had15PctRise bool `json:"had_15pct_rise"`
}

// MAAlignment is rule 4 with the computed averages (nil when the series is
// too short for a period).
type MAAlignment struct {
	Check
	MAValues map[string]*float64 `json:"ma_values,omitempty"`
}

// Result is one instrument's evaluation across all rules.
type Result struct {
	HighBreakout       HighBreakout    `json:"high_breakout"`
	MomentumHistory    MomentumHistory `json:"momentum_history"`
	ResistanceBreakout Check           `json:"resistance_breakout"`
	MAAlignment        MAAlignment     `json:"ma_alignment"`
	SupplyDemand       Check           `json:"supply_demand"`
	ProgramTrading     Check           `json:"program_trading"`
	Top30TradingValue  Check           `json:"top30_trading_value"`
	AllMet             bool            `json:"all_met"`
}

// Evaluator scores instruments against the seven rules.
// ⭐ SSOT: 선정 기준 판정은 여기서만
type Evaluator struct {
	logger     *logger.Logger
	top30Codes map[string]struct{}
}

// NewEvaluator builds an evaluator. The trading-value top-30 set is derived
// from KOSPI and KOSDAQ volume rankings combined.
func NewEvaluator(rankings *kis.Rankings, log *logger.Logger) *Evaluator {
	return &Evaluator{
		logger:     log,
		top30Codes: buildTop30Set(rankings),
	}
}

func buildTop30Set(rankings *kis.Rankings) map[string]struct{} {
	set := make(map[string]struct{})
	if rankings == nil || rankings.Volume == nil {
		return set
	}

	all := append([]kis.RankedStock{}, rankings.Volume.KOSPI...)
	all = append(all, rankings.Volume.KOSDAQ...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].TradingValue > all[j].TradingValue
	})

	for i, s := range all {
		if i >= 30 {
			break
		}
		set[s.Code] = struct{}{}
	}
	return set
}

// comma formats integers with thousands separators for reason strings.
func comma(v int64) string {
	s := fmt.Sprintf("%d", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func signedComma(v int64) string {
	if v >= 0 {
		return "+" + comma(v)
	}
	return comma(v)
}

// CheckHighBreakout: 6개월(120영업일) 고가 또는 52주 신고가 돌파.
// candles는 최신순.
func CheckHighBreakout(currentPrice int64, candles []kis.OHLCV, high52w int64) HighBreakout {
	if currentPrice <= 0 {
		return HighBreakout{Check: Check{Reason: "현재가 데이터 없음"}}
	}

	var sixMoHigh int64
	for i, c := range candles {
		if i >= 120 {
			break
		}
		if c.High > sixMoHigh {
			sixMoHigh = c.High
		}
	}

	if high52w > 0 && currentPrice >= high52w {
		return HighBreakout{
			Check: Check{
				Met:    true,
				Reason: fmt.Sprintf("52주 신고가 돌파 (현재가 %s >= 52주고가 %s)", comma(currentPrice), comma(high52w)),
			},
			Is52wHigh: true,
		}
	}

	if sixMoHigh > 0 && currentPrice >= sixMoHigh {
		return HighBreakout{
			Check: Check{
				Met:    true,
				Reason: fmt.Sprintf("6개월 고점 돌파 (현재가 %s >= 6개월고가 %s)", comma(currentPrice), comma(sixMoHigh)),
			},
		}
	}

	return HighBreakout{
		Check: Check{
			Reason: fmt.Sprintf("미돌파 (현재가 %s, 6개월고가 %s, 52주고가 %s)",
				comma(currentPrice), comma(sixMoHigh), comma(high52w)),
		},
	}
}

// CheckMomentumHistory: 과거 상한가(>=29%) 또는 급등(>=15%) 이력.
func CheckMomentumHistory(candles []kis.OHLCV) MomentumHistory {
	var hadLimitUp, had15Pct bool

	for _, c := range candles {
		cr := c.ChangeRate
		// change_rate가 0으로 들어오면 시가/종가로 직접 계산
		if cr == 0 && c.Close > 0 && c.Open > 0 {
			cr = float64(c.Close-c.Open) / float64(c.Open) * 100
		}
		if cr >= 29 {
			hadLimitUp = true
		}
		if cr >= 15 {
			had15Pct = true
		}
	}

	var reasons []string
	if hadLimitUp {
		reasons = append(reasons, "상한가 이력 있음(>=29%)")
	}
	if had15Pct {
		reasons = append(reasons, "급등 이력 있음(>=15%)")
	}
	reason := "급등 이력 없음"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, ", ")
	}

	return MomentumHistory{
		Check:        Check{Met: hadLimitUp || had15Pct, Reason: reason},
		HadLimitUp:   hadLimitUp,
		Had15PctRise: had15Pct,
	}
}

// CheckResistanceBreakout: 전일종가 < 경계 <= 현재가인 경계가 존재하면 돌파.
func CheckResistanceBreakout(currentPrice, prevClose int64) Check {
	if currentPrice <= 0 || prevClose <= 0 || currentPrice <= prevClose {
		return Check{Reason: "하락 또는 데이터 없음"}
	}

	levelSet := make(map[int64]struct{})
	for _, b := range tickBoundaries {
		levelSet[b] = struct{}{}
	}
	for _, b := range roundLevels {
		levelSet[b] = struct{}{}
	}
	levels := make([]int64, 0, len(levelSet))
	for b := range levelSet {
		levels = append(levels, b)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	var broken []int64
	for _, boundary := range levels {
		if prevClose < boundary && boundary <= currentPrice {
			broken = append(broken, boundary)
		}
	}

	if len(broken) > 0 {
		show := broken
		if len(show) > 3 {
			show = show[:3]
		}
		parts := make([]string, len(show))
		for i, b := range show {
			parts[i] = comma(b)
		}
		return Check{
			Met: true,
			Reason: fmt.Sprintf("저항선 돌파: %s (전일 %s → 현재 %s)",
				strings.Join(parts, ", "), comma(prevClose), comma(currentPrice)),
		}
	}

	return Check{
		Reason: fmt.Sprintf("돌파 없음 (전일 %s → 현재 %s)", comma(prevClose), comma(currentPrice)),
	}
}

// CheckMAAlignment: 현재가 > MA5 > MA10 > MA20 > MA60 > MA120.
// candles는 최신순이므로 역순으로 종가를 추출한다.
func CheckMAAlignment(currentPrice int64, candles []kis.OHLCV) MAAlignment {
	if currentPrice <= 0 {
		return MAAlignment{Check: Check{Reason: "현재가 데이터 없음"}}
	}

	var closes []float64
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].Close > 0 {
			closes = append(closes, float64(candles[i].Close))
		}
	}

	sma := func(period int) *float64 {
		if len(closes) < period {
			return nil
		}
		var sum float64
		for _, v := range closes[len(closes)-period:] {
			sum += v
		}
		v := sum / float64(period)
		return &v
	}

	maValues := make(map[string]*float64, len(maPeriods))
	var missing []string
	for _, p := range maPeriods {
		key := fmt.Sprintf("MA%d", p)
		maValues[key] = sma(p)
		if maValues[key] == nil {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return MAAlignment{
			Check: Check{
				Reason: fmt.Sprintf("데이터 부족 (%s 계산 불가, %d일)", strings.Join(missing, ", "), len(closes)),
			},
			MAValues: maValues,
		}
	}

	vals := []float64{float64(currentPrice)}
	for _, p := range maPeriods {
		vals = append(vals, *maValues[fmt.Sprintf("MA%d", p)])
	}
	aligned := true
	for i := 0; i < len(vals)-1; i++ {
		if vals[i] <= vals[i+1] {
			aligned = false
			break
		}
	}

	if aligned {
		names := make([]string, len(maPeriods))
		for i, p := range maPeriods {
			names[i] = fmt.Sprintf("MA%d", p)
		}
		return MAAlignment{
			Check: Check{
				Met:    true,
				Reason: fmt.Sprintf("정배열 확인 (현재가>%s)", strings.Join(names, ">")),
			},
			MAValues: maValues,
		}
	}

	return MAAlignment{
		Check:    Check{Reason: "정배열 아님"},
		MAValues: maValues,
	}
}

// CheckSupplyDemand: 외국인/기관 동시 순매수.
func CheckSupplyDemand(foreignNet, institutionNet int64) Check {
	foreignBuy := foreignNet > 0
	institutionBuy := institutionNet > 0

	label := func(buy bool) string {
		if buy {
			return "순매수"
		}
		return "순매도"
	}

	return Check{
		Met: foreignBuy && institutionBuy,
		Reason: fmt.Sprintf("외국인 %s(%s), 기관 %s(%s)",
			label(foreignBuy), signedComma(foreignNet),
			label(institutionBuy), signedComma(institutionNet)),
	}
}

// CheckProgramTrading: 프로그램 순매수량 합계가 양수.
func CheckProgramTrading(netVolume int64) Check {
	return Check{
		Met:    netVolume > 0,
		Reason: fmt.Sprintf("프로그램 순매수량: %s", signedComma(netVolume)),
	}
}

// checkTop30TradingValue: 거래대금 TOP30 포함 여부.
func (e *Evaluator) checkTop30TradingValue(code string) Check {
	if _, ok := e.top30Codes[code]; ok {
		return Check{Met: true, Reason: "거래대금 TOP30"}
	}
	return Check{Reason: "TOP30 아님"}
}

// Evaluate scores one instrument. Every rule is independent: missing facets
// fail their rule with a reason, never panic.
func (e *Evaluator) Evaluate(detail *kis.StockDetail) Result {
	var (
		currentPrice int64
		high52w      int64
		prevClose    int64
	)
	if cp := detail.CurrentPrice; cp != nil {
		currentPrice = cp.Price
		high52w = cp.High52w
		prevClose = cp.PrevClose
	}

	var candles []kis.OHLCV
	if detail.DailyChart != nil {
		candles = detail.DailyChart.Candles
	}

	// 외국인/기관 수급: 장중 추정치 우선
	var foreignNet, institutionNet int64
	if est := detail.InvestorEstimate; est != nil && est.IsEstimated {
		foreignNet = est.ForeignNet
		institutionNet = est.InstitutionNet
	} else if trend := detail.InvestorTrend; trend != nil && len(trend.Daily) > 0 {
		foreignNet = trend.Daily[0].ForeignNet
		institutionNet = trend.Daily[0].InstitutionNet
	}

	var programNet int64
	if pt := detail.ProgramTrading; pt != nil {
		for _, iv := range pt.Intervals {
			programNet += iv.NetVolume
		}
	}

	result := Result{
		HighBreakout:       CheckHighBreakout(currentPrice, candles, high52w),
		MomentumHistory:    CheckMomentumHistory(candles),
		ResistanceBreakout: CheckResistanceBreakout(currentPrice, prevClose),
		MAAlignment:        CheckMAAlignment(currentPrice, candles),
		SupplyDemand:       CheckSupplyDemand(foreignNet, institutionNet),
		ProgramTrading:     CheckProgramTrading(programNet),
		Top30TradingValue:  e.checkTop30TradingValue(detail.StockCode),
	}

	result.AllMet = result.HighBreakout.Met &&
		result.MomentumHistory.Met &&
		result.ResistanceBreakout.Met &&
		result.MAAlignment.Met &&
		result.SupplyDemand.Met &&
		result.ProgramTrading.Met &&
		result.Top30TradingValue.Met

	return result
}

// EvaluateAll scores every instrument, keyed by stock code.
func (e *Evaluator) EvaluateAll(details []*kis.StockDetail) map[string]Result {
	results := make(map[string]Result, len(details))
	allMet := 0
	for _, d := range details {
		r := e.Evaluate(d)
		results[d.StockCode] = r
		if r.AllMet {
			allMet++
		}
	}

	e.logger.WithFields(map[string]interface{}{
		"total":   len(results),
		"all_met": allMet,
	}).Info("criteria evaluation complete")

	return results
}
