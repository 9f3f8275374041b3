package criteria

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kisradar/internal/external/kis"
	"github.com/wonny/kisradar/pkg/logger"
)

func TestCheckHighBreakout(t *testing.T) {
	candles := []kis.OHLCV{
		{Date: "20260828", High: 52000},
		{Date: "20260827", High: 55000},
		{Date: "20260826", High: 51000},
	}

	t.Run("52주 신고가", func(t *testing.T) {
		r := CheckHighBreakout(60000, candles, 59000)
		assert.True(t, r.Met)
		assert.True(t, r.Is52wHigh)
		assert.Contains(t, r.Reason, "52주 신고가 돌파")
	})

	t.Run("6개월 고점만 돌파", func(t *testing.T) {
		r := CheckHighBreakout(56000, candles, 79000)
		assert.True(t, r.Met)
		assert.False(t, r.Is52wHigh)
		assert.Contains(t, r.Reason, "6개월 고점 돌파")
	})

	t.Run("미돌파", func(t *testing.T) {
		r := CheckHighBreakout(54000, candles, 79000)
		assert.False(t, r.Met)
	})

	t.Run("현재가 없음", func(t *testing.T) {
		r := CheckHighBreakout(0, candles, 79000)
		assert.False(t, r.Met)
		assert.Equal(t, "현재가 데이터 없음", r.Reason)
	})
}

func TestCheckHighBreakoutLimitsTo120Sessions(t *testing.T) {
	// 121번째 캔들의 고점은 6개월 창 밖이다
	candles := make([]kis.OHLCV, 121)
	for i := range candles {
		candles[i].High = 10000
	}
	candles[120].High = 90000

	r := CheckHighBreakout(10500, candles, 0)
	assert.True(t, r.Met)
	assert.Contains(t, r.Reason, "6개월 고점 돌파")
}

func TestCheckMomentumHistory(t *testing.T) {
	t.Run("상한가 이력", func(t *testing.T) {
		r := CheckMomentumHistory([]kis.OHLCV{{ChangeRate: 29.8}, {ChangeRate: 1.2}})
		assert.True(t, r.Met)
		assert.True(t, r.HadLimitUp)
		assert.True(t, r.Had15PctRise)
		assert.Contains(t, r.Reason, "상한가 이력 있음(>=29%)")
	})

	t.Run("급등만", func(t *testing.T) {
		r := CheckMomentumHistory([]kis.OHLCV{{ChangeRate: 16.0}})
		assert.True(t, r.Met)
		assert.False(t, r.HadLimitUp)
		assert.Equal(t, "급등 이력 있음(>=15%)", r.Reason)
	})

	t.Run("등락률 결측이면 시가/종가로 재계산", func(t *testing.T) {
		r := CheckMomentumHistory([]kis.OHLCV{{Open: 10000, Close: 11600}})
		assert.True(t, r.Met)
		assert.True(t, r.Had15PctRise)
	})

	t.Run("이력 없음", func(t *testing.T) {
		r := CheckMomentumHistory([]kis.OHLCV{{ChangeRate: 3.2}, {ChangeRate: -2.0}})
		assert.False(t, r.Met)
		assert.Equal(t, "급등 이력 없음", r.Reason)
	})
}

func TestCheckResistanceBreakout(t *testing.T) {
	t.Run("경계 통과", func(t *testing.T) {
		r := CheckResistanceBreakout(10200, 9800)
		assert.True(t, r.Met)
		assert.Contains(t, r.Reason, "저항선 돌파: 10,000")
	})

	t.Run("경계 정확히 도달", func(t *testing.T) {
		// prev < boundary <= current: 50,000 도달도 돌파
		r := CheckResistanceBreakout(50000, 49500)
		assert.True(t, r.Met)
	})

	t.Run("전일종가가 경계 위", func(t *testing.T) {
		// 50,000은 이미 전일에 넘었으므로 비돌파
		r := CheckResistanceBreakout(51000, 50000)
		assert.False(t, r.Met)
		assert.Contains(t, r.Reason, "돌파 없음")
	})

	t.Run("복수 경계", func(t *testing.T) {
		r := CheckResistanceBreakout(260000, 190000)
		assert.True(t, r.Met)
		assert.Contains(t, r.Reason, "200,000")
		assert.Contains(t, r.Reason, "250,000")
	})

	t.Run("하락", func(t *testing.T) {
		r := CheckResistanceBreakout(9800, 10200)
		assert.False(t, r.Met)
		assert.Equal(t, "하락 또는 데이터 없음", r.Reason)
	})
}

// alignedCandles builds a newest-first monotonically rising series so that
// current > MA5 > MA10 > MA20 > MA60 > MA120 holds.
func alignedCandles(n int) []kis.OHLCV {
	candles := make([]kis.OHLCV, n)
	for i := range candles {
		candles[i] = kis.OHLCV{
			Date:  fmt.Sprintf("d%03d", i),
			Close: int64(10000 + (n-1-i)*100),
		}
	}
	return candles
}

func TestCheckMAAlignment(t *testing.T) {
	t.Run("정배열", func(t *testing.T) {
		candles := alignedCandles(130)
		current := candles[0].Close + 500
		r := CheckMAAlignment(current, candles)
		assert.True(t, r.Met)
		assert.Equal(t, "정배열 확인 (현재가>MA5>MA10>MA20>MA60>MA120)", r.Reason)
		require.NotNil(t, r.MAValues["MA120"])
		assert.Greater(t, *r.MAValues["MA5"], *r.MAValues["MA120"])
	})

	t.Run("데이터 부족", func(t *testing.T) {
		candles := alignedCandles(80)
		r := CheckMAAlignment(20000, candles)
		assert.False(t, r.Met)
		assert.Contains(t, r.Reason, "MA120")
		assert.Contains(t, r.Reason, "계산 불가")
		assert.Nil(t, r.MAValues["MA120"])
		require.NotNil(t, r.MAValues["MA60"])
	})

	t.Run("정배열 아님", func(t *testing.T) {
		// 하락 추세: 최신 종가가 가장 낮다
		candles := make([]kis.OHLCV, 130)
		for i := range candles {
			candles[i].Close = int64(10000 + i*100)
		}
		r := CheckMAAlignment(9000, candles)
		assert.False(t, r.Met)
		assert.Equal(t, "정배열 아님", r.Reason)
	})
}

func TestCheckSupplyDemand(t *testing.T) {
	t.Run("동시 순매수", func(t *testing.T) {
		r := CheckSupplyDemand(120000, 45000)
		assert.True(t, r.Met)
		assert.Equal(t, "외국인 순매수(+120,000), 기관 순매수(+45,000)", r.Reason)
	})

	t.Run("기관 순매도", func(t *testing.T) {
		r := CheckSupplyDemand(120000, -45000)
		assert.False(t, r.Met)
		assert.Equal(t, "외국인 순매수(+120,000), 기관 순매도(-45,000)", r.Reason)
	})

	t.Run("제로는 순매수 아님", func(t *testing.T) {
		r := CheckSupplyDemand(0, 45000)
		assert.False(t, r.Met)
	})
}

func TestCheckProgramTrading(t *testing.T) {
	assert.True(t, CheckProgramTrading(1).Met)
	assert.False(t, CheckProgramTrading(0).Met)
	assert.False(t, CheckProgramTrading(-500).Met)
	assert.Equal(t, "프로그램 순매수량: +12,345", CheckProgramTrading(12345).Reason)
}

// rankedByValue builds n ranked stocks whose trading value descends with rank.
func rankedByValue(market kis.Market, prefix string, n int, topValue int64) []kis.RankedStock {
	stocks := make([]kis.RankedStock, n)
	for i := range stocks {
		stocks[i] = kis.RankedStock{
			Rank:         i + 1,
			Code:         fmt.Sprintf("%s%03d", prefix, i),
			Market:       market,
			TradingValue: topValue - int64(i)*1_000_000_000,
		}
	}
	return stocks
}

func TestTop30CombinesBothMarketsByTradingValue(t *testing.T) {
	// KOSDAQ 10종목이 전부 KOSPI보다 거래대금이 크다
	rankings := &kis.Rankings{
		Volume: &kis.VolumeTop30{
			KOSPI:  rankedByValue(kis.MarketKOSPI, "100", 50, 500_000_000_000),
			KOSDAQ: rankedByValue(kis.MarketKOSDAQ, "200", 10, 600_000_000_000),
		},
	}
	e := NewEvaluator(rankings, logger.NewNop())

	require.Len(t, e.top30Codes, 30)

	// KOSDAQ 10종목 + KOSPI 상위 20종목
	assert.Contains(t, e.top30Codes, "200009")
	assert.Contains(t, e.top30Codes, "100019")
	assert.NotContains(t, e.top30Codes, "100020")

	assert.True(t, e.checkTop30TradingValue("200000").Met)
	assert.False(t, e.checkTop30TradingValue("999999").Met)
	assert.Equal(t, "TOP30 아님", e.checkTop30TradingValue("999999").Reason)
}

func TestEvaluateAllMet(t *testing.T) {
	candles := alignedCandles(130)
	candles[10].ChangeRate = 30.0 // 상한가 이력
	current := candles[0].Close + 8000 // 22,900 → 30,900: 30,000 저항선 돌파

	rankings := &kis.Rankings{
		Volume: &kis.VolumeTop30{
			KOSPI: []kis.RankedStock{{Rank: 1, Code: "005930", TradingValue: 1_000_000_000_000}},
		},
	}
	e := NewEvaluator(rankings, logger.NewNop())

	detail := &kis.StockDetail{
		StockCode: "005930",
		CurrentPrice: &kis.CurrentPrice{
			Price:     current,
			PrevClose: candles[0].Close,
			High52w:   current - 100,
		},
		DailyChart: &kis.DailyChart{Candles: candles},
		InvestorTrend: &kis.InvestorTrend{Daily: []kis.InvestorDay{
			{Date: "20260828", ForeignNet: 50000, InstitutionNet: 20000},
		}},
		ProgramTrading: &kis.ProgramTrading{Intervals: []kis.ProgramInterval{
			{NetVolume: 30000}, {NetVolume: -5000},
		}},
	}

	r := e.Evaluate(detail)
	assert.True(t, r.HighBreakout.Met, r.HighBreakout.Reason)
	assert.True(t, r.MomentumHistory.Met, r.MomentumHistory.Reason)
	assert.True(t, r.ResistanceBreakout.Met, r.ResistanceBreakout.Reason)
	assert.True(t, r.MAAlignment.Met, r.MAAlignment.Reason)
	assert.True(t, r.SupplyDemand.Met, r.SupplyDemand.Reason)
	assert.True(t, r.ProgramTrading.Met, r.ProgramTrading.Reason)
	assert.True(t, r.Top30TradingValue.Met, r.Top30TradingValue.Reason)
	assert.True(t, r.AllMet)
}

func TestEvaluatePrefersIntradayEstimate(t *testing.T) {
	e := NewEvaluator(nil, logger.NewNop())

	detail := &kis.StockDetail{
		StockCode: "000660",
		InvestorTrend: &kis.InvestorTrend{Daily: []kis.InvestorDay{
			{ForeignNet: -10000, InstitutionNet: -10000}, // 전일 확정치는 순매도
		}},
		InvestorEstimate: &kis.InvestorEstimate{
			ForeignNet: 8000, InstitutionNet: 4000, IsEstimated: true,
		},
	}

	r := e.Evaluate(detail)
	assert.True(t, r.SupplyDemand.Met, r.SupplyDemand.Reason)
}

func TestEvaluateMissingFacetsNeverPanics(t *testing.T) {
	e := NewEvaluator(nil, logger.NewNop())

	r := e.Evaluate(&kis.StockDetail{StockCode: "123456"})
	assert.False(t, r.AllMet)
	assert.Equal(t, "현재가 데이터 없음", r.HighBreakout.Reason)
	assert.Equal(t, "하락 또는 데이터 없음", r.ResistanceBreakout.Reason)
	assert.False(t, r.SupplyDemand.Met)
}

func TestEvaluateAll(t *testing.T) {
	e := NewEvaluator(nil, logger.NewNop())

	results := e.EvaluateAll([]*kis.StockDetail{
		{StockCode: "005930"},
		{StockCode: "000660"},
	})
	assert.Len(t, results, 2)
	assert.Contains(t, results, "005930")
}

func TestComma(t *testing.T) {
	assert.Equal(t, "0", comma(0))
	assert.Equal(t, "999", comma(999))
	assert.Equal(t, "1,000", comma(1000))
	assert.Equal(t, "1,234,567", comma(1234567))
	assert.Equal(t, "-12,345", comma(-12345))
	assert.Equal(t, "+500", signedComma(500))
	assert.Equal(t, "+0", signedComma(0))
	assert.Equal(t, "-1,000", signedComma(-1000))
}
