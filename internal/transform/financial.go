package transform

import (
	"math"

	"github.com/wonny/kisradar/internal/external/kis"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// financialPeriod is one fiscal period after merging 재무비율 and 손익계산서
// rows on the 결산년월 key. Either side may be missing.
type financialPeriod struct {
	Period          string
	ROE             float64
	EPS             float64
	BPS             float64
	DebtRatio       float64
	SalesGrowth     float64
	OpProfitGrowth  float64
	Sales           int64
	OperatingProfit int64
	NetIncome       int64
}

// mergeFinancials joins ratio and income rows by fiscal period, keeping the
// ratio side's ordering (newest-first). Income-only periods are appended.
func mergeFinancials(ratios []kis.FinancialRatioRow, income []kis.IncomeRow) []financialPeriod {
	incomeByPeriod := make(map[string]kis.IncomeRow, len(income))
	for _, row := range income {
		incomeByPeriod[row.Period] = row
	}

	var merged []financialPeriod
	seen := make(map[string]struct{})

	for _, r := range ratios {
		p := financialPeriod{
			Period:         r.Period,
			ROE:            r.ROE,
			EPS:            r.EPS,
			BPS:            r.BPS,
			DebtRatio:      r.DebtRatio,
			SalesGrowth:    r.SalesGrowth,
			OpProfitGrowth: r.OpProfitGrowth,
		}
		if inc, ok := incomeByPeriod[r.Period]; ok {
			p.Sales = inc.Sales
			p.OperatingProfit = inc.OperatingProfit
			p.NetIncome = inc.NetIncome
		}
		merged = append(merged, p)
		seen[r.Period] = struct{}{}
	}

	for _, inc := range income {
		if _, ok := seen[inc.Period]; ok {
			continue
		}
		merged = append(merged, financialPeriod{
			Period:          inc.Period,
			Sales:           inc.Sales,
			OperatingProfit: inc.OperatingProfit,
			NetIncome:       inc.NetIncome,
		})
	}

	return merged
}

// hasData reports whether the period carries any usable signal.
func (p financialPeriod) hasData() bool {
	return p.ROE != 0 || p.EPS != 0 || p.Sales != 0
}

// BuildFundamental derives the fundamental slice from merged statements.
// Returns nil when no period carries data or every derived field is nil.
func BuildFundamental(ratios []kis.FinancialRatioRow, income []kis.IncomeRow) *Fundamental {
	periods := mergeFinancials(ratios, income)
	if len(periods) == 0 {
		return nil
	}

	// 유효한 최신 결산기 탐색
	latestIdx := -1
	for i, p := range periods {
		if p.hasData() {
			latestIdx = i
			break
		}
	}
	if latestIdx < 0 {
		return nil
	}
	latest := periods[latestIdx]

	f := &Fundamental{LatestPeriod: latest.Period}

	if latest.ROE != 0 {
		roe := latest.ROE
		f.ROE = &roe
	}
	if latest.Sales != 0 {
		opm := round2(float64(latest.OperatingProfit) / float64(latest.Sales) * 100)
		f.OPM = &opm
	}
	if latest.DebtRatio != 0 {
		dr := latest.DebtRatio
		f.DebtRatio = &dr
	}
	if latest.SalesGrowth != 0 {
		sg := latest.SalesGrowth
		f.SalesGrowth = &sg
	}
	if latest.OpProfitGrowth != 0 {
		og := latest.OpProfitGrowth
		f.OpProfitGrowth = &og
	}

	// EPS 성장률 (YoY): 다음 유효 결산기 대비
	for _, prev := range periods[latestIdx+1:] {
		if !prev.hasData() {
			continue
		}
		if prev.EPS != 0 {
			growth := round2((latest.EPS - prev.EPS) / math.Abs(prev.EPS) * 100)
			f.EPSGrowthRate = &growth
		}
		break
	}

	if f.ROE == nil && f.OPM == nil && f.DebtRatio == nil &&
		f.EPSGrowthRate == nil && f.SalesGrowth == nil && f.OpProfitGrowth == nil {
		return nil
	}

	return f
}
