package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/kisradar/internal/marketcal"
	"github.com/wonny/kisradar/pkg/logger"
)

// DetailAPI fetches per-instrument facets. Facets are independent: one
// failure is recorded and the rest continue.
// ⭐ SSOT: 종목 상세 데이터는 이 API로만 수집
type DetailAPI struct {
	client  *Client
	logger  *logger.Logger
	limiter *rate.Limiter

	// sessionOpen decides the intraday estimate facet. Injectable for tests.
	sessionOpen func(time.Time) bool
	now         func() time.Time
}

// NewDetailAPI returns a detail fetcher pacing calls at the given interval.
// 계정 유량 제한(초당 20건)보다 훨씬 느리게 순차 호출한다.
func NewDetailAPI(client *Client, log *logger.Logger, pace time.Duration) *DetailAPI {
	if pace <= 0 {
		pace = 200 * time.Millisecond
	}
	return &DetailAPI{
		client:      client,
		logger:      log,
		limiter:     rate.NewLimiter(rate.Every(pace), 1),
		sessionOpen: marketcal.IsSessionOpen,
		now:         time.Now,
	}
}

// call paces and executes one facet request.
func (d *DetailAPI) call(ctx context.Context, path, trID string, params map[string]string) (*Envelope, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.client.Call(ctx, path, trID, params)
}

func stockParams(code string) map[string]string {
	return map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
	}
}

// CurrentPrice fetches the 주식현재가 시세 facet.
func (d *DetailAPI) CurrentPrice(ctx context.Context, code string) (*CurrentPrice, error) {
	env, err := d.call(ctx, "/uapi/domestic-stock/v1/quotations/inquire-price", "FHKST01010100", stockParams(code))
	if err != nil {
		return nil, err
	}

	var out struct {
		Name           string `json:"rprs_mrkt_kor_name"`
		Price          string `json:"stck_prpr"`
		ChangePrice    string `json:"prdy_vrss"`
		ChangeRate     string `json:"prdy_ctrt"`
		ChangeSign     string `json:"prdy_vrss_sign"`
		Open           string `json:"stck_oprc"`
		High           string `json:"stck_hgpr"`
		Low            string `json:"stck_lwpr"`
		PrevClose      string `json:"stck_sdpr"`
		Volume         string `json:"acml_vol"`
		TradingValue   string `json:"acml_tr_pbmn"`
		High52w        string `json:"stck_mxpr"`
		Low52w         string `json:"stck_llam"`
		PER            string `json:"per"`
		PBR            string `json:"pbr"`
		EPS            string `json:"eps"`
		BPS            string `json:"bps"`
		MarketCap      string `json:"hts_avls"`
		Shares         string `json:"lstn_stcn"`
		ForeignRatio   string `json:"hts_frgn_ehrt"`
		VolumeTurnover string `json:"vol_tnrt"`
	}
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return nil, fmt.Errorf("failed to decode current price: %w", err)
	}

	return &CurrentPrice{
		StockCode:         code,
		StockName:         out.Name,
		Price:             parseInt(out.Price),
		ChangePrice:       parseInt(out.ChangePrice),
		ChangeRate:        parseFloat(out.ChangeRate),
		ChangeSign:        out.ChangeSign,
		Open:              parseInt(out.Open),
		High:              parseInt(out.High),
		Low:               parseInt(out.Low),
		PrevClose:         parseInt(out.PrevClose),
		Volume:            parseInt(out.Volume),
		TradingValue:      parseInt(out.TradingValue),
		High52w:           parseInt(out.High52w),
		Low52w:            parseInt(out.Low52w),
		PER:               parseFloat(out.PER),
		PBR:               parseFloat(out.PBR),
		EPS:               parseFloat(out.EPS),
		BPS:               parseFloat(out.BPS),
		MarketCap:         parseInt(out.MarketCap),
		SharesOutstanding: parseInt(out.Shares),
		ForeignRatio:      parseFloat(out.ForeignRatio),
		VolumeTurnover:    parseFloat(out.VolumeTurnover),
	}, nil
}

// AskingPrice fetches the 호가/예상체결 facet (10 levels each side).
func (d *DetailAPI) AskingPrice(ctx context.Context, code string) (*AskingPrice, error) {
	env, err := d.call(ctx, "/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn", "FHKST01010200", stockParams(code))
	if err != nil {
		return nil, err
	}

	var out1 map[string]string
	if err := json.Unmarshal(env.Output1, &out1); err != nil {
		return nil, fmt.Errorf("failed to decode asking price: %w", err)
	}
	var out2 struct {
		ExpectedPrice      string `json:"antc_cnpr"`
		ExpectedVolume     string `json:"antc_vol"`
		ExpectedChangeRate string `json:"antc_cntg_prdy_ctrt"`
	}
	if len(env.Output2) > 0 {
		if err := json.Unmarshal(env.Output2, &out2); err != nil {
			return nil, fmt.Errorf("failed to decode expected conclusion: %w", err)
		}
	}

	ap := &AskingPrice{
		TotalAskVolume:     parseInt(out1["total_askp_rsqn"]),
		TotalBidVolume:     parseInt(out1["total_bidp_rsqn"]),
		ExpectedPrice:      parseInt(out2.ExpectedPrice),
		ExpectedVolume:     parseInt(out2.ExpectedVolume),
		ExpectedChangeRate: parseFloat(out2.ExpectedChangeRate),
	}
	for i := 1; i <= 10; i++ {
		ap.Asks = append(ap.Asks, PriceLevel{
			Price:  parseInt(out1[fmt.Sprintf("askp%d", i)]),
			Volume: parseInt(out1[fmt.Sprintf("askp_rsqn%d", i)]),
		})
		ap.Bids = append(ap.Bids, PriceLevel{
			Price:  parseInt(out1[fmt.Sprintf("bidp%d", i)]),
			Volume: parseInt(out1[fmt.Sprintf("bidp_rsqn%d", i)]),
		})
	}

	return ap, nil
}

// InvestorTrend fetches the daily investor flow facet (최근 30일).
func (d *DetailAPI) InvestorTrend(ctx context.Context, code string) (*InvestorTrend, error) {
	env, err := d.call(ctx, "/uapi/domestic-stock/v1/quotations/inquire-investor", "FHKST01010900", stockParams(code))
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Date          string `json:"stck_bsop_date"`
		Close         string `json:"stck_clpr"`
		ChangeRate    string `json:"prdy_ctrt"`
		ForeignNet    string `json:"frgn_ntby_qty"`
		OrganNet      string `json:"orgn_ntby_qty"`
		IndividualNet string `json:"prsn_ntby_qty"`
	}
	if err := json.Unmarshal(env.Output, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode investor trend: %w", err)
	}

	trend := &InvestorTrend{}
	for i, row := range rows {
		if i >= 30 {
			break
		}
		trend.Daily = append(trend.Daily, InvestorDay{
			Date:           row.Date,
			ClosePrice:     parseInt(row.Close),
			ChangeRate:     parseFloat(row.ChangeRate),
			ForeignNet:     parseInt(row.ForeignNet),
			InstitutionNet: parseInt(row.OrganNet),
			IndividualNet:  parseInt(row.IndividualNet),
		})
	}

	return trend, nil
}

// InvestorEstimate fetches the intraday 외인/기관 추정 집계. Only meaningful
// during the regular session; the caller gates on session state.
func (d *DetailAPI) InvestorEstimate(ctx context.Context, code string) (*InvestorEstimate, error) {
	params := map[string]string{
		"MKSC_SHRN_ISCD": code,
	}
	env, err := d.call(ctx, "/uapi/domestic-stock/v1/quotations/investor-trend-estimate", "HHPTJ04160200", params)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Time       string `json:"bsop_hour_gb"`
		ForeignNet string `json:"frgn_fake_ntby_qty"`
		OrganNet   string `json:"orgn_fake_ntby_qty"`
	}
	if len(env.Output2) > 0 {
		if err := json.Unmarshal(env.Output2, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode investor estimate: %w", err)
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no intraday estimate rows")
	}

	// 가장 최근 집계 구간 사용
	latest := rows[len(rows)-1]
	return &InvestorEstimate{
		ForeignNet:     parseInt(latest.ForeignNet),
		InstitutionNet: parseInt(latest.OrganNet),
		AsOf:           latest.Time,
		IsEstimated:    true,
	}, nil
}

// MemberTrading fetches the 회원사 매매현황 facet (상위 5개사씩).
func (d *DetailAPI) MemberTrading(ctx context.Context, code string) (*MemberTrading, error) {
	env, err := d.call(ctx, "/uapi/domestic-stock/v1/quotations/inquire-member", "FHKST01010600", stockParams(code))
	if err != nil {
		return nil, err
	}

	var out map[string]string
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return nil, fmt.Errorf("failed to decode member trading: %w", err)
	}

	mt := &MemberTrading{
		GlobalSellTotal: parseInt(out["glob_total_seln_qty"]),
		GlobalBuyTotal:  parseInt(out["glob_total_shnu_qty"]),
		GlobalNet:       parseInt(out["glob_ntby_qty"]),
	}
	for i := 1; i <= 5; i++ {
		if name := out[fmt.Sprintf("seln_mbcr_name%d", i)]; name != "" {
			mt.SellMembers = append(mt.SellMembers, MemberPosition{
				MemberName: name,
				Volume:     parseInt(out[fmt.Sprintf("total_seln_qty%d", i)]),
				Ratio:      parseFloat(out[fmt.Sprintf("seln_mbcr_rlim%d", i)]),
			})
		}
		if name := out[fmt.Sprintf("shnu_mbcr_name%d", i)]; name != "" {
			mt.BuyMembers = append(mt.BuyMembers, MemberPosition{
				MemberName: name,
				Volume:     parseInt(out[fmt.Sprintf("total_shnu_qty%d", i)]),
				Ratio:      parseFloat(out[fmt.Sprintf("shnu_mbcr_rlim%d", i)]),
			})
		}
	}

	return mt, nil
}

// rawOHLCV is the shared wire shape of daily price rows.
type rawOHLCV struct {
	Date         string `json:"stck_bsop_date"`
	Open         string `json:"stck_oprc"`
	High         string `json:"stck_hgpr"`
	Low          string `json:"stck_lwpr"`
	Close        string `json:"stck_clpr"`
	Volume       string `json:"acml_vol"`
	TradingValue string `json:"acml_tr_pbmn"`
	ChangeRate   string `json:"prdy_ctrt"`
}

func (r rawOHLCV) toOHLCV() OHLCV {
	return OHLCV{
		Date:         r.Date,
		Open:         parseInt(r.Open),
		High:         parseInt(r.High),
		Low:          parseInt(r.Low),
		Close:        parseInt(r.Close),
		Volume:       parseInt(r.Volume),
		TradingValue: parseInt(r.TradingValue),
		ChangeRate:   parseFloat(r.ChangeRate),
	}
}

// DailyPrices fetches the 일자별 시세 facet (newest-first, up to days rows).
func (d *DetailAPI) DailyPrices(ctx context.Context, code string, days int) ([]OHLCV, error) {
	params := stockParams(code)
	params["FID_PERIOD_DIV_CODE"] = "D"
	params["FID_ORG_ADJ_PRC"] = "0"

	env, err := d.call(ctx, "/uapi/domestic-stock/v1/quotations/inquire-daily-price", "FHKST01010400", params)
	if err != nil {
		return nil, err
	}

	var rows []rawOHLCV
	if err := json.Unmarshal(env.Output, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode daily prices: %w", err)
	}

	var out []OHLCV
	for i, row := range rows {
		if i >= days {
			break
		}
		out = append(out, row.toOHLCV())
	}
	return out, nil
}

// DailyChart fetches the 기간별 시세 facet over a calendar window.
// period is D/W/M/Y; candles arrive newest-first.
func (d *DetailAPI) DailyChart(ctx context.Context, code, period string, days int) (*DailyChart, error) {
	now := d.now()
	params := stockParams(code)
	params["FID_INPUT_DATE_1"] = marketcal.DaysAgo(now, days)
	params["FID_INPUT_DATE_2"] = marketcal.Today(now)
	params["FID_PERIOD_DIV_CODE"] = period
	params["FID_ORG_ADJ_PRC"] = "0"

	env, err := d.call(ctx, "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice", "FHKST03010100", params)
	if err != nil {
		return nil, err
	}

	var out1 struct {
		Name string `json:"hts_kor_isnm"`
	}
	if len(env.Output1) > 0 {
		if err := json.Unmarshal(env.Output1, &out1); err != nil {
			return nil, fmt.Errorf("failed to decode chart header: %w", err)
		}
	}
	var rows []rawOHLCV
	if len(env.Output2) > 0 {
		if err := json.Unmarshal(env.Output2, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode chart candles: %w", err)
		}
	}

	chart := &DailyChart{StockName: out1.Name, Period: period}
	for _, row := range rows {
		chart.Candles = append(chart.Candles, row.toOHLCV())
	}
	return chart, nil
}

// FinancialRatio fetches 재무비율 rows (최근 5개 결산기).
func (d *DetailAPI) FinancialRatio(ctx context.Context, code string) ([]FinancialRatioRow, error) {
	params := map[string]string{
		"FID_DIV_CLS_CODE":       "0",
		"fid_cond_mrkt_div_code": "J",
		"fid_input_iscd":         code,
	}
	env, err := d.call(ctx, "/uapi/domestic-stock/v1/finance/financial-ratio", "FHKST66430100", params)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Period         string `json:"stac_yymm"`
		ROE            string `json:"roe_val"`
		EPS            string `json:"eps"`
		BPS            string `json:"bps"`
		DebtRatio      string `json:"lblt_rate"`
		SalesGrowth    string `json:"grs"`
		OpProfitGrowth string `json:"bsop_prfi_inrt"`
	}
	if err := json.Unmarshal(env.Output, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode financial ratio: %w", err)
	}

	var out []FinancialRatioRow
	for i, row := range rows {
		if i >= 5 {
			break
		}
		out = append(out, FinancialRatioRow{
			Period:         row.Period,
			ROE:            parseFloat(row.ROE),
			EPS:            parseFloat(row.EPS),
			BPS:            parseFloat(row.BPS),
			DebtRatio:      parseFloat(row.DebtRatio),
			SalesGrowth:    parseFloat(row.SalesGrowth),
			OpProfitGrowth: parseFloat(row.OpProfitGrowth),
		})
	}
	return out, nil
}

// IncomeStatement fetches 손익계산서 rows (최근 5개 결산기).
func (d *DetailAPI) IncomeStatement(ctx context.Context, code string) ([]IncomeRow, error) {
	params := map[string]string{
		"FID_DIV_CLS_CODE":       "0",
		"fid_cond_mrkt_div_code": "J",
		"fid_input_iscd":         code,
	}
	env, err := d.call(ctx, "/uapi/domestic-stock/v1/finance/income-statement", "FHKST66430200", params)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Period          string `json:"stac_yymm"`
		Sales           string `json:"sale_account"`
		OperatingProfit string `json:"bsop_prti"`
		NetIncome       string `json:"thtr_ntin"`
	}
	if err := json.Unmarshal(env.Output, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode income statement: %w", err)
	}

	var out []IncomeRow
	for i, row := range rows {
		if i >= 5 {
			break
		}
		out = append(out, IncomeRow{
			Period:          row.Period,
			Sales:           parseInt(row.Sales),
			OperatingProfit: parseInt(row.OperatingProfit),
			NetIncome:       parseInt(row.NetIncome),
		})
	}
	return out, nil
}

// ProgramTrading fetches the 프로그램매매추이 facet (최근 20개 구간).
func (d *DetailAPI) ProgramTrading(ctx context.Context, code string) (*ProgramTrading, error) {
	env, err := d.call(ctx, "/uapi/domestic-stock/v1/quotations/program-trade-by-stock", "FHPPG04650100", stockParams(code))
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Time       string `json:"bsop_hour"`
		BuyVolume  string `json:"pgmg_buy_qty"`
		SellVolume string `json:"pgmg_sell_qty"`
		NetVolume  string `json:"pgmg_ntby_qty"`
	}
	if err := json.Unmarshal(env.Output, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode program trading: %w", err)
	}

	pt := &ProgramTrading{}
	for i, row := range rows {
		if i >= 20 {
			break
		}
		pt.Intervals = append(pt.Intervals, ProgramInterval{
			Time:       row.Time,
			BuyVolume:  parseInt(row.BuyVolume),
			SellVolume: parseInt(row.SellVolume),
			NetVolume:  parseInt(row.NetVolume),
		})
	}
	return pt, nil
}

// SummarizeFlows derives 5-day and 20-day investor sums from an already
// fetched trend. No extra API call.
func SummarizeFlows(trend *InvestorTrend) *FlowSummary {
	if trend == nil || len(trend.Daily) == 0 {
		return nil
	}

	sum := func(days []InvestorDay) FlowSum {
		var s FlowSum
		for _, day := range days {
			s.ForeignNet += day.ForeignNet
			s.InstitutionNet += day.InstitutionNet
			s.IndividualNet += day.IndividualNet
		}
		return s
	}

	daily := trend.Daily
	n5, n20 := 5, 20
	if len(daily) < n5 {
		n5 = len(daily)
	}
	if len(daily) < n20 {
		n20 = len(daily)
	}

	return &FlowSummary{
		Today:  daily[0],
		Sum5d:  sum(daily[:n5]),
		Sum20d: sum(daily[:n20]),
	}
}

// FetchAll collects every facet for one instrument. Facet failures are
// recorded in FacetErrors and never abort the remaining facets. The intraday
// estimate facet is only attempted while the session is open.
func (d *DetailAPI) FetchAll(ctx context.Context, code string, chartDays int) (*StockDetail, error) {
	detail := &StockDetail{
		StockCode:   code,
		CollectedAt: d.now().In(marketcal.KST),
		FacetErrors: make(map[string]string),
	}

	record := func(facet string, err error) {
		detail.FacetErrors[facet] = err.Error()
		d.logger.WithError(err).WithFields(map[string]interface{}{
			"stock_code": code,
			"facet":      facet,
		}).Warn("facet fetch failed")
	}

	if cp, err := d.CurrentPrice(ctx, code); err != nil {
		record(FacetCurrentPrice, err)
	} else {
		detail.CurrentPrice = cp
		detail.StockName = cp.StockName
	}

	if ap, err := d.AskingPrice(ctx, code); err != nil {
		record(FacetAskingPrice, err)
	} else {
		detail.AskingPrice = ap
	}

	if it, err := d.InvestorTrend(ctx, code); err != nil {
		record(FacetInvestorTrend, err)
	} else {
		detail.InvestorTrend = it
		detail.FlowSummary = SummarizeFlows(it)
	}

	if d.sessionOpen(d.now()) {
		if est, err := d.InvestorEstimate(ctx, code); err != nil {
			record(FacetInvestorEstimate, err)
		} else {
			detail.InvestorEstimate = est
		}
	}

	if mt, err := d.MemberTrading(ctx, code); err != nil {
		record(FacetMemberTrading, err)
	} else {
		detail.MemberTrading = mt
	}

	if dp, err := d.DailyPrices(ctx, code, 30); err != nil {
		record(FacetDailyPrice, err)
	} else {
		detail.DailyPrices = dp
	}

	if chart, err := d.DailyChart(ctx, code, "D", chartDays); err != nil {
		record(FacetDailyChart, err)
	} else {
		detail.DailyChart = chart
		if detail.StockName == "" {
			detail.StockName = chart.StockName
		}
	}

	if fr, err := d.FinancialRatio(ctx, code); err != nil {
		record(FacetFinancialRatio, err)
	} else {
		detail.FinancialRatio = fr
	}

	if is, err := d.IncomeStatement(ctx, code); err != nil {
		record(FacetIncomeStatement, err)
	} else {
		detail.IncomeStatement = is
	}

	if pt, err := d.ProgramTrading(ctx, code); err != nil {
		record(FacetProgramTrading, err)
	} else {
		detail.ProgramTrading = pt
	}

	if len(detail.FacetErrors) == 0 {
		detail.FacetErrors = nil
	}

	return detail, nil
}

// FetchMany collects details for a code list sequentially. Per-stock errors
// never abort; 진행 로그만 남기고 계속한다.
func (d *DetailAPI) FetchMany(ctx context.Context, codes []string, chartDays int) ([]*StockDetail, error) {
	details := make([]*StockDetail, 0, len(codes))

	for i, code := range codes {
		select {
		case <-ctx.Done():
			return details, ctx.Err()
		default:
		}

		d.logger.WithFields(map[string]interface{}{
			"progress":   fmt.Sprintf("%d/%d", i+1, len(codes)),
			"stock_code": code,
		}).Info("fetching stock detail")

		detail, err := d.FetchAll(ctx, code, chartDays)
		if err != nil {
			d.logger.WithError(err).WithField("stock_code", code).Error("stock detail failed")
			continue
		}
		if detail.ErrCount() > 0 {
			d.logger.WithFields(map[string]interface{}{
				"stock_code":    code,
				"failed_facets": detail.ErrCount(),
			}).Warn("stock detail collected with partial facets")
		}
		details = append(details, detail)
	}

	return details, nil
}
